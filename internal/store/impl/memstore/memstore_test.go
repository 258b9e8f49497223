package memstore

import (
	"context"
	"testing"
	"time"

	"safehome.dev/backend/internal/model"
)

var ctx = context.Background()

func appendPing(t *testing.T, st *Store, userId string, ts time.Time) *model.Ping {
	t.Helper()
	p := &model.Ping{UserId: userId, Latitude: 1, Longitude: 2, Ts: ts, ServerTime: time.Now()}
	if err := st.AppendPing(ctx, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLatestGuard(t *testing.T) {
	st := New()
	base := time.Now()
	appendPing(t, st, "c1", base)
	appendPing(t, st, "c1", base.Add(-time.Minute))

	loc, err := st.Latest(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if loc == nil || !loc.Ts.Equal(base) {
		t.Error("older ping regressed the latest position")
	}

	appendPing(t, st, "c1", base.Add(time.Minute))
	loc, _ = st.Latest(ctx, "c1")
	if !loc.Ts.Equal(base.Add(time.Minute)) {
		t.Error("newer ping did not advance the latest position")
	}
}

func TestHistoryWindow(t *testing.T) {
	st := New()
	base := time.Now()
	for i := 0; i < 5; i++ {
		appendPing(t, st, "c1", base.Add(time.Duration(i)*time.Minute))
	}
	appendPing(t, st, "c2", base)

	// Inclusive on both bounds.
	out, err := st.History(ctx, "c1", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("want 3 pings, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Ts.After(out[i-1].Ts) {
			t.Error("history not newest first")
		}
	}

	out, _ = st.History(ctx, "c1", base, base.Add(time.Hour), 2)
	if len(out) != 2 {
		t.Fatalf("limit not applied, got %d", len(out))
	}
	if !out[0].Ts.Equal(base.Add(4 * time.Minute)) {
		t.Error("limit did not keep the newest pings")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	st := New()
	cutoff := time.Now()
	appendPing(t, st, "c1", cutoff.Add(-time.Hour))
	appendPing(t, st, "c1", cutoff)
	appendPing(t, st, "c1", cutoff.Add(time.Hour))

	deleted, err := st.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("want 1 deleted, got %d", deleted)
	}
	// The ping at exactly the cutoff survives.
	out, _ := st.History(ctx, "c1", time.Time{}, cutoff.Add(2*time.Hour), 0)
	if len(out) != 2 {
		t.Errorf("want 2 remaining, got %d", len(out))
	}
}

func TestUpsertPendingResets(t *testing.T) {
	st := New()
	l1, err := st.UpsertPending(ctx, "p1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpdateStatus(ctx, l1.Id, "c1", model.LinkPending, model.LinkDeclined); err != nil {
		t.Fatal(err)
	}
	l2, err := st.UpsertPending(ctx, "p1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if l2.Id != l1.Id {
		t.Error("pair got a second link row")
	}
	if l2.Status != model.LinkPending {
		t.Errorf("want PENDING, got %s", l2.Status)
	}
}

func TestUpdateStatusConditions(t *testing.T) {
	st := New()
	l, _ := st.UpsertPending(ctx, "p1", "c1")

	if got, _ := st.UpdateStatus(ctx, l.Id, "other-child", model.LinkPending, model.LinkAccepted); got != nil {
		t.Error("wrong child matched")
	}
	if got, _ := st.UpdateStatus(ctx, l.Id, "c1", model.LinkAccepted, model.LinkRevoked); got != nil {
		t.Error("wrong from status matched")
	}
	got, _ := st.UpdateStatus(ctx, l.Id, "c1", model.LinkPending, model.LinkAccepted)
	if got == nil || got.Status != model.LinkAccepted {
		t.Error("valid transition rejected")
	}
	// Second accept finds no PENDING row.
	if again, _ := st.UpdateStatus(ctx, l.Id, "c1", model.LinkPending, model.LinkAccepted); again != nil {
		t.Error("transition applied twice")
	}
}

func TestDeleteLocationsFor(t *testing.T) {
	st := New()
	appendPing(t, st, "c1", time.Now())
	appendPing(t, st, "c2", time.Now())
	if err := st.DeleteLocationsFor(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if loc, _ := st.Latest(ctx, "c1"); loc != nil {
		t.Error("latest row survived erasure")
	}
	out, _ := st.History(ctx, "c2", time.Time{}, time.Now().Add(time.Hour), 0)
	if len(out) != 1 {
		t.Error("erasure touched another user")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	st := New()
	u := &model.User{Name: "a", Email: "kid@example.com", Role: model.RoleChild}
	if err := st.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	dup := &model.User{Name: "b", Email: "KID@example.com", Role: model.RoleChild}
	if err := st.CreateUser(ctx, dup); err == nil {
		t.Error("duplicate email accepted")
	}
}
