package retention

import (
	"context"
	"testing"
	"time"

	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store/impl/memstore"
)

var ctx = context.Background()

func addPing(t *testing.T, st *memstore.Store, age time.Duration) {
	t.Helper()
	p := &model.Ping{UserId: "c1", Latitude: 1, Longitude: 2, Ts: time.Now().Add(-age), ServerTime: time.Now()}
	if err := st.AppendPing(ctx, p); err != nil {
		t.Fatal(err)
	}
}

func TestDaysDefault(t *testing.T) {
	st := memstore.New()
	s := NewSweeper(st, st, 30)
	days, err := s.Days(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if days != 30 {
		t.Errorf("want default 30, got %d", days)
	}
}

func TestDaysOverride(t *testing.T) {
	st := memstore.New()
	override := 7
	st.RetentionOverride = &override
	s := NewSweeper(st, st, 30)
	days, err := s.Days(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if days != 7 {
		t.Errorf("want override 7, got %d", days)
	}
}

func TestRun(t *testing.T) {
	st := memstore.New()
	// Straddle the 30-day cutoff so an off-by-one in the comparison
	// would flip the outcome.
	addPing(t, st, 31*24*time.Hour)
	addPing(t, st, 29*24*time.Hour)
	addPing(t, st, time.Hour)

	s := NewSweeper(st, st, 30)
	result, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("want 1 deleted, got %d", result.DeletedCount)
	}
	if result.RetentionDays != 30 {
		t.Errorf("want 30 days, got %d", result.RetentionDays)
	}
	hist, _ := st.History(ctx, "c1", time.Time{}, time.Now().Add(time.Hour), 0)
	if len(hist) != 2 {
		t.Errorf("want 2 surviving pings, got %d", len(hist))
	}
}

func TestRunWithOverride(t *testing.T) {
	st := memstore.New()
	addPing(t, st, 48*time.Hour)
	addPing(t, st, 2*time.Hour)

	override := 1
	st.RetentionOverride = &override
	s := NewSweeper(st, st, 30)
	result, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.DeletedCount != 1 || result.RetentionDays != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}
