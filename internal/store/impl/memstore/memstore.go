// Package memstore is an in-memory implementation of the store
// interfaces, used by unit tests and the dev server mode. It mirrors
// pgstore semantics, including the latest-position ts guard.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
)

type Store struct {
	mu sync.Mutex

	users  map[string]*model.User
	links  map[string]*model.Link
	pings  []model.Ping
	latest map[string]*model.LatestLocation
	audit  []model.AuditEntry

	pingSeq  int64
	auditSeq int64

	// RetentionOverride, when non-nil, is the singleton config row.
	RetentionOverride *int
}

func New() *Store {
	return &Store{
		users:  make(map[string]*model.User),
		links:  make(map[string]*model.Link),
		latest: make(map[string]*model.LatestLocation),
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func cloneLink(l *model.Link) *model.Link {
	c := *l
	return &c
}

func (st *Store) CreateUser(ctx context.Context, u *model.User) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, other := range st.users {
		if strings.EqualFold(other.Email, u.Email) {
			return apperr.Conflict("email already registered")
		}
	}
	if u.Id == "" {
		u.Id = util.GenUUID()
	}
	u.CreatedAt = time.Now()
	st.users[u.Id] = cloneUser(u)
	return nil
}

func (st *Store) UserById(ctx context.Context, id string) (*model.User, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (st *Store) UserByEmail(ctx context.Context, email string, role string) (*model.User, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) && (role == "" || u.Role == role) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (st *Store) UsersByIds(ctx context.Context, ids []string) ([]model.User, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := st.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (st *Store) SetConsent(ctx context.Context, childId string, given bool, textVersion *string, at *time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[childId]
	if !ok || u.Role != model.RoleChild {
		return apperr.NotFound("child account not found")
	}
	u.ConsentGiven = given
	u.ConsentTextVersion = textVersion
	u.ConsentAt = at
	now := time.Now()
	u.UpdatedAt = &now
	return nil
}

func (st *Store) DeleteUser(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.users, id)
	return nil
}

func (st *Store) UpsertPending(ctx context.Context, parentId, childId string) (*model.Link, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	for _, l := range st.links {
		if l.ParentId == parentId && l.ChildId == childId {
			l.Status = model.LinkPending
			l.UpdatedAt = now
			return cloneLink(l), nil
		}
	}
	l := &model.Link{
		Id:        util.GenUUID(),
		ParentId:  parentId,
		ChildId:   childId,
		Status:    model.LinkPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.links[l.Id] = l
	return cloneLink(l), nil
}

func (st *Store) UpdateStatus(ctx context.Context, linkId, childId, from, to string) (*model.Link, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.links[linkId]
	if !ok || l.ChildId != childId || l.Status != from {
		return nil, nil
	}
	l.Status = to
	l.UpdatedAt = time.Now()
	return cloneLink(l), nil
}

func (st *Store) UpdateStatusByPair(ctx context.Context, parentId, childId, from, to string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, l := range st.links {
		if l.ParentId == parentId && l.ChildId == childId && l.Status == from {
			l.Status = to
			l.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (st *Store) ForParent(ctx context.Context, parentId, status string) ([]model.Link, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.Link, 0)
	for _, l := range st.links {
		if l.ParentId == parentId && (status == "" || l.Status == status) {
			out = append(out, *l)
		}
	}
	sortLinks(out)
	return out, nil
}

func (st *Store) ForChild(ctx context.Context, childId, status string) ([]model.Link, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.Link, 0)
	for _, l := range st.links {
		if l.ChildId == childId && (status == "" || l.Status == status) {
			out = append(out, *l)
		}
	}
	sortLinks(out)
	return out, nil
}

func sortLinks(links []model.Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].UpdatedAt.After(links[j].UpdatedAt) })
}

func (st *Store) HasStatus(ctx context.Context, parentId, childId, status string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, l := range st.links {
		if l.ParentId == parentId && l.ChildId == childId && l.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (st *Store) DeleteLinksFor(ctx context.Context, userId string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, l := range st.links {
		if l.ParentId == userId || l.ChildId == userId {
			delete(st.links, id)
		}
	}
	return nil
}

func (st *Store) AppendPing(ctx context.Context, p *model.Ping) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pingSeq++
	p.Id = st.pingSeq
	st.pings = append(st.pings, *p)
	cur, ok := st.latest[p.UserId]
	if !ok || !cur.Ts.After(p.Ts) {
		st.latest[p.UserId] = &model.LatestLocation{
			UserId:    p.UserId,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Accuracy:  p.Accuracy,
			Ts:        p.Ts,
			UpdatedAt: time.Now(),
		}
	}
	return nil
}

func (st *Store) History(ctx context.Context, childId string, from, to time.Time, limit int) ([]model.Ping, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.Ping, 0)
	for _, p := range st.pings {
		if p.UserId == childId && !p.Ts.Before(from) && !p.Ts.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.After(out[j].Ts) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *Store) Latest(ctx context.Context, childId string) (*model.LatestLocation, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	loc, ok := st.latest[childId]
	if !ok {
		return nil, nil
	}
	c := *loc
	return &c, nil
}

func (st *Store) LatestFor(ctx context.Context, childIds []string) (map[string]*model.LatestLocation, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]*model.LatestLocation, len(childIds))
	for _, id := range childIds {
		if loc, ok := st.latest[id]; ok {
			c := *loc
			out[id] = &c
		}
	}
	return out, nil
}

func (st *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	kept := st.pings[:0]
	var deleted int64
	for _, p := range st.pings {
		if p.Ts.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, p)
		}
	}
	st.pings = kept
	return deleted, nil
}

func (st *Store) DeleteLocationsFor(ctx context.Context, childId string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	kept := st.pings[:0]
	for _, p := range st.pings {
		if p.UserId != childId {
			kept = append(kept, p)
		}
	}
	st.pings = kept
	delete(st.latest, childId)
	return nil
}

func (st *Store) Append(ctx context.Context, e *model.AuditEntry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.auditSeq++
	e.Id = st.auditSeq
	st.audit = append(st.audit, *e)
	return nil
}

func (st *Store) Page(ctx context.Context, page, size int) ([]model.AuditEntry, int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sorted := make([]model.AuditEntry, len(st.audit))
	copy(sorted, st.audit)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts.After(sorted[j].Ts) })
	total := int64(len(sorted))
	start := (page - 1) * size
	if start >= len(sorted) {
		return []model.AuditEntry{}, total, nil
	}
	end := start + size
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[start:end], total, nil
}

func (st *Store) RecentForChildren(ctx context.Context, childIds []string, limit int) ([]model.AuditEntry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	wanted := make(map[string]bool, len(childIds))
	for _, id := range childIds {
		wanted[id] = true
	}
	out := make([]model.AuditEntry, 0)
	for _, e := range st.audit {
		if e.ChildId != nil && wanted[*e.ChildId] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.After(out[j].Ts) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *Store) DeleteAuditFor(ctx context.Context, userId string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	kept := st.audit[:0]
	for _, e := range st.audit {
		if e.ActorId == userId || (e.ChildId != nil && *e.ChildId == userId) {
			continue
		}
		kept = append(kept, e)
	}
	st.audit = kept
	return nil
}

// RetentionDays implements store.RetentionStore.
func (st *Store) RetentionDays(ctx context.Context) (int, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.RetentionOverride == nil {
		return 0, false, nil
	}
	return *st.RetentionOverride, true, nil
}
