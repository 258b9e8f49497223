// Package audit appends to the append-only trail of sensitive actions.
package audit

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store"
)

type Recorder struct {
	store store.AuditStore
	log   log.Logger
}

func NewRecorder(st store.AuditStore) *Recorder {
	r := &Recorder{store: st}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "audit").Value()
	return r
}

// Record appends one entry. The write is synchronous: a failure is
// logged with full context and returned so the boundary can surface it
// before the response is finalized. It is never silently dropped.
func (r *Recorder) Record(ctx context.Context, actorId, actorRole, action string, childId *string, meta map[string]string) error {
	e := &model.AuditEntry{
		ActorId:   actorId,
		ActorRole: actorRole,
		ChildId:   childId,
		Action:    action,
		Meta:      meta,
		Ts:        time.Now(),
	}
	err := r.store.Append(ctx, e)
	if err != nil {
		r.log.Error().Err(err).Str("actor_id", actorId).Str("action", action).Msg("audit append failed")
	}
	return err
}

func (r *Recorder) Page(ctx context.Context, page, size int) ([]model.AuditEntry, int64, error) {
	return r.store.Page(ctx, page, size)
}

func (r *Recorder) RecentForChildren(ctx context.Context, childIds []string, limit int) ([]model.AuditEntry, error) {
	return r.store.RecentForChildren(ctx, childIds, limit)
}

// EraseFor removes the user's trail as part of account erasure.
func (r *Recorder) EraseFor(ctx context.Context, userId string) error {
	return r.store.DeleteAuditFor(ctx, userId)
}
