// Package link owns the parent-child relationship state machine.
//
// Lifecycle: a parent's request creates the pair's single link as
// PENDING (or resets it in place); only the named child moves it
// PENDING→ACCEPTED/DECLINED and ACCEPTED→REVOKED. Callers that are not
// the owner get NotFound, never Unauthorized, so link existence is not
// leaked.
package link

import (
	"context"

	"github.com/phuslu/log"
	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/audit"
	"safehome.dev/backend/internal/hub"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store"
)

type Registry struct {
	links    store.LinkStore
	users    store.UserStore
	recorder *audit.Recorder
	hub      *hub.Hub
	log      log.Logger
}

func NewRegistry(links store.LinkStore, users store.UserStore, recorder *audit.Recorder, h *hub.Hub) *Registry {
	r := &Registry{links: links, users: users, recorder: recorder, hub: h}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "link-registry").Value()
	return r
}

// Request resolves the child by email and upserts the pair's link to
// PENDING. Any prior status is overwritten in place; the pair never
// gets a second row.
func (r *Registry) Request(ctx context.Context, parentId, childEmail string) (*model.Link, error) {
	child, err := r.users.UserByEmail(ctx, childEmail, model.RoleChild)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, apperr.NotFound("child account not found")
	}
	l, err := r.links.UpsertPending(ctx, parentId, child.Id)
	if err != nil {
		return nil, err
	}
	_ = r.recorder.Record(ctx, parentId, model.RoleParent, model.ActionLinkRequested, &child.Id, nil)
	return l, nil
}

func (r *Registry) Accept(ctx context.Context, childId, linkId string) (*model.Link, error) {
	return r.resolve(ctx, childId, linkId, model.LinkAccepted, model.ActionLinkAccepted)
}

func (r *Registry) Decline(ctx context.Context, childId, linkId string) (*model.Link, error) {
	return r.resolve(ctx, childId, linkId, model.LinkDeclined, model.ActionLinkDeclined)
}

func (r *Registry) resolve(ctx context.Context, childId, linkId, to, action string) (*model.Link, error) {
	l, err := r.links.UpdateStatus(ctx, linkId, childId, model.LinkPending, to)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperr.NotFound("link not found")
	}
	_ = r.recorder.Record(ctx, childId, model.RoleChild, action, &childId, map[string]string{"link_id": linkId})
	return l, nil
}

// Revoke moves the pair's ACCEPTED link to REVOKED and evicts the
// parent's connections from the child's room so pushes stop at once.
// No matching link is not an error.
func (r *Registry) Revoke(ctx context.Context, childId, parentId string) error {
	matched, err := r.links.UpdateStatusByPair(ctx, parentId, childId, model.LinkAccepted, model.LinkRevoked)
	if err != nil {
		return err
	}
	if matched {
		r.hub.EvictUser(childId, parentId)
		_ = r.recorder.Record(ctx, childId, model.RoleChild, model.ActionRevokeParent, &childId, map[string]string{"parent_id": parentId})
	}
	return nil
}

func (r *Registry) ListForParent(ctx context.Context, parentId string) ([]model.Link, error) {
	return r.links.ForParent(ctx, parentId, "")
}

func (r *Registry) ListPendingForChild(ctx context.Context, childId string) ([]model.Link, error) {
	return r.links.ForChild(ctx, childId, model.LinkPending)
}

func (r *Registry) ListAcceptedForChild(ctx context.Context, childId string) ([]model.Link, error) {
	return r.links.ForChild(ctx, childId, model.LinkAccepted)
}

func (r *Registry) ListAcceptedForParent(ctx context.Context, parentId string) ([]model.Link, error) {
	return r.links.ForParent(ctx, parentId, model.LinkAccepted)
}

func (r *Registry) ListAllForChild(ctx context.Context, childId string) ([]model.Link, error) {
	return r.links.ForChild(ctx, childId, "")
}

// EraseFor removes every link the user appears in. Account erasure
// only.
func (r *Registry) EraseFor(ctx context.Context, userId string) error {
	return r.links.DeleteLinksFor(ctx, userId)
}

// IsAccepted is the authorization predicate used by every component
// that must decide whether a parent may see a child. Always checked
// against the store, never cached.
func (r *Registry) IsAccepted(ctx context.Context, parentId, childId string) (bool, error) {
	return r.links.HasStatus(ctx, parentId, childId, model.LinkAccepted)
}
