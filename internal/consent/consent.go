// Package consent gates location ingestion on the child's opt-in. The
// check happens-before any location write; it is deliberately not
// atomic with the write (one extra ping after revocation is accepted).
package consent

import (
	"context"

	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store"
)

type Gate struct {
	users store.UserStore
}

func NewGate(users store.UserStore) *Gate {
	return &Gate{users: users}
}

// HasConsented reports whether the child has granted tracking consent.
// A missing or non-child account yields NotFound.
func (g *Gate) HasConsented(ctx context.Context, childId string) (bool, error) {
	u, err := g.users.UserById(ctx, childId)
	if err != nil {
		return false, err
	}
	if u == nil || u.Role != model.RoleChild {
		return false, apperr.NotFound("child account not found")
	}
	return u.ConsentGiven, nil
}
