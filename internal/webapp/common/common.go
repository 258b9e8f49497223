package common

import (
	"context"

	"safehome.dev/backend/internal/model"
)

type ApiContextKeyType string

const userKey ApiContextKeyType = "current_user"

func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the authenticated user attached by the auth
// middleware, or nil for anonymous requests.
func UserFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}
