package store

import (
	"context"
	"time"

	"safehome.dev/backend/internal/model"
)

// UserStore owns identity rows. Lookup methods return (nil, nil) when
// no row matches.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserById(ctx context.Context, id string) (*model.User, error)
	// UserByEmail filters by role when role is non-empty.
	UserByEmail(ctx context.Context, email string, role string) (*model.User, error)
	UsersByIds(ctx context.Context, ids []string) ([]model.User, error)
	SetConsent(ctx context.Context, childId string, given bool, textVersion *string, at *time.Time) error
	DeleteUser(ctx context.Context, id string) error
}

// LinkStore owns parent-child link rows. At most one row exists per
// (parent, child) pair.
type LinkStore interface {
	// UpsertPending creates the link as PENDING or resets an existing
	// one for the same pair back to PENDING in place.
	UpsertPending(ctx context.Context, parentId, childId string) (*model.Link, error)
	// UpdateStatus transitions the link to `to` only when it belongs to
	// childId and currently has status `from`. Returns (nil, nil) when
	// no row matches.
	UpdateStatus(ctx context.Context, linkId, childId, from, to string) (*model.Link, error)
	// UpdateStatusByPair is UpdateStatus keyed by the pair instead of
	// the link id. Returns false when no row matched.
	UpdateStatusByPair(ctx context.Context, parentId, childId, from, to string) (bool, error)
	// ForParent lists links by parent, filtered by status when status
	// is non-empty. ForChild is the child-side counterpart.
	ForParent(ctx context.Context, parentId, status string) ([]model.Link, error)
	ForChild(ctx context.Context, childId, status string) ([]model.Link, error)
	// HasStatus reports whether the pair's link exists with the given
	// status. This is the authorization predicate.
	HasStatus(ctx context.Context, parentId, childId, status string) (bool, error)
	// DeleteLinksFor removes every link the user appears in, either side.
	DeleteLinksFor(ctx context.Context, userId string) error
}

// LocationStore owns ping history and the compacted latest position.
type LocationStore interface {
	// AppendPing inserts the immutable history row and then upserts the
	// latest position. The upsert only applies when the incoming ts is
	// not older than the stored one; its failure after a successful
	// insert is logged, not returned.
	AppendPing(ctx context.Context, p *model.Ping) error
	// History returns pings in [from, to], newest first. limit <= 0
	// means no limit.
	History(ctx context.Context, childId string, from, to time.Time, limit int) ([]model.Ping, error)
	Latest(ctx context.Context, childId string) (*model.LatestLocation, error)
	LatestFor(ctx context.Context, childIds []string) (map[string]*model.LatestLocation, error)
	// PurgeOlderThan deletes pings strictly older than cutoff and
	// reports how many were deleted.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteLocationsFor removes both history and the latest row.
	DeleteLocationsFor(ctx context.Context, childId string) error
}

// AuditStore is append-only except for full account erasure.
type AuditStore interface {
	Append(ctx context.Context, e *model.AuditEntry) error
	Page(ctx context.Context, page, size int) ([]model.AuditEntry, int64, error)
	RecentForChildren(ctx context.Context, childIds []string, limit int) ([]model.AuditEntry, error)
	DeleteAuditFor(ctx context.Context, userId string) error
}

// RetentionStore reads the singleton retention override.
type RetentionStore interface {
	// RetentionDays returns the configured override and whether one is
	// present.
	RetentionDays(ctx context.Context) (int, bool, error)
}
