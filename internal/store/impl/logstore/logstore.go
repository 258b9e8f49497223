// Package logstore wraps a LocationStore and logs every ping write.
// Diagnostic aid for development, enabled with the dev_log_store flag.
package logstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store"
)

type LogStore struct {
	next store.LocationStore
}

func NewStore(next store.LocationStore) *LogStore {
	return &LogStore{next: next}
}

func (l *LogStore) AppendPing(ctx context.Context, p *model.Ping) error {
	log.Debug().Str("user_id", p.UserId).Float64("lat", p.Latitude).Float64("lng", p.Longitude).
		Time("ts", p.Ts).Time("server_time", p.ServerTime).Msg("append ping")
	return l.next.AppendPing(ctx, p)
}

func (l *LogStore) History(ctx context.Context, childId string, from, to time.Time, limit int) ([]model.Ping, error) {
	return l.next.History(ctx, childId, from, to, limit)
}

func (l *LogStore) Latest(ctx context.Context, childId string) (*model.LatestLocation, error) {
	return l.next.Latest(ctx, childId)
}

func (l *LogStore) LatestFor(ctx context.Context, childIds []string) (map[string]*model.LatestLocation, error) {
	return l.next.LatestFor(ctx, childIds)
}

func (l *LogStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.next.PurgeOlderThan(ctx, cutoff)
	log.Info().Time("cutoff", cutoff).Int64("deleted", n).Err(err).Msg("purge pings")
	return n, err
}

func (l *LogStore) DeleteLocationsFor(ctx context.Context, childId string) error {
	log.Info().Str("user_id", childId).Msg("delete all locations")
	return l.next.DeleteLocationsFor(ctx, childId)
}
