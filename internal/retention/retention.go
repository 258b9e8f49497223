// Package retention implements the operator-triggered sweep that
// deletes pings older than the effective retention window.
package retention

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"safehome.dev/backend/internal/store"
)

type Sweeper struct {
	locations   store.LocationStore
	config      store.RetentionStore
	defaultDays int
	log         log.Logger
}

type Result struct {
	DeletedCount  int64     `json:"deletedCount"`
	RetentionDays int       `json:"retentionDays"`
	Cutoff        time.Time `json:"cutoff"`
}

func NewSweeper(locations store.LocationStore, config store.RetentionStore, defaultDays int) *Sweeper {
	s := &Sweeper{locations: locations, config: config, defaultDays: defaultDays}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "retention").Value()
	return s
}

// Days returns the effective retention window: the deployment override
// when present, else the process-wide default.
func (s *Sweeper) Days(ctx context.Context) (int, error) {
	days, ok, err := s.config.RetentionDays(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.defaultDays, nil
	}
	return days, nil
}

// Run purges everything strictly older than now minus the retention
// window. Bulk, unconditional, irreversible.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	days, err := s.Days(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := s.locations.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("retention_days", days).Time("cutoff", cutoff).Int64("deleted", deleted).Msg("retention sweep done")
	return &Result{DeletedCount: deleted, RetentionDays: days, Cutoff: cutoff}, nil
}
