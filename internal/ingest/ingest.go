// Package ingest is the single entry point for location pings, shared
// by the request path and the websocket path.
package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"
	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/audit"
	"safehome.dev/backend/internal/consent"
	"safehome.dev/backend/internal/event"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store"
)

// RawPoint is an incoming observation before validation. Coordinates
// are pointers so that a missing field is distinguishable from zero.
type RawPoint struct {
	Latitude  *float64   `json:"lat" validate:"required,gte=-90,lte=90"`
	Longitude *float64   `json:"lng" validate:"required,gte=-180,lte=180"`
	Accuracy  *float64   `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Speed     *float64   `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Ts        *time.Time `json:"ts,omitempty"`
}

type Service struct {
	gate      *consent.Gate
	locations store.LocationStore
	recorder  *audit.Recorder
	bus       *bus.Bus
	vld       *validator.Validate
	log       log.Logger
}

func New(gate *consent.Gate, locations store.LocationStore, recorder *audit.Recorder, b *bus.Bus) *Service {
	s := &Service{gate: gate, locations: locations, recorder: recorder, bus: b}
	s.vld = validator.New()
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	return s
}

// SubmitPing validates, consent-checks, persists, audits and fans out
// one observation, in that order. The consent check strictly precedes
// persistence; persistence strictly precedes audit and fan-out. No
// write happens on a rejected point.
func (s *Service) SubmitPing(ctx context.Context, childId string, raw *RawPoint) (*model.Ping, error) {
	if err := s.vld.Struct(raw); err != nil {
		return nil, apperr.Validation("invalid location payload: %v", err)
	}

	ok, err := s.gate.HasConsented(ctx, childId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ConsentRequired()
	}

	now := time.Now()
	p := &model.Ping{
		UserId:     childId,
		Latitude:   *raw.Latitude,
		Longitude:  *raw.Longitude,
		Accuracy:   raw.Accuracy,
		Speed:      raw.Speed,
		Heading:    raw.Heading,
		Ts:         now,
		ServerTime: now,
	}
	if raw.Ts != nil {
		p.Ts = *raw.Ts
	}
	if err := s.locations.AppendPing(ctx, p); err != nil {
		return nil, err
	}

	// The ping is durable. Audit failure is logged by the recorder and
	// does not fail the submission; the push is best-effort.
	meta := map[string]string{
		"lat": strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		"lng": strconv.FormatFloat(p.Longitude, 'f', -1, 64),
	}
	_ = s.recorder.Record(ctx, childId, model.RoleChild, model.ActionLocationUpdate, &childId, meta)

	if err := s.bus.Emit(ctx, event.TopicLocationUpdated, p); err != nil {
		s.log.Error().Err(err).Str("user_id", childId).Msg("location event emit failed")
	}
	return p, nil
}
