// Package hub owns the process-wide room state for realtime fan-out.
// One Hub is created at server start and passed explicitly to every
// component that publishes; rooms are keyed by child id and membership
// is connection-scoped.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"
	"safehome.dev/backend/internal/event"
	"safehome.dev/backend/internal/hub/sublist"
	"safehome.dev/backend/internal/hub/subscriber"
	"safehome.dev/backend/internal/model"
)

// PushMessage is the server→client payload delivered to a room.
type PushMessage struct {
	Type     string    `json:"type"`
	UserId   string    `json:"userId"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy *float64  `json:"accuracy,omitempty"`
	Speed    *float64  `json:"speed,omitempty"`
	Heading  *float64  `json:"heading,omitempty"`
	Ts       time.Time `json:"ts"`
}

type Hub struct {
	rooms *sublist.Map
	log   log.Logger
}

func New() *Hub {
	h := &Hub{}
	h.rooms = sublist.NewMap()
	h.log = log.DefaultLogger
	h.log.Context = log.NewContext(nil).Str("module", "hub").Value()
	return h
}

// AttachBus subscribes the hub to ingestion's location.updated events.
func (h *Hub) AttachBus(b *bus.Bus) {
	b.RegisterHandler("hub-fanout", bus.Handler{
		Matcher: "^" + event.TopicLocationUpdated + "$",
		Handle: func(ctx context.Context, e bus.Event) {
			p, ok := e.Data.(*model.Ping)
			if !ok {
				h.log.Warn().Str("topic", e.Topic).Msg("unexpected event payload")
				return
			}
			h.BroadcastPing(p)
		},
	})
}

func (h *Hub) Join(childId string, sub subscriber.Subscriber) {
	room, _ := h.rooms.GetSublist(childId, true)
	room.Subscribe(sub)
}

func (h *Hub) Leave(childId string, sub subscriber.Subscriber) {
	room, ok := h.rooms.GetSublist(childId, false)
	if ok {
		room.Unsubscribe(sub)
	}
}

// BroadcastPing encodes the accepted ping once and sends it to the
// child's room, including the child's own connections.
func (h *Hub) BroadcastPing(p *model.Ping) {
	room, ok := h.rooms.GetSublist(p.UserId, false)
	if !ok {
		return
	}
	msg := PushMessage{
		Type:     "location:push",
		UserId:   p.UserId,
		Lat:      p.Latitude,
		Lng:      p.Longitude,
		Accuracy: p.Accuracy,
		Speed:    p.Speed,
		Heading:  p.Heading,
		Ts:       p.Ts,
	}
	d, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("encode push message")
		return
	}
	room.Send(d)
}

// EvictUser removes every connection of userId from the child's room.
// Called on link revocation so pushes stop without waiting for the
// parent to disconnect.
func (h *Hub) EvictUser(childId, userId string) {
	room, ok := h.rooms.GetSublist(childId, false)
	if ok {
		room.Evict(userId)
	}
}

// RoomSize reports current membership, for monitoring.
func (h *Hub) RoomSize(childId string) int {
	room, ok := h.rooms.GetSublist(childId, false)
	if !ok {
		return 0
	}
	return room.Len()
}
