package webapp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
	"safehome.dev/backend/internal/webapp/common"
)

type pingPayload struct {
	Id       int64     `json:"id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy *float64  `json:"accuracy,omitempty"`
	Speed    *float64  `json:"speed,omitempty"`
	Heading  *float64  `json:"heading,omitempty"`
	Ts       time.Time `json:"ts"`
	ServerTs time.Time `json:"serverTs"`
}

func toPingPayload(p *model.Ping) pingPayload {
	return pingPayload{
		Id:       p.Id,
		Lat:      p.Latitude,
		Lng:      p.Longitude,
		Accuracy: p.Accuracy,
		Speed:    p.Speed,
		Heading:  p.Heading,
		Ts:       p.Ts,
		ServerTs: p.ServerTime,
	}
}

type lastLocationPayload struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy *float64  `json:"accuracy,omitempty"`
	Ts       time.Time `json:"ts"`
}

type childPayload struct {
	Id           string               `json:"id"`
	Name         string               `json:"name"`
	Email        string               `json:"email"`
	ConsentGiven bool                 `json:"consentGiven"`
	LastLocation *lastLocationPayload `json:"lastLocation"`
}

// ListChildren returns the parent's accepted children with their
// compacted latest position, one batch query per concern.
func (api *Api) ListChildren(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	ctx := r.Context()
	links, err := api.links.ListAcceptedForParent(ctx, u.Id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ChildId)
	}
	children, err := api.users.UsersByIds(ctx, ids)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	latest, err := api.locations.LatestFor(ctx, ids)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]childPayload, 0, len(children))
	for i := range children {
		c := &children[i]
		p := childPayload{Id: c.Id, Name: c.Name, Email: c.Email, ConsentGiven: c.ConsentGiven}
		if loc := latest[c.Id]; loc != nil {
			p.LastLocation = &lastLocationPayload{
				Lat: loc.Latitude, Lng: loc.Longitude, Accuracy: loc.Accuracy, Ts: loc.Ts,
			}
		}
		out = append(out, p)
	}
	util.JsonWrite(w, map[string][]childPayload{"children": out})
}

const (
	defaultHistoryWindow = 24 * time.Hour
	defaultHistoryLimit  = 500
)

// ChildLocations serves the ping history for one child. Allowed for
// the child itself and for parents holding an ACCEPTED link, checked
// against the store on every request. Parent views are audited.
func (api *Api) ChildLocations(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	ctx := r.Context()
	childId := chi.URLParam(r, "childId")

	switch u.Role {
	case model.RoleChild:
		if u.Id != childId {
			writeErr(w, r, apperr.Unauthorized("not your location history"))
			return
		}
	case model.RoleParent:
		ok, err := api.links.IsAccepted(ctx, u.Id, childId)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if !ok {
			writeErr(w, r, apperr.Unauthorized("no accepted link with this child"))
			return
		}
	default:
		writeErr(w, r, apperr.Unauthorized("insufficient permissions"))
		return
	}

	now := time.Now()
	from := now.Add(-defaultHistoryWindow)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, r, apperr.Validation("invalid from timestamp: %v", err))
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, r, apperr.Validation("invalid to timestamp: %v", err))
			return
		}
		to = t
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > defaultHistoryLimit {
			writeErr(w, r, apperr.Validation("limit must be between 1 and %d", defaultHistoryLimit))
			return
		}
		limit = n
	}

	pings, err := api.locations.History(ctx, childId, from, to, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if u.Role == model.RoleParent {
		meta := map[string]string{
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		}
		_ = api.recorder.Record(ctx, u.Id, u.Role, model.ActionViewChildLocation, &childId, meta)
	}
	out := make([]pingPayload, 0, len(pings))
	for i := range pings {
		out = append(out, toPingPayload(&pings[i]))
	}
	util.JsonWrite(w, map[string][]pingPayload{"locations": out})
}
