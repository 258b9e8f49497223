package webapp

import (
	"net/http"
	"strconv"
	"time"

	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
	"safehome.dev/backend/internal/webapp/common"
)

type auditPayload struct {
	Id        int64             `json:"id"`
	ActorId   string            `json:"actorId"`
	ActorRole string            `json:"actorRole"`
	ChildId   *string           `json:"childId,omitempty"`
	Action    string            `json:"action"`
	Meta      map[string]string `json:"meta,omitempty"`
	Ts        time.Time         `json:"timestamp"`
}

func toAuditPayloads(entries []model.AuditEntry) []auditPayload {
	out := make([]auditPayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditPayload{
			Id:        e.Id,
			ActorId:   e.ActorId,
			ActorRole: e.ActorRole,
			ChildId:   e.ChildId,
			Action:    e.Action,
			Meta:      e.Meta,
			Ts:        e.Ts,
		})
	}
	return out
}

const recentAuditLimit = 10

// RecentAudit shows a parent the latest trail entries touching their
// linked children. Transparency view, not the admin pager.
func (api *Api) RecentAudit(w http.ResponseWriter, r *http.Request) {
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
	entries := []model.AuditEntry{}
	if len(ids) > 0 {
		entries, err = api.recorder.RecentForChildren(ctx, ids, recentAuditLimit)
		if err != nil {
			writeErr(w, r, err)
			return
		}
	}
	util.JsonWrite(w, map[string][]auditPayload{"entries": toAuditPayloads(entries)})
}

func (api *Api) RunRetentionCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := api.sweeper.Run(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, result)
}

func (api *Api) AdminAudit(w http.ResponseWriter, r *http.Request) {
	page := 1
	size := 50
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, r, apperr.Validation("page must be a positive integer"))
			return
		}
		page = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeErr(w, r, apperr.Validation("limit must be between 1 and 200"))
			return
		}
		size = n
	}
	entries, total, err := api.recorder.Page(r.Context(), page, size)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string]interface{}{
		"entries": toAuditPayloads(entries),
		"total":   total,
		"page":    page,
		"limit":   size,
	})
}
