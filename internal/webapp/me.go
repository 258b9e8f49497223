package webapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/ingest"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
	"safehome.dev/backend/internal/webapp/common"
)

type consentRequest struct {
	ConsentGiven       *bool   `json:"consentGiven" validate:"required"`
	ConsentTextVersion *string `json:"consentTextVersion"`
}

func (api *Api) SetConsent(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	req := consentRequest{}
	if err := api.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	given := *req.ConsentGiven
	var version *string
	var at *time.Time
	action := model.ActionConsentRevoked
	if given {
		now := time.Now()
		version = req.ConsentTextVersion
		at = &now
		action = model.ActionConsentGranted
	}
	if err := api.users.SetConsent(r.Context(), u.Id, given, version, at); err != nil {
		writeErr(w, r, err)
		return
	}
	var meta map[string]string
	if version != nil {
		meta = map[string]string{"text_version": *version}
	}
	_ = api.recorder.Record(r.Context(), u.Id, u.Role, action, &u.Id, meta)

	updated, err := api.users.UserById(r.Context(), u.Id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string]userPayload{"user": toUserPayload(updated)})
}

type revokeParentRequest struct {
	ParentId string `json:"parentId" validate:"required,uuid4"`
}

func (api *Api) RevokeParent(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	req := revokeParentRequest{}
	if err := api.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := api.links.Revoke(r.Context(), u.Id, req.ParentId); err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string]bool{"success": true})
}

const exportAuditLimit = 1000

type exportBundle struct {
	ExportedAt time.Time          `json:"exportedAt"`
	User       userPayload        `json:"user"`
	Links      []linkPayload      `json:"links"`
	Locations  []model.Ping       `json:"locations"`
	Audit      []model.AuditEntry `json:"audit"`
}

// ExportData returns everything held about the child as a JSON
// attachment. The export itself is audited before the bundle is built
// so it shows up in its own trail.
func (api *Api) ExportData(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	ctx := r.Context()

	_ = api.recorder.Record(ctx, u.Id, u.Role, model.ActionExportData, &u.Id, nil)

	links, err := api.links.ListAllForChild(ctx, u.Id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	pings, err := api.locations.History(ctx, u.Id, time.Time{}, time.Now(), 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	trail, err := api.recorder.RecentForChildren(ctx, []string{u.Id}, exportAuditLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	bundle := exportBundle{
		ExportedAt: time.Now(),
		User:       toUserPayload(u),
		Links:      toLinkPayloads(links),
		Locations:  pings,
		Audit:      trail,
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="safehome-export-%s.json"`, time.Now().Format("2006-01-02")))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		api.log.Error().Err(err).Str("user_id", u.Id).Msg("export encode failed")
	}
}

// DeleteAccount erases the child entirely: links, pings, latest
// position, audit rows, then the account row. A single DELETE_ACCOUNT
// entry is written afterwards so the erasure itself stays on record.
func (api *Api) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	ctx := r.Context()

	if err := api.links.EraseFor(ctx, u.Id); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := api.locations.DeleteLocationsFor(ctx, u.Id); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := api.recorder.EraseFor(ctx, u.Id); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := api.users.DeleteUser(ctx, u.Id); err != nil {
		writeErr(w, r, err)
		return
	}
	_ = api.recorder.Record(ctx, u.Id, u.Role, model.ActionDeleteAccount, nil, nil)

	api.clearCookie(w, TokenCookie, true)
	api.clearCookie(w, CsrfCookie, false)
	util.JsonWrite(w, map[string]bool{"success": true})
}

func (api *Api) SubmitLocation(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	raw := ingest.RawPoint{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeErr(w, r, apperr.Validation("malformed request body: %v", err))
		return
	}
	// The request path always stamps server time. Client timestamps
	// are only trusted on the stream, where the device batches.
	raw.Ts = nil
	p, err := api.ingester.SubmitPing(r.Context(), u.Id, &raw)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	util.JsonWrite(w, map[string]pingPayload{"location": toPingPayload(p)})
}
