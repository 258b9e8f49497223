package webapp

import (
	"context"
	"net/http"
	"time"

	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
	"safehome.dev/backend/internal/webapp/common"
)

type linkPayload struct {
	Id        string    `json:"id"`
	ParentId  string    `json:"parentId"`
	ChildId   string    `json:"childId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toLinkPayload(l *model.Link) linkPayload {
	return linkPayload{
		Id:        l.Id,
		ParentId:  l.ParentId,
		ChildId:   l.ChildId,
		Status:    l.Status,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func toLinkPayloads(links []model.Link) []linkPayload {
	out := make([]linkPayload, 0, len(links))
	for i := range links {
		out = append(out, toLinkPayload(&links[i]))
	}
	return out
}

type linkRequestRequest struct {
	ChildEmail string `json:"childEmail" validate:"required,email"`
}

func (api *Api) RequestLink(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	req := linkRequestRequest{}
	if err := api.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	l, err := api.links.Request(r.Context(), u.Id, req.ChildEmail)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	util.JsonWrite(w, map[string]linkPayload{"link": toLinkPayload(l)})
}

func (api *Api) ListLinks(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	links, err := api.links.ListForParent(r.Context(), u.Id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string][]linkPayload{"links": toLinkPayloads(links)})
}

func (api *Api) PendingLinks(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	links, err := api.links.ListPendingForChild(r.Context(), u.Id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string][]linkPayload{"links": toLinkPayloads(links)})
}

func (api *Api) AcceptedLinks(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	links, err := api.links.ListAcceptedForChild(r.Context(), u.Id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string][]linkPayload{"links": toLinkPayloads(links)})
}

type linkDecisionRequest struct {
	LinkId string `json:"linkId" validate:"required,uuid4"`
}

func (api *Api) AcceptLink(w http.ResponseWriter, r *http.Request) {
	api.decideLink(w, r, api.links.Accept)
}

func (api *Api) DeclineLink(w http.ResponseWriter, r *http.Request) {
	api.decideLink(w, r, api.links.Decline)
}

func (api *Api) decideLink(w http.ResponseWriter, r *http.Request,
	decide func(ctx context.Context, childId, linkId string) (*model.Link, error)) {

	u := common.UserFrom(r.Context())
	req := linkDecisionRequest{}
	if err := api.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	l, err := decide(r.Context(), u.Id, req.LinkId)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, map[string]linkPayload{"link": toLinkPayload(l)})
}
