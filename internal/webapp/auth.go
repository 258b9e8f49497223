package webapp

import (
	"encoding/json"
	"net/http"
	"time"

	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
	"safehome.dev/backend/internal/webapp/common"
)

type userPayload struct {
	Id                 string     `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Role               string     `json:"role"`
	ConsentGiven       bool       `json:"consentGiven"`
	ConsentTextVersion *string    `json:"consentTextVersion,omitempty"`
	ConsentAt          *time.Time `json:"consentAt,omitempty"`
}

func toUserPayload(u *model.User) userPayload {
	return userPayload{
		Id:                 u.Id,
		Name:               u.Name,
		Email:              u.Email,
		Role:               u.Role,
		ConsentGiven:       u.ConsentGiven,
		ConsentTextVersion: u.ConsentTextVersion,
		ConsentAt:          u.ConsentAt,
	}
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=child parent"`
}

type sessionResponse struct {
	User      userPayload `json:"user"`
	CsrfToken string      `json:"csrfToken"`
}

func (api *Api) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("malformed request body: %v", err)
	}
	if err := api.vld.Struct(v); err != nil {
		return apperr.Validation("invalid request: %v", err)
	}
	return nil
}

func (api *Api) Signup(w http.ResponseWriter, r *http.Request) {
	req := signupRequest{}
	if err := api.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	u := &model.User{
		Id:           util.GenUUID(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: util.CryptPwd(req.Password),
		Role:         req.Role,
	}
	if err := api.users.CreateUser(r.Context(), u); err != nil {
		writeErr(w, r, err)
		return
	}
	csrf, err := api.issueSession(w, u)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	util.JsonWrite(w, sessionResponse{User: toUserPayload(u), CsrfToken: csrf})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (api *Api) Login(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := api.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := api.users.UserByEmail(r.Context(), req.Email, "")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if u == nil || !util.VerifyPwd(u.PasswordHash, req.Password) {
		writeErr(w, r, apperr.Unauthenticated("invalid credentials"))
		return
	}
	csrf, err := api.issueSession(w, u)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.JsonWrite(w, sessionResponse{User: toUserPayload(u), CsrfToken: csrf})
}

func (api *Api) Logout(w http.ResponseWriter, _ *http.Request) {
	api.clearCookie(w, TokenCookie, true)
	api.clearCookie(w, CsrfCookie, false)
	util.JsonWrite(w, map[string]bool{"success": true})
}

// Csrf mints (or re-issues) the anti-forgery cookie so a returning
// client can make state-changing requests again.
func (api *Api) Csrf(w http.ResponseWriter, _ *http.Request) {
	token := api.setCsrfCookie(w)
	util.JsonWrite(w, map[string]string{"csrfToken": token, "headerName": CsrfHeader})
}

func (api *Api) Me(w http.ResponseWriter, r *http.Request) {
	u := common.UserFrom(r.Context())
	csrf := api.setCsrfCookie(w)
	util.JsonWrite(w, sessionResponse{User: toUserPayload(u), CsrfToken: csrf})
}

func (api *Api) issueSession(w http.ResponseWriter, u *model.User) (string, error) {
	token, err := api.jwt.GenerateToken(u.Id, u.Role)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Domain:   api.config.CookieDomain,
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(api.jwt.TokenTTL()),
	})
	return api.setCsrfCookie(w), nil
}

// The csrf cookie is deliberately readable by the frontend: the
// double-submit check needs the client to echo it in a header.
func (api *Api) setCsrfCookie(w http.ResponseWriter) string {
	token := util.GenRandomString(24)
	http.SetCookie(w, &http.Cookie{
		Domain:   api.config.CookieDomain,
		SameSite: http.SameSiteLaxMode,
		HttpOnly: false,
		Name:     CsrfCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(24 * time.Hour),
	})
	return token
}

func (api *Api) clearCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Domain:   api.config.CookieDomain,
		HttpOnly: httpOnly,
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
	})
}
