package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"safehome.dev/backend/internal/audit"
	"safehome.dev/backend/internal/auth"
	"safehome.dev/backend/internal/consent"
	"safehome.dev/backend/internal/event"
	"safehome.dev/backend/internal/hub"
	"safehome.dev/backend/internal/ingest"
	"safehome.dev/backend/internal/link"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/retention"
	"safehome.dev/backend/internal/store/impl/memstore"
	"safehome.dev/backend/internal/util"
)

type testEnv struct {
	srv *httptest.Server
	st  *memstore.Store
	jwt *auth.JWTService
	hub *hub.Hub
}

func newEnv(t *testing.T, verifyCsrf bool) *testEnv {
	t.Helper()
	st := memstore.New()
	b, err := event.NewBus()
	if err != nil {
		t.Fatal(err)
	}
	h := hub.New()
	h.AttachBus(b)
	recorder := audit.NewRecorder(st)
	registry := link.NewRegistry(st, st, recorder, h)
	ingester := ingest.New(consent.NewGate(st), st, recorder, b)
	sweeper := retention.NewSweeper(st, st, 30)
	jwtSvc := auth.NewJWTService("test-secret", "safehome")
	api := NewApi(st, st, registry, ingester, recorder, sweeper, jwtSvc, &ApiConfig{
		ListenAddr:  ":0",
		VerifyCSRF:  verifyCsrf,
		CorsOrigins: []string{"http://localhost:3000"},
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, st: st, jwt: jwtSvc, hub: h}
}

// do issues one JSON request with optional bearer token and decodes
// the response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) signup(t *testing.T, name, email, role string) (string, string) {
	t.Helper()
	out := struct {
		User userPayload `json:"user"`
	}{}
	code := e.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "hunter2secret", "role": role,
	}, &out)
	if code != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, code)
	}
	token, err := e.jwt.GenerateToken(out.User.Id, role)
	if err != nil {
		t.Fatal(err)
	}
	return out.User.Id, token
}

func TestFamilyFlow(t *testing.T) {
	e := newEnv(t, false)
	childId, childTok := e.signup(t, "Kid", "kid@example.com", "child")
	_, parentTok := e.signup(t, "Mom", "mom@example.com", "parent")

	// Parent requests the link by email.
	linkOut := struct {
		Link linkPayload `json:"link"`
	}{}
	code := e.do(t, http.MethodPost, "/links/request", parentTok,
		map[string]string{"childEmail": "kid@example.com"}, &linkOut)
	if code != http.StatusCreated || linkOut.Link.Status != model.LinkPending {
		t.Fatalf("link request: status %d link %+v", code, linkOut.Link)
	}

	// Child sees it pending and accepts.
	pending := struct {
		Links []linkPayload `json:"links"`
	}{}
	if code := e.do(t, http.MethodGet, "/links/pending", childTok, nil, &pending); code != http.StatusOK {
		t.Fatalf("pending links: status %d", code)
	}
	if len(pending.Links) != 1 {
		t.Fatalf("want 1 pending link, got %d", len(pending.Links))
	}
	accepted := struct {
		Link linkPayload `json:"link"`
	}{}
	code = e.do(t, http.MethodPost, "/links/accept", childTok,
		map[string]string{"linkId": linkOut.Link.Id}, &accepted)
	if code != http.StatusOK || accepted.Link.Status != model.LinkAccepted {
		t.Fatalf("accept: status %d link %+v", code, accepted.Link)
	}

	// Location submission is rejected until consent is granted.
	point := map[string]float64{"lat": -6.2, "lng": 106.8}
	if code := e.do(t, http.MethodPost, "/location", childTok, point, nil); code != http.StatusForbidden {
		t.Fatalf("pre-consent ping: status %d", code)
	}

	consentOut := struct {
		User userPayload `json:"user"`
	}{}
	code = e.do(t, http.MethodPost, "/me/consent", childTok,
		map[string]interface{}{"consentGiven": true, "consentTextVersion": "v1"}, &consentOut)
	if code != http.StatusOK || !consentOut.User.ConsentGiven {
		t.Fatalf("consent: status %d user %+v", code, consentOut.User)
	}

	if code := e.do(t, http.MethodPost, "/location", childTok, point, nil); code != http.StatusCreated {
		t.Fatalf("ping: status %d", code)
	}

	// Parent sees the child with its compacted position.
	children := struct {
		Children []childPayload `json:"children"`
	}{}
	if code := e.do(t, http.MethodGet, "/children/", parentTok, nil, &children); code != http.StatusOK {
		t.Fatalf("children: status %d", code)
	}
	if len(children.Children) != 1 || children.Children[0].LastLocation == nil {
		t.Fatalf("unexpected children payload: %+v", children.Children)
	}
	if children.Children[0].LastLocation.Lat != -6.2 {
		t.Error("stale latest position")
	}

	// History view, audited.
	hist := struct {
		Locations []pingPayload `json:"locations"`
	}{}
	histPath := fmt.Sprintf("/children/%s/locations", childId)
	if code := e.do(t, http.MethodGet, histPath, parentTok, nil, &hist); code != http.StatusOK {
		t.Fatalf("history: status %d", code)
	}
	if len(hist.Locations) != 1 {
		t.Fatalf("want 1 history row, got %d", len(hist.Locations))
	}
	trail := struct {
		Entries []auditPayload `json:"entries"`
	}{}
	if code := e.do(t, http.MethodGet, "/audit", parentTok, nil, &trail); code != http.StatusOK {
		t.Fatalf("audit: status %d", code)
	}
	seen := map[string]bool{}
	for _, entry := range trail.Entries {
		seen[entry.Action] = true
	}
	if !seen[model.ActionViewChildLocation] || !seen[model.ActionLocationUpdate] {
		t.Errorf("audit trail incomplete: %v", seen)
	}

	// Revocation cuts both surfaces off.
	parentId := linkOut.Link.ParentId
	if code := e.do(t, http.MethodPost, "/me/revoke-parent", childTok,
		map[string]string{"parentId": parentId}, nil); code != http.StatusOK {
		t.Fatalf("revoke: status %d", code)
	}
	if code := e.do(t, http.MethodGet, "/children/", parentTok, nil, &children); code != http.StatusOK {
		t.Fatal("children after revoke")
	}
	if len(children.Children) != 0 {
		t.Error("revoked parent still lists the child")
	}
	if code := e.do(t, http.MethodGet, histPath, parentTok, nil, nil); code != http.StatusForbidden {
		t.Errorf("history after revoke: status %d", code)
	}
}

func TestChildReadsOwnHistory(t *testing.T) {
	e := newEnv(t, false)
	childId, childTok := e.signup(t, "Kid", "kid@example.com", "child")
	otherId, _ := e.signup(t, "Sib", "sib@example.com", "child")

	code := e.do(t, http.MethodGet, fmt.Sprintf("/children/%s/locations", childId), childTok, nil, nil)
	if code != http.StatusOK {
		t.Errorf("own history: status %d", code)
	}
	code = e.do(t, http.MethodGet, fmt.Sprintf("/children/%s/locations", otherId), childTok, nil, nil)
	if code != http.StatusForbidden {
		t.Errorf("sibling history: status %d", code)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, false)
	if code := e.do(t, http.MethodGet, "/me/", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous /me: status %d", code)
	}
	if code := e.do(t, http.MethodGet, "/me/", "bogus-token", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("bad token /me: status %d", code)
	}
}

func TestRoleGuards(t *testing.T) {
	e := newEnv(t, false)
	_, childTok := e.signup(t, "Kid", "kid@example.com", "child")
	_, parentTok := e.signup(t, "Mom", "mom@example.com", "parent")

	if code := e.do(t, http.MethodPost, "/links/request", childTok,
		map[string]string{"childEmail": "kid@example.com"}, nil); code != http.StatusForbidden {
		t.Errorf("child requesting a link: status %d", code)
	}
	if code := e.do(t, http.MethodPost, "/location", parentTok,
		map[string]float64{"lat": 1, "lng": 2}, nil); code != http.StatusForbidden {
		t.Errorf("parent submitting a location: status %d", code)
	}
	if code := e.do(t, http.MethodPost, "/admin/run-retention-cleanup", parentTok, nil, nil); code != http.StatusForbidden {
		t.Errorf("parent running retention: status %d", code)
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t, false)
	e.signup(t, "Kid", "kid@example.com", "child")

	out := sessionResponse{}
	code := e.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "kid@example.com", "password": "hunter2secret"}, &out)
	if code != http.StatusOK || out.User.Email != "kid@example.com" || out.CsrfToken == "" {
		t.Fatalf("login: status %d out %+v", code, out)
	}
	code = e.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "kid@example.com", "password": "wrong-password"}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d", code)
	}
	code = e.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "ghost@example.com", "password": "hunter2secret"}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("unknown email: status %d", code)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	e := newEnv(t, false)
	e.signup(t, "Kid", "kid@example.com", "child")
	code := e.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": "Other", "email": "kid@example.com", "password": "hunter2secret", "role": "parent",
	}, nil)
	if code != http.StatusConflict {
		t.Errorf("duplicate signup: status %d", code)
	}
}

func TestSignupValidation(t *testing.T) {
	e := newEnv(t, false)
	cases := []map[string]string{
		{"name": "K", "email": "kid@example.com", "password": "hunter2secret", "role": "child"},
		{"name": "Kid", "email": "not-an-email", "password": "hunter2secret", "role": "child"},
		{"name": "Kid", "email": "kid@example.com", "password": "short", "role": "child"},
		{"name": "Kid", "email": "kid@example.com", "password": "hunter2secret", "role": "admin"},
	}
	for i, c := range cases {
		if code := e.do(t, http.MethodPost, "/auth/signup", "", c, nil); code != http.StatusBadRequest {
			t.Errorf("case %d: status %d", i, code)
		}
	}
}

func TestCsrfVerify(t *testing.T) {
	e := newEnv(t, true)
	_, childTok := e.signup(t, "Kid", "kid@example.com", "child")

	// State-changing request without the csrf header is rejected.
	code := e.do(t, http.MethodPost, "/me/consent", childTok,
		map[string]interface{}{"consentGiven": true}, nil)
	if code != http.StatusForbidden {
		t.Fatalf("missing csrf header: status %d", code)
	}
	// Reads pass without it.
	if code := e.do(t, http.MethodGet, "/me/", childTok, nil, nil); code != http.StatusOK {
		t.Errorf("read with csrf enforcement: status %d", code)
	}

	// With matching cookie and header the request goes through.
	body, _ := json.Marshal(map[string]interface{}{"consentGiven": true})
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/me/consent", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+childTok)
	csrf := util.GenRandomString(24)
	req.Header.Set(CsrfHeader, csrf)
	req.AddCookie(&http.Cookie{Name: CsrfCookie, Value: csrf})
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("csrf-carrying request: status %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	e := newEnv(t, false)
	admin := &model.User{Id: util.GenUUID(), Name: "Op", Email: "op@example.com",
		PasswordHash: "x", Role: model.RoleAdmin}
	if err := e.st.CreateUser(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	adminTok, err := e.jwt.GenerateToken(admin.Id, admin.Role)
	if err != nil {
		t.Fatal(err)
	}

	sweep := retention.Result{}
	if code := e.do(t, http.MethodPost, "/admin/run-retention-cleanup", adminTok, nil, &sweep); code != http.StatusOK {
		t.Fatalf("sweep: status %d", code)
	}
	if sweep.RetentionDays != 30 {
		t.Errorf("want 30 retention days, got %d", sweep.RetentionDays)
	}

	page := struct {
		Entries []auditPayload `json:"entries"`
		Total   int64          `json:"total"`
	}{}
	if code := e.do(t, http.MethodGet, "/admin/audit?page=1&limit=20", adminTok, nil, &page); code != http.StatusOK {
		t.Fatalf("admin audit: status %d", code)
	}
}

func TestExportAndDeleteAccount(t *testing.T) {
	e := newEnv(t, false)
	childId, childTok := e.signup(t, "Kid", "kid@example.com", "child")

	if code := e.do(t, http.MethodPost, "/me/consent", childTok,
		map[string]interface{}{"consentGiven": true, "consentTextVersion": "v1"}, nil); code != http.StatusOK {
		t.Fatal("consent")
	}
	if code := e.do(t, http.MethodPost, "/location", childTok,
		map[string]float64{"lat": 1, "lng": 2}, nil); code != http.StatusCreated {
		t.Fatal("ping")
	}

	export := exportBundle{}
	if code := e.do(t, http.MethodPost, "/me/export", childTok, nil, &export); code != http.StatusOK {
		t.Fatal("export")
	}
	if export.User.Id != childId || len(export.Locations) != 1 {
		t.Errorf("incomplete export: %+v", export)
	}

	if code := e.do(t, http.MethodPost, "/me/delete-account", childTok, nil, nil); code != http.StatusOK {
		t.Fatal("delete account")
	}
	// The account is gone, the session dies with it.
	if code := e.do(t, http.MethodGet, "/me/", childTok, nil, nil); code != http.StatusUnauthorized {
		t.Error("deleted account still authenticates")
	}
	if u, _ := e.st.UserById(context.Background(), childId); u != nil {
		t.Error("user row survived erasure")
	}
	hist, _ := e.st.History(context.Background(), childId, time.Time{}, time.Now().Add(time.Hour), 0)
	if len(hist) != 0 {
		t.Error("pings survived erasure")
	}
}
