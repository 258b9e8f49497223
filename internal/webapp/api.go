package webapp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"safehome.dev/backend/internal/audit"
	"safehome.dev/backend/internal/auth"
	"safehome.dev/backend/internal/ingest"
	"safehome.dev/backend/internal/link"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/retention"
	"safehome.dev/backend/internal/store"
)

const (
	TokenCookie = "safehome_token"
	CsrfCookie  = "safehome_csrf"
	CsrfHeader  = "X-CSRF-Token"
)

type ApiConfig struct {
	ListenAddr   string
	VerifyCSRF   bool
	CookieDomain string
	CorsOrigins  []string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
	vld    *validator.Validate

	jwt       *auth.JWTService
	users     store.UserStore
	links     *link.Registry
	locations store.LocationStore
	ingester  *ingest.Service
	recorder  *audit.Recorder
	sweeper   *retention.Sweeper
}

func NewApi(users store.UserStore, locations store.LocationStore, links *link.Registry,
	ingester *ingest.Service, recorder *audit.Recorder, sweeper *retention.Sweeper,
	jwt *auth.JWTService, config *ApiConfig) *Api {

	api := &Api{config: config}
	api.users = users
	api.locations = locations
	api.links = links
	api.ingester = ingester
	api.recorder = recorder
	api.sweeper = sweeper
	api.jwt = jwt
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	api.vld = validator.New()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", CsrfHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	r.Use(api.attachUser)
	if config.VerifyCSRF {
		r.Use(api.csrfVerify)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", api.Signup)
		r.Post("/login", api.Login)
		r.Post("/logout", api.Logout)
		r.Get("/csrf", api.Csrf)
	})

	r.Route("/me", func(r chi.Router) {
		r.Use(api.requireAuth)
		r.Get("/", api.Me)
		r.With(api.requireRole(model.RoleChild)).Post("/consent", api.SetConsent)
		r.With(api.requireRole(model.RoleChild)).Post("/revoke-parent", api.RevokeParent)
		r.With(api.requireRole(model.RoleChild)).Post("/export", api.ExportData)
		r.With(api.requireRole(model.RoleChild)).Post("/delete-account", api.DeleteAccount)
		r.With(api.requireRole(model.RoleChild)).Post("/location", api.SubmitLocation)
	})

	r.With(api.requireRole(model.RoleChild)).Post("/location", api.SubmitLocation)

	r.Route("/links", func(r chi.Router) {
		r.With(api.requireRole(model.RoleParent)).Post("/request", api.RequestLink)
		r.With(api.requireRole(model.RoleParent)).Get("/", api.ListLinks)
		r.With(api.requireRole(model.RoleChild)).Get("/pending", api.PendingLinks)
		r.With(api.requireRole(model.RoleChild)).Get("/child", api.AcceptedLinks)
		r.With(api.requireRole(model.RoleChild)).Post("/accept", api.AcceptLink)
		r.With(api.requireRole(model.RoleChild)).Post("/decline", api.DeclineLink)
	})

	r.Route("/children", func(r chi.Router) {
		r.With(api.requireRole(model.RoleParent)).Get("/", api.ListChildren)
		r.With(api.requireAuth).Get("/{childId}/locations", api.ChildLocations)
	})

	r.With(api.requireRole(model.RoleParent)).Get("/audit", api.RecentAudit)

	r.Route("/admin", func(r chi.Router) {
		r.Use(api.requireRole(model.RoleAdmin))
		r.Post("/run-retention-cleanup", api.RunRetentionCleanup)
		r.Get("/audit", api.AdminAudit)
	})

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler { return api.r }

func (api *Api) Run() {
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err != nil {
		api.log.Error().Err(err).Msg("")
		panic(err)
	}
}
