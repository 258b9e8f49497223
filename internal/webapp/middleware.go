package webapp

import (
	"net/http"
	"strings"

	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/webapp/common"
)

func extractToken(r *http.Request) string {
	ck, err := r.Cookie(TokenCookie)
	if err == nil && ck.Value != "" {
		return ck.Value
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// attachUser resolves the bearer credential into the current user.
// Anonymous requests pass through; route guards decide what needs auth.
func (api *Api) attachUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := api.jwt.ValidateToken(token)
		if err != nil {
			api.log.Debug().Err(err).Msg("token rejected")
			next.ServeHTTP(w, r)
			return
		}
		u, err := api.users.UserById(r.Context(), claims.Subject)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if u != nil {
			r = r.WithContext(common.WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

func (api *Api) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if common.UserFrom(r.Context()) == nil {
			writeErr(w, r, apperr.Unauthenticated("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *Api) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := common.UserFrom(r.Context())
			if u == nil {
				writeErr(w, r, apperr.Unauthenticated("authentication required"))
				return
			}
			for _, role := range roles {
				if u.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeErr(w, r, apperr.Unauthorized("insufficient permissions"))
		})
	}
}

var csrfExcluded = map[string]bool{
	"/auth/signup": true,
	"/auth/login":  true,
}

// csrfVerify enforces the double-submit pattern: every state-changing
// request must carry the csrf cookie's value in the header, except the
// two endpoints needed to establish a session in the first place.
func (api *Api) csrfVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if csrfExcluded[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		headerToken := r.Header.Get(CsrfHeader)
		ck, err := r.Cookie(CsrfCookie)
		if err != nil || headerToken == "" || headerToken != ck.Value {
			api.log.Debug().Str("header_token", headerToken).Str("path", r.URL.Path).Msg("mismatched csrf token")
			writeErr(w, r, apperr.Unauthorized("invalid csrf token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
