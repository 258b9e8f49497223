package webapp

import (
	"net/http"

	"github.com/phuslu/log"
	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/util"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeErr maps the core error taxonomy to transport responses. The
// core never formats responses itself; unclassified failures are
// logged with context and surfaced as an opaque 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	msg := err.Error()
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindUnauthenticated:
		status = http.StatusUnauthorized
	case apperr.KindUnauthorized, apperr.KindConsentRequired:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Msg("unhandled error")
		status = http.StatusInternalServerError
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	util.JsonWrite(w, errorResponse{Error: msg})
}
