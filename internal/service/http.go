package service

import (
	"encoding/json"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/auth"
	"github.com/propertygo/viewing/internal/lifecycle"
)

// CronPath is where an external scheduler triggers the no-show sweep
const CronPath = "/api/cron/process-no-shows"

// NewCronHandler serves the no-show sweep for external schedulers. Requests
// must carry the cron secret when one is configured.
func NewCronHandler(sweeper *lifecycle.Sweeper, authenticator *auth.Authenticator, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "cron").Logger()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "method not allowed"})
			return
		}
		if !authenticator.CronAuthorized(r.Header) {
			log.Warn().Str("remote_addr", r.RemoteAddr).Msg("unauthorized cron request")
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
			return
		}

		count, err := sweeper.ProcessNoShows(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("cron no-show sweep failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": apperr.MessageOf(err)})
			return
		}

		retried, err := sweeper.RetryRewards(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("cron reward retry failed")
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": count, "rewards_retried": retried})
	})
}

// NewHealthHandler reports that the process is serving
func NewHealthHandler(hostname string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "viewing", "hostname": hostname})
	})
}

// NewDBHealthHandler reports whether the database answers a ping
func NewDBHealthHandler(db *sqlx.DB, driver string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": driver + " unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", driver: "connected"})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
