package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/nerrad567/ipx800-bridge/internal/bridges/ipx800"
)

// handleWebhook applies a state change pushed by the device
// (GET /api/ipx800_update?state=<0|1>&index=<1-8>).
//
// The device ignores the response body, so success is an empty 200.
// Malformed requests are logged at debug level only: a misconfigured
// push URL would otherwise flood the error log.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.webhookAuthorised(r) {
		s.logger.Debug("webhook rejected: bad token", "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid webhook token")
		return
	}

	update, err := ipx800.ParseUpdate(r.URL.Query())
	if err != nil {
		s.logger.Debug("webhook rejected", "error", err, "query", r.URL.RawQuery)
		writeError(w, http.StatusBadRequest, ErrCodeInvalidWebhook, err.Error())
		return
	}

	if err := s.controller.ApplyWebhook(update.Index, update.On); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidWebhook, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) webhookAuthorised(r *http.Request) bool {
	secret := s.webhookCfg.Secret
	if secret == "" {
		return true
	}
	presented := r.Header.Get(ipx800.WebhookHeaderAuth)
	if presented == "" {
		presented = r.URL.Query().Get(ipx800.WebhookParamToken)
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

func isWebhook(r *http.Request) bool {
	return r.URL.Path == ipx800.WebhookPath
}
