package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ipx800-bridge/internal/auth"
	"github.com/nerrad567/ipx800-bridge/internal/bridges/ipx800"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Device push, at the path configured on the IPX800.
	r.Get(ipx800.WebhookPath, s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/device", s.handleGetDevice)

		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{index}", s.handleGetChannel)
		r.Get("/channels/{index}/history", s.handleChannelHistory)
		r.Get("/commands", s.handleListCommands)

		// WebSocket validates its own token so browsers can pass it as a query parameter.
		r.Get("/ws", s.handleWebSocket)

		// Control routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermChannelOperate)).Put("/channels/{index}", s.handleSetChannel)
			r.With(s.requirePermission(auth.PermChannelOperate)).Post("/channels/{index}/toggle", s.handleToggleChannel)
			r.With(s.requirePermission(auth.PermDeviceRefresh)).Post("/refresh", s.handleRefresh)
		})
	})

	return r
}
