package live

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/soundstage-io/soundstage-backend/internal/middleware"
)

// RegisterLiveRoutes registers the live-session REST routes and the
// WebSocket entry point. The lifecycle endpoints require a Bearer token; the
// WebSocket route does not, since authorization happens through the session
// code on join.
func RegisterLiveRoutes(r *mux.Router, handler *LiveHandler, jwtSecret []byte) {
	authed := r.PathPrefix("/api/v1/live").Subrouter()
	authed.Use(mux.MiddlewareFunc(middleware.RequireAuth(jwtSecret)))
	authed.HandleFunc("/start", handler.StartSession).Methods(http.MethodPost)
	authed.HandleFunc("/end", handler.EndSession).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/live/info", handler.SessionInfo).Methods(http.MethodGet)
	r.HandleFunc("/ws/studio", handler.ServeWS)
}
