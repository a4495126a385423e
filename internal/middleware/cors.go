package middleware

import (
	"net/http"

	"github.com/soundstage-io/soundstage-backend/internal/config"
)

// CORS applies the cross-origin headers expected by the studio frontend.
func CORS(next http.Handler) http.Handler {
	origin := config.GetEnv("CORS_ALLOWED_ORIGIN", "http://127.0.0.1:5173")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Access-Control-Allow-Headers, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
