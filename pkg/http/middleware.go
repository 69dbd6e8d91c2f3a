// Package http carries middleware shared by fleetwatch HTTP servers.
package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

// CommonMiddleware applies CORS headers, answers preflight requests, and
// logs every request with its duration.
func CommonMiddleware(next http.Handler, cors models.CORSConfig, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		origin := "*"
		if len(cors.AllowedOrigins) > 0 {
			origin = allowedOrigin(cors.AllowedOrigins, r.Header.Get("Origin"))
		}

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)

		log.Debug().
			Str("remote", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}

// allowedOrigin returns the request origin when it appears in the allow
// list, "*" when the list contains the wildcard, and "" otherwise.
func allowedOrigin(allowed []string, origin string) string {
	for _, candidate := range allowed {
		if candidate == "*" {
			return "*"
		}

		if strings.EqualFold(candidate, origin) {
			return origin
		}
	}

	return ""
}
