/*
 * Copyright 2026 Wren Systems, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/wrenhq/fleetwatch/pkg/core/auth"
)

type contextKey string

const principalKey contextKey = "principal"

const sessionCookieName = "fw_session"

// authMiddleware resolves the caller to exactly one organization. Agents
// present the shared org token in X-Auth-Token; operators present a session
// JWT as a Bearer header or cookie. Every failure mode produces the same
// 401 so callers cannot probe which tokens exist.
func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgToken := r.Header.Get("X-Auth-Token")
		sessionToken := extractSessionToken(r)

		principal, err := s.auth.Resolve(r.Context(), orgToken, sessionToken)
		if err != nil {
			s.logger.Debug().Str("path", r.URL.Path).Msg("rejected unauthenticated request")
			writeError(w, "Unauthorized", http.StatusUnauthorized)

			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractSessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}

	return ""
}

// principalFrom returns the authenticated principal stored by authMiddleware.
func principalFrom(ctx context.Context) *auth.Principal {
	principal, _ := ctx.Value(principalKey).(*auth.Principal)
	return principal
}
