// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/auth"
)

type principalKey struct{}

// Principal identifies who is calling an admin route
type Principal struct {
	Method string // "session" or "api_key"
	Name   string
}

// PrincipalFromContext returns the caller attached by IsAuthenticated
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// IsAuthenticated accepts either an X-API-Key header or the operator session cookie
func IsAuthenticated(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rawKey := r.Header.Get("X-API-Key"); rawKey != "" {
				key, err := authService.ValidateAPIKey(r.Context(), rawKey)
				if err != nil {
					log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected API key")
					writeJSONError(w, http.StatusUnauthorized, `{"error":"Unauthorized"}`)
					return
				}

				ctx := context.WithValue(r.Context(), principalKey{}, Principal{Method: "api_key", Name: key.Name})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			session, _ := authService.GetSessionStore().Get(r, auth.SessionName)
			if authenticated, ok := session.Values["authenticated"].(bool); !ok || !authenticated {
				writeJSONError(w, http.StatusUnauthorized, `{"error":"Unauthorized"}`)
				return
			}

			username, _ := session.Values["username"].(string)
			ctx := context.WithValue(r.Context(), principalKey{}, Principal{Method: "session", Name: username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSetup answers 428 until the operator account exists. The setup
// endpoint itself is always let through.
func RequireSetup(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/auth/setup") {
				next.ServeHTTP(w, r)
				return
			}

			complete, err := authService.IsSetupComplete(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("Failed to check setup status")
				writeJSONError(w, http.StatusServiceUnavailable, `{"error":"License store is temporarily unavailable"}`)
				return
			}

			if !complete {
				writeJSONError(w, http.StatusPreconditionRequired, `{"error":"Initial setup required","setup_required":true}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
