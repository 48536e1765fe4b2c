/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"path"
	"strings"

	"gorm.io/gorm"
)

// MiddlewareWithJWT authenticates requests and injects claims into the
// request context. Two credential forms are accepted: an API key in the
// X-API-Key header, checked against the key store, and a JWT in the
// Authorization Bearer header. API keys win when both are present. With a
// nil jwtSecret only API keys are accepted.
func MiddlewareWithJWT(db *gorm.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := resolveCredentials(db, jwtSecret, r)
			if claims == nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Middleware is the API-key-only form used by deployments without a
// configured signing key.
func Middleware(db *gorm.DB) func(http.Handler) http.Handler {
	return MiddlewareWithJWT(db, nil)
}

func resolveCredentials(db *gorm.DB, jwtSecret []byte, r *http.Request) *Claims {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		claims, err := ValidateAPIKey(db, apiKey)
		if err != nil {
			return nil
		}
		return claims
	}

	if jwtSecret == nil {
		return nil
	}
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	claims, err := Parse(jwtSecret, token)
	if err != nil {
		return nil
	}
	return claims
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Browsers cannot set Authorization headers on WebSocket dials, so the
	// event stream alone may pass the token as a query parameter.
	upgrade := strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
	if upgrade && path.Clean(r.URL.Path) == "/api/v1/events" {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}
