/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"path"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/slotbook/internal/models"
)

// ActAsHeader lets staff act on behalf of an owner.
const ActAsHeader = "X-Act-As"

// Middleware validates API keys or JWT Bearer tokens and injects the caller
// identity. If jwtSecret is nil, only API keys are validated.
func Middleware(db *gorm.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := authenticate(db, jwtSecret, r)
			if claims == nil {
				unauthorized(w)
				return
			}

			id := IdentityFromClaims(claims)
			if actAs := strings.ToLower(strings.TrimSpace(r.Header.Get(ActAsHeader))); actAs != "" {
				id.ActingAs = actAs
			}
			if id.ActingAs != "" && id.ActingAs != id.Email && !id.IsStaff() {
				forbidden(w)
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = WithClient(ctx, Client{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(db *gorm.DB, jwtSecret []byte, r *http.Request) *Claims {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if db == nil {
			return nil
		}
		claims, err := ValidateAPIKey(r.Context(), db, apiKey, time.Now())
		if err != nil {
			return nil
		}
		return claims
	}

	if jwtSecret != nil {
		if token := extractToken(r); token != "" {
			if claims, err := Parse(jwtSecret, token); err == nil {
				return claims
			}
		}
	}
	return nil
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			forbidden(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"FORBIDDEN"}`))
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Browser WebSocket clients cannot set arbitrary Authorization headers.
	// Allow query-token auth only for the events WebSocket upgrade endpoint.
	if isWebSocketUpgrade(r) && path.Clean(r.URL.Path) == "/api/v1/events" {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			return token
		}
	}
	return ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}
