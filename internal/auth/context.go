/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"strings"

	"github.com/friendsincode/slotbook/internal/models"
)

type contextKey string

const (
	identityContextKey contextKey = "slotbookIdentity"
	clientContextKey   contextKey = "slotbookClient"
)

// Identity is the authenticated caller. Email is always the person acting;
// ActingAs names the owner a staff member is booking for.
type Identity struct {
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	ActingAs string      `json:"acting_as,omitempty"`
}

// Actor is the email recorded as having performed an action.
func (id Identity) Actor() string {
	return id.Email
}

// Owner is the email reservations are created for.
func (id Identity) Owner() string {
	if id.ActingAs != "" {
		return id.ActingAs
	}
	return id.Email
}

// IsStaff reports whether the caller may act on other users' reservations.
func (id Identity) IsStaff() bool {
	return id.Role.IsStaff()
}

// IsElevated reports whether the caller bypasses the advance window.
func (id Identity) IsElevated() bool {
	return id.Role == models.RoleElevated
}

// Owns reports whether the caller owns a reservation of owner.
func (id Identity) Owns(owner string) bool {
	return strings.EqualFold(id.Email, owner)
}

// IdentityFromClaims converts token claims.
func IdentityFromClaims(c *Claims) Identity {
	return Identity{
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Role:     models.NormalizeRole(c.Role),
		ActingAs: strings.ToLower(strings.TrimSpace(c.ActingAs)),
	}
}

// WithIdentity attaches the caller to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the caller if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok && id.Email != ""
}

// Client is where a request came from.
type Client struct {
	IPAddress string
	UserAgent string
}

// WithClient attaches the request origin to the context.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// ClientFromContext returns the request origin, or the zero Client.
func ClientFromContext(ctx context.Context) Client {
	c, _ := ctx.Value(clientContextKey).(Client)
	return c
}
