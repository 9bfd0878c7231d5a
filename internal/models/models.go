/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"

	"github.com/friendsincode/slotbook/internal/slots"
)

// Role is the authorization tier of a user.
type Role string

const (
	RoleUser     Role = "USER"
	RoleStaff    Role = "STAFF"
	RoleElevated Role = "ELEVATED"
)

// NormalizeRole maps free-form role strings onto the known tiers. Unknown
// values become RoleUser.
func NormalizeRole(r string) Role {
	switch strings.ToUpper(strings.TrimSpace(r)) {
	case "STAFF", "OPERATOR":
		return RoleStaff
	case "ELEVATED", "ADMIN", "SUPERUSER":
		return RoleElevated
	default:
		return RoleUser
	}
}

// IsStaff reports whether the role may act on other users' reservations.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleElevated
}

// User is a person who books or manages instruments.
type User struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email     string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string `json:"name"`
	Role      Role   `gorm:"type:varchar(16);not null" json:"role"`
	Suspended bool   `json:"suspended"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResourceStatus is the operational state of an instrument.
type ResourceStatus string

const (
	ResourceOperational ResourceStatus = "operational"
	ResourceLimited     ResourceStatus = "limited"
	ResourceDown        ResourceStatus = "down"
)

// Resource is a bookable instrument.
type Resource struct {
	ID           string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(255)" json:"name"`
	AdvanceDays  int            `gorm:"not null" json:"advance_days"`
	Visible      bool           `json:"visible"`
	Status       ResourceStatus `gorm:"type:varchar(32)" json:"status"`
	ActiveProbe  string         `gorm:"type:varchar(64)" json:"active_probe"`
	DefaultProbe string         `gorm:"type:varchar(64)" json:"default_probe"`
	SlotGrid     slots.Grid     `gorm:"type:text;serializer:json" json:"slot_grid,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Resource) TableName() string {
	return "resources"
}
