/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// MaintenanceWindow blocks a resource. A non-empty RRule repeats the window
// with StartsAt as the first occurrence.
type MaintenanceWindow struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ResourceID string    `gorm:"type:varchar(64);index;not null" json:"resource_id"`
	StartsAt   time.Time `gorm:"not null" json:"starts_at"`
	EndsAt     time.Time `gorm:"not null" json:"ends_at"`
	RRule      string    `gorm:"column:rrule;type:varchar(255)" json:"rrule,omitempty"`
	Reason     string    `gorm:"type:text" json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (MaintenanceWindow) TableName() string {
	return "maintenance_windows"
}

// TrainingWindow reserves a resource for instrument training.
type TrainingWindow struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ResourceID string    `gorm:"type:varchar(64);index;not null" json:"resource_id"`
	StartsAt   time.Time `gorm:"not null" json:"starts_at"`
	EndsAt     time.Time `gorm:"not null" json:"ends_at"`
	Trainer    string    `gorm:"type:varchar(255)" json:"trainer"`
	Note       string    `gorm:"type:text" json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (TrainingWindow) TableName() string {
	return "training_windows"
}

// BlackoutKind names the source of a blackout.
type BlackoutKind string

const (
	BlackoutMaintenance BlackoutKind = "maintenance"
	BlackoutTraining    BlackoutKind = "training"
)

// Blackout is one concrete occurrence of a maintenance or training window.
type Blackout struct {
	Kind     BlackoutKind `json:"kind"`
	WindowID string       `json:"window_id"`
	StartsAt time.Time    `json:"starts_at"`
	EndsAt   time.Time    `json:"ends_at"`
	Note     string       `json:"note,omitempty"`
}

// Client is an external organization billed for its bookings.
type Client struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id" yaml:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name" yaml:"name"`
	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (Client) TableName() string {
	return "clients"
}

// ClientResourceAccess lists the resources a client may book.
type ClientResourceAccess struct {
	ClientID   string `gorm:"type:varchar(64);primaryKey" json:"client_id"`
	ResourceID string `gorm:"type:varchar(64);primaryKey" json:"resource_id"`
}

// TableName returns the table name for GORM.
func (ClientResourceAccess) TableName() string {
	return "client_resource_access"
}
