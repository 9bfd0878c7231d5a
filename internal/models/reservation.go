/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending       ReservationStatus = "PENDING"
	StatusApproved      ReservationStatus = "APPROVED"
	StatusCanceled      ReservationStatus = "CANCELED"
	StatusCancelPending ReservationStatus = "CANCEL_PENDING"
)

// ActiveStatuses hold their time window exclusively.
var ActiveStatuses = []ReservationStatus{StatusPending, StatusApproved, StatusCancelPending}

// HeldStatuses count against anti-stockpiling caps.
var HeldStatuses = []ReservationStatus{StatusApproved, StatusPending}

// Active reports whether the status holds its window exclusively.
func (s ReservationStatus) Active() bool {
	return s == StatusPending || s == StatusApproved || s == StatusCancelPending
}

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCanceled
}

// BillingType selects who pays for a reservation.
type BillingType string

const (
	BillingLab    BillingType = "lab"
	BillingClient BillingType = "client"
)

// Reservation is a booked window on a resource.
type Reservation struct {
	ID             string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	ResourceID     string            `gorm:"type:varchar(64);index:idx_reservations_resource_window,priority:1;not null" json:"resource_id"`
	OwnerEmail     string            `gorm:"type:varchar(255);index:idx_reservations_owner;not null" json:"owner_email"`
	Actor          string            `gorm:"type:varchar(255)" json:"actor"`
	StartsAt       time.Time         `gorm:"index:idx_reservations_resource_window,priority:2;not null" json:"starts_at"`
	EndsAt         time.Time         `gorm:"not null" json:"ends_at"`
	ExperimentCode string            `gorm:"type:varchar(64)" json:"experiment_code"`
	Probe          string            `gorm:"type:varchar(64)" json:"probe,omitempty"`
	SlotLabel      string            `gorm:"type:varchar(16)" json:"slot_label"`
	Status         ReservationStatus `gorm:"type:varchar(16);index:idx_reservations_status;not null" json:"status"`
	BillingType    BillingType       `gorm:"type:varchar(16)" json:"billing_type,omitempty"`
	BillingRef     string            `gorm:"type:varchar(64)" json:"billing_ref,omitempty"`
	ReviewedBy     string            `gorm:"type:varchar(255)" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time        `json:"reviewed_at,omitempty"`
	CanceledAt     *time.Time        `json:"canceled_at,omitempty"`
	CanceledBy     string            `gorm:"type:varchar(255)" json:"canceled_by,omitempty"`
	CancelReason   string            `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Reservation) TableName() string {
	return "reservations"
}

// Duration returns the booked length.
func (r *Reservation) Duration() time.Duration {
	return r.EndsAt.Sub(r.StartsAt)
}

// StatusChange is a compare-and-set status update. The update applies only
// while the stored status still equals From.
type StatusChange struct {
	ReservationID string
	From          ReservationStatus
	To            ReservationStatus
	Actor         string
	Reason        string
	At            time.Time
	// Review marks staff decisions (approve, deny and their cancel variants).
	Review bool
}
