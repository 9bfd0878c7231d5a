/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for reservation and policy changes.
const (
	AuditActionReservationCreate        AuditAction = "reservation.create"
	AuditActionReservationApprove       AuditAction = "reservation.approve"
	AuditActionReservationDeny          AuditAction = "reservation.deny"
	AuditActionReservationCancel        AuditAction = "reservation.cancel"
	AuditActionReservationCancelRequest AuditAction = "reservation.cancel_request"
	AuditActionReservationCancelApprove AuditAction = "reservation.cancel_approve"
	AuditActionReservationCancelDeny    AuditAction = "reservation.cancel_deny"
	AuditActionReservationRemove        AuditAction = "reservation.remove"
	AuditActionBookingRejected          AuditAction = "booking.rejected"
	AuditActionPolicyUpdate             AuditAction = "policy.update"
	AuditActionAPIKeyCreate             AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke             AuditAction = "apikey.revoke"
)

// AuditLog records who changed what, and on whose behalf.
type AuditLog struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp  time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	ActorEmail string         `gorm:"type:varchar(255);index:idx_audit_actor" json:"actor_email"`
	OwnerEmail string         `gorm:"type:varchar(255);index:idx_audit_owner" json:"owner_email"`
	ResourceID string         `gorm:"type:varchar(64);index:idx_audit_resource" json:"resource_id"`
	Action     AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	TargetType string         `gorm:"type:varchar(64)" json:"target_type"` // "reservation", "cap_rule", ...
	TargetID   string         `gorm:"type:varchar(64)" json:"target_id"`
	Reason     string         `gorm:"type:text" json:"reason,omitempty"`
	Details    map[string]any `gorm:"type:text;serializer:json" json:"details"`
	IPAddress  string         `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent  string         `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
