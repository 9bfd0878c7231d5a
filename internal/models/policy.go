/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// CapRule limits the minutes one owner may hold per (resource, label).
// Zero means no cap for that window.
type CapRule struct {
	ResourceID   string    `gorm:"type:varchar(64);primaryKey" json:"resource_id" yaml:"resource"`
	SlotLabel    string    `gorm:"type:varchar(16);primaryKey" json:"slot_label" yaml:"label"`
	PerDayHours  int       `gorm:"not null" json:"per_day_hours" yaml:"per_day_hours"`
	PerWeekHours int       `gorm:"not null" json:"per_week_hours" yaml:"per_week_hours"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (CapRule) TableName() string {
	return "cap_rules"
}

// Unlimited reports whether neither window is capped.
func (c *CapRule) Unlimited() bool {
	return c == nil || (c.PerDayHours <= 0 && c.PerWeekHours <= 0)
}

// CancelRule sets the minimum lead time for canceling an approved reservation.
type CancelRule struct {
	ResourceID    string    `gorm:"type:varchar(64);primaryKey" json:"resource_id" yaml:"resource"`
	SlotLabel     string    `gorm:"type:varchar(16);primaryKey" json:"slot_label" yaml:"label"`
	CutoffMinutes int       `gorm:"not null" json:"cutoff_minutes" yaml:"cutoff_minutes"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (CancelRule) TableName() string {
	return "cancel_rules"
}

// ExperimentPolicy holds the approval requirements of an experiment code.
type ExperimentPolicy struct {
	Code                   string    `gorm:"type:varchar(64);primaryKey" json:"code" yaml:"code"`
	Description            string    `gorm:"type:text" json:"description" yaml:"description"`
	RequiresApproval       bool      `json:"requires_approval" yaml:"requires_approval"`
	RequiresCancelApproval bool      `json:"requires_cancel_approval" yaml:"requires_cancel_approval"`
	UpdatedAt              time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (ExperimentPolicy) TableName() string {
	return "experiment_policies"
}

// ResourceExperimentPolicy overrides an experiment policy on one resource.
// Nil fields fall through to the experiment policy.
type ResourceExperimentPolicy struct {
	ResourceID             string    `gorm:"type:varchar(64);primaryKey" json:"resource_id" yaml:"resource"`
	ExperimentCode         string    `gorm:"type:varchar(64);primaryKey" json:"experiment_code" yaml:"experiment"`
	RequiresApproval       *bool     `json:"requires_approval,omitempty" yaml:"requires_approval"`
	RequiresCancelApproval *bool     `json:"requires_cancel_approval,omitempty" yaml:"requires_cancel_approval"`
	UpdatedAt              time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (ResourceExperimentPolicy) TableName() string {
	return "resource_experiment_policies"
}

// ApprovalPolicy is the resolved approval requirement for a booking.
type ApprovalPolicy struct {
	RequiresApproval       bool `json:"requires_approval"`
	RequiresCancelApproval bool `json:"requires_cancel_approval"`
}

// ResolveApproval applies an optional override on top of an optional base policy.
func ResolveApproval(base *ExperimentPolicy, override *ResourceExperimentPolicy) ApprovalPolicy {
	var out ApprovalPolicy
	if base != nil {
		out.RequiresApproval = base.RequiresApproval
		out.RequiresCancelApproval = base.RequiresCancelApproval
	}
	if override != nil {
		if override.RequiresApproval != nil {
			out.RequiresApproval = *override.RequiresApproval
		}
		if override.RequiresCancelApproval != nil {
			out.RequiresCancelApproval = *override.RequiresCancelApproval
		}
	}
	return out
}

// ResourceProbe flags probes that need an operator to swap them in before use.
type ResourceProbe struct {
	ResourceID         string `gorm:"type:varchar(64);primaryKey" json:"resource_id" yaml:"resource"`
	Probe              string `gorm:"type:varchar(64);primaryKey" json:"probe" yaml:"probe"`
	RequiresActivation bool   `json:"requires_activation" yaml:"requires_activation"`
}

// TableName returns the table name for GORM.
func (ResourceProbe) TableName() string {
	return "resource_probes"
}
