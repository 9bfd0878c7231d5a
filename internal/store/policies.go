/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CapRule returns the cap for (resource, label), or nil when none is set.
func (s *Store) CapRule(ctx context.Context, resourceID string, label slots.Label) (*models.CapRule, error) {
	var rule models.CapRule
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND slot_label = ?", resourceID, string(label)).
		Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cap rule: %w", err)
	}
	return &rule, nil
}

// CancelRule returns the cancellation cutoff for (resource, label), or nil.
func (s *Store) CancelRule(ctx context.Context, resourceID string, label slots.Label) (*models.CancelRule, error) {
	var rule models.CancelRule
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND slot_label = ?", resourceID, string(label)).
		Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cancel rule: %w", err)
	}
	return &rule, nil
}

// ApprovalPolicy resolves the approval requirements of an experiment on a
// resource. A resource override beats the experiment policy.
func (s *Store) ApprovalPolicy(ctx context.Context, resourceID, experimentCode string) (models.ApprovalPolicy, error) {
	if experimentCode == "" {
		return models.ApprovalPolicy{}, nil
	}

	var base *models.ExperimentPolicy
	var ep models.ExperimentPolicy
	err := s.db.WithContext(ctx).Where("code = ?", experimentCode).Take(&ep).Error
	switch {
	case err == nil:
		base = &ep
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.ApprovalPolicy{}, fmt.Errorf("experiment policy: %w", err)
	}

	var override *models.ResourceExperimentPolicy
	var rp models.ResourceExperimentPolicy
	err = s.db.WithContext(ctx).
		Where("resource_id = ? AND experiment_code = ?", resourceID, experimentCode).
		Take(&rp).Error
	switch {
	case err == nil:
		override = &rp
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.ApprovalPolicy{}, fmt.Errorf("resource experiment policy: %w", err)
	}

	return models.ResolveApproval(base, override), nil
}

// ProbeRequiresActivation reports whether a probe must be swapped in by an
// operator before it can be used on a resource.
func (s *Store) ProbeRequiresActivation(ctx context.Context, resourceID, probe string) (bool, error) {
	var rp models.ResourceProbe
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND probe = ?", resourceID, probe).
		Take(&rp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resource probe: %w", err)
	}
	return rp.RequiresActivation, nil
}

func (s *Store) upsert(ctx context.Context, what string, row any) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("save %s: %w", what, err)
	}
	return nil
}

// SaveCapRule inserts or replaces a cap rule.
func (s *Store) SaveCapRule(ctx context.Context, rule *models.CapRule) error {
	if rule.PerDayHours < 0 || rule.PerWeekHours < 0 {
		return fmt.Errorf("cap rule %s/%s: hours must not be negative", rule.ResourceID, rule.SlotLabel)
	}
	rule.UpdatedAt = time.Now().UTC()
	return s.upsert(ctx, "cap rule", rule)
}

// SaveCancelRule inserts or replaces a cancel rule.
func (s *Store) SaveCancelRule(ctx context.Context, rule *models.CancelRule) error {
	if rule.CutoffMinutes < 0 {
		return fmt.Errorf("cancel rule %s/%s: cutoff must not be negative", rule.ResourceID, rule.SlotLabel)
	}
	rule.UpdatedAt = time.Now().UTC()
	return s.upsert(ctx, "cancel rule", rule)
}

// SaveExperimentPolicy inserts or replaces an experiment policy.
func (s *Store) SaveExperimentPolicy(ctx context.Context, p *models.ExperimentPolicy) error {
	p.UpdatedAt = time.Now().UTC()
	return s.upsert(ctx, "experiment policy", p)
}

// SaveResourceExperimentPolicy inserts or replaces a per-resource override.
func (s *Store) SaveResourceExperimentPolicy(ctx context.Context, p *models.ResourceExperimentPolicy) error {
	p.UpdatedAt = time.Now().UTC()
	return s.upsert(ctx, "resource experiment policy", p)
}

// SaveResourceProbe inserts or replaces a probe activation flag.
func (s *Store) SaveResourceProbe(ctx context.Context, p *models.ResourceProbe) error {
	return s.upsert(ctx, "resource probe", p)
}
