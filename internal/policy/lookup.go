/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package policy evaluates the booking policies of a resource: advance
// window, anti-stockpiling caps and cancellation cutoffs.
package policy

import (
	"context"
	"fmt"

	"github.com/friendsincode/slotbook/internal/cache"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
	"github.com/friendsincode/slotbook/internal/telemetry"
	"github.com/rs/zerolog"
)

// Source reads policy rows.
type Source interface {
	CapRule(ctx context.Context, resourceID string, label slots.Label) (*models.CapRule, error)
	CancelRule(ctx context.Context, resourceID string, label slots.Label) (*models.CancelRule, error)
	AdvanceDays(ctx context.Context, resourceID string) (int, error)
	ApprovalPolicy(ctx context.Context, resourceID, experimentCode string) (models.ApprovalPolicy, error)
}

// Writer persists policy rows.
type Writer interface {
	SaveResource(ctx context.Context, res *models.Resource) error
	SaveCapRule(ctx context.Context, rule *models.CapRule) error
	SaveCancelRule(ctx context.Context, rule *models.CancelRule) error
	SaveExperimentPolicy(ctx context.Context, p *models.ExperimentPolicy) error
	SaveResourceExperimentPolicy(ctx context.Context, p *models.ResourceExperimentPolicy) error
}

// Store is the persistence a Lookup sits in front of.
type Store interface {
	Source
	Writer
}

// Lookup is a read-through cache over the policy store. Every write goes
// through Lookup so the affected keys are invalidated.
type Lookup struct {
	store  Store
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewLookup creates a lookup. A nil cache reads straight from the store.
func NewLookup(store Store, c *cache.Cache, logger zerolog.Logger) *Lookup {
	logger = logger.With().Str("component", "policy").Logger()
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Lookup{store: store, cache: c, logger: logger}
}

func readThrough[T any](ctx context.Context, l *Lookup, key string, load func() (T, bool, error)) (T, bool, error) {
	if !l.cache.IsAvailable() {
		telemetry.PolicyCacheResultsTotal.WithLabelValues("bypass").Inc()
		return load()
	}
	if e, ok := cache.Load[T](ctx, l.cache, key); ok {
		telemetry.PolicyCacheResultsTotal.WithLabelValues("hit").Inc()
		return e.Value, e.Present, nil
	}
	telemetry.PolicyCacheResultsTotal.WithLabelValues("miss").Inc()

	v, present, err := load()
	if err != nil {
		return v, false, err
	}
	if err := cache.Store(ctx, l.cache, key, cache.Entry[T]{Present: present, Value: v}); err != nil {
		l.logger.Debug().Err(err).Str("key", key).Msg("policy cache write failed")
	}
	return v, present, nil
}

// CapRule returns the cap for (resource, label), or nil.
func (l *Lookup) CapRule(ctx context.Context, resourceID string, label slots.Label) (*models.CapRule, error) {
	rule, ok, err := readThrough(ctx, l, cache.CapRuleKey(resourceID, string(label)), func() (models.CapRule, bool, error) {
		r, err := l.store.CapRule(ctx, resourceID, label)
		if err != nil || r == nil {
			return models.CapRule{}, false, err
		}
		return *r, true, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return &rule, nil
}

// CancelRule returns the cancel rule for (resource, label), or nil.
func (l *Lookup) CancelRule(ctx context.Context, resourceID string, label slots.Label) (*models.CancelRule, error) {
	rule, ok, err := readThrough(ctx, l, cache.CancelRuleKey(resourceID, string(label)), func() (models.CancelRule, bool, error) {
		r, err := l.store.CancelRule(ctx, resourceID, label)
		if err != nil || r == nil {
			return models.CancelRule{}, false, err
		}
		return *r, true, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return &rule, nil
}

// AdvanceDays returns the advance window of a resource.
func (l *Lookup) AdvanceDays(ctx context.Context, resourceID string) (int, error) {
	days, _, err := readThrough(ctx, l, cache.AdvanceDaysKey(resourceID), func() (int, bool, error) {
		d, err := l.store.AdvanceDays(ctx, resourceID)
		return d, err == nil, err
	})
	return days, err
}

// ApprovalPolicy returns the resolved approval policy for (resource, experiment).
func (l *Lookup) ApprovalPolicy(ctx context.Context, resourceID, experimentCode string) (models.ApprovalPolicy, error) {
	p, _, err := readThrough(ctx, l, cache.ApprovalKey(resourceID, experimentCode), func() (models.ApprovalPolicy, bool, error) {
		p, err := l.store.ApprovalPolicy(ctx, resourceID, experimentCode)
		return p, err == nil, err
	})
	return p, err
}

// invalidate logs rather than fails: the write has committed and the TTL
// bounds the staleness.
func (l *Lookup) invalidate(ctx context.Context, keys ...string) {
	if err := l.cache.Invalidate(ctx, keys...); err != nil {
		l.logger.Warn().Err(err).Strs("keys", keys).Msg("policy cache invalidation failed")
	}
}

// SaveResource writes a resource and drops its cached policies.
func (l *Lookup) SaveResource(ctx context.Context, res *models.Resource) error {
	if err := l.store.SaveResource(ctx, res); err != nil {
		return err
	}
	if err := l.cache.InvalidateResource(ctx, res.ID); err != nil {
		l.logger.Warn().Err(err).Str("resource", res.ID).Msg("policy cache invalidation failed")
	}
	return nil
}

// SaveCapRule writes a cap rule and drops its cached copy.
func (l *Lookup) SaveCapRule(ctx context.Context, rule *models.CapRule) error {
	if err := validLabel(rule.SlotLabel); err != nil {
		return err
	}
	if err := l.store.SaveCapRule(ctx, rule); err != nil {
		return err
	}
	l.invalidate(ctx, cache.CapRuleKey(rule.ResourceID, rule.SlotLabel))
	return nil
}

// SaveCancelRule writes a cancel rule and drops its cached copy.
func (l *Lookup) SaveCancelRule(ctx context.Context, rule *models.CancelRule) error {
	if err := validLabel(rule.SlotLabel); err != nil {
		return err
	}
	if err := l.store.SaveCancelRule(ctx, rule); err != nil {
		return err
	}
	l.invalidate(ctx, cache.CancelRuleKey(rule.ResourceID, rule.SlotLabel))
	return nil
}

// SaveExperimentPolicy writes an experiment policy and drops every resolved
// approval of that experiment.
func (l *Lookup) SaveExperimentPolicy(ctx context.Context, p *models.ExperimentPolicy) error {
	if p.Code == "" {
		return fmt.Errorf("experiment policy requires a code")
	}
	if err := l.store.SaveExperimentPolicy(ctx, p); err != nil {
		return err
	}
	if err := l.cache.InvalidateExperiment(ctx, p.Code); err != nil {
		l.logger.Warn().Err(err).Str("experiment", p.Code).Msg("policy cache invalidation failed")
	}
	return nil
}

// SaveResourceExperimentPolicy writes an override and drops its resolved approval.
func (l *Lookup) SaveResourceExperimentPolicy(ctx context.Context, p *models.ResourceExperimentPolicy) error {
	if err := l.store.SaveResourceExperimentPolicy(ctx, p); err != nil {
		return err
	}
	l.invalidate(ctx, cache.ApprovalKey(p.ResourceID, p.ExperimentCode))
	return nil
}

func validLabel(label string) error {
	if !slots.Label(label).Standard() {
		return fmt.Errorf("unknown slot label %q, want one of %v", label, slots.StandardLabels)
	}
	return nil
}
