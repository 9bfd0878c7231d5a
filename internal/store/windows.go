/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/slotbook/internal/models"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
)

// InMaintenance returns the first maintenance occurrence on a resource that
// intersects [start, end), or nil.
func (s *Store) InMaintenance(ctx context.Context, resourceID string, start, end time.Time) (*models.Blackout, error) {
	start, end = normalize(start), normalize(end)

	var windows []models.MaintenanceWindow
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND starts_at < ?", resourceID, end).
		Where("(rrule <> '' AND rrule IS NOT NULL) OR ends_at > ?", start).
		Order("starts_at ASC").
		Find(&windows).Error
	if err != nil {
		return nil, fmt.Errorf("maintenance windows: %w", err)
	}

	var first *models.Blackout
	for i := range windows {
		w := windows[i]
		occ, err := s.occurrences(w, start, end)
		if err != nil {
			s.logger.Warn().Err(err).Str("window_id", w.ID).Msg("skipping maintenance window with invalid rrule")
			continue
		}
		for _, at := range occ {
			if first == nil || at.Before(first.StartsAt) {
				first = &models.Blackout{
					Kind:     models.BlackoutMaintenance,
					WindowID: w.ID,
					StartsAt: at.UTC(),
					EndsAt:   at.Add(w.EndsAt.Sub(w.StartsAt)).UTC(),
					Note:     w.Reason,
				}
			}
		}
	}
	return first, nil
}

// occurrences expands a maintenance window into the occurrence starts that
// intersect [start, end). Recurrence is evaluated in the installation
// timezone so a weekly 09:00 window stays at 09:00 local across DST.
func (s *Store) occurrences(w models.MaintenanceWindow, start, end time.Time) ([]time.Time, error) {
	dur := w.EndsAt.Sub(w.StartsAt)
	if dur <= 0 {
		return nil, nil
	}
	if w.RRule == "" {
		if w.StartsAt.Before(end) && w.EndsAt.After(start) {
			return []time.Time{w.StartsAt}, nil
		}
		return nil, nil
	}

	opt, err := rrule.StrToROption(strings.TrimPrefix(strings.TrimSpace(w.RRule), "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", w.RRule, err)
	}
	opt.Dtstart = w.StartsAt.In(s.loc)
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule %q: %w", w.RRule, err)
	}

	var out []time.Time
	for _, at := range rule.Between(start.Add(-dur), end, true) {
		if at.Before(end) && at.Add(dur).After(start) {
			out = append(out, at)
		}
	}
	return out, nil
}

// InTraining returns the first training window on a resource that intersects
// [start, end), or nil.
func (s *Store) InTraining(ctx context.Context, resourceID string, start, end time.Time) (*models.Blackout, error) {
	var w models.TrainingWindow
	res := s.db.WithContext(ctx).
		Where("resource_id = ? AND starts_at < ? AND ends_at > ?", resourceID, normalize(end), normalize(start)).
		Order("starts_at ASC").
		Limit(1).
		Find(&w)
	if res.Error != nil {
		return nil, fmt.Errorf("training windows: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &models.Blackout{
		Kind:     models.BlackoutTraining,
		WindowID: w.ID,
		StartsAt: w.StartsAt.UTC(),
		EndsAt:   w.EndsAt.UTC(),
		Note:     w.Note,
	}, nil
}

// SaveMaintenanceWindow inserts or replaces a maintenance window.
func (s *Store) SaveMaintenanceWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	if !w.EndsAt.After(w.StartsAt) {
		return fmt.Errorf("maintenance window must end after it starts")
	}
	if w.RRule != "" {
		if _, err := rrule.StrToROption(strings.TrimPrefix(strings.TrimSpace(w.RRule), "RRULE:")); err != nil {
			return fmt.Errorf("maintenance window rrule: %w", err)
		}
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.StartsAt, w.EndsAt = normalize(w.StartsAt), normalize(w.EndsAt)
	return s.upsert(ctx, "maintenance window", w)
}

// SaveTrainingWindow inserts or replaces a training window.
func (s *Store) SaveTrainingWindow(ctx context.Context, w *models.TrainingWindow) error {
	if !w.EndsAt.After(w.StartsAt) {
		return fmt.Errorf("training window must end after it starts")
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.StartsAt, w.EndsAt = normalize(w.StartsAt), normalize(w.EndsAt)
	return s.upsert(ctx, "training window", w)
}
