/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists reservations, resources and policies with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed persistence layer.
type Store struct {
	db     *gorm.DB
	loc    *time.Location
	logger zerolog.Logger
}

// New creates a store. loc is the installation timezone used to expand
// recurring maintenance windows.
func New(db *gorm.DB, loc *time.Location, logger zerolog.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		db:     db,
		loc:    loc,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB exposes the underlying handle for packages that own their own tables.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// normalize stores every instant as whole-second UTC so that sqlite's text
// comparisons agree with instant ordering.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ReservationFilter narrows ListReservations.
type ReservationFilter struct {
	ResourceID string
	OwnerEmail string
	Statuses   []models.ReservationStatus
	From       time.Time // reservations ending after From
	To         time.Time // reservations starting before To
	Limit      int
}

// InsertReservation writes a new reservation. A window collision with an
// active reservation of the same resource returns bookerr.ErrOverlap.
func (s *Store) InsertReservation(ctx context.Context, r *models.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.StartsAt = normalize(r.StartsAt)
	r.EndsAt = normalize(r.EndsAt)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "mysql" {
			var res models.Resource
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id").
				Where("id = ?", r.ResourceID).
				Take(&res).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return bookerr.Newf(bookerr.CodeNotFound, "resource %s not found", r.ResourceID)
				}
				return err
			}
		}
		return tx.Create(r).Error
	})
	if err == nil {
		return nil
	}
	if isOverlapViolation(err) {
		return bookerr.New(bookerr.CodeOverlap, "window is already held", nil).
			WithWindow(r.ResourceID, r.StartsAt, r.EndsAt)
	}
	if _, ok := bookerr.As(err); ok {
		return err
	}
	return fmt.Errorf("insert reservation: %w", err)
}

// TransitionReservation applies a compare-and-set status change. When the
// stored status no longer equals change.From the current row is re-read and
// a precondition rejection for change.From is returned.
func (s *Store) TransitionReservation(ctx context.Context, change models.StatusChange) (*models.Reservation, error) {
	at := normalize(change.At)
	updates := map[string]any{
		"status":     change.To,
		"actor":      change.Actor,
		"updated_at": at,
	}
	if change.Review {
		updates["reviewed_by"] = change.Actor
		updates["reviewed_at"] = at
	}
	switch change.To {
	case models.StatusCanceled:
		updates["canceled_at"] = at
		updates["canceled_by"] = change.Actor
		updates["cancel_reason"] = change.Reason
	case models.StatusCancelPending:
		updates["cancel_reason"] = change.Reason
	}

	res := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", change.ReservationID, change.From).
		Updates(updates)
	if res.Error != nil {
		if isOverlapViolation(res.Error) {
			return nil, bookerr.New(bookerr.CodeOverlap, "window is already held", nil)
		}
		return nil, fmt.Errorf("transition reservation: %w", res.Error)
	}

	current, err := s.GetReservation(ctx, change.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return current, bookerr.NotInStatus(string(change.From), string(current.Status)).
			With("reservation_id", current.ID)
	}
	return current, nil
}

// GetReservation loads one reservation.
func (s *Store) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bookerr.Newf(bookerr.CodeNotFound, "reservation %s not found", id).
				With("reservation_id", id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &r, nil
}

// ListReservations returns reservations ordered by start.
func (s *Store) ListReservations(ctx context.Context, f ReservationFilter) ([]models.Reservation, error) {
	q := s.db.WithContext(ctx).Model(&models.Reservation{})
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.OwnerEmail != "" {
		q = q.Where("owner_email = ?", f.OwnerEmail)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if !f.From.IsZero() {
		q = q.Where("ends_at > ?", normalize(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("starts_at < ?", normalize(f.To))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var out []models.Reservation
	if err := q.Order("starts_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

// OverlappingActive returns the active reservations of a resource that
// intersect [start, end).
func (s *Store) OverlappingActive(ctx context.Context, resourceID string, start, end time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND status IN ? AND starts_at < ? AND ends_at > ?",
			resourceID, models.ActiveStatuses, normalize(end), normalize(start)).
		Order("starts_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("overlapping reservations: %w", err)
	}
	return out, nil
}

// HeldMinutes sums the durations of an owner's held reservations for
// (resource, label) that start inside [from, to) and have not ended by now.
func (s *Store) HeldMinutes(ctx context.Context, owner, resourceID string, label slots.Label, from, to, now time.Time) (int, error) {
	var rows []models.Reservation
	err := s.db.WithContext(ctx).
		Select("starts_at", "ends_at").
		Where("owner_email = ? AND resource_id = ? AND slot_label = ? AND status IN ?",
			owner, resourceID, string(label), models.HeldStatuses).
		Where("ends_at > ? AND starts_at >= ? AND starts_at < ?",
			normalize(now), normalize(from), normalize(to)).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("held minutes: %w", err)
	}

	var total time.Duration
	for i := range rows {
		total += rows[i].Duration()
	}
	return int(total / time.Minute), nil
}
