/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit persists who did what to which reservation, and for whom.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
)

// subscriptionBuffer is sized for bursts of bookings between database writes.
const subscriptionBuffer = 256

// actions maps bus events onto audit actions.
var actions = map[events.EventType]models.AuditAction{
	events.EventReservationCreated:         models.AuditActionReservationCreate,
	events.EventReservationPending:         models.AuditActionReservationCreate,
	events.EventReservationApproved:        models.AuditActionReservationApprove,
	events.EventReservationDenied:          models.AuditActionReservationDeny,
	events.EventReservationCanceled:        models.AuditActionReservationCancel,
	events.EventReservationCancelRequested: models.AuditActionReservationCancelRequest,
	events.EventReservationCancelApproved:  models.AuditActionReservationCancelApprove,
	events.EventReservationCancelDenied:    models.AuditActionReservationCancelDeny,
	events.EventReservationRemoved:         models.AuditActionReservationRemove,
	events.EventBookingRejected:            models.AuditActionBookingRejected,
	events.EventPolicyUpdated:              models.AuditActionPolicyUpdate,
	events.EventAuditAPIKeyCreate:          models.AuditActionAPIKeyCreate,
	events.EventAuditAPIKeyRevoke:          models.AuditActionAPIKeyRevoke,
}

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// Start subscribes to audited events and records them until ctx ends.
func (s *Service) Start(ctx context.Context) {
	types := make([]events.EventType, 0, len(actions))
	for et := range actions {
		types = append(types, et)
	}
	sub := s.bus.SubscribeBuffered(subscriptionBuffer, types...)
	defer s.bus.Unsubscribe(sub)

	s.logger.Info().Int("event_types", len(types)).Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			s.record(ctx, payload)
		}
	}
}

// record is the bus path. Payloads already written synchronously carry
// "audited" and are skipped.
func (s *Service) record(ctx context.Context, payload events.Payload) {
	if done, _ := payload["audited"].(bool); done {
		return
	}
	if err := s.Record(ctx, payload); err != nil {
		s.logger.Error().Err(err).
			Str("event", string(payload.Type())).
			Msg("failed to log audit entry")
	}
}

// Record turns an event payload into an audit entry and writes it. Payloads
// of unaudited event types are ignored.
func (s *Service) Record(ctx context.Context, payload events.Payload) error {
	action, ok := actions[payload.Type()]
	if !ok {
		return nil
	}
	str := func(k string) string {
		v, _ := payload[k].(string)
		return v
	}

	entry := &models.AuditLog{
		Action:     action,
		ActorEmail: str("actor"),
		OwnerEmail: str("owner"),
		ResourceID: str("resource_id"),
		Reason:     str("reason"),
		IPAddress:  str("ip_address"),
		UserAgent:  str("user_agent"),
		Details:    make(map[string]any),
	}
	if id := str("reservation_id"); id != "" {
		entry.TargetType, entry.TargetID = "reservation", id
	} else if tt := str("target_type"); tt != "" {
		entry.TargetType, entry.TargetID = tt, str("target_id")
	}

	for k, v := range payload {
		switch k {
		case "type", "actor", "owner", "resource_id", "reason", "ip_address", "user_agent", "reservation_id", "target_type", "target_id":
		default:
			entry.Details[k] = v
		}
	}

	return s.Log(ctx, entry)
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	now := s.now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	ActorEmail string
	OwnerEmail string
	ResourceID string
	TargetID   string
	Action     models.AuditAction
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Query retrieves audit logs with filters, most recent first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.ActorEmail != "" {
		query = query.Where("actor_email = ?", filters.ActorEmail)
	}
	if filters.OwnerEmail != "" {
		query = query.Where("owner_email = ?", filters.OwnerEmail)
	}
	if filters.ResourceID != "" {
		query = query.Where("resource_id = ?", filters.ResourceID)
	}
	if filters.TargetID != "" {
		query = query.Where("target_id = ?", filters.TargetID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", filters.StartTime.UTC())
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", filters.EndTime.UTC())
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query = query.Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}

	return logs, total, nil
}
