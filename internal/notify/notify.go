/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify delivers reservation lifecycle notifications to people and
// downstream systems.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one fan-out across all sinks.
const DefaultTimeout = 10 * time.Second

// Notifier is told about every lifecycle change. Implementations must not
// block the caller.
type Notifier interface {
	OnPending(ctx context.Context, r *models.Reservation, staff []string)
	OnApproved(ctx context.Context, r *models.Reservation)
	OnDenied(ctx context.Context, r *models.Reservation)
	OnCanceled(ctx context.Context, r *models.Reservation)
	OnCancelRequested(ctx context.Context, r *models.Reservation, staff []string)
	OnCancelApproved(ctx context.Context, r *models.Reservation)
	OnCancelDenied(ctx context.Context, r *models.Reservation)
	OnRemoved(ctx context.Context, r *models.Reservation, reason string)
}

// Message is one notification as handed to sinks.
type Message struct {
	Event         events.EventType         `json:"event"`
	ReservationID string                   `json:"reservation_id"`
	ResourceID    string                   `json:"resource_id"`
	OwnerEmail    string                   `json:"owner_email"`
	Actor         string                   `json:"actor,omitempty"`
	Status        models.ReservationStatus `json:"status"`
	SlotLabel     string                   `json:"slot_label,omitempty"`
	StartsAt      time.Time                `json:"starts_at"`
	EndsAt        time.Time                `json:"ends_at"`
	Reason        string                   `json:"reason,omitempty"`
	Recipients    []string                 `json:"recipients"`
	SentAt        time.Time                `json:"sent_at"`
}

// Sink delivers a message somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher fans notifications out to its sinks in the background.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(timeout time.Duration, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.With().Str("component", "notify").Logger(),
		now:     time.Now,
	}
}

// Wait blocks until every in-flight notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) OnPending(ctx context.Context, r *models.Reservation, staff []string) {
	d.dispatch(ctx, events.EventReservationPending, r, "", staff)
}

func (d *Dispatcher) OnApproved(ctx context.Context, r *models.Reservation) {
	d.dispatch(ctx, events.EventReservationApproved, r, "", nil)
}

func (d *Dispatcher) OnDenied(ctx context.Context, r *models.Reservation) {
	d.dispatch(ctx, events.EventReservationDenied, r, r.CancelReason, nil)
}

func (d *Dispatcher) OnCanceled(ctx context.Context, r *models.Reservation) {
	d.dispatch(ctx, events.EventReservationCanceled, r, r.CancelReason, nil)
}

func (d *Dispatcher) OnCancelRequested(ctx context.Context, r *models.Reservation, staff []string) {
	d.dispatch(ctx, events.EventReservationCancelRequested, r, r.CancelReason, staff)
}

func (d *Dispatcher) OnCancelApproved(ctx context.Context, r *models.Reservation) {
	d.dispatch(ctx, events.EventReservationCancelApproved, r, r.CancelReason, nil)
}

func (d *Dispatcher) OnCancelDenied(ctx context.Context, r *models.Reservation) {
	d.dispatch(ctx, events.EventReservationCancelDenied, r, "", nil)
}

func (d *Dispatcher) OnRemoved(ctx context.Context, r *models.Reservation, reason string) {
	d.dispatch(ctx, events.EventReservationRemoved, r, reason, nil)
}

// dispatch returns immediately. The owner always receives the message; staff
// lists are added for decisions that need a reviewer.
func (d *Dispatcher) dispatch(ctx context.Context, event events.EventType, r *models.Reservation, reason string, staff []string) {
	if len(d.sinks) == 0 || r == nil {
		return
	}
	msg := newMessage(event, r, reason, staff, d.now())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(ctx, msg)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			telemetry.NotificationFailuresTotal.WithLabelValues(sink.Name()).Inc()
			d.logger.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("event", string(msg.Event)).
				Str("reservation_id", msg.ReservationID).
				Msg("notification delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newMessage(event events.EventType, r *models.Reservation, reason string, staff []string, now time.Time) Message {
	recipients := []string{r.OwnerEmail}
	for _, s := range staff {
		if s != r.OwnerEmail {
			recipients = append(recipients, s)
		}
	}
	return Message{
		Event:         event,
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		OwnerEmail:    r.OwnerEmail,
		Actor:         r.Actor,
		Status:        r.Status,
		SlotLabel:     r.SlotLabel,
		StartsAt:      r.StartsAt,
		EndsAt:        r.EndsAt,
		Reason:        reason,
		Recipients:    recipients,
		SentAt:        now.UTC(),
	}
}

// LogSink writes notifications to the structured log. It stands in for mail
// delivery, which is handled outside this service.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("event", string(msg.Event)).
		Str("reservation_id", msg.ReservationID).
		Str("resource_id", msg.ResourceID).
		Str("actor", msg.Actor).
		Strs("recipients", msg.Recipients).
		Time("starts_at", msg.StartsAt).
		Str("reason", msg.Reason).
		Msg("notification")
	return nil
}
