/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reservation implements the booking lifecycle: request validation
// against slot templates and policies, and the status state machine.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/slotbook/internal/auth"
	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/notify"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/slots"
	"github.com/friendsincode/slotbook/internal/store"
	"github.com/friendsincode/slotbook/internal/telemetry"
)

const tracerName = "slotbook/reservation"

// Store is the persistence the engine needs.
type Store interface {
	slots.GridSource
	policy.HeldCounter

	InsertReservation(ctx context.Context, r *models.Reservation) error
	TransitionReservation(ctx context.Context, change models.StatusChange) (*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, f store.ReservationFilter) ([]models.Reservation, error)
	OverlappingActive(ctx context.Context, resourceID string, start, end time.Time) ([]models.Reservation, error)

	Resource(ctx context.Context, id string) (*models.Resource, error)
	ProbeRequiresActivation(ctx context.Context, resourceID, probe string) (bool, error)
	InMaintenance(ctx context.Context, resourceID string, start, end time.Time) (*models.Blackout, error)
	InTraining(ctx context.Context, resourceID string, start, end time.Time) (*models.Blackout, error)
	ClientMayBook(ctx context.Context, clientID, resourceID string) (bool, error)
	StaffEmails(ctx context.Context) ([]string, error)
}

// Recorder writes an audit entry for an event payload before returning.
type Recorder interface {
	Record(ctx context.Context, payload events.Payload) error
}

// Options wires an Engine.
type Options struct {
	Store    Store
	Policies policy.Source
	Clock    *civil.Adapter
	Notifier notify.Notifier
	Bus      *events.Bus
	Audit    Recorder
	Logger   zerolog.Logger
}

// Engine runs booking requests and status transitions.
type Engine struct {
	store    Store
	policies policy.Source
	clock    *civil.Adapter
	matcher  *slots.Matcher
	advance  *policy.AdvanceEnforcer
	capacity *policy.CapacityEnforcer
	cutoff   *policy.CutoffEnforcer
	notifier notify.Notifier
	bus      *events.Bus
	audit    Recorder
	logger   zerolog.Logger
}

// New creates an engine. A nil notifier drops notifications and a nil bus
// gets a private one.
func New(opts Options) *Engine {
	if opts.Notifier == nil {
		opts.Notifier = discard{}
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	gen := slots.NewGenerator(opts.Clock)
	return &Engine{
		store:    opts.Store,
		policies: opts.Policies,
		clock:    opts.Clock,
		matcher:  slots.NewMatcher(gen, opts.Store),
		advance:  policy.NewAdvanceEnforcer(opts.Policies),
		capacity: policy.NewCapacityEnforcer(opts.Policies, opts.Store, opts.Clock),
		cutoff:   policy.NewCutoffEnforcer(opts.Policies),
		notifier: opts.Notifier,
		bus:      opts.Bus,
		audit:    opts.Audit,
		logger:   opts.Logger.With().Str("component", "reservation").Logger(),
	}
}

// CreateRequest is a booking request.
type CreateRequest struct {
	ResourceID     string             `json:"resource_id"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	ExperimentCode string             `json:"experiment_code"`
	Probe          string             `json:"probe,omitempty"`
	BillingType    models.BillingType `json:"billing_type,omitempty"`
	BillingRef     string             `json:"billing_ref,omitempty"`
}

// Competing describes an active reservation that holds a requested window.
type Competing struct {
	ID       string                   `json:"id"`
	Status   models.ReservationStatus `json:"status"`
	StartsAt time.Time                `json:"starts_at"`
	EndsAt   time.Time                `json:"ends_at"`
}

// Create validates a booking request and stores it as APPROVED or PENDING.
//
// Gates run in a fixed order and the first failure wins: range, past time,
// resource, client access, slot alignment, advance window, caps,
// maintenance, training. The insert itself is the authoritative overlap
// check.
func (e *Engine) Create(ctx context.Context, id auth.Identity, req CreateRequest) (r *models.Reservation, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "reservation.create")
	defer func() { telemetry.EndSpan(span, err) }()
	telemetry.AddSpanAttributes(span, map[string]any{
		"resource.id":   req.ResourceID,
		"booking.start": req.Start,
		"booking.end":   req.End,
		"actor":         id.Actor(),
	})

	now := e.clock.Now()
	r, diag, err := e.create(ctx, id, req, now)
	if err != nil {
		if be, ok := bookerr.As(err); ok {
			if _, has := be.Context["start"]; !has {
				be.WithWindow(req.ResourceID, req.Start, req.End)
			}
			telemetry.BookingOutcomesTotal.WithLabelValues(string(be.Code)).Inc()
		}
		e.reject(ctx, ActionCreate, id, req.ResourceID, err)
		return nil, err
	}
	telemetry.BookingOutcomesTotal.WithLabelValues("OK").Inc()
	telemetry.ReservationTransitionsTotal.WithLabelValues(string(ActionCreate), string(r.Status)).Inc()
	telemetry.AddSpanAttributes(span, map[string]any{"reservation.id": r.ID, "reservation.status": string(r.Status)})

	e.logger.Info().
		Str("reservation_id", r.ID).
		Str("resource_id", r.ResourceID).
		Str("owner", r.OwnerEmail).
		Str("actor", r.Actor).
		Str("status", string(r.Status)).
		Time("starts_at", r.StartsAt).
		Msg("reservation created")

	extra := events.Payload{"advance": diag.advance, "capacity": diag.capacity}
	if r.Status == models.StatusPending {
		e.publish(ctx, events.EventReservationPending, r, id, "", extra)
		e.notifier.OnPending(ctx, r, e.staff(ctx))
	} else {
		e.publish(ctx, events.EventReservationCreated, r, id, "", extra)
		e.notifier.OnApproved(ctx, r)
	}
	return r, nil
}

// diagnostics are the enforcer figures behind an accepted request.
type diagnostics struct {
	advance  policy.AdvanceResult
	capacity policy.CapacityResult
}

func (e *Engine) create(ctx context.Context, id auth.Identity, req CreateRequest, now time.Time) (*models.Reservation, diagnostics, error) {
	var diag diagnostics
	if id.Email == "" || (id.ActingAs != "" && !id.Owns(id.ActingAs) && !id.IsStaff()) {
		return nil, diag, bookerr.New(bookerr.CodeForbidden, "not allowed to book for this owner", nil)
	}

	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return nil, diag, bookerr.New(bookerr.CodeBadRange, "end must be after start", nil)
	}
	start, end := req.Start.UTC(), req.End.UTC()

	if !end.After(now) {
		return nil, diag, bookerr.New(bookerr.CodePastTime, "requested window has already ended", nil).
			With("now", now.UTC().Format(time.RFC3339))
	}

	resource, err := e.store.Resource(ctx, req.ResourceID)
	if err != nil {
		return nil, diag, err
	}
	if resource.Status == models.ResourceDown {
		return nil, diag, bookerr.Newf(bookerr.CodeNotAllowed, "%s is down", resource.ID).
			With("resource", resource.ID).
			With("status", string(resource.Status))
	}
	if !resource.Visible && !id.IsStaff() {
		return nil, diag, bookerr.Newf(bookerr.CodeNotAllowed, "%s is not open for booking", resource.ID).
			With("resource", resource.ID).
			With("visible", false)
	}

	billing := req.BillingType
	switch billing {
	case "":
		billing = models.BillingLab
	case models.BillingLab, models.BillingClient:
	default:
		return nil, diag, bookerr.Newf(bookerr.CodeBadBilling, "unknown billing type %q", billing).
			With("billing_type", string(billing))
	}
	if billing == models.BillingClient {
		ok, err := e.store.ClientMayBook(ctx, req.BillingRef, resource.ID)
		if err != nil {
			return nil, diag, err
		}
		if !ok {
			return nil, diag, bookerr.Newf(bookerr.CodeNotAllowed, "client %q may not book %s", req.BillingRef, resource.ID).
				With("client", req.BillingRef)
		}
	}

	label, ok, err := e.matcher.Match(ctx, resource.ID, start, end)
	if err != nil {
		return nil, diag, err
	}
	if !ok {
		return nil, diag, bookerr.New(bookerr.CodeSlotAlignment, "window does not match a bookable slot", nil).
			With("date", e.clock.DateOf(start).String())
	}

	if diag.advance, err = e.advance.Check(ctx, resource.ID, start, now, id.IsElevated()); err != nil {
		return nil, diag, err
	}

	owner := id.Owner()
	if diag.capacity, err = e.capacity.Check(ctx, policy.CapacityRequest{
		Owner:      owner,
		ResourceID: resource.ID,
		Label:      label,
		Start:      start,
		End:        end,
		Now:        now,
	}); err != nil {
		return nil, diag, err
	}

	if b, err := e.store.InMaintenance(ctx, resource.ID, start, end); err != nil {
		return nil, diag, err
	} else if b != nil {
		return nil, diag, blackoutError(bookerr.CodeMaintenance, "resource is under maintenance", b)
	}
	if b, err := e.store.InTraining(ctx, resource.ID, start, end); err != nil {
		return nil, diag, err
	} else if b != nil {
		return nil, diag, blackoutError(bookerr.CodeTraining, "resource is reserved for training", b)
	}

	status, err := e.initialStatus(ctx, resource, req)
	if err != nil {
		return nil, diag, err
	}
	if err := checkTransition(ActionCreate, none, status); err != nil {
		return nil, diag, err
	}

	r := &models.Reservation{
		ResourceID:     resource.ID,
		OwnerEmail:     owner,
		Actor:          id.Actor(),
		StartsAt:       start,
		EndsAt:         end,
		ExperimentCode: req.ExperimentCode,
		Probe:          req.Probe,
		SlotLabel:      string(label),
		Status:         status,
		BillingType:    billing,
		BillingRef:     req.BillingRef,
	}
	if err := e.store.InsertReservation(ctx, r); err != nil {
		if errors.Is(err, bookerr.ErrOverlap) {
			return nil, diag, e.withCompeting(ctx, err, resource.ID, start, end)
		}
		return nil, diag, err
	}
	return r, diag, nil
}

// initialStatus is PENDING when the resource runs limited, the requested
// probe needs an operator swap or the experiment needs approval on this
// resource.
func (e *Engine) initialStatus(ctx context.Context, resource *models.Resource, req CreateRequest) (models.ReservationStatus, error) {
	if resource.Status == models.ResourceLimited {
		return models.StatusPending, nil
	}
	if req.Probe != "" && req.Probe != resource.ActiveProbe {
		needs, err := e.store.ProbeRequiresActivation(ctx, resource.ID, req.Probe)
		if err != nil {
			return "", err
		}
		if needs {
			return models.StatusPending, nil
		}
	}
	if req.ExperimentCode != "" {
		p, err := e.policies.ApprovalPolicy(ctx, resource.ID, req.ExperimentCode)
		if err != nil {
			return "", err
		}
		if p.RequiresApproval {
			return models.StatusPending, nil
		}
	}
	return models.StatusApproved, nil
}

// withCompeting attaches the reservations currently holding the window. A
// failed lookup still returns the overlap.
func (e *Engine) withCompeting(ctx context.Context, err error, resourceID string, start, end time.Time) error {
	be, ok := bookerr.As(err)
	if !ok {
		return err
	}
	rows, qerr := e.store.OverlappingActive(ctx, resourceID, start, end)
	if qerr != nil {
		telemetry.RecordError(trace.SpanFromContext(ctx), qerr)
		e.logger.Warn().Err(qerr).Str("resource_id", resourceID).Msg("competing reservation lookup failed")
		return be
	}
	competing := make([]Competing, 0, len(rows))
	for _, row := range rows {
		competing = append(competing, Competing{ID: row.ID, Status: row.Status, StartsAt: row.StartsAt, EndsAt: row.EndsAt})
	}
	return be.With("competing", competing)
}

func blackoutError(code bookerr.Code, msg string, b *models.Blackout) *bookerr.Error {
	return bookerr.New(code, msg, nil).
		With("window_id", b.WindowID).
		With("window_start", b.StartsAt.UTC().Format(time.RFC3339)).
		With("window_end", b.EndsAt.UTC().Format(time.RFC3339)).
		With("note", b.Note)
}

// Approve moves a PENDING reservation to APPROVED.
func (e *Engine) Approve(ctx context.Context, id auth.Identity, reservationID string) (*models.Reservation, error) {
	return e.review(ctx, ActionApprove, id, reservationID, models.StatusApproved, "")
}

// Deny cancels a PENDING reservation.
func (e *Engine) Deny(ctx context.Context, id auth.Identity, reservationID, reason string) (*models.Reservation, error) {
	return e.review(ctx, ActionDeny, id, reservationID, models.StatusCanceled, reason)
}

// ApproveCancel completes a requested cancellation.
func (e *Engine) ApproveCancel(ctx context.Context, id auth.Identity, reservationID string) (*models.Reservation, error) {
	return e.review(ctx, ActionApproveCancel, id, reservationID, models.StatusCanceled, "")
}

// DenyCancel returns a CANCEL_PENDING reservation to APPROVED.
func (e *Engine) DenyCancel(ctx context.Context, id auth.Identity, reservationID string) (*models.Reservation, error) {
	return e.review(ctx, ActionDenyCancel, id, reservationID, models.StatusApproved, "")
}

// review runs a staff decision.
func (e *Engine) review(ctx context.Context, action Action, id auth.Identity, reservationID string, to models.ReservationStatus, reason string) (r *models.Reservation, err error) {
	ctx, span := e.startSpan(ctx, action, id, reservationID)
	defer func() { telemetry.EndSpan(span, err) }()

	r, err = e.reviewed(ctx, action, id, reservationID, to, reason)
	if err != nil {
		e.reject(ctx, action, id, resourceOf(r), err)
		return nil, err
	}

	switch action {
	case ActionApprove:
		e.publish(ctx, events.EventReservationApproved, r, id, "", nil)
		e.notifier.OnApproved(ctx, r)
	case ActionDeny:
		e.publish(ctx, events.EventReservationDenied, r, id, reason, nil)
		e.notifier.OnDenied(ctx, r)
	case ActionApproveCancel:
		e.publish(ctx, events.EventReservationCancelApproved, r, id, r.CancelReason, nil)
		e.notifier.OnCancelApproved(ctx, r)
	case ActionDenyCancel:
		e.publish(ctx, events.EventReservationCancelDenied, r, id, "", nil)
		e.notifier.OnCancelDenied(ctx, r)
	}
	return r, nil
}

func (e *Engine) reviewed(ctx context.Context, action Action, id auth.Identity, reservationID string, to models.ReservationStatus, reason string) (*models.Reservation, error) {
	if !id.IsStaff() {
		return nil, bookerr.New(bookerr.CodeForbidden, "staff role required", nil).With("reservation_id", reservationID)
	}
	now := e.clock.Now()
	current, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, action, id, current, to, reason, true, now)
}

// Cancel is the owner's cancellation. PENDING reservations cancel at once;
// APPROVED ones must clear the cutoff and then either cancel or wait for
// staff when the experiment requires cancel approval.
func (e *Engine) Cancel(ctx context.Context, id auth.Identity, reservationID, reason string) (r *models.Reservation, err error) {
	ctx, span := e.startSpan(ctx, ActionCancel, id, reservationID)
	defer func() { telemetry.EndSpan(span, err) }()

	r, cut, err := e.cancel(ctx, id, reservationID, reason)
	if err != nil {
		e.reject(ctx, ActionCancel, id, resourceOf(r), err)
		return nil, err
	}

	var extra events.Payload
	if cut != nil {
		extra = events.Payload{"cutoff": *cut}
	}
	if r.Status == models.StatusCancelPending {
		e.publish(ctx, events.EventReservationCancelRequested, r, id, reason, extra)
		e.notifier.OnCancelRequested(ctx, r, e.staff(ctx))
	} else {
		e.publish(ctx, events.EventReservationCanceled, r, id, reason, extra)
		e.notifier.OnCanceled(ctx, r)
	}
	return r, nil
}

// cancel returns the cutoff figures when the cutoff was evaluated.
func (e *Engine) cancel(ctx context.Context, id auth.Identity, reservationID, reason string) (*models.Reservation, *policy.CutoffResult, error) {
	now := e.clock.Now()
	current, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if !id.Owns(current.OwnerEmail) && !id.IsStaff() {
		return current, nil, forbidden(current)
	}

	switch current.Status {
	case models.StatusPending:
		r, err := e.apply(ctx, ActionCancel, id, current, models.StatusCanceled, reason, false, now)
		return r, nil, err
	case models.StatusApproved:
	default:
		return current, nil, preconditionFor(ActionCancel, current)
	}

	cut, err := e.cutoff.Check(ctx, current, now)
	if err != nil {
		return current, &cut, err
	}

	to := models.StatusCanceled
	if current.ExperimentCode != "" {
		p, err := e.policies.ApprovalPolicy(ctx, current.ResourceID, current.ExperimentCode)
		if err != nil {
			return current, &cut, err
		}
		if p.RequiresCancelApproval {
			to = models.StatusCancelPending
		}
	}
	r, err := e.apply(ctx, ActionCancel, id, current, to, reason, false, now)
	return r, &cut, err
}

// Remove is the administrative override: any non-terminal reservation is
// canceled regardless of cutoff. Removing a canceled reservation succeeds
// and only records the reason, written to the audit trail before returning.
func (e *Engine) Remove(ctx context.Context, id auth.Identity, reservationID, reason string) (r *models.Reservation, err error) {
	ctx, span := e.startSpan(ctx, ActionRemove, id, reservationID)
	defer func() { telemetry.EndSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	r, changed, err := e.remove(ctx, id, reservationID, reason)
	if err != nil {
		e.reject(ctx, ActionRemove, id, resourceOf(r), err)
		return nil, err
	}

	payload := e.payload(ctx, events.EventReservationRemoved, r, id, reason, nil)
	if !changed && e.audit != nil {
		if err = e.audit.Record(ctx, payload); err != nil {
			err = fmt.Errorf("record removal of %s: %w", r.ID, err)
			e.reject(ctx, ActionRemove, id, r.ResourceID, err)
			return nil, err
		}
		payload["audited"] = true
	}
	e.bus.Publish(events.EventReservationRemoved, payload)
	if changed {
		e.notifier.OnRemoved(ctx, r, reason)
	}
	return r, nil
}

// remove reports whether the status changed.
func (e *Engine) remove(ctx context.Context, id auth.Identity, reservationID, reason string) (*models.Reservation, bool, error) {
	if !id.IsStaff() {
		return nil, false, bookerr.New(bookerr.CodeForbidden, "staff role required", nil).With("reservation_id", reservationID)
	}
	if reason == "" {
		return nil, false, bookerr.New(bookerr.CodeReasonRequired, "a reason is required to remove a reservation", nil).
			With("reservation_id", reservationID)
	}
	now := e.clock.Now()
	current, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, false, err
	}
	if current.Status.Terminal() {
		e.logger.Info().
			Str("reservation_id", current.ID).
			Str("actor", id.Actor()).
			Str("reason", reason).
			Msg("remove on canceled reservation recorded")
		return current, false, nil
	}
	r, err := e.apply(ctx, ActionRemove, id, current, models.StatusCanceled, reason, true, now)
	return r, err == nil, err
}

// apply validates the edge against the transition table and runs the
// compare-and-set update.
func (e *Engine) apply(ctx context.Context, action Action, id auth.Identity, current *models.Reservation, to models.ReservationStatus, reason string, review bool, now time.Time) (*models.Reservation, error) {
	if err := checkTransition(action, current.Status, to); err != nil {
		return current, preconditionFor(action, current)
	}

	updated, err := e.store.TransitionReservation(ctx, models.StatusChange{
		ReservationID: current.ID,
		From:          current.Status,
		To:            to,
		Actor:         id.Actor(),
		Reason:        reason,
		At:            now,
		Review:        review,
	})
	if err != nil {
		if be, ok := bookerr.As(err); ok {
			if _, has := be.Context["start"]; !has {
				be.WithWindow(current.ResourceID, current.StartsAt, current.EndsAt)
			}
		}
		if updated != nil {
			return updated, err
		}
		return current, err
	}

	telemetry.ReservationTransitionsTotal.WithLabelValues(string(action), string(to)).Inc()
	e.logger.Info().
		Str("reservation_id", updated.ID).
		Str("action", string(action)).
		Str("from", string(current.Status)).
		Str("to", string(to)).
		Str("owner", updated.OwnerEmail).
		Str("actor", id.Actor()).
		Msg("reservation transitioned")
	return updated, nil
}

// Get returns one reservation to its owner or to staff.
func (e *Engine) Get(ctx context.Context, id auth.Identity, reservationID string) (*models.Reservation, error) {
	r, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !id.Owns(r.OwnerEmail) && !id.IsStaff() {
		return nil, forbidden(r)
	}
	return r, nil
}

// List returns reservations matching f. Non-staff callers only see their own.
func (e *Engine) List(ctx context.Context, id auth.Identity, f store.ReservationFilter) ([]models.Reservation, error) {
	if !id.IsStaff() {
		f.OwnerEmail = id.Email
	}
	return e.store.ListReservations(ctx, f)
}

// Slots returns the slot templates of a resource for a civil day.
func (e *Engine) Slots(ctx context.Context, resourceID string, day civil.Date) ([]slots.Template, error) {
	if _, err := e.store.Resource(ctx, resourceID); err != nil {
		return nil, err
	}
	return slots.NewGenerator(e.clock).ForResource(ctx, e.store, resourceID, day)
}

func (e *Engine) startSpan(ctx context.Context, action Action, id auth.Identity, reservationID string) (context.Context, trace.Span) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "reservation."+string(action))
	telemetry.AddSpanAttributes(span, map[string]any{
		"reservation.id": reservationID,
		"actor":          id.Actor(),
	})
	return ctx, span
}

func (e *Engine) staff(ctx context.Context) []string {
	emails, err := e.store.StaffEmails(ctx)
	if err != nil {
		telemetry.RecordError(trace.SpanFromContext(ctx), err)
		e.logger.Warn().Err(err).Msg("staff lookup failed, notifying owner only")
		return nil
	}
	return emails
}

// reject publishes coded rejections for alerting. Storage failures are
// logged and left to the caller.
func (e *Engine) reject(ctx context.Context, action Action, id auth.Identity, resourceID string, err error) {
	be, ok := bookerr.As(err)
	if !ok {
		e.logger.Error().Err(err).Str("action", string(action)).Str("actor", id.Actor()).Msg("reservation operation failed")
		return
	}
	e.logger.Debug().
		Str("code", string(be.Code)).
		Str("action", string(action)).
		Str("actor", id.Actor()).
		Str("resource_id", resourceID).
		Interface("context", be.Context).
		Msg("booking rejected")

	if resourceID == "" {
		resourceID, _ = be.Context["resource"].(string)
	}
	p := events.Payload{
		"code":        string(be.Code),
		"message":     be.Message,
		"operation":   string(action),
		"resource_id": resourceID,
		"actor":       id.Actor(),
		"owner":       id.Owner(),
		"context":     be.Context,
	}
	withClient(ctx, p)
	e.bus.Publish(events.EventBookingRejected, p)
}

func (e *Engine) publish(ctx context.Context, event events.EventType, r *models.Reservation, id auth.Identity, reason string, extra events.Payload) {
	e.bus.Publish(event, e.payload(ctx, event, r, id, reason, extra))
}

// payload describes a reservation event. extra keys are added as-is.
func (e *Engine) payload(ctx context.Context, event events.EventType, r *models.Reservation, id auth.Identity, reason string, extra events.Payload) events.Payload {
	p := events.Payload{
		"type":            string(event),
		"reservation_id":  r.ID,
		"resource_id":     r.ResourceID,
		"owner":           r.OwnerEmail,
		"actor":           id.Actor(),
		"acting_as":       id.ActingAs,
		"status":          string(r.Status),
		"starts_at":       r.StartsAt.UTC().Format(time.RFC3339),
		"ends_at":         r.EndsAt.UTC().Format(time.RFC3339),
		"slot_label":      r.SlotLabel,
		"experiment_code": r.ExperimentCode,
		"reason":          reason,
	}
	for k, v := range extra {
		p[k] = v
	}
	withClient(ctx, p)
	return p
}

func withClient(ctx context.Context, p events.Payload) {
	c := auth.ClientFromContext(ctx)
	if c.IPAddress != "" {
		p["ip_address"] = c.IPAddress
	}
	if c.UserAgent != "" {
		p["user_agent"] = c.UserAgent
	}
}

// expectedStatus is the status an action's precondition code refers to.
var expectedStatus = map[Action]models.ReservationStatus{
	ActionApprove:       models.StatusPending,
	ActionDeny:          models.StatusPending,
	ActionCancel:        models.StatusApproved,
	ActionApproveCancel: models.StatusCancelPending,
	ActionDenyCancel:    models.StatusCancelPending,
	ActionRemove:        models.StatusApproved,
}

func preconditionFor(action Action, r *models.Reservation) *bookerr.Error {
	return bookerr.NotInStatus(string(expectedStatus[action]), string(r.Status)).
		WithWindow(r.ResourceID, r.StartsAt, r.EndsAt).
		With("reservation_id", r.ID).
		With("action", string(action)).
		With("allowed_from", Sources(action))
}

func forbidden(r *models.Reservation) *bookerr.Error {
	return bookerr.New(bookerr.CodeForbidden, "not the owner of this reservation", nil).
		WithWindow(r.ResourceID, r.StartsAt, r.EndsAt).
		With("reservation_id", r.ID)
}

func resourceOf(r *models.Reservation) string {
	if r == nil {
		return ""
	}
	return r.ResourceID
}

type discard struct{}

func (discard) OnPending(context.Context, *models.Reservation, []string)         {}
func (discard) OnApproved(context.Context, *models.Reservation)                  {}
func (discard) OnDenied(context.Context, *models.Reservation)                    {}
func (discard) OnCanceled(context.Context, *models.Reservation)                  {}
func (discard) OnCancelRequested(context.Context, *models.Reservation, []string) {}
func (discard) OnCancelApproved(context.Context, *models.Reservation)            {}
func (discard) OnCancelDenied(context.Context, *models.Reservation)              {}
func (discard) OnRemoved(context.Context, *models.Reservation, string)           {}
