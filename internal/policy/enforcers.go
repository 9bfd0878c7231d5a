/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package policy

import (
	"context"
	"time"

	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
)

// advanceEpsilon absorbs float rounding at the exact advance boundary.
const advanceEpsilon = 1e-9

// AdvanceResult describes an advance window check.
type AdvanceResult struct {
	AdvanceDays int     `json:"advance_days"`
	DaysAhead   float64 `json:"days_ahead"`
	Bypassed    bool    `json:"bypassed"`
}

// AdvanceEnforcer rejects bookings that start too far in the future.
type AdvanceEnforcer struct {
	policies Source
}

// NewAdvanceEnforcer creates an advance window enforcer.
func NewAdvanceEnforcer(policies Source) *AdvanceEnforcer {
	return &AdvanceEnforcer{policies: policies}
}

// Check fails ADVANCE_WINDOW when start is more than the resource's advance
// days ahead of now. bypass skips the limit.
func (e *AdvanceEnforcer) Check(ctx context.Context, resourceID string, start, now time.Time, bypass bool) (AdvanceResult, error) {
	days, err := e.policies.AdvanceDays(ctx, resourceID)
	if err != nil {
		return AdvanceResult{}, err
	}
	res := AdvanceResult{
		AdvanceDays: days,
		DaysAhead:   start.Sub(now).Hours() / 24,
		Bypassed:    bypass,
	}
	if bypass {
		return res, nil
	}
	if res.DaysAhead > float64(days)+advanceEpsilon {
		return res, bookerr.Newf(bookerr.CodeAdvanceWindow, "bookings open %d days ahead", days).
			With("advance_days", days).
			With("days_ahead", res.DaysAhead)
	}
	return res, nil
}

// HeldCounter sums an owner's held minutes.
type HeldCounter interface {
	HeldMinutes(ctx context.Context, owner, resourceID string, label slots.Label, from, to, now time.Time) (int, error)
}

// CapacityRequest is the booking under evaluation.
type CapacityRequest struct {
	Owner      string
	ResourceID string
	Label      slots.Label
	Start      time.Time
	End        time.Time
	Now        time.Time
}

// CapacityResult carries the figures behind a capacity decision.
type CapacityResult struct {
	Label           slots.Label `json:"label"`
	PerDayHours     int         `json:"per_day_hours"`
	PerWeekHours    int         `json:"per_week_hours"`
	HeldDayMinutes  int         `json:"held_day_minutes"`
	HeldWeekMinutes int         `json:"held_week_minutes"`
	BlockMinutes    int         `json:"block_minutes"`
	DayStart        time.Time   `json:"day_start"`
	WeekStart       time.Time   `json:"week_start"`
}

// CapacityEnforcer limits how many minutes one owner may hold per resource
// and slot label over the local day and ISO week of the booking.
type CapacityEnforcer struct {
	policies Source
	held     HeldCounter
	clock    *civil.Adapter
}

// NewCapacityEnforcer creates a capacity enforcer.
func NewCapacityEnforcer(policies Source, held HeldCounter, clock *civil.Adapter) *CapacityEnforcer {
	return &CapacityEnforcer{policies: policies, held: held, clock: clock}
}

// Check fails CAP when held plus requested minutes exceed a non-zero cap.
func (e *CapacityEnforcer) Check(ctx context.Context, req CapacityRequest) (CapacityResult, error) {
	res := CapacityResult{
		Label:        req.Label,
		BlockMinutes: int(req.End.Sub(req.Start) / time.Minute),
	}

	rule, err := e.policies.CapRule(ctx, req.ResourceID, req.Label)
	if err != nil {
		return res, err
	}
	if rule.Unlimited() {
		return res, nil
	}
	res.PerDayHours = rule.PerDayHours
	res.PerWeekHours = rule.PerWeekHours

	dayStart, dayEnd := e.clock.DayBounds(req.Start)
	weekStart, weekEnd := e.clock.WeekBounds(req.Start)
	res.DayStart, res.WeekStart = dayStart, weekStart

	if rule.PerDayHours > 0 {
		held, err := e.held.HeldMinutes(ctx, req.Owner, req.ResourceID, req.Label, dayStart, dayEnd, req.Now)
		if err != nil {
			return res, err
		}
		res.HeldDayMinutes = held
		if held+res.BlockMinutes > rule.PerDayHours*60 {
			return res, capError(res, "day", rule.PerDayHours)
		}
	}

	if rule.PerWeekHours > 0 {
		held, err := e.held.HeldMinutes(ctx, req.Owner, req.ResourceID, req.Label, weekStart, weekEnd, req.Now)
		if err != nil {
			return res, err
		}
		res.HeldWeekMinutes = held
		if held+res.BlockMinutes > rule.PerWeekHours*60 {
			return res, capError(res, "week", rule.PerWeekHours)
		}
	}

	return res, nil
}

func capError(res CapacityResult, window string, capHours int) *bookerr.Error {
	return bookerr.Newf(bookerr.CodeCap, "%s cap of %dh for %s slots reached", window, capHours, res.Label).
		With("window", window).
		With("label", string(res.Label)).
		With("cap_hours", capHours).
		With("held_day_minutes", res.HeldDayMinutes).
		With("held_week_minutes", res.HeldWeekMinutes).
		With("block_minutes", res.BlockMinutes)
}

// CutoffResult carries the figures behind a cancellation decision.
type CutoffResult struct {
	ResourceID        string      `json:"resource_id"`
	Label             slots.Label `json:"label"`
	MinutesUntilStart float64     `json:"minutes_until_start"`
	CutoffMinutes     int         `json:"cutoff_minutes"`
}

// CutoffEnforcer rejects cancellations too close to start or after the end.
type CutoffEnforcer struct {
	policies Source
}

// NewCutoffEnforcer creates a cutoff enforcer.
func NewCutoffEnforcer(policies Source) *CutoffEnforcer {
	return &CutoffEnforcer{policies: policies}
}

// Check fails PAST_CANCEL once the reservation has ended and CUTOFF when
// fewer than the rule's minutes remain before start.
func (e *CutoffEnforcer) Check(ctx context.Context, r *models.Reservation, now time.Time) (CutoffResult, error) {
	label := slots.Label(r.SlotLabel)
	if label == "" {
		label = slots.LabelForDuration(int(r.Duration() / time.Minute))
	}
	res := CutoffResult{
		ResourceID:        r.ResourceID,
		Label:             label,
		MinutesUntilStart: r.StartsAt.Sub(now).Minutes(),
	}

	if !r.EndsAt.After(now) {
		return res, bookerr.New(bookerr.CodePastCancel, "reservation has already ended", nil).
			WithWindow(r.ResourceID, r.StartsAt, r.EndsAt).
			With("reservation_id", r.ID)
	}

	rule, err := e.policies.CancelRule(ctx, r.ResourceID, label)
	if err != nil {
		return res, err
	}
	if rule != nil {
		res.CutoffMinutes = rule.CutoffMinutes
	}

	if res.MinutesUntilStart < float64(res.CutoffMinutes) {
		return res, bookerr.Newf(bookerr.CodeCutoff, "cancellations close %d minutes before start", res.CutoffMinutes).
			WithWindow(r.ResourceID, r.StartsAt, r.EndsAt).
			With("reservation_id", r.ID).
			With("label", string(label)).
			With("minutes_until_start", res.MinutesUntilStart).
			With("cutoff_minutes", res.CutoffMinutes)
	}
	return res, nil
}
