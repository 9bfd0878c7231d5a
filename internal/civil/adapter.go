/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package civil

import (
	"fmt"
	"time"
)

// Adapter resolves civil readings in one fixed IANA timezone.
type Adapter struct {
	loc *time.Location
	now func() time.Time
}

// New loads the named timezone and uses the system clock.
func New(name string) (*Adapter, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return NewWithLocation(loc, nil), nil
}

// NewWithLocation builds an adapter for loc. A nil now uses time.Now.
func NewWithLocation(loc *time.Location, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{loc: loc, now: now}
}

// Location returns the installation timezone.
func (a *Adapter) Location() *time.Location {
	return a.loc
}

// Now returns the current instant in the installation timezone.
func (a *Adapter) Now() time.Time {
	return a.now().In(a.loc)
}

// ToInstant resolves a wall-clock reading to an instant.
//
// The UTC offset is taken from the zone rules on either side of the reading
// and verified by formatting the candidate back to wall-clock time. A reading
// that occurs twice (fall back) resolves to the first occurrence; a reading
// that does not exist (spring forward) resolves with the pre-transition
// offset and so lands after the gap.
func (a *Adapter) ToInstant(dt DateTime) time.Time {
	wall := dt.wallUTC()

	_, before := wall.Add(-24 * time.Hour).In(a.loc).Zone()
	_, after := wall.Add(24 * time.Hour).In(a.loc).Zone()

	var best time.Time
	found := false
	for _, off := range []int{before, after} {
		candidate := wall.Add(-time.Duration(off) * time.Second).In(a.loc)
		if !readsAs(candidate, dt) {
			continue
		}
		if !found || candidate.Before(best) {
			best = candidate
			found = true
		}
	}
	if found {
		return best
	}

	// Gap: the smaller offset is the one in force before the transition.
	off := before
	if after < off {
		off = after
	}
	return wall.Add(-time.Duration(off) * time.Second).In(a.loc)
}

func readsAs(t time.Time, dt DateTime) bool {
	y, m, d := t.Date()
	return y == dt.Year && m == dt.Month && d == dt.Day && t.Hour() == dt.Hour && t.Minute() == dt.Minute
}

// ToCivil returns the wall-clock reading of t.
func (a *Adapter) ToCivil(t time.Time) DateTime {
	local := t.In(a.loc)
	return DateTime{
		Date:   Date{Year: local.Year(), Month: local.Month(), Day: local.Day()},
		Hour:   local.Hour(),
		Minute: local.Minute(),
	}
}

// DateOf returns the civil day containing t.
func (a *Adapter) DateOf(t time.Time) Date {
	return a.ToCivil(t).Date
}

// WeekdayIndex returns 0..6 with Sunday as 0.
func (a *Adapter) WeekdayIndex(t time.Time) int {
	return int(t.In(a.loc).Weekday())
}

// Midnight returns the instant of local midnight starting d.
func (a *Adapter) Midnight(d Date) time.Time {
	return a.ToInstant(d.At(0, 0))
}

// LocalMidnight returns local midnight of the civil day containing t.
func (a *Adapter) LocalMidnight(t time.Time) time.Time {
	return a.Midnight(a.DateOf(t))
}

// DayBounds returns [midnight, next midnight) of the civil day containing t.
func (a *Adapter) DayBounds(t time.Time) (time.Time, time.Time) {
	d := a.DateOf(t)
	return a.Midnight(d), a.Midnight(ShiftDate(d, 1))
}

// WeekStartDate returns the Monday of the ISO week containing d.
func WeekStartDate(d Date) Date {
	back := (int(d.Weekday()) + 6) % 7
	return ShiftDate(d, -back)
}

// WeekBounds returns [Monday 00:00, next Monday 00:00) local for the ISO week
// containing t.
func (a *Adapter) WeekBounds(t time.Time) (time.Time, time.Time) {
	monday := WeekStartDate(a.DateOf(t))
	return a.Midnight(monday), a.Midnight(ShiftDate(monday, 7))
}

// WeekStart returns Monday 00:00 local of the ISO week containing t.
func (a *Adapter) WeekStart(t time.Time) time.Time {
	start, _ := a.WeekBounds(t)
	return start
}
