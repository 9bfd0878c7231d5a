/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package civil converts between wall-clock readings in the installation
// timezone and absolute instants.
package civil

import (
	"fmt"
	"time"
)

// Date is a calendar day without a timezone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateTime is a wall-clock reading with minute precision.
type DateTime struct {
	Date
	Hour   int
	Minute int
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Weekday returns the day of week of d.
func (d Date) Weekday() time.Weekday {
	return d.noonUTC().Weekday()
}

// IsWeekend reports whether d is a Saturday or Sunday.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) noonUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

// ShiftDate moves d by delta calendar days.
func ShiftDate(d Date, delta int) Date {
	t := d.noonUTC().AddDate(0, 0, delta)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// At returns the wall-clock reading hh:mm on d.
func (d Date) At(hour, minute int) DateTime {
	return DateTime{Date: d, Hour: hour, Minute: minute}
}

// AddMinutes moves the wall-clock reading forward, rolling over calendar days.
func (dt DateTime) AddMinutes(n int) DateTime {
	t := time.Date(dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute)
	return DateTime{
		Date:   Date{Year: t.Year(), Month: t.Month(), Day: t.Day()},
		Hour:   t.Hour(),
		Minute: t.Minute(),
	}
}

func (dt DateTime) String() string {
	return fmt.Sprintf("%s %02d:%02d", dt.Date, dt.Hour, dt.Minute)
}

func (dt DateTime) wallUTC() time.Time {
	return time.Date(dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute, 0, 0, time.UTC)
}
