/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GridAnchor is the wall-clock time at which every weekday grid starts and ends.
const GridAnchor = "08:00"

const minutesPerDay = 24 * 60

// Segment is one back-to-back range of a weekday grid, stepped into slots of
// the Step label's length. To at or before From falls on the next civil day.
type Segment struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Step Label  `json:"step" yaml:"step"`
}

// Grid is the ordered weekday partition of a resource, covering
// [08:00, next-day 08:00).
type Grid []Segment

// DefaultGrid is used by resources without a grid of their own.
var DefaultGrid = Grid{
	{From: "08:00", To: "14:00", Step: Label30m},
	{From: "14:00", To: "20:00", Step: Label3h},
	{From: "20:00", To: "08:00", Step: Label12h},
}

var errEmptyGrid = errors.New("grid has no segments")

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// span returns the segment start and length in minutes.
func (s Segment) span() (int, int, error) {
	from, err := ParseClock(s.From)
	if err != nil {
		return 0, 0, err
	}
	to, err := ParseClock(s.To)
	if err != nil {
		return 0, 0, err
	}
	if to <= from {
		to += minutesPerDay
	}
	return from, to - from, nil
}

// Validate checks that the grid is contiguous, starts and ends at 08:00,
// covers exactly one day and that every step is a standard label dividing its
// segment.
func (g Grid) Validate() error {
	if len(g) == 0 {
		return errEmptyGrid
	}
	if g[0].From != GridAnchor {
		return fmt.Errorf("grid must start at %s, starts at %s", GridAnchor, g[0].From)
	}
	if g[len(g)-1].To != GridAnchor {
		return fmt.Errorf("grid must end at %s, ends at %s", GridAnchor, g[len(g)-1].To)
	}

	total := 0
	for i, seg := range g {
		if i > 0 && seg.From != g[i-1].To {
			return fmt.Errorf("segment %d starts at %s but previous ends at %s", i, seg.From, g[i-1].To)
		}
		_, length, err := seg.span()
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		step, ok := seg.Step.Minutes()
		if !ok {
			return fmt.Errorf("segment %d: step %q is not one of %v", i, seg.Step, StandardLabels)
		}
		if length%step != 0 {
			return fmt.Errorf("segment %d: step %s does not divide %d minutes", i, seg.Step, length)
		}
		total += length
	}
	if total != minutesPerDay {
		return fmt.Errorf("grid covers %d minutes, want %d", total, minutesPerDay)
	}
	return nil
}

// OrDefault returns g, or DefaultGrid when g is empty.
func (g Grid) OrDefault() Grid {
	if len(g) == 0 {
		return DefaultGrid
	}
	return g
}
