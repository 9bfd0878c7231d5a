/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots generates the bookable slot templates of a resource and
// matches requested ranges against them.
package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/slotbook/internal/civil"
)

// Template is one bookable [Start, End) window.
type Template struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label Label     `json:"label"`
}

// Minutes returns the actual length of the template.
func (t Template) Minutes() int {
	return int(t.End.Sub(t.Start) / time.Minute)
}

// GridSource resolves the weekday grid of a resource.
type GridSource interface {
	Grid(ctx context.Context, resourceID string) (Grid, error)
}

// Generator produces slot templates. Output is never cached; it is a pure
// function of the grid and the civil day.
type Generator struct {
	clock *civil.Adapter
}

// NewGenerator creates a generator working in the adapter's timezone.
func NewGenerator(clock *civil.Adapter) *Generator {
	return &Generator{clock: clock}
}

// Generate returns the ordered templates of day for grid.
//
// Saturdays and Sundays get one 24h slot from local midnight to the next
// local midnight. Weekdays step each grid segment in wall-clock increments
// starting at 08:00, so boundaries stay on the same local time across DST
// changes.
func (g *Generator) Generate(grid Grid, day civil.Date) ([]Template, error) {
	if day.IsWeekend() {
		return []Template{{
			Start: g.clock.Midnight(day),
			End:   g.clock.Midnight(civil.ShiftDate(day, 1)),
			Label: Label24h,
		}}, nil
	}

	grid = grid.OrDefault()
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slot grid: %w", err)
	}

	anchor, _ := ParseClock(GridAnchor)
	base := day.At(anchor/60, anchor%60)

	var out []Template
	offset := 0
	for _, seg := range grid {
		_, length, _ := seg.span()
		step, _ := seg.Step.Minutes()
		for m := 0; m < length; m += step {
			out = append(out, Template{
				Start: g.clock.ToInstant(base.AddMinutes(offset + m)),
				End:   g.clock.ToInstant(base.AddMinutes(offset + m + step)),
				Label: seg.Step,
			})
		}
		offset += length
	}
	return out, nil
}

// ForResource generates the templates of day using the resource's grid.
func (g *Generator) ForResource(ctx context.Context, grids GridSource, resourceID string, day civil.Date) ([]Template, error) {
	grid, err := grids.Grid(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("load grid for %s: %w", resourceID, err)
	}
	return g.Generate(grid, day)
}
