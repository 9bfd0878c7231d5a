/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"time"
)

// Matcher checks requested ranges against generated templates.
type Matcher struct {
	gen   *Generator
	grids GridSource
}

// NewMatcher creates a matcher using gen and the resource grids in grids.
func NewMatcher(gen *Generator, grids GridSource) *Matcher {
	return &Matcher{gen: gen, grids: grids}
}

// Match returns the label of the template whose bounds equal [start, end)
// exactly. Templates are generated for the civil day containing start, which
// already carries the overnight slot into the next day.
func (m *Matcher) Match(ctx context.Context, resourceID string, start, end time.Time) (Label, bool, error) {
	day := m.gen.clock.DateOf(start)
	templates, err := m.gen.ForResource(ctx, m.grids, resourceID, day)
	if err != nil {
		return "", false, err
	}
	label, ok := MatchTemplates(templates, start, end)
	return label, ok, nil
}

// MatchTemplates finds [start, end) in templates using instant equality.
func MatchTemplates(templates []Template, start, end time.Time) (Label, bool) {
	for _, t := range templates {
		if t.Start.Equal(start) && t.End.Equal(end) {
			return t.Label, true
		}
	}
	return "", false
}
