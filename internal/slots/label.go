/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import "fmt"

// Label classifies a slot by its nominal length. Cap and cancel rules are
// keyed by label.
type Label string

const (
	Label30m Label = "30m"
	Label3h  Label = "3h"
	Label12h Label = "12h"
	Label24h Label = "24h"
)

// StandardLabels lists the labels a slot grid may use.
var StandardLabels = []Label{Label30m, Label3h, Label12h, Label24h}

// LabelForDuration maps a duration in minutes to its label. Durations outside
// the standard set get a generic "<N>m" label.
func LabelForDuration(minutes int) Label {
	switch minutes {
	case 30:
		return Label30m
	case 180:
		return Label3h
	case 720:
		return Label12h
	case 1440:
		return Label24h
	default:
		return Label(fmt.Sprintf("%dm", minutes))
	}
}

// Minutes returns the nominal length of a standard label.
func (l Label) Minutes() (int, bool) {
	switch l {
	case Label30m:
		return 30, true
	case Label3h:
		return 180, true
	case Label12h:
		return 720, true
	case Label24h:
		return 1440, true
	default:
		return 0, false
	}
}

// Standard reports whether l is one of the standard labels.
func (l Label) Standard() bool {
	_, ok := l.Minutes()
	return ok
}
