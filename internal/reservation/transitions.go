/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reservation

import (
	"fmt"

	"github.com/friendsincode/slotbook/internal/models"
)

// Action names a lifecycle operation.
type Action string

const (
	ActionCreate        Action = "create"
	ActionApprove       Action = "approve"
	ActionDeny          Action = "deny"
	ActionCancel        Action = "cancel"
	ActionApproveCancel Action = "approve_cancel"
	ActionDenyCancel    Action = "deny_cancel"
	ActionRemove        Action = "remove"
)

// none is the "from" state of a reservation that does not exist yet.
const none models.ReservationStatus = ""

type edge struct {
	from, to models.ReservationStatus
}

// transitions is the complete lifecycle. Anything not listed is refused.
var transitions = map[Action][]edge{
	ActionCreate: {
		{none, models.StatusApproved},
		{none, models.StatusPending},
	},
	ActionApprove: {
		{models.StatusPending, models.StatusApproved},
	},
	ActionDeny: {
		{models.StatusPending, models.StatusCanceled},
	},
	ActionCancel: {
		{models.StatusPending, models.StatusCanceled},
		{models.StatusApproved, models.StatusCancelPending},
		{models.StatusApproved, models.StatusCanceled},
	},
	ActionApproveCancel: {
		{models.StatusCancelPending, models.StatusCanceled},
	},
	ActionDenyCancel: {
		{models.StatusCancelPending, models.StatusApproved},
	},
	ActionRemove: {
		{models.StatusPending, models.StatusCanceled},
		{models.StatusApproved, models.StatusCanceled},
		{models.StatusCancelPending, models.StatusCanceled},
	},
}

// Allowed reports whether action may move a reservation from one status to another.
func Allowed(action Action, from, to models.ReservationStatus) bool {
	for _, e := range transitions[action] {
		if e.from == from && e.to == to {
			return true
		}
	}
	return false
}

// Sources returns the statuses action may start from.
func Sources(action Action) []models.ReservationStatus {
	seen := map[models.ReservationStatus]bool{}
	var out []models.ReservationStatus
	for _, e := range transitions[action] {
		if !seen[e.from] {
			seen[e.from] = true
			out = append(out, e.from)
		}
	}
	return out
}

func checkTransition(action Action, from, to models.ReservationStatus) error {
	if !Allowed(action, from, to) {
		return fmt.Errorf("illegal transition %s: %q -> %q", action, from, to)
	}
	return nil
}
