/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/reservation"
	"github.com/friendsincode/slotbook/internal/store"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

// decodeReason reads an optional {"reason": "..."} body.
func decodeReason(r *http.Request) (string, error) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.Reason, nil
}

func (a *API) handleResourceSlots(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")
	day, err := civil.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	templates, err := a.engine.Slots(r.Context(), resourceID, day)
	if err != nil {
		a.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id": resourceID,
		"date":        day.String(),
		"slots":       templates,
	})
}

func (a *API) handleReservationsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ReservationFilter{
		ResourceID: q.Get("resource"),
		OwnerEmail: strings.ToLower(q.Get("owner")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, models.ReservationStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+key)
				return
			}
			*dst = t
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		f.Limit = n
	}

	list, err := a.engine.List(r.Context(), identity(r), f)
	if err != nil {
		a.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleReservationsCreate(w http.ResponseWriter, r *http.Request) {
	var req reservation.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id_required")
		return
	}

	res, err := a.engine.Create(r.Context(), identity(r), req)
	if err != nil {
		a.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleReservationsGet(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Get(r.Context(), identity(r), chi.URLParam(r, "reservationID"))
	if err != nil {
		a.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReservationsApprove(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Approve(r.Context(), identity(r), chi.URLParam(r, "reservationID"))
	a.writeTransition(w, res, err)
}

func (a *API) handleReservationsDeny(w http.ResponseWriter, r *http.Request) {
	reason, err := decodeReason(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := a.engine.Deny(r.Context(), identity(r), chi.URLParam(r, "reservationID"), reason)
	a.writeTransition(w, res, err)
}

func (a *API) handleReservationsCancel(w http.ResponseWriter, r *http.Request) {
	reason, err := decodeReason(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := a.engine.Cancel(r.Context(), identity(r), chi.URLParam(r, "reservationID"), reason)
	a.writeTransition(w, res, err)
}

func (a *API) handleReservationsApproveCancel(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.ApproveCancel(r.Context(), identity(r), chi.URLParam(r, "reservationID"))
	a.writeTransition(w, res, err)
}

func (a *API) handleReservationsDenyCancel(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.DenyCancel(r.Context(), identity(r), chi.URLParam(r, "reservationID"))
	a.writeTransition(w, res, err)
}

func (a *API) handleReservationsRemove(w http.ResponseWriter, r *http.Request) {
	reason, err := decodeReason(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := a.engine.Remove(r.Context(), identity(r), chi.URLParam(r, "reservationID"), reason)
	a.writeTransition(w, res, err)
}

func (a *API) writeTransition(w http.ResponseWriter, res *models.Reservation, err error) {
	if err != nil {
		a.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
