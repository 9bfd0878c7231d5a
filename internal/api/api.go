/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the booking engine over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotbook/internal/audit"
	"github.com/friendsincode/slotbook/internal/auth"
	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/reservation"
	"github.com/friendsincode/slotbook/internal/store"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	store     *store.Store
	engine    *reservation.Engine
	policies  *policy.Lookup
	auditSvc  *audit.Service
	bus       *events.Bus
	logger    zerolog.Logger
}

// Options groups the collaborators of the API.
type Options struct {
	DB        *gorm.DB
	JWTSecret []byte
	Store     *store.Store
	Engine    *reservation.Engine
	Policies  *policy.Lookup
	Audit     *audit.Service
	Bus       *events.Bus
	Logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(opts Options) *API {
	return &API{
		db:        opts.DB,
		jwtSecret: opts.JWTSecret,
		store:     opts.Store,
		engine:    opts.Engine,
		policies:  opts.Policies,
		auditSvc:  opts.Audit,
		bus:       opts.Bus,
		logger:    opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers every endpoint under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.db, a.jwtSecret))

			pr.Route("/resources", func(r chi.Router) {
				r.Get("/", a.handleResourcesList)
				r.Get("/{resourceID}/slots", a.handleResourceSlots)
			})

			pr.Route("/reservations", func(r chi.Router) {
				r.Get("/", a.handleReservationsList)
				r.Post("/", a.handleReservationsCreate)
				r.Route("/{reservationID}", func(r chi.Router) {
					r.Get("/", a.handleReservationsGet)
					r.Post("/approve", a.handleReservationsApprove)
					r.Post("/deny", a.handleReservationsDeny)
					r.Post("/cancel", a.handleReservationsCancel)
					r.Post("/cancel/approve", a.handleReservationsApproveCancel)
					r.Post("/cancel/deny", a.handleReservationsDenyCancel)
					r.Post("/remove", a.handleReservationsRemove)
				})
			})

			pr.Route("/policies", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleElevated))
				r.Post("/caps", a.handlePolicyCaps)
				r.Post("/cancel-rules", a.handlePolicyCancelRules)
				r.Post("/experiments", a.handlePolicyExperiments)
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Delete("/{keyID}", a.handleAPIKeysRevoke)
			})

			pr.Group(func(sr chi.Router) {
				sr.Use(auth.RequireRole(models.RoleStaff, models.RoleElevated))
				sr.Get("/audit", a.handleAuditList)
				sr.Get("/events", a.handleEvents)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *API) handleResourcesList(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	resources, err := a.store.ListResources(r.Context(), !id.IsStaff())
	if err != nil {
		a.logger.Error().Err(err).Msg("list resources failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// identity returns the caller resolved by the auth middleware.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

// auditContext extracts request info for audit logging.
func auditContext(r *http.Request, id auth.Identity) events.Payload {
	return events.Payload{
		"actor":      id.Actor(),
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// rejectionBody is the JSON shape of a booking rejection.
type rejectionBody struct {
	Error   bookerr.Code   `json:"error"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// StatusFor maps a rejection code to its HTTP status.
func StatusFor(code bookerr.Code) int {
	switch code {
	case bookerr.CodeBadRange, bookerr.CodeSlotAlignment, bookerr.CodePastTime, bookerr.CodeReasonRequired,
		bookerr.CodeBadBilling:
		return http.StatusBadRequest
	case bookerr.CodeForbidden, bookerr.CodeNotAllowed:
		return http.StatusForbidden
	case bookerr.CodeNotFound:
		return http.StatusNotFound
	case bookerr.CodeOverlap, bookerr.CodeNotPending, bookerr.CodeNotApproved, bookerr.CodeNotCancelPending:
		return http.StatusConflict
	case bookerr.CodeAdvanceWindow, bookerr.CodeCap, bookerr.CodeMaintenance, bookerr.CodeTraining,
		bookerr.CodeCutoff, bookerr.CodePastCancel:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeRejection renders a rejection with its context, or a bare 500 for
// anything that is not one.
func (a *API) writeRejection(w http.ResponseWriter, err error) {
	be, ok := bookerr.As(err)
	if !ok {
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, StatusFor(be.Code), rejectionBody{Error: be.Code, Message: be.Message, Context: be.Context})
}
