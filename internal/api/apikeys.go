/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/slotbook/internal/auth"
	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
)

const (
	defaultKeyLifetimeDays = 365
	maxKeyLifetimeDays     = 3 * 365
)

type apiKeyCreateRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// caller loads the user behind the request. API keys always belong to the
// authenticated actor, never to the owner being acted for.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := a.store.UserByEmail(r.Context(), identity(r).Actor())
	if err != nil {
		a.writeRejection(w, err)
		return nil, false
	}
	return user, true
}

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	keys, err := auth.ListAPIKeys(r.Context(), a.db, user.ID)
	if err != nil {
		a.logger.Error().Err(err).Msg("list api keys failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (a *API) handleAPIKeysCreate(w http.ResponseWriter, r *http.Request) {
	var req apiKeyCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	days := req.ExpiresInDays
	if days <= 0 {
		days = defaultKeyLifetimeDays
	}
	if days > maxKeyLifetimeDays {
		writeError(w, http.StatusBadRequest, "expiry_too_long")
		return
	}

	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	plaintext, key, err := auth.CreateAPIKey(r.Context(), a.db, user.ID, req.Name, time.Duration(days)*24*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("create api key failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	payload := auditContext(r, identity(r))
	payload["target_type"] = "api_key"
	payload["target_id"] = key.ID
	payload["name"] = key.Name
	a.bus.Publish(events.EventAuditAPIKeyCreate, payload)

	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     plaintext,
		"api_key": key,
	})
}

func (a *API) handleAPIKeysRevoke(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	keyID := chi.URLParam(r, "keyID")
	if err := auth.RevokeAPIKey(r.Context(), a.db, keyID, user.ID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "api_key_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("revoke api key failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	payload := auditContext(r, identity(r))
	payload["target_type"] = "api_key"
	payload["target_id"] = keyID
	a.bus.Publish(events.EventAuditAPIKeyRevoke, payload)

	w.WriteHeader(http.StatusNoContent)
}
