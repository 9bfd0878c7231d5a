/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/slotbook/internal/audit"
	"github.com/friendsincode/slotbook/internal/models"
)

// handleAuditList returns a paginated list of audit logs (staff only).
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseAuditFilters(w, r)
	if !ok {
		return
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": logs,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// parseAuditFilters extracts audit query filters from request parameters.
func parseAuditFilters(w http.ResponseWriter, r *http.Request) (audit.QueryFilters, bool) {
	q := r.URL.Query()
	filters := audit.QueryFilters{
		ActorEmail: strings.ToLower(q.Get("actor")),
		OwnerEmail: strings.ToLower(q.Get("owner")),
		ResourceID: q.Get("resource"),
		TargetID:   q.Get("reservation"),
		Action:     models.AuditAction(q.Get("action")),
		Limit:      100,
	}

	for key, dst := range map[string]**time.Time{"start": &filters.StartTime, "end": &filters.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+key)
			return filters, false
		}
		*dst = &t
	}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 1000 {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		filters.Offset = offset
	}
	return filters, true
}
