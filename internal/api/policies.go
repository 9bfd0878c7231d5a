/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"

	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
)

// experimentRequest updates an experiment policy, or a per-resource
// override of it when resource_id is set.
type experimentRequest struct {
	Code                   string `json:"code"`
	Description            string `json:"description"`
	ResourceID             string `json:"resource_id"`
	RequiresApproval       *bool  `json:"requires_approval"`
	RequiresCancelApproval *bool  `json:"requires_cancel_approval"`
}

func (a *API) handlePolicyCaps(w http.ResponseWriter, r *http.Request) {
	var rule models.CapRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !a.validRuleTarget(w, r, rule.ResourceID, rule.SlotLabel) {
		return
	}
	if rule.PerDayHours < 0 || rule.PerWeekHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid_hours")
		return
	}

	if err := a.policies.SaveCapRule(r.Context(), &rule); err != nil {
		a.logger.Error().Err(err).Str("resource", rule.ResourceID).Msg("save cap rule failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.publishPolicy(r, "cap_rule", rule.ResourceID, rule.SlotLabel, events.Payload{
		"per_day_hours":  rule.PerDayHours,
		"per_week_hours": rule.PerWeekHours,
	})
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handlePolicyCancelRules(w http.ResponseWriter, r *http.Request) {
	var rule models.CancelRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !a.validRuleTarget(w, r, rule.ResourceID, rule.SlotLabel) {
		return
	}
	if rule.CutoffMinutes < 0 {
		writeError(w, http.StatusBadRequest, "invalid_cutoff")
		return
	}

	if err := a.policies.SaveCancelRule(r.Context(), &rule); err != nil {
		a.logger.Error().Err(err).Str("resource", rule.ResourceID).Msg("save cancel rule failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.publishPolicy(r, "cancel_rule", rule.ResourceID, rule.SlotLabel, events.Payload{
		"cutoff_minutes": rule.CutoffMinutes,
	})
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handlePolicyExperiments(w http.ResponseWriter, r *http.Request) {
	var req experimentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code_required")
		return
	}

	if req.ResourceID != "" {
		if _, err := a.store.Resource(r.Context(), req.ResourceID); err != nil {
			a.writeRejection(w, err)
			return
		}
		override := models.ResourceExperimentPolicy{
			ResourceID:             req.ResourceID,
			ExperimentCode:         req.Code,
			RequiresApproval:       req.RequiresApproval,
			RequiresCancelApproval: req.RequiresCancelApproval,
		}
		if err := a.policies.SaveResourceExperimentPolicy(r.Context(), &override); err != nil {
			a.logger.Error().Err(err).Str("experiment", req.Code).Msg("save experiment override failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		a.publishPolicy(r, "experiment_override", req.ResourceID, req.Code, nil)
		writeJSON(w, http.StatusOK, override)
		return
	}

	p := models.ExperimentPolicy{
		Code:                   req.Code,
		Description:            req.Description,
		RequiresApproval:       req.RequiresApproval != nil && *req.RequiresApproval,
		RequiresCancelApproval: req.RequiresCancelApproval != nil && *req.RequiresCancelApproval,
	}
	if err := a.policies.SaveExperimentPolicy(r.Context(), &p); err != nil {
		a.logger.Error().Err(err).Str("experiment", req.Code).Msg("save experiment policy failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.publishPolicy(r, "experiment_policy", "", req.Code, nil)
	writeJSON(w, http.StatusOK, p)
}

// validRuleTarget checks the resource exists and the label is a standard one.
func (a *API) validRuleTarget(w http.ResponseWriter, r *http.Request, resourceID, label string) bool {
	if !slots.Label(label).Standard() {
		writeError(w, http.StatusBadRequest, "invalid_slot_label")
		return false
	}
	if resourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id_required")
		return false
	}
	if _, err := a.store.Resource(r.Context(), resourceID); err != nil {
		a.writeRejection(w, err)
		return false
	}
	return true
}

func (a *API) publishPolicy(r *http.Request, targetType, resourceID, targetID string, extra events.Payload) {
	payload := auditContext(r, identity(r))
	payload["target_type"] = targetType
	payload["target_id"] = targetID
	if resourceID != "" {
		payload["resource_id"] = resourceID
	}
	for k, v := range extra {
		payload[k] = v
	}
	a.bus.Publish(events.EventPolicyUpdated, payload)
}
