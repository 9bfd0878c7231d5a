/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bookerr defines the coded rejections returned by the booking engine.
package bookerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code is a stable, client-facing rejection code.
type Code string

const (
	CodeBadRange         Code = "BAD_RANGE"
	CodePastTime         Code = "PAST_TIME"
	CodeSlotAlignment    Code = "SLOT_ALIGNMENT"
	CodeAdvanceWindow    Code = "ADVANCE_WINDOW"
	CodeCap              Code = "CAP"
	CodeMaintenance      Code = "MAINTENANCE"
	CodeTraining         Code = "TRAINING"
	CodeOverlap          Code = "OVERLAP"
	CodeNotAllowed       Code = "NOT_ALLOWED"
	CodePastCancel       Code = "PAST_CANCEL"
	CodeCutoff           Code = "CUTOFF"
	CodeNotFound         Code = "NOT_FOUND"
	CodeNotPending       Code = "NOT_PENDING"
	CodeNotApproved      Code = "NOT_APPROVED"
	CodeNotCancelPending Code = "NOT_CANCEL_PENDING"
	CodeForbidden        Code = "FORBIDDEN"
	CodeReasonRequired   Code = "REASON_REQUIRED"
	CodeBadBilling       Code = "BAD_BILLING"
)

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrNotFound = &Error{Code: CodeNotFound}
	ErrOverlap  = &Error{Code: CodeOverlap}
)

// Error is a rejection carrying a code and structured context for the caller.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
}

// New creates a rejection with optional context.
func New(code Code, message string, context map[string]any) *Error {
	if context == nil {
		context = make(map[string]any)
	}
	return &Error{Code: code, Message: message, Context: context}
}

// Newf creates a rejection with a formatted message and empty context.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With sets a context key and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithWindow records the requested resource and window in the context.
func (e *Error) WithWindow(resourceID string, start, end time.Time) *Error {
	return e.With("resource", resourceID).
		With("start", start.UTC().Format(time.RFC3339)).
		With("end", end.UTC().Format(time.RFC3339))
}

// As extracts a rejection from an error chain.
func As(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// CodeOf returns the rejection code of err, or "" if err is not a rejection.
func CodeOf(err error) Code {
	if be, ok := As(err); ok {
		return be.Code
	}
	return ""
}

// NotInStatus builds the precondition rejection for a reservation that is no
// longer in the expected status.
func NotInStatus(expected string, current string) *Error {
	code := CodeNotApproved
	switch strings.ToUpper(expected) {
	case "PENDING":
		code = CodeNotPending
	case "CANCEL_PENDING":
		code = CodeNotCancelPending
	}
	return New(code, fmt.Sprintf("reservation is %s", strings.ToUpper(current)), map[string]any{
		"expected_status": expected,
		"current_status":  current,
	})
}
