/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks forwards booking rejections to an alerting endpoint.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotbook/internal/events"
)

// AlertPayload is the body POSTed for each rejection.
type AlertPayload struct {
	Event      string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	Code       string         `json:"code"`
	Message    string         `json:"message,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// Config selects the endpoint and which codes are forwarded.
type Config struct {
	URL    string
	Secret string
	// Codes limits forwarding to these rejection codes. Empty forwards all.
	Codes []string
}

// Service handles webhook delivery.
type Service struct {
	cfg    Config
	codes  map[string]bool
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewService creates a new webhook service.
func NewService(cfg Config, bus *events.Bus, logger zerolog.Logger) *Service {
	codes := make(map[string]bool, len(cfg.Codes))
	for _, c := range cfg.Codes {
		codes[c] = true
	}
	return &Service{
		cfg:    cfg,
		codes:  codes,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// Start forwards rejections until ctx ends.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.URL == "" {
		s.logger.Debug().Msg("alert webhook not configured")
		return
	}

	rejected := s.bus.SubscribeBuffered(64, events.EventBookingRejected)
	defer s.bus.Unsubscribe(rejected)

	s.logger.Info().Str("url", s.cfg.URL).Msg("alert webhook started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("alert webhook stopping")
			return

		case payload, ok := <-rejected:
			if !ok {
				return
			}
			alert := s.toAlert(payload)
			if !s.forwards(alert.Code) {
				continue
			}
			if err := s.Send(ctx, alert); err != nil {
				s.logger.Warn().Err(err).Str("code", alert.Code).Msg("alert webhook delivery failed")
			}
		}
	}
}

func (s *Service) forwards(code string) bool {
	return len(s.codes) == 0 || s.codes[code]
}

func (s *Service) toAlert(p events.Payload) AlertPayload {
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	ctxMap, _ := p["context"].(map[string]any)
	return AlertPayload{
		Event:      string(events.EventBookingRejected),
		Timestamp:  s.now().UTC(),
		Code:       str("code"),
		Message:    str("message"),
		ResourceID: str("resource_id"),
		Actor:      str("actor"),
		Operation:  str("operation"),
		Context:    ctxMap,
	}
}

// Send delivers one alert. Non-2xx responses are errors.
func (s *Service) Send(ctx context.Context, alert AlertPayload) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Slotbook-Webhook/1.0")
	req.Header.Set("X-Slotbook-Event", alert.Event)
	req.Header.Set("X-Slotbook-Timestamp", fmt.Sprintf("%d", s.now().Unix()))

	if s.cfg.Secret != "" {
		req.Header.Set("X-Slotbook-Signature", Sign(body, s.cfg.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	s.logger.Debug().Str("code", alert.Code).Int("status", resp.StatusCode).Msg("alert delivered")
	return nil
}

// Sign creates an HMAC-SHA256 signature of payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
