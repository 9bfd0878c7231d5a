/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "slotbook.reservations",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications on "<prefix>.<event>", for example
// slotbook.reservations.approved.
type NATSSink struct {
	conn   publisher
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// natsMessage is the wire envelope.
type natsMessage struct {
	Message
	MessageID string `json:"message_id"` // For deduplication
}

// NewNATSSink connects to NATS. The connection reconnects on its own.
func NewNATSSink(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	logger = logger.With().Str("sink", "nats").Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("slotbook"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("nats notification sink connected")
	return &NATSSink{conn: nc, nc: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Deliver publishes one message. ctx is unused: nats publishes are buffered
// and flushed by the client.
func (s *NATSSink) Deliver(_ context.Context, msg Message) error {
	data, err := json.Marshal(natsMessage{Message: msg, MessageID: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("marshal nats message: %w", err)
	}
	subject := s.subject(msg)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) subject(msg Message) string {
	event := strings.TrimPrefix(string(msg.Event), "reservation.")
	if s.prefix == "" {
		return event
	}
	return s.prefix + "." + event
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
