/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/telemetry"
)

const (
	streamBuffer   = 64
	streamPingEach = 15 * time.Second
	streamWriteTTL = 5 * time.Second
)

// streamEvents is what /events sends when no types are requested.
func streamEvents() []events.EventType {
	out := append([]events.EventType{}, events.ReservationEvents...)
	return append(out, events.EventBookingRejected, events.EventPolicyUpdated)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.EventStreamClients.Inc()
	defer telemetry.EventStreamClients.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = streamEvents()
	}
	sub := a.bus.SubscribeBuffered(streamBuffer, eventTypes...)
	defer a.bus.Unsubscribe(sub)

	// The stream is one-way; CloseRead notices when the client goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(streamPingEach)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := write(ctx, conn, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			if err := a.writeEvent(ctx, conn, payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, payload events.Payload) error {
	data := map[string]any{
		"type":    payload.Type(),
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return write(ctx, conn, bytes)
}

func write(ctx context.Context, conn *ws.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTTL)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, msg)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}
