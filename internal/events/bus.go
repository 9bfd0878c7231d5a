/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"sync/atomic"
)

// EventType enumerates event categories.
type EventType string

const (
	// Reservation lifecycle
	EventReservationCreated         EventType = "reservation.created"
	EventReservationPending         EventType = "reservation.pending"
	EventReservationApproved        EventType = "reservation.approved"
	EventReservationDenied          EventType = "reservation.denied"
	EventReservationCanceled        EventType = "reservation.canceled"
	EventReservationCancelRequested EventType = "reservation.cancel_requested"
	EventReservationCancelApproved  EventType = "reservation.cancel_approved"
	EventReservationCancelDenied    EventType = "reservation.cancel_denied"
	EventReservationRemoved         EventType = "reservation.removed"

	// EventBookingRejected carries every coded rejection; alerting listens here.
	EventBookingRejected EventType = "booking.rejected"

	// Policy writes
	EventPolicyUpdated EventType = "policy.updated"

	// Audit events (for operations that need explicit audit logging)
	EventAuditAPIKeyCreate EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke EventType = "audit.apikey.revoke"
)

// ReservationEvents lists the lifecycle events in transition order.
var ReservationEvents = []EventType{
	EventReservationCreated,
	EventReservationPending,
	EventReservationApproved,
	EventReservationDenied,
	EventReservationCanceled,
	EventReservationCancelRequested,
	EventReservationCancelApproved,
	EventReservationCancelDenied,
	EventReservationRemoved,
}

// Payload generic event payload. Delivered payloads carry their event type
// under the "type" key.
type Payload map[string]any

// Type returns the event type recorded in the payload.
func (p Payload) Type() EventType {
	t, _ := p["type"].(string)
	return EventType(t)
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// DefaultBuffer is the channel size of Subscribe.
const DefaultBuffer = 8

// Bus implements a simple in-process pubsub. Publishing never blocks: a full
// subscriber misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]Subscriber
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers one subscriber for the given event types.
func (b *Bus) Subscribe(eventTypes ...EventType) Subscriber {
	return b.SubscribeBuffered(DefaultBuffer, eventTypes...)
}

// SubscribeBuffered is Subscribe with an explicit channel size.
func (b *Bus) SubscribeBuffered(size int, eventTypes ...EventType) Subscriber {
	if size < 1 {
		size = 1
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	for _, et := range eventTypes {
		b.subs[et] = append(b.subs[et], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	msg := make(Payload, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = string(eventType)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Unsubscribe removes the subscriber from every event type and closes it.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for et, subs := range b.subs {
		for i, candidate := range subs {
			if candidate == sub {
				b.subs[et] = append(subs[:i:i], subs[i+1:]...)
				found = true
				break
			}
		}
	}
	if found {
		close(sub)
	}
}

// HasSubscribers reports whether anyone listens for eventType.
func (b *Bus) HasSubscribers(eventType EventType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType]) > 0
}
