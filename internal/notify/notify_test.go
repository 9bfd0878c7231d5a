package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/rs/zerolog"
)

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	msgs []Message
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, msg Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("delivery without deadline")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSink) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func sampleReservation() *models.Reservation {
	start := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	return &models.Reservation{
		ID:           "r-1",
		ResourceID:   "nmr-600",
		OwnerEmail:   "ana@lab.test",
		Actor:        "staff@lab.test",
		StartsAt:     start,
		EndsAt:       start.Add(3 * time.Hour),
		SlotLabel:    "3h",
		Status:       models.StatusPending,
		CancelReason: "probe swap",
	}
}

func TestDispatcherFansOut(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("broker down")}
	d := NewDispatcher(time.Second, zerolog.Nop(), a, b)

	r := sampleReservation()
	d.OnPending(context.Background(), r, []string{"staff@lab.test", "ana@lab.test", "lee@lab.test"})
	d.OnRemoved(context.Background(), r, "instrument fault")
	d.Wait()

	for _, sink := range []*recordingSink{a, b} {
		msgs := sink.messages()
		if len(msgs) != 2 {
			t.Fatalf("sink %s got %d messages, want 2", sink.name, len(msgs))
		}
	}

	byEvent := map[events.EventType]Message{}
	for _, m := range a.messages() {
		byEvent[m.Event] = m
	}

	pending := byEvent[events.EventReservationPending]
	want := []string{"ana@lab.test", "staff@lab.test", "lee@lab.test"}
	if len(pending.Recipients) != len(want) {
		t.Fatalf("recipients=%v, want %v", pending.Recipients, want)
	}
	for i := range want {
		if pending.Recipients[i] != want[i] {
			t.Fatalf("recipients=%v, want %v", pending.Recipients, want)
		}
	}

	removed := byEvent[events.EventReservationRemoved]
	if removed.Reason != "instrument fault" {
		t.Fatalf("removed reason=%q", removed.Reason)
	}
	if removed.Actor != "staff@lab.test" || removed.OwnerEmail != "ana@lab.test" {
		t.Fatalf("actor/owner not carried: %+v", removed)
	}
}

func TestDispatcherOutlivesCallerContext(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(time.Second, zerolog.Nop(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	d.OnApproved(ctx, sampleReservation())
	cancel()
	d.Wait()

	if len(sink.messages()) != 1 {
		t.Fatal("notification lost when the request context ended")
	}
}

func TestDispatcherWithoutSinks(t *testing.T) {
	d := NewDispatcher(0, zerolog.Nop())
	d.OnCanceled(context.Background(), sampleReservation())
	d.Wait()
	if d.timeout != DefaultTimeout {
		t.Fatalf("timeout=%v, want default", d.timeout)
	}
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subject, p.data = subject, data
	return nil
}

func TestNATSSinkSubjects(t *testing.T) {
	tests := []struct {
		prefix string
		event  events.EventType
		want   string
	}{
		{"slotbook.reservations", events.EventReservationApproved, "slotbook.reservations.approved"},
		{"slotbook.reservations", events.EventReservationCancelRequested, "slotbook.reservations.cancel_requested"},
		{"", events.EventReservationRemoved, "removed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			pub := &fakePublisher{}
			s := &NATSSink{conn: pub, prefix: tt.prefix, logger: zerolog.Nop()}
			msg := newMessage(tt.event, sampleReservation(), "", nil, time.Now())
			if err := s.Deliver(context.Background(), msg); err != nil {
				t.Fatalf("deliver: %v", err)
			}
			if pub.subject != tt.want {
				t.Fatalf("subject=%q, want %q", pub.subject, tt.want)
			}

			var got natsMessage
			if err := json.Unmarshal(pub.data, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.MessageID == "" || got.ReservationID != "r-1" || got.Event != tt.event {
				t.Fatalf("unexpected envelope: %+v", got)
			}
		})
	}
}
