package policy

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	caps     map[string]*models.CapRule
	cancels  map[string]*models.CancelRule
	advance  map[string]int
	approval map[string]models.ApprovalPolicy
	reads    int
	saved    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		caps:     map[string]*models.CapRule{},
		cancels:  map[string]*models.CancelRule{},
		advance:  map[string]int{},
		approval: map[string]models.ApprovalPolicy{},
	}
}

func (f *fakeStore) CapRule(_ context.Context, resourceID string, label slots.Label) (*models.CapRule, error) {
	f.reads++
	return f.caps[resourceID+"/"+string(label)], nil
}

func (f *fakeStore) CancelRule(_ context.Context, resourceID string, label slots.Label) (*models.CancelRule, error) {
	f.reads++
	return f.cancels[resourceID+"/"+string(label)], nil
}

func (f *fakeStore) AdvanceDays(_ context.Context, resourceID string) (int, error) {
	f.reads++
	d, ok := f.advance[resourceID]
	if !ok {
		return 0, bookerr.Newf(bookerr.CodeNotFound, "resource %s not found", resourceID)
	}
	return d, nil
}

func (f *fakeStore) ApprovalPolicy(_ context.Context, resourceID, experiment string) (models.ApprovalPolicy, error) {
	f.reads++
	return f.approval[resourceID+"/"+experiment], nil
}

func (f *fakeStore) SaveResource(_ context.Context, res *models.Resource) error {
	f.advance[res.ID] = res.AdvanceDays
	f.saved = append(f.saved, "resource")
	return nil
}

func (f *fakeStore) SaveCapRule(_ context.Context, rule *models.CapRule) error {
	f.caps[rule.ResourceID+"/"+rule.SlotLabel] = rule
	f.saved = append(f.saved, "cap")
	return nil
}

func (f *fakeStore) SaveCancelRule(_ context.Context, rule *models.CancelRule) error {
	f.cancels[rule.ResourceID+"/"+rule.SlotLabel] = rule
	f.saved = append(f.saved, "cancel")
	return nil
}

func (f *fakeStore) SaveExperimentPolicy(_ context.Context, p *models.ExperimentPolicy) error {
	f.saved = append(f.saved, "experiment")
	return nil
}

func (f *fakeStore) SaveResourceExperimentPolicy(_ context.Context, p *models.ResourceExperimentPolicy) error {
	f.saved = append(f.saved, "override")
	return nil
}

// heldStub returns a fixed number of held minutes per window length.
type heldStub struct {
	day, week int
}

func (h heldStub) HeldMinutes(_ context.Context, _, _ string, _ slots.Label, from, to, _ time.Time) (int, error) {
	if to.Sub(from) > 48*time.Hour {
		return h.week, nil
	}
	return h.day, nil
}

func chicago(t *testing.T) *civil.Adapter {
	t.Helper()
	a, err := civil.New("America/Chicago")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	return a
}

func TestAdvanceEnforcer(t *testing.T) {
	store := newFakeStore()
	store.advance["nmr-600"] = 7
	e := NewAdvanceEnforcer(NewLookup(store, nil, zerolog.Nop()))
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		start  time.Time
		bypass bool
		code   bookerr.Code
	}{
		{name: "tomorrow", start: now.Add(24 * time.Hour)},
		{name: "exactly at limit", start: now.Add(7 * 24 * time.Hour)},
		{name: "one minute past limit", start: now.Add(7*24*time.Hour + time.Minute), code: bookerr.CodeAdvanceWindow},
		{name: "elevated bypass", start: now.Add(30 * 24 * time.Hour), bypass: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Check(context.Background(), "nmr-600", tt.start, now, tt.bypass)
			if bookerr.CodeOf(err) != tt.code {
				t.Fatalf("code=%q, want %q (err=%v)", bookerr.CodeOf(err), tt.code, err)
			}
			if res.AdvanceDays != 7 {
				t.Fatalf("advance days=%d", res.AdvanceDays)
			}
		})
	}

	if _, err := e.Check(context.Background(), "missing", now, now, false); bookerr.CodeOf(err) != bookerr.CodeNotFound {
		t.Fatalf("expected NOT_FOUND for unknown resource, got %v", err)
	}
}

func TestCapacityDailyCap(t *testing.T) {
	store := newFakeStore()
	store.caps["nmr-600/30m"] = &models.CapRule{ResourceID: "nmr-600", SlotLabel: "30m", PerDayHours: 2}
	clock := chicago(t)
	lookup := NewLookup(store, nil, zerolog.Nop())

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, clock.Location())
	req := CapacityRequest{
		Owner: "a@lab.test", ResourceID: "nmr-600", Label: slots.Label30m,
		Start: start, End: start.Add(30 * time.Minute), Now: start.Add(-time.Hour),
	}

	tests := []struct {
		name string
		held int
		fail bool
	}{
		{name: "first slot", held: 0},
		{name: "reaches cap exactly", held: 90},
		{name: "exceeds cap", held: 120, fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewCapacityEnforcer(lookup, heldStub{day: tt.held}, clock)
			res, err := e.Check(context.Background(), req)
			if tt.fail {
				if bookerr.CodeOf(err) != bookerr.CodeCap {
					t.Fatalf("expected CAP, got %v", err)
				}
				be, _ := bookerr.As(err)
				if be.Context["window"] != "day" {
					t.Fatalf("expected day window in context, got %+v", be.Context)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.BlockMinutes != 30 || res.HeldDayMinutes != tt.held {
				t.Fatalf("unexpected result: %+v", res)
			}
			wantDay := time.Date(2026, 3, 2, 0, 0, 0, 0, clock.Location())
			if !res.DayStart.Equal(wantDay) {
				t.Fatalf("day start=%s, want %s", res.DayStart, wantDay)
			}
		})
	}
}

func TestCapacityWeeklyCapAndUnlimited(t *testing.T) {
	store := newFakeStore()
	store.caps["nmr-600/3h"] = &models.CapRule{ResourceID: "nmr-600", SlotLabel: "3h", PerWeekHours: 6}
	store.caps["nmr-600/12h"] = &models.CapRule{ResourceID: "nmr-600", SlotLabel: "12h"}
	clock := chicago(t)
	lookup := NewLookup(store, nil, zerolog.Nop())

	// Thursday; the ISO week starts Monday 2026-03-02.
	start := time.Date(2026, 3, 5, 14, 0, 0, 0, clock.Location())
	req := CapacityRequest{
		Owner: "a@lab.test", ResourceID: "nmr-600", Label: slots.Label3h,
		Start: start, End: start.Add(3 * time.Hour), Now: start.Add(-time.Hour),
	}

	e := NewCapacityEnforcer(lookup, heldStub{day: 0, week: 180}, clock)
	res, err := e.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("second 3h block should fit a 6h week: %v", err)
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, clock.Location()); !res.WeekStart.Equal(want) {
		t.Fatalf("week start=%s, want %s", res.WeekStart, want)
	}

	e = NewCapacityEnforcer(lookup, heldStub{day: 0, week: 360}, clock)
	if _, err := e.Check(context.Background(), req); bookerr.CodeOf(err) != bookerr.CodeCap {
		t.Fatalf("expected weekly CAP, got %v", err)
	}

	// Both caps zero means unlimited.
	req.Label = slots.Label12h
	req.End = start.Add(12 * time.Hour)
	e = NewCapacityEnforcer(lookup, heldStub{day: 10000, week: 10000}, clock)
	if _, err := e.Check(context.Background(), req); err != nil {
		t.Fatalf("zero caps must not limit: %v", err)
	}

	// No rule at all.
	req.Label = slots.Label24h
	if _, err := e.Check(context.Background(), req); err != nil {
		t.Fatalf("missing rule must not limit: %v", err)
	}
}

func TestCutoffEnforcer(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 2, 13, 55, 0, 0, time.UTC)
	start := now.Add(5 * time.Minute)

	r := &models.Reservation{
		ID: "r1", ResourceID: "nmr-600", StartsAt: start, EndsAt: start.Add(3 * time.Hour), SlotLabel: "3h",
		Status: models.StatusApproved,
	}

	tests := []struct {
		name   string
		cutoff *int
		r      *models.Reservation
		code   bookerr.Code
	}{
		{name: "cutoff 30 five minutes out", cutoff: intPtr(30), r: r, code: bookerr.CodeCutoff},
		{name: "cutoff 0 five minutes out", cutoff: intPtr(0), r: r},
		{name: "no rule", r: r},
		{
			name: "already ended",
			r:    &models.Reservation{ID: "r2", ResourceID: "nmr-600", StartsAt: now.Add(-3 * time.Hour), EndsAt: now, SlotLabel: "3h"},
			code: bookerr.CodePastCancel,
		},
		{
			name:   "label falls back to duration",
			cutoff: intPtr(30),
			r:      &models.Reservation{ID: "r3", ResourceID: "nmr-600", StartsAt: start, EndsAt: start.Add(3 * time.Hour)},
			code:   bookerr.CodeCutoff,
		},
		{
			name: "in progress with no rule",
			r:    &models.Reservation{ID: "r4", ResourceID: "nmr-600", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(2 * time.Hour), SlotLabel: "3h"},
			code: bookerr.CodeCutoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.cancels = map[string]*models.CancelRule{}
			if tt.cutoff != nil {
				store.cancels["nmr-600/3h"] = &models.CancelRule{ResourceID: "nmr-600", SlotLabel: "3h", CutoffMinutes: *tt.cutoff}
			}
			e := NewCutoffEnforcer(NewLookup(store, nil, zerolog.Nop()))
			res, err := e.Check(context.Background(), tt.r, now)
			if bookerr.CodeOf(err) != tt.code {
				t.Fatalf("code=%q, want %q (err=%v)", bookerr.CodeOf(err), tt.code, err)
			}
			if res.Label != slots.Label3h {
				t.Fatalf("label=%q", res.Label)
			}
			if tt.code == bookerr.CodeCutoff && tt.cutoff != nil {
				be, _ := bookerr.As(err)
				if be.Context["cutoff_minutes"] != 30 || be.Context["minutes_until_start"] != 5.0 {
					t.Fatalf("unexpected context: %+v", be.Context)
				}
			}
		})
	}
}

func TestLookupWritesValidateLabels(t *testing.T) {
	store := newFakeStore()
	l := NewLookup(store, nil, zerolog.Nop())
	ctx := context.Background()

	if err := l.SaveCapRule(ctx, &models.CapRule{ResourceID: "nmr-600", SlotLabel: "45m", PerDayHours: 1}); err == nil {
		t.Fatal("expected non-standard label to be rejected")
	}
	if err := l.SaveCapRule(ctx, &models.CapRule{ResourceID: "nmr-600", SlotLabel: "30m", PerDayHours: 1}); err != nil {
		t.Fatalf("save cap: %v", err)
	}
	if err := l.SaveExperimentPolicy(ctx, &models.ExperimentPolicy{}); err == nil {
		t.Fatal("expected empty experiment code to be rejected")
	}

	rule, err := l.CapRule(ctx, "nmr-600", slots.Label30m)
	if err != nil || rule == nil || rule.PerDayHours != 1 {
		t.Fatalf("read after write: %+v, %v", rule, err)
	}
	if len(store.saved) != 1 || store.saved[0] != "cap" {
		t.Fatalf("unexpected writes: %v", store.saved)
	}
}

func intPtr(v int) *int { return &v }
