package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/friendsincode/slotbook/internal/auth"
	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/db"
	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/store"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var chicago = mustLoad("America/Chicago")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// local builds a wall-clock time in March 2026. The 2nd is a Monday.
func local(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, chicago)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	staff []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) OnPending(_ context.Context, _ *models.Reservation, staff []string) {
	r.mu.Lock()
	r.staff = staff
	r.mu.Unlock()
	r.add("pending")
}
func (r *recorder) OnApproved(context.Context, *models.Reservation) { r.add("approved") }
func (r *recorder) OnDenied(context.Context, *models.Reservation)   { r.add("denied") }
func (r *recorder) OnCanceled(context.Context, *models.Reservation) { r.add("canceled") }
func (r *recorder) OnCancelRequested(context.Context, *models.Reservation, []string) {
	r.add("cancel_requested")
}
func (r *recorder) OnCancelApproved(context.Context, *models.Reservation) { r.add("cancel_approved") }
func (r *recorder) OnCancelDenied(context.Context, *models.Reservation)   { r.add("cancel_denied") }
func (r *recorder) OnRemoved(context.Context, *models.Reservation, string) {
	r.add("removed")
}

type harness struct {
	engine *Engine
	store  *store.Store
	lookup *policy.Lookup
	bus    *events.Bus
	notes  *recorder

	mu    sync.Mutex
	now   time.Time
	reads int
}

func (h *harness) setNow(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = t
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	return h.now
}

func (h *harness) clockReads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

var (
	owner    = auth.Identity{Email: "ana@lab.test", Role: models.RoleUser}
	other    = auth.Identity{Email: "lee@lab.test", Role: models.RoleUser}
	staff    = auth.Identity{Email: "staff@lab.test", Role: models.RoleStaff}
	elevated = auth.Identity{Email: "boss@lab.test", Role: models.RoleElevated}
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	st := store.New(database, chicago, zerolog.Nop())
	lookup := policy.NewLookup(st, nil, zerolog.Nop())

	if err := lookup.SaveResource(ctx, &models.Resource{ID: "nmr-600", AdvanceDays: 14, Visible: true, ActiveProbe: "BBO"}); err != nil {
		t.Fatalf("save resource: %v", err)
	}
	if err := st.SaveUser(ctx, &models.User{Email: staff.Email, Role: models.RoleStaff}); err != nil {
		t.Fatalf("save staff: %v", err)
	}

	h := &harness{store: st, lookup: lookup, bus: events.NewBus(), notes: &recorder{}, now: local(2, 12, 0)}
	h.engine = New(Options{
		Store:    st,
		Policies: lookup,
		Clock:    civil.NewWithLocation(chicago, h.clock),
		Notifier: h.notes,
		Bus:      h.bus,
		Logger:   zerolog.Nop(),
	})
	return h
}

// threeHour is Tuesday's 14:00-17:00 slot of the default grid.
func threeHour() CreateRequest {
	return CreateRequest{ResourceID: "nmr-600", Start: local(3, 14, 0), End: local(3, 17, 0)}
}

func wantCode(t *testing.T, err error, code bookerr.Code) *bookerr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got success", code)
	}
	be, ok := bookerr.As(err)
	if !ok {
		t.Fatalf("expected %s, got %v", code, err)
	}
	if be.Code != code {
		t.Fatalf("code=%s, want %s (%v)", be.Code, code, err)
	}
	return be
}

func TestCreateApprovedByDefault(t *testing.T) {
	h := newHarness(t)
	sub := h.bus.Subscribe(events.EventReservationCreated)

	r, err := h.engine.Create(context.Background(), owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != models.StatusApproved {
		t.Fatalf("status=%s, want APPROVED", r.Status)
	}
	if r.SlotLabel != "3h" || r.OwnerEmail != owner.Email || r.Actor != owner.Email {
		t.Fatalf("unexpected reservation %+v", r)
	}

	select {
	case p := <-sub:
		if p["reservation_id"] != r.ID {
			t.Fatalf("event for %v, want %s", p["reservation_id"], r.ID)
		}
	default:
		t.Fatal("no reservation.created event")
	}
	if got := h.notes.got(); len(got) != 1 || got[0] != "approved" {
		t.Fatalf("notifications=%v", got)
	}
}

func TestCreateOnBehalfRecordsActor(t *testing.T) {
	h := newHarness(t)
	id := staff
	id.ActingAs = owner.Email

	r, err := h.engine.Create(context.Background(), id, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.OwnerEmail != owner.Email || r.Actor != staff.Email {
		t.Fatalf("owner=%s actor=%s", r.OwnerEmail, r.Actor)
	}

	bad := other
	bad.ActingAs = owner.Email
	_, err = h.engine.Create(context.Background(), bad, threeHour())
	wantCode(t, err, bookerr.CodeForbidden)
}

func TestCreateGates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		id    auth.Identity
		req   func() CreateRequest
		want  bookerr.Code
	}{
		{
			name: "end before start",
			req: func() CreateRequest {
				r := threeHour()
				r.Start, r.End = r.End, r.Start
				return r
			},
			want: bookerr.CodeBadRange,
		},
		{
			name: "already ended",
			req: func() CreateRequest {
				return CreateRequest{ResourceID: "nmr-600", Start: local(2, 8, 0), End: local(2, 8, 30)}
			},
			want: bookerr.CodePastTime,
		},
		{
			name: "unknown resource",
			req: func() CreateRequest {
				r := threeHour()
				r.ResourceID = "epr-9"
				return r
			},
			want: bookerr.CodeNotFound,
		},
		{
			name: "resource down",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveResource(context.Background(), &models.Resource{ID: "nmr-600", AdvanceDays: 14, Visible: true, Status: models.ResourceDown}); err != nil {
					t.Fatalf("save resource: %v", err)
				}
			},
			req:  threeHour,
			want: bookerr.CodeNotAllowed,
		},
		{
			name: "hidden resource",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveResource(context.Background(), &models.Resource{ID: "nmr-600", AdvanceDays: 14}); err != nil {
					t.Fatalf("save resource: %v", err)
				}
			},
			req:  threeHour,
			want: bookerr.CodeNotAllowed,
		},
		{
			name: "down resource refused even for elevated",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveResource(context.Background(), &models.Resource{ID: "nmr-600", AdvanceDays: 14, Visible: true, Status: models.ResourceDown}); err != nil {
					t.Fatalf("save resource: %v", err)
				}
			},
			id:   elevated,
			req:  threeHour,
			want: bookerr.CodeNotAllowed,
		},
		{
			name: "unknown billing type",
			req: func() CreateRequest {
				r := threeHour()
				r.BillingType = "grant"
				return r
			},
			want: bookerr.CodeBadBilling,
		},
		{
			name: "client without access",
			req: func() CreateRequest {
				r := threeHour()
				r.BillingType = models.BillingClient
				r.BillingRef = "acme"
				return r
			},
			want: bookerr.CodeNotAllowed,
		},
		{
			name: "misaligned by a minute",
			req: func() CreateRequest {
				r := threeHour()
				r.Start, r.End = r.Start.Add(time.Minute), r.End.Add(time.Minute)
				return r
			},
			want: bookerr.CodeSlotAlignment,
		},
		{
			name: "misalignment reported before advance window",
			req: func() CreateRequest {
				return CreateRequest{ResourceID: "nmr-600", Start: local(24, 14, 1), End: local(24, 17, 1)}
			},
			want: bookerr.CodeSlotAlignment,
		},
		{
			name: "beyond advance window",
			req: func() CreateRequest {
				return CreateRequest{ResourceID: "nmr-600", Start: local(24, 14, 0), End: local(24, 17, 0)}
			},
			want: bookerr.CodeAdvanceWindow,
		},
		{
			name: "daily cap",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveCapRule(context.Background(), &models.CapRule{ResourceID: "nmr-600", SlotLabel: "3h", PerDayHours: 2}); err != nil {
					t.Fatalf("save cap: %v", err)
				}
			},
			req:  threeHour,
			want: bookerr.CodeCap,
		},
		{
			name: "cap reported before maintenance",
			setup: func(t *testing.T, h *harness) {
				ctx := context.Background()
				if err := h.lookup.SaveCapRule(ctx, &models.CapRule{ResourceID: "nmr-600", SlotLabel: "3h", PerDayHours: 2}); err != nil {
					t.Fatalf("save cap: %v", err)
				}
				if err := h.store.SaveMaintenanceWindow(ctx, &models.MaintenanceWindow{ResourceID: "nmr-600", StartsAt: local(3, 15, 0), EndsAt: local(3, 16, 0)}); err != nil {
					t.Fatalf("save maintenance: %v", err)
				}
			},
			req:  threeHour,
			want: bookerr.CodeCap,
		},
		{
			name: "maintenance",
			setup: func(t *testing.T, h *harness) {
				if err := h.store.SaveMaintenanceWindow(context.Background(), &models.MaintenanceWindow{ResourceID: "nmr-600", StartsAt: local(3, 15, 0), EndsAt: local(3, 16, 0), Reason: "helium fill"}); err != nil {
					t.Fatalf("save maintenance: %v", err)
				}
			},
			req:  threeHour,
			want: bookerr.CodeMaintenance,
		},
		{
			name: "training",
			setup: func(t *testing.T, h *harness) {
				if err := h.store.SaveTrainingWindow(context.Background(), &models.TrainingWindow{ResourceID: "nmr-600", StartsAt: local(3, 16, 0), EndsAt: local(3, 18, 0)}); err != nil {
					t.Fatalf("save training: %v", err)
				}
			},
			req:  threeHour,
			want: bookerr.CodeTraining,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(t, h)
			}
			id := tt.id
			if id.Email == "" {
				id = owner
			}
			req := tt.req()
			_, err := h.engine.Create(context.Background(), id, req)
			be := wantCode(t, err, tt.want)
			if be.Context["resource"] != req.ResourceID {
				t.Fatalf("context resource=%v, want %s", be.Context["resource"], req.ResourceID)
			}
			if _, ok := be.Context["start"]; !ok {
				t.Fatalf("context lacks requested start: %v", be.Context)
			}
		})
	}
}

func TestElevatedBypassesAdvanceWindow(t *testing.T) {
	h := newHarness(t)
	req := CreateRequest{ResourceID: "nmr-600", Start: local(24, 14, 0), End: local(24, 17, 0)}

	_, err := h.engine.Create(context.Background(), staff, req)
	wantCode(t, err, bookerr.CodeAdvanceWindow)

	r, err := h.engine.Create(context.Background(), elevated, req)
	if err != nil {
		t.Fatalf("elevated create: %v", err)
	}
	if r.Status != models.StatusApproved {
		t.Fatalf("status=%s", r.Status)
	}
}

func TestCreatePending(t *testing.T) {
	yes := true
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		req   CreateRequest
		want  models.ReservationStatus
	}{
		{
			name: "experiment requires approval",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveExperimentPolicy(context.Background(), &models.ExperimentPolicy{Code: "CRYO", RequiresApproval: true}); err != nil {
					t.Fatal(err)
				}
			},
			req:  CreateRequest{ExperimentCode: "CRYO"},
			want: models.StatusPending,
		},
		{
			name: "resource override waives approval",
			setup: func(t *testing.T, h *harness) {
				ctx := context.Background()
				no := false
				if err := h.lookup.SaveExperimentPolicy(ctx, &models.ExperimentPolicy{Code: "CRYO", RequiresApproval: true}); err != nil {
					t.Fatal(err)
				}
				if err := h.lookup.SaveResourceExperimentPolicy(ctx, &models.ResourceExperimentPolicy{ResourceID: "nmr-600", ExperimentCode: "CRYO", RequiresApproval: &no}); err != nil {
					t.Fatal(err)
				}
			},
			req:  CreateRequest{ExperimentCode: "CRYO"},
			want: models.StatusApproved,
		},
		{
			name: "resource override demands approval",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveResourceExperimentPolicy(context.Background(), &models.ResourceExperimentPolicy{ResourceID: "nmr-600", ExperimentCode: "SOLID", RequiresApproval: &yes}); err != nil {
					t.Fatal(err)
				}
			},
			req:  CreateRequest{ExperimentCode: "SOLID"},
			want: models.StatusPending,
		},
		{
			name: "probe swap needs activation",
			setup: func(t *testing.T, h *harness) {
				if err := h.store.SaveResourceProbe(context.Background(), &models.ResourceProbe{ResourceID: "nmr-600", Probe: "CRYOPROBE", RequiresActivation: true}); err != nil {
					t.Fatal(err)
				}
			},
			req:  CreateRequest{Probe: "CRYOPROBE"},
			want: models.StatusPending,
		},
		{
			name: "limited resource needs review",
			setup: func(t *testing.T, h *harness) {
				if err := h.lookup.SaveResource(context.Background(), &models.Resource{ID: "nmr-600", AdvanceDays: 14, Visible: true, Status: models.ResourceLimited}); err != nil {
					t.Fatal(err)
				}
			},
			want: models.StatusPending,
		},
		{
			name: "active probe needs nothing",
			setup: func(t *testing.T, h *harness) {
				if err := h.store.SaveResourceProbe(context.Background(), &models.ResourceProbe{ResourceID: "nmr-600", Probe: "BBO", RequiresActivation: true}); err != nil {
					t.Fatal(err)
				}
			},
			req:  CreateRequest{Probe: "BBO"},
			want: models.StatusApproved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)
			req := threeHour()
			req.ExperimentCode, req.Probe = tt.req.ExperimentCode, tt.req.Probe

			r, err := h.engine.Create(context.Background(), owner, req)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if r.Status != tt.want {
				t.Fatalf("status=%s, want %s", r.Status, tt.want)
			}
			if tt.want == models.StatusPending {
				h.notes.mu.Lock()
				got := h.notes.staff
				h.notes.mu.Unlock()
				if len(got) != 1 || got[0] != staff.Email {
					t.Fatalf("pending notification staff=%v", got)
				}
			}
		})
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*models.Reservation
		losers  []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.engine.Create(ctx, owner, threeHour())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, err)
				return
			}
			winners = append(winners, r)
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners=%d, want 1 (errors: %v)", len(winners), losers)
	}
	for _, err := range losers {
		be := wantCode(t, err, bookerr.CodeOverlap)
		competing, ok := be.Context["competing"].([]Competing)
		if !ok || len(competing) != 1 || competing[0].ID != winners[0].ID {
			t.Fatalf("competing=%v, want winner %s", be.Context["competing"], winners[0].ID)
		}
	}
}

func TestApprovalLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveExperimentPolicy(ctx, &models.ExperimentPolicy{Code: "CRYO", RequiresApproval: true, RequiresCancelApproval: true}); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	req := threeHour()
	req.ExperimentCode = "CRYO"
	r, err := h.engine.Create(ctx, owner, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != models.StatusPending {
		t.Fatalf("create status=%s, want PENDING", r.Status)
	}

	_, err = h.engine.Approve(ctx, owner, r.ID)
	wantCode(t, err, bookerr.CodeForbidden)

	r, err = h.engine.Approve(ctx, staff, r.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if r.Status != models.StatusApproved || r.ReviewedBy != staff.Email {
		t.Fatalf("after approve: status=%s reviewed_by=%s", r.Status, r.ReviewedBy)
	}

	_, err = h.engine.Approve(ctx, staff, r.ID)
	wantCode(t, err, bookerr.CodeNotPending)

	_, err = h.engine.Cancel(ctx, other, r.ID, "")
	wantCode(t, err, bookerr.CodeForbidden)

	r, err = h.engine.Cancel(ctx, owner, r.ID, "sample degraded")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.Status != models.StatusCancelPending {
		t.Fatalf("after cancel: status=%s, want CANCEL_PENDING", r.Status)
	}

	_, err = h.engine.Cancel(ctx, owner, r.ID, "again")
	wantCode(t, err, bookerr.CodeNotApproved)

	r, err = h.engine.DenyCancel(ctx, staff, r.ID)
	if err != nil {
		t.Fatalf("deny cancel: %v", err)
	}
	if r.Status != models.StatusApproved {
		t.Fatalf("after deny cancel: status=%s, want APPROVED", r.Status)
	}

	r, err = h.engine.Cancel(ctx, owner, r.ID, "sample degraded")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	r, err = h.engine.ApproveCancel(ctx, staff, r.ID)
	if err != nil {
		t.Fatalf("approve cancel: %v", err)
	}
	if r.Status != models.StatusCanceled || r.CanceledBy != staff.Email {
		t.Fatalf("after approve cancel: status=%s canceled_by=%s", r.Status, r.CanceledBy)
	}

	want := []string{"pending", "approved", "cancel_requested", "cancel_denied", "cancel_requested", "cancel_approved"}
	got := h.notes.got()
	if len(got) != len(want) {
		t.Fatalf("notifications=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notifications=%v, want %v", got, want)
		}
	}
}

func TestDenyPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveExperimentPolicy(ctx, &models.ExperimentPolicy{Code: "CRYO", RequiresApproval: true}); err != nil {
		t.Fatal(err)
	}
	req := threeHour()
	req.ExperimentCode = "CRYO"
	r, err := h.engine.Create(ctx, owner, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r, err = h.engine.Deny(ctx, staff, r.ID, "no cryo time this week")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if r.Status != models.StatusCanceled || r.CancelReason != "no cryo time this week" {
		t.Fatalf("after deny: %+v", r)
	}

	// The window is free again.
	if _, err := h.engine.Create(ctx, other, threeHour()); err != nil {
		t.Fatalf("rebook after deny: %v", err)
	}
}

func TestCancelCutoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveCancelRule(ctx, &models.CancelRule{ResourceID: "nmr-600", SlotLabel: "30m", CutoffMinutes: 30}); err != nil {
		t.Fatalf("save cancel rule: %v", err)
	}

	h.setNow(local(2, 12, 25))
	r, err := h.engine.Create(ctx, owner, CreateRequest{ResourceID: "nmr-600", Start: local(2, 12, 30), End: local(2, 13, 0)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.engine.Cancel(ctx, owner, r.ID, "")
	be := wantCode(t, err, bookerr.CodeCutoff)
	if be.Context["cutoff_minutes"] != 30 {
		t.Fatalf("cutoff context=%v", be.Context)
	}

	if err := h.lookup.SaveCancelRule(ctx, &models.CancelRule{ResourceID: "nmr-600", SlotLabel: "30m", CutoffMinutes: 0}); err != nil {
		t.Fatalf("relax cancel rule: %v", err)
	}
	r, err = h.engine.Cancel(ctx, owner, r.ID, "")
	if err != nil {
		t.Fatalf("cancel with cutoff 0: %v", err)
	}
	if r.Status != models.StatusCanceled {
		t.Fatalf("status=%s, want CANCELED", r.Status)
	}
}

func TestCancelAfterEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.engine.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.setNow(local(3, 18, 0))
	_, err = h.engine.Cancel(ctx, owner, r.ID, "")
	wantCode(t, err, bookerr.CodePastCancel)
}

func TestRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	removed := h.bus.Subscribe(events.EventReservationRemoved)

	r, err := h.engine.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.engine.Remove(ctx, owner, r.ID, "mine")
	wantCode(t, err, bookerr.CodeForbidden)

	_, err = h.engine.Remove(ctx, staff, r.ID, "   ")
	wantCode(t, err, bookerr.CodeReasonRequired)

	// Past the end: cancel is refused but removal goes through.
	h.setNow(local(3, 18, 0))
	r, err = h.engine.Remove(ctx, staff, r.ID, "no-show")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.Status != models.StatusCanceled || r.CancelReason != "no-show" {
		t.Fatalf("after remove: %+v", r)
	}

	r, err = h.engine.Remove(ctx, elevated, r.ID, "duplicate cleanup")
	if err != nil {
		t.Fatalf("remove canceled: %v", err)
	}
	if r.Status != models.StatusCanceled {
		t.Fatalf("status=%s", r.Status)
	}

	var reasons []string
	for len(reasons) < 2 {
		select {
		case p := <-removed:
			reasons = append(reasons, p["reason"].(string))
		default:
			t.Fatalf("removed events=%v, want 2", reasons)
		}
	}
	if reasons[1] != "duplicate cleanup" {
		t.Fatalf("second removal reason=%q", reasons[1])
	}

	count := 0
	for _, c := range h.notes.got() {
		if c == "removed" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("removed notifications=%d, want 1", count)
	}
}

func TestRejectionsArePublished(t *testing.T) {
	h := newHarness(t)
	rejected := h.bus.Subscribe(events.EventBookingRejected)

	req := threeHour()
	req.End = req.Start
	_, err := h.engine.Create(context.Background(), owner, req)
	wantCode(t, err, bookerr.CodeBadRange)

	select {
	case p := <-rejected:
		if p["code"] != string(bookerr.CodeBadRange) || p["operation"] != string(ActionCreate) {
			t.Fatalf("unexpected rejection payload %v", p)
		}
		if p["resource_id"] != "nmr-600" || p["actor"] != owner.Email {
			t.Fatalf("rejection lacks resource or actor: %v", p)
		}
	default:
		t.Fatal("no booking.rejected event")
	}
}

func TestGetAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mine, err := h.engine.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.Create(ctx, other, CreateRequest{ResourceID: "nmr-600", Start: local(3, 17, 0), End: local(3, 20, 0)}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	if _, err := h.engine.Get(ctx, other, mine.ID); !errors.Is(err, &bookerr.Error{Code: bookerr.CodeForbidden}) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if _, err := h.engine.Get(ctx, owner, "missing"); !errors.Is(err, bookerr.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	own, err := h.engine.List(ctx, owner, store.ReservationFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(own) != 1 || own[0].ID != mine.ID {
		t.Fatalf("owner sees %d reservations", len(own))
	}
	all, err := h.engine.List(ctx, staff, store.ReservationFilter{ResourceID: "nmr-600"})
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("staff sees %d reservations, want 2", len(all))
	}
}

func TestSlots(t *testing.T) {
	h := newHarness(t)
	day, _ := civil.ParseDate("2026-03-03")
	templates, err := h.engine.Slots(context.Background(), "nmr-600", day)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	// 12 x 30m, 2 x 3h, 1 x 12h
	if len(templates) != 15 {
		t.Fatalf("templates=%d, want 15", len(templates))
	}
	if _, err := h.engine.Slots(context.Background(), "epr-9", day); !errors.Is(err, bookerr.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestStaffBooksHiddenResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveResource(ctx, &models.Resource{ID: "nmr-600", AdvanceDays: 14}); err != nil {
		t.Fatalf("save resource: %v", err)
	}

	_, err := h.engine.Create(ctx, owner, threeHour())
	be := wantCode(t, err, bookerr.CodeNotAllowed)
	if be.Context["visible"] != false {
		t.Fatalf("context=%v", be.Context)
	}

	r, err := h.engine.Create(ctx, staff, threeHour())
	if err != nil {
		t.Fatalf("staff create: %v", err)
	}
	if r.Status != models.StatusApproved {
		t.Fatalf("status=%s", r.Status)
	}
}

func TestDownResourceContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveResource(ctx, &models.Resource{ID: "nmr-600", AdvanceDays: 14, Visible: true, Status: models.ResourceDown}); err != nil {
		t.Fatalf("save resource: %v", err)
	}
	_, err := h.engine.Create(ctx, owner, threeHour())
	be := wantCode(t, err, bookerr.CodeNotAllowed)
	if be.Context["status"] != string(models.ResourceDown) || be.Context["resource"] != "nmr-600" {
		t.Fatalf("context=%v", be.Context)
	}
}

func TestCreatePublishesDiagnostics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveCapRule(ctx, &models.CapRule{ResourceID: "nmr-600", SlotLabel: "3h", PerDayHours: 6, PerWeekHours: 12}); err != nil {
		t.Fatalf("save cap: %v", err)
	}
	created := h.bus.Subscribe(events.EventReservationCreated)

	ctx = auth.WithClient(ctx, auth.Client{IPAddress: "10.0.0.7:5123", UserAgent: "kiosk/2.1"})
	if _, err := h.engine.Create(ctx, owner, threeHour()); err != nil {
		t.Fatalf("create: %v", err)
	}

	var p events.Payload
	select {
	case p = <-created:
	default:
		t.Fatal("no reservation.created event")
	}
	capacity, ok := p["capacity"].(policy.CapacityResult)
	if !ok {
		t.Fatalf("capacity=%T", p["capacity"])
	}
	if capacity.BlockMinutes != 180 || capacity.PerDayHours != 6 || capacity.PerWeekHours != 12 {
		t.Fatalf("capacity=%+v", capacity)
	}
	advance, ok := p["advance"].(policy.AdvanceResult)
	if !ok || advance.AdvanceDays != 14 || advance.DaysAhead <= 1 {
		t.Fatalf("advance=%+v", p["advance"])
	}
	if p["ip_address"] != "10.0.0.7:5123" || p["user_agent"] != "kiosk/2.1" {
		t.Fatalf("client fields missing: %v", p)
	}
}

func TestCancelPublishesCutoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.lookup.SaveCancelRule(ctx, &models.CancelRule{ResourceID: "nmr-600", SlotLabel: "3h", CutoffMinutes: 60}); err != nil {
		t.Fatalf("save cancel rule: %v", err)
	}
	canceled := h.bus.Subscribe(events.EventReservationCanceled)

	r, err := h.engine.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.Cancel(ctx, owner, r.ID, "plans changed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case p := <-canceled:
		cut, ok := p["cutoff"].(policy.CutoffResult)
		if !ok {
			t.Fatalf("cutoff=%T", p["cutoff"])
		}
		if cut.CutoffMinutes != 60 || cut.Label != "3h" || cut.MinutesUntilStart != 26*60 {
			t.Fatalf("cutoff=%+v", cut)
		}
	default:
		t.Fatal("no reservation.canceled event")
	}
}

func TestTransitionsReadClockOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.engine.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	before := h.clockReads()
	r, err = h.engine.Cancel(ctx, owner, r.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := h.clockReads() - before; n != 1 {
		t.Fatalf("cancel read the clock %d times", n)
	}
	if r.CanceledAt == nil || !r.CanceledAt.Equal(local(2, 12, 0)) {
		t.Fatalf("canceled_at=%v", r.CanceledAt)
	}
}

type auditFunc func(ctx context.Context, p events.Payload) error

func (f auditFunc) Record(ctx context.Context, p events.Payload) error { return f(ctx, p) }

func TestRemoveCanceledIsAuditedSynchronously(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var recorded []events.Payload
	var fail error
	eng := New(Options{
		Store:    h.store,
		Policies: h.lookup,
		Clock:    civil.NewWithLocation(chicago, h.clock),
		Bus:      h.bus,
		Audit: auditFunc(func(_ context.Context, p events.Payload) error {
			if fail != nil {
				return fail
			}
			recorded = append(recorded, p)
			return nil
		}),
		Logger: zerolog.Nop(),
	})
	// A full subscriber makes the bus drop the second removal event.
	full := h.bus.SubscribeBuffered(1, events.EventReservationRemoved)
	defer h.bus.Unsubscribe(full)

	r, err := eng.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.Remove(ctx, staff, r.ID, "no-show"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(recorded) != 0 {
		t.Fatalf("status change recorded synchronously: %v", recorded)
	}

	if _, err := eng.Remove(ctx, staff, r.ID, "duplicate cleanup"); err != nil {
		t.Fatalf("remove canceled: %v", err)
	}
	if h.bus.Dropped() == 0 {
		t.Fatal("expected the bus to drop the event")
	}
	if len(recorded) != 1 {
		t.Fatalf("recorded=%d, want 1", len(recorded))
	}
	p := recorded[0]
	if p.Type() != events.EventReservationRemoved || p["reason"] != "duplicate cleanup" || p["actor"] != staff.Email {
		t.Fatalf("recorded payload=%v", p)
	}

	fail = errors.New("disk full")
	_, err = eng.Remove(ctx, staff, r.ID, "again")
	if !errors.Is(err, fail) {
		t.Fatalf("err=%v, want audit failure", err)
	}
}

func TestPreconditionListsAllowedSources(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.engine.Create(ctx, owner, threeHour())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = h.engine.Approve(ctx, staff, r.ID)
	be := wantCode(t, err, bookerr.CodeNotPending)
	from, ok := be.Context["allowed_from"].([]models.ReservationStatus)
	if !ok || len(from) != 1 || from[0] != models.StatusPending {
		t.Fatalf("allowed_from=%v", be.Context["allowed_from"])
	}
}
