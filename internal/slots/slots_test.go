package slots

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/friendsincode/slotbook/internal/civil"
)

type staticGrids map[string]Grid

func (s staticGrids) Grid(_ context.Context, resourceID string) (Grid, error) {
	g, ok := s[resourceID]
	if !ok {
		return nil, errors.New("unknown resource")
	}
	return g, nil
}

func chicago(t *testing.T) *civil.Adapter {
	t.Helper()
	a, err := civil.New("America/Chicago")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	return a
}

var narrowGrid = Grid{
	{From: "08:00", To: "20:00", Step: Label3h},
	{From: "20:00", To: "08:00", Step: Label12h},
}

func TestGenerateDefaultWeekday(t *testing.T) {
	a := chicago(t)
	gen := NewGenerator(a)
	day := civil.Date{Year: 2026, Month: time.March, Day: 4} // Wednesday

	got, err := gen.Generate(nil, day)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// 12 x 30m + 2 x 3h + 1 x 12h
	if len(got) != 15 {
		t.Fatalf("got %d templates, want 15", len(got))
	}
	first, last := got[0], got[len(got)-1]
	if a.ToCivil(first.Start) != day.At(8, 0) || first.Label != Label30m {
		t.Fatalf("first template=%s %s", a.ToCivil(first.Start), first.Label)
	}
	if a.ToCivil(got[12].Start) != day.At(14, 0) || got[12].Label != Label3h {
		t.Fatalf("template 12=%s %s", a.ToCivil(got[12].Start), got[12].Label)
	}
	if a.ToCivil(last.Start) != day.At(20, 0) || last.Label != Label12h {
		t.Fatalf("last template=%s %s", a.ToCivil(last.Start), last.Label)
	}
	if a.ToCivil(last.End) != civil.ShiftDate(day, 1).At(8, 0) {
		t.Fatalf("overnight slot ends %s, want next day 08:00", a.ToCivil(last.End))
	}
}

func TestGenerateWeekendSingleSlot(t *testing.T) {
	a := chicago(t)
	gen := NewGenerator(a)

	tests := []struct {
		name string
		day  civil.Date
		want time.Duration
	}{
		{"saturday", civil.Date{Year: 2026, Month: time.March, Day: 7}, 24 * time.Hour},
		{"spring forward sunday", civil.Date{Year: 2026, Month: time.March, Day: 8}, 23 * time.Hour},
		{"fall back sunday", civil.Date{Year: 2026, Month: time.November, Day: 1}, 25 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gen.Generate(narrowGrid, tt.day)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if len(got) != 1 || got[0].Label != Label24h {
				t.Fatalf("got %+v, want one 24h slot", got)
			}
			if a.ToCivil(got[0].Start) != tt.day.At(0, 0) {
				t.Fatalf("start=%s", a.ToCivil(got[0].Start))
			}
			if a.ToCivil(got[0].End) != civil.ShiftDate(tt.day, 1).At(0, 0) {
				t.Fatalf("end=%s", a.ToCivil(got[0].End))
			}
			if d := got[0].End.Sub(got[0].Start); d != tt.want {
				t.Fatalf("length=%s, want %s", d, tt.want)
			}
		})
	}
}

func TestGeneratePartitionsEveryDay(t *testing.T) {
	grids := []Grid{DefaultGrid, narrowGrid, {{From: "08:00", To: "08:00", Step: Label24h}}}
	for _, zone := range []string{"America/Chicago", "Europe/Berlin", "UTC"} {
		a, err := civil.New(zone)
		if err != nil {
			t.Fatalf("load %s: %v", zone, err)
		}
		gen := NewGenerator(a)
		day := civil.Date{Year: 2026, Month: time.January, Day: 1}
		for i := 0; i < 366; i++ {
			d := civil.ShiftDate(day, i)
			for gi, grid := range grids {
				got, err := gen.Generate(grid, d)
				if err != nil {
					t.Fatalf("%s %s grid %d: %v", zone, d, gi, err)
				}
				assertPartition(t, a, d, got)
			}
		}
	}
}

func assertPartition(t *testing.T, a *civil.Adapter, day civil.Date, got []Template) {
	t.Helper()
	if len(got) == 0 {
		t.Fatalf("%s: no templates", day)
	}
	wantStart, wantEnd := day.At(8, 0), civil.ShiftDate(day, 1).At(8, 0)
	if day.IsWeekend() {
		wantStart, wantEnd = day.At(0, 0), civil.ShiftDate(day, 1).At(0, 0)
	}
	if a.ToCivil(got[0].Start) != wantStart {
		t.Fatalf("%s: first start %s, want %s", day, a.ToCivil(got[0].Start), wantStart)
	}
	if a.ToCivil(got[len(got)-1].End) != wantEnd {
		t.Fatalf("%s: last end %s, want %s", day, a.ToCivil(got[len(got)-1].End), wantEnd)
	}
	for i, tpl := range got {
		if !tpl.End.After(tpl.Start) {
			t.Fatalf("%s: template %d is empty", day, i)
		}
		if i > 0 && !got[i-1].End.Equal(tpl.Start) {
			t.Fatalf("%s: gap or overlap between template %d and %d", day, i-1, i)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	gen := NewGenerator(chicago(t))
	day := civil.Date{Year: 2026, Month: time.October, Day: 30}

	first, err := gen.Generate(DefaultGrid, day)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := gen.Generate(DefaultGrid, day)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("regenerated templates differ")
	}
}

func TestGenerateRejectsInvalidGrid(t *testing.T) {
	gen := NewGenerator(chicago(t))
	bad := Grid{{From: "08:00", To: "14:00", Step: Label30m}}
	if _, err := gen.Generate(bad, civil.Date{Year: 2026, Month: time.March, Day: 4}); err == nil {
		t.Fatal("expected error for grid that does not cover the day")
	}
}

func TestMatcherExactOnly(t *testing.T) {
	a := chicago(t)
	gen := NewGenerator(a)
	m := NewMatcher(gen, staticGrids{"nmr600": nil, "nmr400": narrowGrid})
	ctx := context.Background()
	weekday := civil.Date{Year: 2026, Month: time.March, Day: 4}

	templates, err := gen.Generate(nil, weekday)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, tpl := range templates {
		label, ok, err := m.Match(ctx, "nmr600", tpl.Start, tpl.End)
		if err != nil || !ok || label != tpl.Label {
			t.Fatalf("exact template %s did not match: label=%s ok=%v err=%v", a.ToCivil(tpl.Start), label, ok, err)
		}
		for _, shift := range []time.Duration{-time.Minute, time.Minute} {
			if _, ok, _ := m.Match(ctx, "nmr600", tpl.Start.Add(shift), tpl.End.Add(shift)); ok {
				t.Fatalf("template %s shifted by %s matched", a.ToCivil(tpl.Start), shift)
			}
			if _, ok, _ := m.Match(ctx, "nmr600", tpl.Start, tpl.End.Add(shift)); ok {
				t.Fatalf("template %s with end shifted by %s matched", a.ToCivil(tpl.Start), shift)
			}
		}
	}

	// A 30m block is not a template of the narrow grid.
	start := a.ToInstant(weekday.At(8, 0))
	if _, ok, _ := m.Match(ctx, "nmr400", start, start.Add(30*time.Minute)); ok {
		t.Fatal("30m block matched a grid without 30m slots")
	}
}

func TestMatcherOvernightSlot(t *testing.T) {
	a := chicago(t)
	m := NewMatcher(NewGenerator(a), staticGrids{"nmr600": DefaultGrid})
	friday := civil.Date{Year: 2026, Month: time.March, Day: 6}

	start := a.ToInstant(friday.At(20, 0))
	end := a.ToInstant(civil.ShiftDate(friday, 1).At(8, 0))
	label, ok, err := m.Match(context.Background(), "nmr600", start, end)
	if err != nil || !ok {
		t.Fatalf("overnight slot did not match: ok=%v err=%v", ok, err)
	}
	if label != Label12h {
		t.Fatalf("label=%s, want 12h", label)
	}
}

func TestMatcherPropagatesGridError(t *testing.T) {
	m := NewMatcher(NewGenerator(chicago(t)), staticGrids{})
	now := time.Now()
	if _, _, err := m.Match(context.Background(), "missing", now, now.Add(time.Hour)); err == nil {
		t.Fatal("expected grid lookup error")
	}
}

func TestLabelForDuration(t *testing.T) {
	tests := []struct {
		minutes int
		want    Label
	}{
		{30, Label30m},
		{180, Label3h},
		{720, Label12h},
		{1440, Label24h},
		{90, Label("90m")},
		{1380, Label("1380m")},
	}
	for _, tt := range tests {
		if got := LabelForDuration(tt.minutes); got != tt.want {
			t.Fatalf("LabelForDuration(%d)=%s, want %s", tt.minutes, got, tt.want)
		}
	}
	if Label("90m").Standard() {
		t.Fatal("generic label reported as standard")
	}
}

func TestGridValidate(t *testing.T) {
	tests := []struct {
		name    string
		grid    Grid
		wantErr bool
	}{
		{"default", DefaultGrid, false},
		{"single overnight", Grid{{From: "08:00", To: "08:00", Step: Label12h}}, false},
		{"empty", Grid{}, true},
		{"gap", Grid{{From: "08:00", To: "14:00", Step: Label30m}, {From: "15:00", To: "08:00", Step: Label3h}}, true},
		{"wrong anchor", Grid{{From: "07:00", To: "07:00", Step: Label24h}}, true},
		{"step does not divide", Grid{{From: "08:00", To: "09:00", Step: Label3h}, {From: "09:00", To: "08:00", Step: Label30m}}, true},
		{"non-standard step", Grid{{From: "08:00", To: "08:00", Step: Label("90m")}}, true},
		{"bad clock", Grid{{From: "08:00", To: "25:00", Step: Label30m}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestGridValidateListsStandardLabels(t *testing.T) {
	err := Grid{{From: "08:00", To: "08:00", Step: Label("90m")}}.Validate()
	if err == nil {
		t.Fatal("expected error for 90m step")
	}
	for _, l := range StandardLabels {
		if !strings.Contains(err.Error(), string(l)) {
			t.Fatalf("error %q does not name %s", err, l)
		}
	}
}
