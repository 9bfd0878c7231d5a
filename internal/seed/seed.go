/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package seed loads resources, policies, windows, clients and users from a
// YAML file.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/slots"
	"github.com/friendsincode/slotbook/internal/store"
)

// localLayout is the wall-clock format accepted for window times.
const localLayout = "2006-01-02 15:04"

// File is the seed document.
type File struct {
	Resources   []Resource                        `yaml:"resources"`
	Caps        []models.CapRule                  `yaml:"caps"`
	CancelRules []models.CancelRule               `yaml:"cancel_rules"`
	Experiments []models.ExperimentPolicy         `yaml:"experiments"`
	Overrides   []models.ResourceExperimentPolicy `yaml:"experiment_overrides"`
	Probes      []models.ResourceProbe            `yaml:"probes"`
	Maintenance []Window                          `yaml:"maintenance"`
	Training    []Window                          `yaml:"training"`
	Clients     []Client                          `yaml:"clients"`
	Users       []User                            `yaml:"users"`
}

// Resource is a bookable instrument with an optional slot grid.
type Resource struct {
	ID           string                `yaml:"id"`
	Name         string                `yaml:"name"`
	AdvanceDays  int                   `yaml:"advance_days"`
	Visible      *bool                 `yaml:"visible"`
	Status       models.ResourceStatus `yaml:"status"`
	ActiveProbe  string                `yaml:"active_probe"`
	DefaultProbe string                `yaml:"default_probe"`
	Grid         slots.Grid            `yaml:"grid"`
}

// Window is a maintenance or training window. Times are RFC 3339 or local
// wall-clock "YYYY-MM-DD HH:MM".
type Window struct {
	Resource string `yaml:"resource"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	RRule    string `yaml:"rrule"`
	Reason   string `yaml:"reason"`
	Trainer  string `yaml:"trainer"`
}

// Client is an external organization and the resources it may book.
type Client struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Active    *bool    `yaml:"active"`
	Resources []string `yaml:"resources"`
}

// User is a person known to the installation.
type User struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

// Summary counts what a load wrote.
type Summary struct {
	Resources int `json:"resources"`
	Policies  int `json:"policies"`
	Probes    int `json:"probes"`
	Windows   int `json:"windows"`
	Clients   int `json:"clients"`
	Users     int `json:"users"`
}

// FromYAML parses and validates a seed document. Unknown keys are errors.
func FromYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("invalid seed yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// FromFile reads a seed document from path.
func FromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return FromYAML(data)
}

// Validate checks references and labels without touching the database.
func (f *File) Validate() error {
	var errs []error
	known := make(map[string]bool, len(f.Resources))
	for i, r := range f.Resources {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("resources[%d]: id is required", i))
			continue
		}
		known[r.ID] = true
		if r.AdvanceDays < 0 {
			errs = append(errs, fmt.Errorf("resource %s: advance_days must not be negative", r.ID))
		}
		if len(r.Grid) > 0 {
			if err := r.Grid.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("resource %s: %w", r.ID, err))
			}
		}
	}

	ref := func(what, id string) {
		if !known[id] {
			errs = append(errs, fmt.Errorf("%s: unknown resource %q", what, id))
		}
	}
	label := func(what, l string) {
		if !slots.Label(l).Standard() {
			errs = append(errs, fmt.Errorf("%s: unknown slot label %q", what, l))
		}
	}
	for _, c := range f.Caps {
		ref("caps", c.ResourceID)
		label("caps", c.SlotLabel)
	}
	for _, c := range f.CancelRules {
		ref("cancel_rules", c.ResourceID)
		label("cancel_rules", c.SlotLabel)
	}
	for i, e := range f.Experiments {
		if strings.TrimSpace(e.Code) == "" {
			errs = append(errs, fmt.Errorf("experiments[%d]: code is required", i))
		}
	}
	for _, o := range f.Overrides {
		ref("experiment_overrides", o.ResourceID)
	}
	for _, p := range f.Probes {
		ref("probes", p.ResourceID)
	}
	for _, w := range append(append([]Window{}, f.Maintenance...), f.Training...) {
		ref("window", w.Resource)
	}
	for _, c := range f.Clients {
		for _, r := range c.Resources {
			ref("client "+c.ID, r)
		}
	}
	for i, u := range f.Users {
		if !strings.Contains(u.Email, "@") {
			errs = append(errs, fmt.Errorf("users[%d]: invalid email %q", i, u.Email))
		}
	}
	return errors.Join(errs...)
}

// Loader writes a seed document through the store and the policy lookup.
type Loader struct {
	store    *store.Store
	policies *policy.Lookup
	loc      *time.Location
	logger   zerolog.Logger
}

// NewLoader creates a loader. Local window times are read in loc.
func NewLoader(st *store.Store, policies *policy.Lookup, loc *time.Location, logger zerolog.Logger) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	return &Loader{store: st, policies: policies, loc: loc, logger: logger.With().Str("component", "seed").Logger()}
}

// Apply upserts everything in f. Resources go first so later rows can
// reference them.
func (l *Loader) Apply(ctx context.Context, f *File) (Summary, error) {
	var sum Summary

	for _, r := range f.Resources {
		res := &models.Resource{
			ID:           r.ID,
			Name:         r.Name,
			AdvanceDays:  r.AdvanceDays,
			Visible:      r.Visible == nil || *r.Visible,
			Status:       r.Status,
			ActiveProbe:  r.ActiveProbe,
			DefaultProbe: r.DefaultProbe,
			SlotGrid:     r.Grid,
		}
		if res.Status == "" {
			res.Status = models.ResourceOperational
		}
		if err := l.policies.SaveResource(ctx, res); err != nil {
			return sum, fmt.Errorf("resource %s: %w", r.ID, err)
		}
		sum.Resources++
	}

	for i := range f.Caps {
		if err := l.policies.SaveCapRule(ctx, &f.Caps[i]); err != nil {
			return sum, fmt.Errorf("cap %s/%s: %w", f.Caps[i].ResourceID, f.Caps[i].SlotLabel, err)
		}
		sum.Policies++
	}
	for i := range f.CancelRules {
		if err := l.policies.SaveCancelRule(ctx, &f.CancelRules[i]); err != nil {
			return sum, fmt.Errorf("cancel rule %s/%s: %w", f.CancelRules[i].ResourceID, f.CancelRules[i].SlotLabel, err)
		}
		sum.Policies++
	}
	for i := range f.Experiments {
		if err := l.policies.SaveExperimentPolicy(ctx, &f.Experiments[i]); err != nil {
			return sum, fmt.Errorf("experiment %s: %w", f.Experiments[i].Code, err)
		}
		sum.Policies++
	}
	for i := range f.Overrides {
		if err := l.policies.SaveResourceExperimentPolicy(ctx, &f.Overrides[i]); err != nil {
			return sum, fmt.Errorf("experiment override %s/%s: %w", f.Overrides[i].ResourceID, f.Overrides[i].ExperimentCode, err)
		}
		sum.Policies++
	}

	for i := range f.Probes {
		if err := l.store.SaveResourceProbe(ctx, &f.Probes[i]); err != nil {
			return sum, fmt.Errorf("probe %s/%s: %w", f.Probes[i].ResourceID, f.Probes[i].Probe, err)
		}
		sum.Probes++
	}

	for _, w := range f.Maintenance {
		start, end, err := l.window(w)
		if err != nil {
			return sum, fmt.Errorf("maintenance on %s: %w", w.Resource, err)
		}
		mw := &models.MaintenanceWindow{ResourceID: w.Resource, StartsAt: start, EndsAt: end, RRule: w.RRule, Reason: w.Reason}
		if err := l.store.SaveMaintenanceWindow(ctx, mw); err != nil {
			return sum, err
		}
		sum.Windows++
	}
	for _, w := range f.Training {
		start, end, err := l.window(w)
		if err != nil {
			return sum, fmt.Errorf("training on %s: %w", w.Resource, err)
		}
		tw := &models.TrainingWindow{ResourceID: w.Resource, StartsAt: start, EndsAt: end, Trainer: w.Trainer, Note: w.Reason}
		if err := l.store.SaveTrainingWindow(ctx, tw); err != nil {
			return sum, err
		}
		sum.Windows++
	}

	for _, c := range f.Clients {
		client := &models.Client{ID: c.ID, Name: c.Name, Active: c.Active == nil || *c.Active}
		if err := l.store.SaveClient(ctx, client); err != nil {
			return sum, err
		}
		for _, r := range c.Resources {
			if err := l.store.GrantClientAccess(ctx, c.ID, r); err != nil {
				return sum, err
			}
		}
		sum.Clients++
	}

	for _, u := range f.Users {
		user := &models.User{Email: strings.ToLower(strings.TrimSpace(u.Email)), Name: u.Name, Role: models.Role(u.Role)}
		if err := l.store.SaveUser(ctx, user); err != nil {
			return sum, err
		}
		sum.Users++
	}

	l.logger.Info().
		Int("resources", sum.Resources).
		Int("policies", sum.Policies).
		Int("probes", sum.Probes).
		Int("windows", sum.Windows).
		Int("clients", sum.Clients).
		Int("users", sum.Users).
		Msg("seed applied")
	return sum, nil
}

func (l *Loader) window(w Window) (time.Time, time.Time, error) {
	start, err := l.parseTime(w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := l.parseTime(w.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	return start, end, nil
}

func (l *Loader) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localLayout, s, l.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor %q", s, localLayout)
	}
	return t, nil
}
