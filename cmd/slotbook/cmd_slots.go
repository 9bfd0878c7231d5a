/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/db"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/reservation"
	"github.com/friendsincode/slotbook/internal/store"
)

var (
	slotsResource string
	slotsDate     string
	slotsJSON     bool
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Print the slot templates of a resource for one day",
	Long: `Print the bookable slot templates of a resource on a local date.

Examples:
  slotbook slots --resource nmr-600 --date 2026-03-08
  slotbook slots --resource nmr-600 --date 2026-03-08 --json
`,
	RunE: runSlots,
}

func init() {
	slotsCmd.Flags().StringVar(&slotsResource, "resource", "", "Resource ID")
	slotsCmd.Flags().StringVar(&slotsDate, "date", "", "Local date (YYYY-MM-DD)")
	slotsCmd.Flags().BoolVar(&slotsJSON, "json", false, "Print JSON instead of a table")
	_ = slotsCmd.MarkFlagRequired("resource")
	_ = slotsCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(slotsCmd)
}

func runSlots(cmd *cobra.Command, args []string) error {
	day, err := civil.ParseDate(slotsDate)
	if err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}
	clock, err := civil.New(cfg.Timezone)
	if err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	st := store.New(database, clock.Location(), logger)
	engine := reservation.New(reservation.Options{
		Store:    st,
		Policies: policy.NewLookup(st, nil, logger),
		Clock:    clock,
		Logger:   logger,
	})

	templates, err := engine.Slots(cmd.Context(), slotsResource, day)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if slotsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(templates)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tLABEL\tMINUTES")
	for _, t := range templates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			t.Start.In(clock.Location()).Format("2006-01-02 15:04 MST"),
			t.End.In(clock.Location()).Format("2006-01-02 15:04 MST"),
			t.Label, t.Minutes())
	}
	return tw.Flush()
}
