/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotbook/internal/cache"
	"github.com/friendsincode/slotbook/internal/db"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/seed"
	"github.com/friendsincode/slotbook/internal/store"
)

var (
	seedFile       string
	seedDryRun     bool
	seedFlushCache bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load resources, policies and users from a YAML file",
	Long: `Upsert the contents of a seed file: resources and their slot grids,
cap and cancel rules, experiment policies, probes, maintenance and training
windows, clients and users.

Examples:
  # Load a seed file
  slotbook seed --file deploy/seed.yaml

  # Validate without writing
  slotbook seed --file deploy/seed.yaml --dry-run

  # Drop every cached policy after loading
  slotbook seed --file deploy/seed.yaml --flush-cache
`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Seed file (defaults to SLOTBOOK_SEED_FILE)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Parse and validate only")
	seedCmd.Flags().BoolVar(&seedFlushCache, "flush-cache", false, "Flush all cached policies after loading")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	path := seedFile
	if path == "" {
		path = cfg.SeedFile
	}
	if path == "" {
		return fmt.Errorf("no seed file: pass --file or set SLOTBOOK_SEED_FILE")
	}

	f, err := seed.FromFile(path)
	if err != nil {
		return err
	}
	if seedDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resources, %d users, valid\n", path, len(f.Resources), len(f.Users))
		return nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	// Writes go through the shared cache so running servers see them at once.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	policyCache, err := cache.New(cacheCfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cache unavailable, cached policies expire by TTL")
		policyCache = nil
	} else {
		defer policyCache.Close()
	}

	st := store.New(database, loc, logger)
	sum, err := seed.NewLoader(st, policy.NewLookup(st, policyCache, logger), loc, logger).Apply(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("apply %s: %w", path, err)
	}

	if seedFlushCache && policyCache != nil {
		if err := policyCache.FlushAll(cmd.Context()); err != nil {
			return fmt.Errorf("flush policy cache: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resources=%d policies=%d probes=%d windows=%d clients=%d users=%d\n",
		sum.Resources, sum.Policies, sum.Probes, sum.Windows, sum.Clients, sum.Users)
	return nil
}
