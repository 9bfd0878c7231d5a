/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotbook/internal/auth"
	"github.com/friendsincode/slotbook/internal/db"
	"github.com/friendsincode/slotbook/internal/store"
)

var (
	apikeyEmail string
	apikeyName  string
	apikeyDays  int
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys for kiosks and integrations",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key for a user and print it once",
	Long: `Create an API key that authenticates as an existing user.

Example:
  slotbook apikey create --email kiosk@lab.test --name "NMR kiosk" --days 365
`,
	RunE: runAPIKeyCreate,
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&apikeyEmail, "email", "", "Email of the user the key acts as")
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Label for the key")
	apikeyCreateCmd.Flags().IntVar(&apikeyDays, "days", 365, "Days until the key expires")
	_ = apikeyCreateCmd.MarkFlagRequired("email")
	_ = apikeyCreateCmd.MarkFlagRequired("name")
	apikeyCmd.AddCommand(apikeyCreateCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	if apikeyDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	st := store.New(database, time.UTC, logger)
	user, err := st.UserByEmail(cmd.Context(), strings.ToLower(strings.TrimSpace(apikeyEmail)))
	if err != nil {
		return err
	}

	plaintext, key, err := auth.CreateAPIKey(cmd.Context(), database, user.ID, apikeyName, time.Duration(apikeyDays)*24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "id:      %s\nuser:    %s\nexpires: %s\nkey:     %s\n",
		key.ID, user.Email, key.ExpiresAt.UTC().Format(time.RFC3339), plaintext)
	fmt.Fprintln(cmd.ErrOrStderr(), "store the key now; it cannot be shown again")
	return nil
}
