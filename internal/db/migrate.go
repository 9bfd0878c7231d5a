/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/slotbook/internal/models"
	"gorm.io/gorm"
)

// OverlapMessage is raised by the sqlite and mysql overlap guards. Postgres
// reports SQLSTATE 23P01 from the exclusion constraint instead.
const OverlapMessage = "reservation_overlap"

// OverlapConstraint names the postgres exclusion constraint.
const OverlapConstraint = "reservations_no_overlap"

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Identity
		&models.User{},
		&models.APIKey{},
		&models.AuditLog{},

		// Instruments and their calendars
		&models.Resource{},
		&models.Reservation{},
		&models.MaintenanceWindow{},
		&models.TrainingWindow{},

		// Policies
		&models.CapRule{},
		&models.CancelRule{},
		&models.ExperimentPolicy{},
		&models.ResourceExperimentPolicy{},
		&models.ResourceProbe{},

		// External billing
		&models.Client{},
		&models.ClientResourceAccess{},
	); err != nil {
		return err
	}

	if err := applyOverlapGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyRoles(database); err != nil {
		return err
	}

	return nil
}

func applyOverlapGuard(database *gorm.DB) error {
	var stmts []string
	switch database.Dialector.Name() {
	case "postgres":
		stmts = postgresOverlapGuard
	case "sqlite":
		stmts = sqliteOverlapGuard
	case "mysql":
		stmts = mysqlOverlapGuard
	default:
		return fmt.Errorf("no reservation overlap guard for dialect %q", database.Dialector.Name())
	}

	for _, stmt := range stmts {
		if err := database.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply %s reservation overlap guard: %w", database.Dialector.Name(), err)
		}
	}
	return nil
}

var postgresOverlapGuard = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'reservations_window_valid') THEN
    ALTER TABLE reservations
      ADD CONSTRAINT reservations_window_valid CHECK (ends_at > starts_at);
  END IF;

  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '` + OverlapConstraint + `') THEN
    ALTER TABLE reservations
      ADD CONSTRAINT ` + OverlapConstraint + `
      EXCLUDE USING gist (
        resource_id WITH =,
        tstzrange(starts_at, ends_at, '[)') WITH &&
      )
      WHERE (status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING'));
  END IF;
END
$$`,
}

// SQLite serialises writers, so checking inside the trigger is atomic with the write.
var sqliteOverlapGuard = []string{
	`
CREATE TRIGGER IF NOT EXISTS trg_reservations_no_overlap_insert
BEFORE INSERT ON reservations
FOR EACH ROW
WHEN NEW.status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING')
BEGIN
  SELECT RAISE(ABORT, '` + OverlapMessage + `')
  WHERE EXISTS (
    SELECT 1 FROM reservations r
    WHERE r.resource_id = NEW.resource_id
      AND r.status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING')
      AND julianday(r.starts_at) < julianday(NEW.ends_at)
      AND julianday(r.ends_at) > julianday(NEW.starts_at)
  );
END`,
	`
CREATE TRIGGER IF NOT EXISTS trg_reservations_no_overlap_update
BEFORE UPDATE OF resource_id, starts_at, ends_at, status ON reservations
FOR EACH ROW
WHEN NEW.status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING')
BEGIN
  SELECT RAISE(ABORT, '` + OverlapMessage + `')
  WHERE EXISTS (
    SELECT 1 FROM reservations r
    WHERE r.resource_id = NEW.resource_id
      AND r.id <> NEW.id
      AND r.status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING')
      AND julianday(r.starts_at) < julianday(NEW.ends_at)
      AND julianday(r.ends_at) > julianday(NEW.starts_at)
  );
END`,
}

// The mysql trigger only sees committed rows of other sessions; inserts take a
// row lock on the resource first (store.InsertReservation) so competing
// inserts for one resource run one after another.
var mysqlOverlapGuard = []string{
	`DROP TRIGGER IF EXISTS trg_reservations_no_overlap_insert`,
	`
CREATE TRIGGER trg_reservations_no_overlap_insert
BEFORE INSERT ON reservations
FOR EACH ROW
BEGIN
  IF NEW.status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING') AND EXISTS (
    SELECT 1 FROM reservations r
    WHERE r.resource_id = NEW.resource_id
      AND r.status IN ('PENDING', 'APPROVED', 'CANCEL_PENDING')
      AND r.starts_at < NEW.ends_at
      AND r.ends_at > NEW.starts_at
  ) THEN
    SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = '` + OverlapMessage + `';
  END IF;
END`,
}

// normalizeLegacyRoles rewrites role spellings from older imports onto the
// canonical tiers.
func normalizeLegacyRoles(database *gorm.DB) error {
	if err := database.Exec("UPDATE users SET role = ? WHERE UPPER(TRIM(role)) IN ?", models.RoleStaff, []string{"OPERATOR", "STAFF"}).Error; err != nil {
		return fmt.Errorf("normalize legacy staff role: %w", err)
	}
	if err := database.Exec("UPDATE users SET role = ? WHERE UPPER(TRIM(role)) IN ?", models.RoleElevated, []string{"ADMIN", "SUPERUSER", "ELEVATED"}).Error; err != nil {
		return fmt.Errorf("normalize legacy elevated role: %w", err)
	}
	return nil
}
