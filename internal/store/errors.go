/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"errors"
	"strings"

	"github.com/friendsincode/slotbook/internal/db"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	pgExclusionViolation = "23P01"
	mysqlSignalException = 1644
)

// isOverlapViolation recognises the per-dialect overlap guard installed by
// db.Migrate.
func isOverlapViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == db.OverlapConstraint
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger || sqliteErr.Code == sqlite3.ErrConstraint {
			return strings.Contains(sqliteErr.Error(), db.OverlapMessage)
		}
		return false
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlSignalException && strings.Contains(myErr.Message, db.OverlapMessage)
	}

	return strings.Contains(err.Error(), db.OverlapMessage)
}
