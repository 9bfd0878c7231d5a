/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process: human-readable console output in
// development, JSON lines everywhere else.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout)
}

// SetupWithWriter configures zerolog to write to w.
func SetupWithWriter(environment string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	development := strings.EqualFold(environment, "development")
	if development {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w}
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("SLOTBOOK_LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}

	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", "slotbook").
		Logger().
		Level(level)
	log.Logger = logger
	return logger
}
