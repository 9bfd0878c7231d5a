/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version reports the build version.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current version of Slotbook.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/slotbook/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// String returns the version with the VCS revision when the binary carries one.
func String() string {
	rev := revision()
	if rev == "" {
		return fmt.Sprintf("slotbook %s (%s)", Version, runtime.Version())
	}
	return fmt.Sprintf("slotbook %s (%s, %s)", Version, rev, runtime.Version())
}

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return ""
}
