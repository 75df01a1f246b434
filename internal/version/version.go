/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_playout/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

// Commit is the source revision, also set via ldflags.
var Commit = ""

// String renders the version for logs and the CLI.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("%s (%s)", Version, runtime.Version())
	}
	return fmt.Sprintf("%s+%s (%s)", Version, Commit, runtime.Version())
}
