// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo carries values injected at link time.
package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent with every outgoing HTTP request.
var UserAgent = fmt.Sprintf("ratiosync/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)

// String is the long version line printed by `ratiosync version`.
func String() string {
	out := "ratiosync " + Version
	if Commit != "" {
		out += " (" + Commit
		if Date != "" {
			out += ", " + Date
		}
		out += ")"
	}
	return out
}
