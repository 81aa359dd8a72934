// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package version holds the build version string shared by the cairn
// binaries.
package version

// Version is the semantic version of this build. Overridden at link
// time with -ldflags "-X .../lib/version.Version=v1.2.3".
var Version = "0.1.0-dev"

// Info returns the version string for --version output.
func Info() string {
	return Version
}
