// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/cairn-run/cairn/cmd/cairn/commands"
	"github.com/cairn-run/cairn/lib/process"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
