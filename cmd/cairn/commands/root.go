// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the cairn CLI command tree.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/cairn-run/cairn/cmd/cairn/cli"
	"github.com/cairn-run/cairn/lib/config"
	"github.com/cairn-run/cairn/lib/version"
)

// Root builds the cairn command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "cairn",
		Summary: "drive, watch, and share step-by-step runs of a runbook",
		Description: "Cairn turns a markdown document into an executable sequence of\n" +
			"steps: run them locally through a worker process, attach to the\n" +
			"worker interactively, or host a live session remote peers can watch.",
		Subcommands: []*cli.Command{
			listCommand(),
			parseCommand(),
			stepsCommand(),
			runCommand(),
			attachCommand(),
			hostCommand(),
			joinCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print the cairn version",
		Run: func(args []string) error {
			fmt.Println(version.Info())
			return nil
		},
	}
}

// newLogger builds the CLI's structured logger. Diagnostics go to
// stderr so command output stays pipeable.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the effective configuration.
func loadConfig() (config.Config, error) {
	return config.Load(config.Locate())
}

// verboseFlag registers the shared --verbose flag.
func verboseFlag(flags *pflag.FlagSet, verbose *bool) {
	flags.BoolVarP(verbose, "verbose", "v", false, "enable debug logging")
}
