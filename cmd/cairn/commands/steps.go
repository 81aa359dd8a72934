// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/cairn-run/cairn/cmd/cairn/cli"
)

func stepsCommand() *cli.Command {
	var verbose bool
	return &cli.Command{
		Name:    "steps",
		Summary: "list a runbook's steps as the worker sees them",
		Usage:   "cairn steps <document> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("steps", pflag.ContinueOnError)
			verboseFlag(flags, &verbose)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("steps requires exactly one document argument")
			}
			ctx := context.Background()
			session, err := startWorkerSession(ctx, args[0], verbose)
			if err != nil {
				return err
			}
			defer session.close()

			for i, step := range session.track.Steps() {
				fmt.Println(stepLine(i, step))
			}
			return nil
		},
	}
}
