// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/pflag"

	"github.com/cairn-run/cairn/cmd/cairn/cli"
	"github.com/cairn-run/cairn/lib/runner"
)

func attachCommand() *cli.Command {
	var verbose bool
	return &cli.Command{
		Name:    "attach",
		Summary: "attach this terminal to an interactive worker",
		Description: "Attach runs the worker in interactive mode and bridges this\n" +
			"terminal to it: keystrokes are forwarded, Ctrl-C terminates the\n" +
			"worker, and its output renders here with escape sequences intact.",
		Usage: "cairn attach <document> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("attach", pflag.ContinueOnError)
			verboseFlag(flags, &verbose)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("attach requires exactly one document argument")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(verbose)
			ctx := context.Background()

			cmd := exec.CommandContext(ctx, cfg.WorkerExecutable, args[0])
			workerIn, err := cmd.StdinPipe()
			if err != nil {
				return fmt.Errorf("wiring worker input: %w", err)
			}
			outputReader, outputWriter := io.Pipe()
			cmd.Stdout = outputWriter
			cmd.Stderr = outputWriter
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("starting worker %s: %w", cfg.WorkerExecutable, err)
			}
			go func() {
				cmd.Wait()
				outputWriter.Close()
			}()

			bridge := &runner.Bridge{
				Terminal: os.Stdin,
				Output:   os.Stdout,
				Terminate: func() {
					if cmd.Process != nil {
						cmd.Process.Kill()
					}
				},
				Logger: logger,
			}
			if err := bridge.Run(ctx, workerIn, outputReader); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		},
	}
}
