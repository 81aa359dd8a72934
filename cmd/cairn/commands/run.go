// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/cairn-run/cairn/cmd/cairn/cli"
	"github.com/cairn-run/cairn/lib/runbook"
)

func runCommand() *cli.Command {
	var (
		verbose   bool
		stepIndex int
		keepGoing bool
	)
	return &cli.Command{
		Name:    "run",
		Summary: "execute a runbook's steps through the worker",
		Usage:   "cairn run <document> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			verboseFlag(flags, &verbose)
			flags.IntVar(&stepIndex, "step", -1, "run only this step index")
			flags.BoolVar(&keepGoing, "keep-going", false, "continue past failed steps")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("run requires exactly one document argument")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			session, err := startWorkerSession(ctx, args[0], verbose)
			if err != nil {
				return err
			}
			defer session.close()

			indices := make([]int, 0, session.track.Len())
			if stepIndex >= 0 {
				if stepIndex >= session.track.Len() {
					return fmt.Errorf("step %d out of range (document has %d steps)", stepIndex, session.track.Len())
				}
				indices = append(indices, stepIndex)
			} else {
				for i := 0; i < session.track.Len(); i++ {
					indices = append(indices, i)
				}
			}

			failed := 0
			for _, index := range indices {
				step, err := session.track.Step(index)
				if err != nil {
					return err
				}
				fmt.Println(stepLine(index, step))

				status, err := session.executeStep(ctx, index, func(chunk string) {
					fmt.Print(chunk)
				})
				if err != nil {
					return err
				}
				final, _ := session.track.Step(index)
				fmt.Printf("  %s %s\n", statusBadge(status), dimStyle.Render(final.Title))
				if status == runbook.StatusFailed {
					failed++
					if !keepGoing {
						return fmt.Errorf("step %d (%s) failed", index, step.Title)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d steps failed", failed, len(indices))
			}
			fmt.Println(successStyle.Render("all steps completed"))
			return nil
		},
	}
}
