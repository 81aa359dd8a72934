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
	"github.com/cairn-run/cairn/collab"
	"github.com/cairn-run/cairn/lib/runbook"
	"github.com/cairn-run/cairn/lib/tracker"
)

func joinCommand() *cli.Command {
	var verbose bool
	return &cli.Command{
		Name:    "join",
		Summary: "watch a hosted session as a read-only guest",
		Usage:   "cairn join <token> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("join", pflag.ContinueOnError)
			verboseFlag(flags, &verbose)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("join requires exactly one token argument")
			}
			token, err := collab.ParseToken(args[0])
			if err != nil {
				return err
			}
			logger := newLogger(verbose)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			guest, err := collab.Join(ctx, token, logger)
			if err != nil {
				return err
			}
			defer guest.Close()
			fmt.Println(dimStyle.Render("joined, watching " + token.Host))

			track := tracker.New()
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, open := <-guest.Events():
					if !open {
						if err := guest.Err(); err != nil {
							return fmt.Errorf("session ended: %w", err)
						}
						return nil
					}
					renderEvent(track, event)
				}
			}
		},
	}
}

// renderEvent applies one broadcast event to the local tracker and
// prints it.
func renderEvent(track *tracker.Tracker, event collab.Event) {
	switch event.Kind {
	case collab.KindSnapshot:
		track.LoadSnapshot(event.Snapshot.Steps, event.Snapshot.Current)
		for i, step := range track.Steps() {
			fmt.Println(stepLine(i, step))
		}
	case collab.KindNavigate:
		track.SetCurrent(event.Step)
		if step, err := track.Step(event.Step); err == nil {
			fmt.Printf("%s %s\n", dimStyle.Render("→"), titleStyle.Render(step.Title))
		}
	case collab.KindExecStarted:
		track.SetRunning(event.Step)
		if step, err := track.Step(event.Step); err == nil {
			fmt.Printf("%s %s\n", runningStyle.Render("▶"), step.Title)
		}
	case collab.KindExecOutput:
		track.AppendOutput(event.Step, event.Output)
		fmt.Print(event.Output)
	case collab.KindExecResult:
		status, err := runbook.ParseStatus(event.Status)
		if err != nil {
			status = runbook.StatusFailed
		}
		track.ApplyResult(event.Step, status, event.Output)
		if step, trackErr := track.Step(event.Step); trackErr == nil {
			fmt.Printf("%s %s\n", statusBadge(status), dimStyle.Render(step.Title))
		}
	}
}
