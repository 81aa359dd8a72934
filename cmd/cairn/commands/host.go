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
)

func hostCommand() *cli.Command {
	var (
		verbose bool
		execute bool
	)
	return &cli.Command{
		Name:    "host",
		Summary: "host a live session remote peers can watch",
		Description: "Host opens a pinned-TLS session, prints the join token, and\n" +
			"broadcasts every navigation, execution start, output chunk, and\n" +
			"result to connected guests. Guests are read-only.",
		Usage: "cairn host <document> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("host", pflag.ContinueOnError)
			verboseFlag(flags, &verbose)
			flags.BoolVar(&execute, "execute", false, "run all steps while hosting, then keep the session open")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("host requires exactly one document argument")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			session, err := startWorkerSession(ctx, args[0], verbose)
			if err != nil {
				return err
			}
			defer session.close()

			cfg := session.config
			host, err := collab.StartHost(collab.HostConfig{
				Address:       cfg.SessionAddress,
				AdvertiseHost: cfg.AdvertiseHost,
				Snapshot: collab.Snapshot{
					Steps:   session.track.Steps(),
					Current: session.track.Current(),
				},
				Logger: session.logger,
			})
			if err != nil {
				return err
			}
			defer host.Close()

			fmt.Println("share this token with your peers:")
			fmt.Println("  " + tokenStyle.Render(host.Token.URL()))
			fmt.Println()

			if execute {
				if err := runShared(ctx, session, host); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
			}

			fmt.Println(dimStyle.Render("session open, Ctrl-C to close"))
			<-ctx.Done()
			return nil
		},
	}
}

// runShared executes every step while mirroring progress to the
// session's guests.
func runShared(ctx context.Context, session *workerSession, host *collab.Host) error {
	for index := 0; index < session.track.Len(); index++ {
		step, err := session.track.Step(index)
		if err != nil {
			return err
		}
		session.track.SetCurrent(index)
		host.Session.Navigate(index)
		fmt.Println(stepLine(index, step))

		host.Session.ExecStarted(index, runbook.StatusRunning.String())
		status, err := session.executeStep(ctx, index, func(chunk string) {
			fmt.Print(chunk)
			host.Session.ExecOutput(index, chunk)
		})
		if err != nil {
			return err
		}
		final, _ := session.track.Step(index)
		host.Session.ExecResult(index, status.String(), final.Output)
		fmt.Printf("  %s %s\n", statusBadge(status), dimStyle.Render(final.Title))
		if status == runbook.StatusFailed {
			return fmt.Errorf("step %d (%s) failed", index, step.Title)
		}
	}
	fmt.Println(successStyle.Render("all steps completed"))
	return nil
}
