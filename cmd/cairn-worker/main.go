// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// cairn-worker executes runbook steps. In headless mode it speaks the
// line-delimited control protocol on stdin/stdout for a driver; in
// interactive mode it walks the steps with y/n prompts on a terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/cairn-run/cairn/lib/execute"
	"github.com/cairn-run/cairn/lib/process"
	"github.com/cairn-run/cairn/lib/runbook"
	"github.com/cairn-run/cairn/lib/version"
	"github.com/cairn-run/cairn/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("cairn-worker", pflag.ContinueOnError)
	headless := flags.Bool("headless", false, "speak the control protocol on stdin/stdout")
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.Info())
		return nil
	}

	args := flags.Args()
	if len(args) != 1 {
		return fmt.Errorf("usage: cairn-worker [--headless] <document>")
	}
	documentPath := args[0]

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	// Stdout carries protocol data in headless mode; diagnostics
	// always go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	document, err := runbook.ParseFile(documentPath)
	if err != nil {
		return err
	}
	runner := &execute.Runner{
		Dir:    filepath.Dir(documentPath),
		Logger: logger,
	}

	ctx := context.Background()
	if *headless {
		return worker.Serve(ctx, os.Stdin, os.Stdout, worker.Config{
			Steps:  document.Steps,
			Hooks:  document.Hooks,
			Runner: runner,
			Logger: logger,
		})
	}
	return runInteractive(ctx, document, runner)
}

// runInteractive walks the steps one at a time, prompting before each
// executable step. Output streams to stdout as it is produced.
func runInteractive(ctx context.Context, document *runbook.Document, runner *execute.Runner) error {
	prompts := bufio.NewScanner(os.Stdin)
	for index := range document.Steps {
		step := &document.Steps[index]
		fmt.Printf("\n[%d/%d] %s\n", index+1, len(document.Steps), step.Title)
		if step.Description != "" {
			fmt.Println(step.Description)
		}
		if !step.Executable() {
			continue
		}
		if step.Condition != nil && !step.Condition.Holds() {
			fmt.Println("skipped: condition not met")
			continue
		}

		fmt.Print("run this step? [y/N/q] ")
		if !prompts.Scan() {
			return prompts.Err()
		}
		switch strings.ToLower(strings.TrimSpace(prompts.Text())) {
		case "y", "yes":
		case "q", "quit":
			return nil
		default:
			fmt.Println("skipped")
			continue
		}

		status := runner.RunStep(ctx, *step, func(chunk string) {
			fmt.Print(chunk)
		})
		step.Status = status
		fmt.Printf("step %q: %s\n", step.Title, status)
		if status == runbook.StatusFailed {
			return fmt.Errorf("step %d (%s) failed", index, step.Title)
		}
	}
	fmt.Println("\nrunbook complete")
	return nil
}
