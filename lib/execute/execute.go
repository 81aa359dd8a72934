// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package execute runs the code blocks of a step through the shell.
// This is the minimal "run step N" primitive the control plane drives;
// per-language toolchain strategies and sandboxing live outside this
// repository.
package execute

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/cairn-run/cairn/lib/runbook"
)

// Sink receives chunks of combined stdout/stderr as a block runs.
// Called from the executing goroutine; implementations serialize
// their own downstream writes.
type Sink func(chunk string)

// shellLanguages are the fence tags executed directly through sh.
// An empty tag is treated as shell, matching the common unlabeled
// command fence.
var shellLanguages = map[string]bool{
	"":      true,
	"sh":    true,
	"bash":  true,
	"shell": true,
	"zsh":   true,
}

// Runner executes code blocks in a fixed working directory.
type Runner struct {
	// Dir is the working directory for executed blocks, normally the
	// runbook's parent directory.
	Dir string

	// Logger receives execution diagnostics. Required.
	Logger *slog.Logger
}

// Executable reports whether Run would execute the block rather than
// skip it.
func Executable(block runbook.CodeBlock) bool {
	return shellLanguages[block.Language]
}

// Run executes one code block, streaming combined output to sink, and
// returns the resulting status. Non-shell blocks are skipped with
// StatusSkipped and an explanatory chunk on the sink. A block whose
// process cannot be started or exits non-zero yields StatusFailed.
func (r *Runner) Run(ctx context.Context, block runbook.CodeBlock, sink Sink) runbook.Status {
	if !Executable(block) {
		sink(fmt.Sprintf("[skipped: no executor for language %q]\n", block.Language))
		return runbook.StatusSkipped
	}

	command := exec.CommandContext(ctx, "sh", "-c", block.Content)
	command.Dir = r.Dir
	writer := &sinkWriter{sink: sink}
	command.Stdout = writer
	command.Stderr = writer

	if err := command.Run(); err != nil {
		r.Logger.Debug("block failed", "error", err)
		if _, isExit := err.(*exec.ExitError); !isExit {
			sink(fmt.Sprintf("[failed to start: %v]\n", err))
		}
		return runbook.StatusFailed
	}
	return runbook.StatusSuccess
}

// RunStep executes each block of the step in order, stopping at the
// first block that does not succeed. Skipped blocks do not stop the
// step; the step's status is Success unless a block fails.
func (r *Runner) RunStep(ctx context.Context, step runbook.Step, sink Sink) runbook.Status {
	if step.Condition != nil && !step.Condition.Holds() {
		sink(fmt.Sprintf("[skipped: condition %s=%q not met]\n", step.Condition.Kind, step.Condition.Value))
		return runbook.StatusSkipped
	}

	status := runbook.StatusSuccess
	ranAny := false
	for _, block := range step.CodeBlocks {
		result := r.Run(ctx, block, sink)
		switch result {
		case runbook.StatusFailed:
			return runbook.StatusFailed
		case runbook.StatusSuccess:
			ranAny = true
		}
	}
	if !ranAny {
		return runbook.StatusSkipped
	}
	return status
}

// sinkWriter adapts a Sink to io.Writer for process output capture.
// Writes from stdout and stderr arrive on separate goroutines, so
// forwarding is serialized.
type sinkWriter struct {
	mu   sync.Mutex
	sink Sink
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(string(p))
	return len(p), nil
}
