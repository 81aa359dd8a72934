// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"testing"
	"time"

	"github.com/cairn-run/cairn/lib/runbook"
	"github.com/cairn-run/cairn/lib/testutil"
)

func twoSteps() []runbook.Step {
	return []runbook.Step{
		{Title: "Setup", Description: "install things"},
		{Title: "Build", CodeBlocks: []runbook.CodeBlock{{Content: "make"}}},
	}
}

func TestLoadAndRead(t *testing.T) {
	tracked := New()
	tracked.Load(twoSteps())

	steps := tracked.Steps()
	if len(steps) != 2 || steps[0].Title != "Setup" {
		t.Fatalf("Steps() = %+v", steps)
	}
	if steps[0].Status != runbook.StatusPending {
		t.Errorf("fresh step status = %v, want Pending", steps[0].Status)
	}
}

func TestReadsAreCopies(t *testing.T) {
	tracked := New()
	tracked.Load(twoSteps())

	steps := tracked.Steps()
	steps[0].Title = "mutated"
	steps[1].CodeBlocks[0].Content = "rm -rf /"

	fresh := tracked.Steps()
	if fresh[0].Title != "Setup" || fresh[1].CodeBlocks[0].Content != "make" {
		t.Error("mutating a returned snapshot changed tracker state")
	}
}

func TestExecutionLifecycle(t *testing.T) {
	tracked := New()
	tracked.Load(twoSteps())

	if err := tracked.SetRunning(1); err != nil {
		t.Fatalf("SetRunning() error: %v", err)
	}
	if err := tracked.AppendOutput(1, "compiling...\n"); err != nil {
		t.Fatalf("AppendOutput() error: %v", err)
	}
	if err := tracked.AppendOutput(1, "done\n"); err != nil {
		t.Fatalf("AppendOutput() error: %v", err)
	}
	if err := tracked.ApplyResult(1, runbook.StatusSuccess, "compiling...\ndone\n"); err != nil {
		t.Fatalf("ApplyResult() error: %v", err)
	}

	step, err := tracked.Step(1)
	if err != nil {
		t.Fatalf("Step() error: %v", err)
	}
	if step.Status != runbook.StatusSuccess {
		t.Errorf("status = %v, want Success", step.Status)
	}
	if step.Output != "compiling...\ndone\n" {
		t.Errorf("output = %q", step.Output)
	}
}

func TestSetRunningClearsOldOutput(t *testing.T) {
	tracked := New()
	tracked.Load(twoSteps())

	if err := tracked.ApplyResult(0, runbook.StatusFailed, "old failure\n"); err != nil {
		t.Fatal(err)
	}
	if err := tracked.SetRunning(0); err != nil {
		t.Fatal(err)
	}
	step, _ := tracked.Step(0)
	if step.Output != "" {
		t.Errorf("output = %q, want cleared on rerun", step.Output)
	}
}

func TestOutOfRangeMutations(t *testing.T) {
	tracked := New()
	tracked.Load(twoSteps())

	if err := tracked.SetRunning(5); err == nil {
		t.Error("SetRunning(5) accepted an out-of-range index")
	}
	if err := tracked.SetCurrent(-1); err == nil {
		t.Error("SetCurrent(-1) accepted a negative index")
	}
}

func TestChangesSignalCoalesces(t *testing.T) {
	tracked := New()
	tracked.Load(twoSteps())
	testutil.RequireReceive(t, tracked.Changes(), time.Second, "signal after Load")

	// Several mutations with no reader coalesce into one pending signal.
	_ = tracked.SetRunning(0)
	_ = tracked.AppendOutput(0, "a")
	_ = tracked.AppendOutput(0, "b")

	testutil.RequireReceive(t, tracked.Changes(), time.Second, "coalesced signal")
	testutil.RequireNoReceive(t, tracked.Changes(), 50*time.Millisecond, "extra buffered signals")
}

func TestLoadSnapshotSetsCurrent(t *testing.T) {
	tracked := New()
	tracked.LoadSnapshot(twoSteps(), 1)
	if tracked.Current() != 1 {
		t.Errorf("Current() = %d, want 1", tracked.Current())
	}
	tracked.LoadSnapshot(twoSteps(), 9)
	if tracked.Current() != 0 {
		t.Errorf("Current() = %d after out-of-range snapshot, want 0", tracked.Current())
	}
}
