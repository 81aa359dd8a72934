// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker is the driver-side cache of step state. It is fed
// exclusively by worker responses and notifications (or, in guest
// mode, by collaboration broadcast events); presentation layers read
// snapshots and watch a coalescing change signal. The presentation
// layer never mutates steps directly.
package tracker

import (
	"fmt"
	"sync"

	"github.com/cairn-run/cairn/lib/runbook"
)

// Tracker holds the current step list, per-step status and output,
// and the current step index. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	steps   []runbook.Step
	current int
	changes chan struct{}
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{changes: make(chan struct{}, 1)}
}

// Load replaces the entire step list, typically from a get_steps
// result or a session snapshot. The current index is clamped into the
// new list.
func (t *Tracker) Load(steps []runbook.Step) {
	t.mu.Lock()
	t.steps = runbook.CloneSteps(steps)
	if t.current >= len(t.steps) {
		t.current = 0
	}
	t.mu.Unlock()
	t.signal()
}

// LoadSnapshot replaces the step list and current index together, for
// guest-mode snapshot application.
func (t *Tracker) LoadSnapshot(steps []runbook.Step, current int) {
	t.mu.Lock()
	t.steps = runbook.CloneSteps(steps)
	if current >= 0 && current < len(t.steps) {
		t.current = current
	} else {
		t.current = 0
	}
	t.mu.Unlock()
	t.signal()
}

// SetCurrent moves the current step index.
func (t *Tracker) SetCurrent(index int) error {
	t.mu.Lock()
	if index < 0 || index >= len(t.steps) {
		t.mu.Unlock()
		return fmt.Errorf("step index %d out of range [0, %d)", index, len(t.steps))
	}
	t.current = index
	t.mu.Unlock()
	t.signal()
	return nil
}

// SetRunning marks a step as executing and clears its previous
// output.
func (t *Tracker) SetRunning(index int) error {
	return t.mutate(index, func(step *runbook.Step) {
		step.Status = runbook.StatusRunning
		step.Output = ""
	})
}

// ApplyResult records the final status and full output of a step,
// from an execute_step response or an exec-result broadcast.
func (t *Tracker) ApplyResult(index int, status runbook.Status, output string) error {
	return t.mutate(index, func(step *runbook.Step) {
		step.Status = status
		if output != "" {
			step.Output = output
		}
	})
}

// AppendOutput appends a streamed output chunk to a step, from a log
// notification or an exec-output broadcast.
func (t *Tracker) AppendOutput(index int, chunk string) error {
	return t.mutate(index, func(step *runbook.Step) {
		step.Output += chunk
	})
}

// Steps returns a deep copy of the step list.
func (t *Tracker) Steps() []runbook.Step {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return runbook.CloneSteps(t.steps)
}

// Step returns a copy of one step.
func (t *Tracker) Step(index int) (runbook.Step, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.steps) {
		return runbook.Step{}, fmt.Errorf("step index %d out of range [0, %d)", index, len(t.steps))
	}
	cloned := runbook.CloneSteps(t.steps[index : index+1])
	return cloned[0], nil
}

// Current returns the current step index.
func (t *Tracker) Current() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Len returns the number of steps.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.steps)
}

// Changes delivers a coalescing signal after every mutation. A
// presentation layer rereads Steps when it fires; missing
// intermediate signals only skips redraws, never state.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}

func (t *Tracker) mutate(index int, apply func(*runbook.Step)) error {
	t.mu.Lock()
	if index < 0 || index >= len(t.steps) {
		t.mu.Unlock()
		return fmt.Errorf("step index %d out of range [0, %d)", index, len(t.steps))
	}
	apply(&t.steps[index])
	t.mu.Unlock()
	t.signal()
	return nil
}

func (t *Tracker) signal() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}
