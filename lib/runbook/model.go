// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package runbook holds the step model shared by the driver and the
// worker, the markdown parser that produces it, frontmatter hook
// configuration, and runbook file discovery.
package runbook

import (
	"fmt"
	"os"
	"runtime"
)

// Status is the execution state of a step. It serializes as its name
// ("Pending", "Running", ...) on both the worker control channel and
// collaboration broadcast frames.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSuccess
	StatusFailed
	StatusSkipped
)

var statusNames = [...]string{"Pending", "Running", "Success", "Failed", "Skipped"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus maps a status name back to its value.
func ParseStatus(name string) (Status, error) {
	for i, candidate := range statusNames {
		if name == candidate {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("marshaling status: invalid value %d", int(s))
	}
	return []byte(`"` + statusNames[s] + `"`), nil
}

// UnmarshalJSON decodes a status name. Unknown names are an error so
// a protocol drift between driver and worker fails loudly.
func (s *Status) UnmarshalJSON(data []byte) error {
	for i, name := range statusNames {
		if string(data) == `"`+name+`"` {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unmarshaling status: unknown value %s", data)
}

// ConditionKind selects what a step condition tests.
type ConditionKind string

const (
	// ConditionOS gates a step on the host operating system
	// ("linux", "darwin", "windows"; "macos" is accepted as an alias).
	ConditionOS ConditionKind = "os"
	// ConditionEnvVarExists gates a step on an environment variable
	// being set.
	ConditionEnvVarExists ConditionKind = "env_var_exists"
	// ConditionFileExists gates a step on a file being present.
	ConditionFileExists ConditionKind = "file_exists"
)

// Condition restricts a step to environments where it applies. Steps
// whose condition does not hold are skipped rather than executed.
type Condition struct {
	Kind  ConditionKind `json:"kind"`
	Value string        `json:"value"`
}

func (c Condition) String() string {
	return string(c.Kind) + "=" + c.Value
}

// Holds reports whether the condition is satisfied in the current
// environment.
func (c Condition) Holds() bool {
	switch c.Kind {
	case ConditionOS:
		value := c.Value
		if value == "macos" {
			value = "darwin"
		}
		return runtime.GOOS == value
	case ConditionEnvVarExists:
		_, ok := os.LookupEnv(c.Value)
		return ok
	case ConditionFileExists:
		_, err := os.Stat(c.Value)
		return err == nil
	default:
		return false
	}
}

// CodeBlock is one fenced code block extracted from a runbook.
// Immutable once parsed.
type CodeBlock struct {
	// Language is the fence's info string ("bash", "python", ...).
	// Empty for unlabeled fences.
	Language string `json:"language,omitempty"`

	// Content is the literal block content.
	Content string `json:"content"`

	// Placeholders are substitution markers found in the content, in
	// {{name}} or <name> form, deduplicated in order of appearance.
	Placeholders []string `json:"placeholders,omitempty"`
}

// Step is one runbook section: a heading, its prose, and its code
// blocks. Status and Output are mutated only by the worker applying
// execution results; the presentation layer reads them.
type Step struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	CodeBlocks  []CodeBlock `json:"code_blocks,omitempty"`
	Status      Status      `json:"status"`
	Output      string      `json:"output,omitempty"`
	Condition   *Condition  `json:"condition,omitempty"`
}

// Executable reports whether the step has anything to run.
func (s *Step) Executable() bool {
	return len(s.CodeBlocks) > 0
}

// CloneSteps returns a deep copy of steps. Code block slices are
// copied so mutations on one side never alias the other.
func CloneSteps(steps []Step) []Step {
	cloned := make([]Step, len(steps))
	copy(cloned, steps)
	for i := range cloned {
		if steps[i].CodeBlocks != nil {
			cloned[i].CodeBlocks = append([]CodeBlock(nil), steps[i].CodeBlocks...)
		}
		if steps[i].Condition != nil {
			condition := *steps[i].Condition
			cloned[i].Condition = &condition
		}
	}
	return cloned
}
