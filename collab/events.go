// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"fmt"

	"github.com/cairn-run/cairn/lib/codec"
	"github.com/cairn-run/cairn/lib/runbook"
)

// Kind identifies what a broadcast event carries.
type Kind string

const (
	// KindSnapshot carries the full session state. Sent once on
	// admission and again whenever a guest requests a resync.
	KindSnapshot Kind = "snapshot"

	// KindNavigate reports that the host moved to another step.
	KindNavigate Kind = "navigate"

	// KindExecStarted reports that a step began executing.
	KindExecStarted Kind = "exec-started"

	// KindExecOutput carries one chunk of streamed step output.
	KindExecOutput Kind = "exec-output"

	// KindExecResult carries a finished step's status and output.
	KindExecResult Kind = "exec-result"

	// KindDenied answers a guest frame that attempted anything
	// other than a resync. Carries sequence zero and is excluded
	// from gap detection.
	KindDenied Kind = "denied"
)

// Event is one sequenced broadcast frame. Seq is strictly increasing
// per session; guests apply events in sequence order and treat a gap
// as a signal to resync, never to guess.
type Event struct {
	Seq  uint64 `cbor:"seq"`
	Kind Kind   `cbor:"kind"`

	// Step is the step index for navigate, exec-started,
	// exec-output, and exec-result events.
	Step int `cbor:"step,omitempty"`

	// Output is the chunk for exec-output and the collected output
	// for exec-result.
	Output string `cbor:"output,omitempty"`

	// Status is the final step status for exec-result.
	Status string `cbor:"status,omitempty"`

	// Snapshot is set only when Kind is KindSnapshot.
	Snapshot *Snapshot `cbor:"snapshot,omitempty"`
}

// Snapshot is the full session state a guest needs to render from
// scratch: every step with its status and output, and the current
// position.
type Snapshot struct {
	Steps   []runbook.Step `cbor:"steps"`
	Current int            `cbor:"current"`
}

// CommandResync is the only command a guest may send: it asks the
// host for a fresh snapshot after the guest detected a sequence gap.
const CommandResync = "resync"

// Command is a guest-to-host frame. Guests are read-only; every kind
// other than CommandResync is answered with a denied event and goes
// no further.
type Command struct {
	Kind string `cbor:"kind"`
}

// EncodeEvent serializes an event as a deterministic CBOR frame.
func EncodeEvent(event Event) ([]byte, error) {
	frame, err := codec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", event.Kind, err)
	}
	return frame, nil
}

// DecodeEvent deserializes a CBOR frame into an event.
func DecodeEvent(frame []byte) (Event, error) {
	var event Event
	if err := codec.Unmarshal(frame, &event); err != nil {
		return Event{}, fmt.Errorf("decoding event frame: %w", err)
	}
	return event, nil
}

// EncodeCommand serializes a guest command.
func EncodeCommand(command Command) ([]byte, error) {
	frame, err := codec.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("encoding %s command: %w", command.Kind, err)
	}
	return frame, nil
}

// DecodeCommand deserializes a guest command.
func DecodeCommand(frame []byte) (Command, error) {
	var command Command
	if err := codec.Unmarshal(frame, &command); err != nil {
		return Command{}, fmt.Errorf("decoding command frame: %w", err)
	}
	return command, nil
}
