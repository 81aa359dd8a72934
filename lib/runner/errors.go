// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"errors"
	"fmt"
	"time"
)

// ErrChannelClosed reports an operation on a disposed channel, or a
// pending call swept by Dispose. The worker process is gone on purpose.
var ErrChannelClosed = errors.New("channel closed")

// SpawnError reports that the worker executable could not start, or
// exited within the startup grace window before the channel was usable.
// Fatal to the channel.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning worker %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a single call saw no response within its
// deadline. The channel itself continues; a late response for the
// call's id is discarded.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %s: no response within %s", e.Method, e.Timeout)
}

// ProcessExitedError reports that the worker died while the channel
// was live. Fatal to the channel: every pending call is rejected with
// this error and the notification stream ends.
type ProcessExitedError struct {
	Code int
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("worker exited with code %d", e.Code)
}

// WorkerError is an error object carried inside a response. The call
// itself completed; the worker refused or failed the operation.
type WorkerError struct {
	Method  string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker rejected %s: %s", e.Method, e.Message)
}
