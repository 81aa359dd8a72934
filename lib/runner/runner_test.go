// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cairn-run/cairn/lib/testutil"
	"github.com/cairn-run/cairn/lib/wire"
)

// fakeWorker is the far end of a pipe-attached channel: it drains and
// decodes the driver's requests in the background and lets tests feed
// raw lines to the reader loop.
type fakeWorker struct {
	channel  *Channel
	requests chan *wire.Request
	output   *io.PipeWriter
}

func newFakeWorker(t *testing.T) *fakeWorker {
	return newFakeWorkerWithExit(t, nil)
}

func newFakeWorkerWithExit(t *testing.T, waitExit func() int) *fakeWorker {
	t.Helper()
	requestReader, requestWriter := io.Pipe()
	outputReader, outputWriter := io.Pipe()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	channel := attach(requestWriter, outputReader, waitExit, logger)
	t.Cleanup(channel.Dispose)

	requests := make(chan *wire.Request, 16)
	go func() {
		defer close(requests)
		scanner := bufio.NewScanner(requestReader)
		for scanner.Scan() {
			message, err := wire.Decode(scanner.Bytes())
			if err != nil {
				t.Errorf("driver wrote a malformed line: %v", err)
				return
			}
			request, ok := message.(*wire.Request)
			if !ok {
				t.Errorf("driver wrote a %T, want *wire.Request", message)
				return
			}
			requests <- request
		}
	}()

	return &fakeWorker{
		channel:  channel,
		requests: requests,
		output:   outputWriter,
	}
}

// nextRequest returns the next request the driver sent.
func (w *fakeWorker) nextRequest(t *testing.T) *wire.Request {
	t.Helper()
	return testutil.RequireReceive(t, w.requests, time.Second, "driver sending a request")
}

func (w *fakeWorker) emit(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(w.output, line+"\n"); err != nil {
		t.Fatalf("emitting line: %v", err)
	}
}

func TestCallRoundTrip(t *testing.T) {
	worker := newFakeWorker(t)

	type callResult struct {
		result json.RawMessage
		err    error
	}
	done := make(chan callResult, 1)
	go func() {
		result, err := worker.channel.Call(context.Background(), "get_steps", nil, time.Second)
		done <- callResult{result, err}
	}()

	request := worker.nextRequest(t)
	if request.Method != "get_steps" {
		t.Errorf("method = %q, want get_steps", request.Method)
	}
	worker.emit(t, fmt.Sprintf(`{"id":%d,"result":[{"title":"Setup"}]}`, request.ID))

	got := testutil.RequireReceive(t, done, time.Second, "call completing")
	if got.err != nil {
		t.Fatalf("Call() error: %v", got.err)
	}
	if string(got.result) != `[{"title":"Setup"}]` {
		t.Errorf("result = %s", got.result)
	}
}

func TestCallWorkerError(t *testing.T) {
	worker := newFakeWorker(t)

	done := make(chan error, 1)
	go func() {
		_, err := worker.channel.Call(context.Background(), "execute_step", map[string]int{"index": 9}, time.Second)
		done <- err
	}()

	request := worker.nextRequest(t)
	worker.emit(t, fmt.Sprintf(`{"id":%d,"error":{"message":"invalid params: index out of bounds"}}`, request.ID))

	err := testutil.RequireReceive(t, done, time.Second, "call completing")
	var workerErr *WorkerError
	if !errors.As(err, &workerErr) {
		t.Fatalf("err = %v, want *WorkerError", err)
	}
	if workerErr.Method != "execute_step" {
		t.Errorf("Method = %q, want execute_step", workerErr.Method)
	}
}

func TestCallTimeoutAndLateResponse(t *testing.T) {
	worker := newFakeWorker(t)

	_, err := worker.channel.Call(context.Background(), "get_steps", nil, 20*time.Millisecond)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}

	// The late response must be discarded, and the channel must
	// still serve a fresh call afterwards.
	request := worker.nextRequest(t)
	worker.emit(t, fmt.Sprintf(`{"id":%d,"result":"late"}`, request.ID))

	done := make(chan error, 1)
	go func() {
		_, err := worker.channel.Call(context.Background(), "get_steps", nil, time.Second)
		done <- err
	}()
	second := worker.nextRequest(t)
	if second.ID <= request.ID {
		t.Errorf("second id = %d, want > %d (ids never reused)", second.ID, request.ID)
	}
	worker.emit(t, fmt.Sprintf(`{"id":%d,"result":null}`, second.ID))
	if err := testutil.RequireReceive(t, done, time.Second, "second call completing"); err != nil {
		t.Fatalf("second Call() error: %v", err)
	}
}

func TestMalformedLineDoesNotBreakChannel(t *testing.T) {
	worker := newFakeWorker(t)

	done := make(chan error, 1)
	go func() {
		_, err := worker.channel.Call(context.Background(), "get_steps", nil, time.Second)
		done <- err
	}()
	request := worker.nextRequest(t)
	worker.emit(t, `garbage that is not json`)
	worker.emit(t, fmt.Sprintf(`{"id":%d,"result":[]}`, request.ID))
	if err := testutil.RequireReceive(t, done, time.Second, "call surviving garbage"); err != nil {
		t.Fatalf("Call() error: %v", err)
	}
}

func TestNotificationInterleavedWithCall(t *testing.T) {
	worker := newFakeWorker(t)
	notifications := worker.channel.Notifications()

	done := make(chan error, 1)
	go func() {
		_, err := worker.channel.Call(context.Background(), "execute_step", map[string]int{"index": 0}, time.Second)
		done <- err
	}()
	request := worker.nextRequest(t)

	worker.emit(t, `{"method":"log","params":{"output":"building...\n"}}`)
	notification := testutil.RequireReceive(t, notifications, time.Second, "interleaved notification")
	params, err := notification.LogParams()
	if err != nil {
		t.Fatalf("LogParams() error: %v", err)
	}
	if params.Output != "building...\n" {
		t.Errorf("Output = %q", params.Output)
	}

	worker.emit(t, fmt.Sprintf(`{"id":%d,"result":{"status":"Success","output":""}}`, request.ID))
	if err := testutil.RequireReceive(t, done, time.Second, "call unaffected by notification"); err != nil {
		t.Fatalf("Call() error: %v", err)
	}
}

func TestNotificationsMultiSubscriberOrder(t *testing.T) {
	worker := newFakeWorker(t)
	first := worker.channel.Notifications()
	second := worker.channel.Notifications()

	const count = 20
	for i := 0; i < count; i++ {
		worker.emit(t, fmt.Sprintf(`{"method":"log","params":{"output":"line %d"}}`, i))
	}

	for name, stream := range map[string]<-chan *wire.Notification{"first": first, "second": second} {
		for i := 0; i < count; i++ {
			notification := testutil.RequireReceive(t, stream, time.Second, "%s subscriber line %d", name, i)
			params, err := notification.LogParams()
			if err != nil {
				t.Fatalf("LogParams() error: %v", err)
			}
			if want := fmt.Sprintf("line %d", i); params.Output != want {
				t.Fatalf("%s subscriber got %q, want %q (order broken)", name, params.Output, want)
			}
		}
	}
}

func TestProcessExitRejectsPendingCalls(t *testing.T) {
	worker := newFakeWorkerWithExit(t, func() int { return 42 })
	notifications := worker.channel.Notifications()

	const pending = 3
	results := make(chan error, pending)
	var started sync.WaitGroup
	for i := 0; i < pending; i++ {
		started.Add(1)
		go func() {
			started.Done()
			_, err := worker.channel.Call(context.Background(), "get_steps", nil, 5*time.Second)
			results <- err
		}()
	}
	started.Wait()
	for i := 0; i < pending; i++ {
		worker.nextRequest(t)
	}

	worker.output.Close()

	for i := 0; i < pending; i++ {
		err := testutil.RequireReceive(t, results, time.Second, "pending call %d rejected", i)
		var exited *ProcessExitedError
		if !errors.As(err, &exited) {
			t.Fatalf("err = %v, want *ProcessExitedError", err)
		}
		if exited.Code != 42 {
			t.Errorf("Code = %d, want 42", exited.Code)
		}
	}
	testutil.RequireClosed(t, notifications, time.Second, "notification stream ending on exit")
	testutil.RequireClosed(t, worker.channel.Done(), time.Second, "channel terminal")
}

func TestDisposeRejectsExactlyPendingCalls(t *testing.T) {
	worker := newFakeWorker(t)
	notifications := worker.channel.Notifications()

	const pending = 4
	results := make(chan error, pending)
	for i := 0; i < pending; i++ {
		go func() {
			_, err := worker.channel.Call(context.Background(), "get_steps", nil, 5*time.Second)
			results <- err
		}()
	}
	for i := 0; i < pending; i++ {
		worker.nextRequest(t)
	}

	worker.channel.Dispose()
	worker.channel.Dispose()

	for i := 0; i < pending; i++ {
		err := testutil.RequireReceive(t, results, time.Second, "pending call %d rejected", i)
		if !errors.Is(err, ErrChannelClosed) {
			t.Errorf("err = %v, want ErrChannelClosed", err)
		}
	}
	testutil.RequireClosed(t, notifications, time.Second, "notification stream ending on dispose")

	if _, err := worker.channel.Call(context.Background(), "get_steps", nil, time.Second); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Call() after dispose = %v, want ErrChannelClosed", err)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Start(context.Background(), "/nonexistent/cairn-worker", "README.md", logger)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
}

func TestStartImmediateExit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Start(context.Background(), "/bin/false", "README.md", logger)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError for a worker that exits inside the grace window", err)
	}
}
