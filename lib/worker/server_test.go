// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cairn-run/cairn/lib/execute"
	"github.com/cairn-run/cairn/lib/runbook"
	"github.com/cairn-run/cairn/lib/testutil"
	"github.com/cairn-run/cairn/lib/wire"
)

// startServer runs Serve over in-process pipes and returns the
// driver-side ends plus a channel that closes when Serve returns.
func startServer(t *testing.T, steps []runbook.Step) (io.WriteCloser, *bufio.Scanner, <-chan struct{}) {
	t.Helper()

	requestReader, requestWriter := io.Pipe()
	responseReader, responseWriter := io.Pipe()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer responseWriter.Close()
		err := Serve(context.Background(), requestReader, responseWriter, Config{
			Steps:  steps,
			Runner: &execute.Runner{Dir: t.TempDir(), Logger: logger},
			Logger: logger,
		})
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	}()

	scanner := bufio.NewScanner(responseReader)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return requestWriter, scanner, done
}

// readMessages collects protocol lines until a response with the given
// id arrives, returning the notifications seen on the way plus that
// response.
func readUntilResponse(t *testing.T, scanner *bufio.Scanner, id uint64) ([]*wire.Notification, *wire.Response) {
	t.Helper()
	var notifications []*wire.Notification
	for scanner.Scan() {
		message, err := wire.Decode(scanner.Bytes())
		if err != nil {
			t.Fatalf("worker wrote a malformed line %q: %v", scanner.Text(), err)
		}
		switch m := message.(type) {
		case *wire.Notification:
			notifications = append(notifications, m)
		case *wire.Response:
			if m.ID != id {
				t.Fatalf("response id = %d, want %d", m.ID, id)
			}
			return notifications, m
		default:
			t.Fatalf("worker wrote a %T", message)
		}
	}
	t.Fatalf("stream ended before response %d: %v", id, scanner.Err())
	return nil, nil
}

func send(t *testing.T, w io.Writer, request *wire.Request) {
	t.Helper()
	line, err := wire.Encode(request)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if _, err := w.Write(line); err != nil {
		t.Fatalf("writing request: %v", err)
	}
}

func TestGetSteps(t *testing.T) {
	steps := []runbook.Step{{Title: "Setup", Description: "install"}}
	requests, scanner, _ := startServer(t, steps)
	defer requests.Close()

	send(t, requests, &wire.Request{ID: 1, Method: wire.MethodGetSteps})
	_, response := readUntilResponse(t, scanner, 1)
	if response.Error != nil {
		t.Fatalf("get_steps error: %v", response.Error.Message)
	}

	var decoded []runbook.Step
	if err := json.Unmarshal(response.Result, &decoded); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Title != "Setup" || decoded[0].Status != runbook.StatusPending {
		t.Errorf("steps = %+v", decoded)
	}
}

func TestExecuteStepStreamsLogs(t *testing.T) {
	steps := []runbook.Step{{
		Title:      "Build",
		CodeBlocks: []runbook.CodeBlock{{Content: "echo building..."}},
	}}
	requests, scanner, _ := startServer(t, steps)
	defer requests.Close()

	send(t, requests, &wire.Request{
		ID:     2,
		Method: wire.MethodExecuteStep,
		Params: json.RawMessage(`{"index":0}`),
	})
	notifications, response := readUntilResponse(t, scanner, 2)
	if response.Error != nil {
		t.Fatalf("execute_step error: %v", response.Error.Message)
	}

	var result wire.ExecuteResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Status != "Success" {
		t.Errorf("result.Status = %q, want Success", result.Status)
	}
	if !strings.Contains(result.Output, "building...") {
		t.Errorf("result.Output = %q", result.Output)
	}

	var streamed strings.Builder
	for _, notification := range notifications {
		params, err := notification.LogParams()
		if err != nil {
			t.Fatalf("LogParams() error: %v", err)
		}
		streamed.WriteString(params.Output)
	}
	if !strings.Contains(streamed.String(), "building...") {
		t.Errorf("streamed logs = %q, want the block output", streamed.String())
	}
}

func TestExecuteStepFailureStatus(t *testing.T) {
	steps := []runbook.Step{{
		Title:      "Flaky",
		CodeBlocks: []runbook.CodeBlock{{Content: "exit 7"}},
	}}
	requests, scanner, _ := startServer(t, steps)
	defer requests.Close()

	send(t, requests, &wire.Request{
		ID:     3,
		Method: wire.MethodExecuteStep,
		Params: json.RawMessage(`{"index":0}`),
	})
	_, response := readUntilResponse(t, scanner, 3)
	var result wire.ExecuteResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Status != "Failed" {
		t.Errorf("result.Status = %q, want Failed", result.Status)
	}
}

func TestExecuteStepIndexOutOfBounds(t *testing.T) {
	requests, scanner, _ := startServer(t, []runbook.Step{{Title: "only"}})
	defer requests.Close()

	send(t, requests, &wire.Request{
		ID:     4,
		Method: wire.MethodExecuteStep,
		Params: json.RawMessage(`{"index":9}`),
	})
	_, response := readUntilResponse(t, scanner, 4)
	if response.Error == nil || !strings.Contains(response.Error.Message, "out of bounds") {
		t.Errorf("response = %+v, want out-of-bounds error", response)
	}
}

func TestUnknownMethod(t *testing.T) {
	requests, scanner, _ := startServer(t, nil)
	defer requests.Close()

	send(t, requests, &wire.Request{ID: 5, Method: "reboot"})
	_, response := readUntilResponse(t, scanner, 5)
	if response.Error == nil || !strings.Contains(response.Error.Message, "method not found") {
		t.Errorf("response = %+v, want method-not-found error", response)
	}
}

func TestMalformedLineDoesNotKillLoop(t *testing.T) {
	requests, scanner, _ := startServer(t, []runbook.Step{{Title: "s"}})
	defer requests.Close()

	if _, err := io.WriteString(requests, "this is not json\n"); err != nil {
		t.Fatal(err)
	}
	// The loop must survive and answer the next well-formed request.
	send(t, requests, &wire.Request{ID: 6, Method: wire.MethodGetSteps})
	_, response := readUntilResponse(t, scanner, 6)
	if response.Error != nil {
		t.Errorf("get_steps after malformed line failed: %v", response.Error.Message)
	}
}

func TestServeEndsAtEOF(t *testing.T) {
	requests, _, done := startServer(t, nil)
	requests.Close()
	testutil.RequireClosed(t, done, time.Second, "Serve() returning at EOF")
}
