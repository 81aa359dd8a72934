// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the worker side of the control channel: a
// loop that reads one request per line from the driver, executes it
// against the loaded runbook, and writes responses and streamed log
// notifications back. The loop is single-threaded by design; step
// execution holds it, and only output streaming happens concurrently.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cairn-run/cairn/lib/execute"
	"github.com/cairn-run/cairn/lib/runbook"
	"github.com/cairn-run/cairn/lib/wire"
)

// maxLineBytes bounds a single protocol line from the driver.
const maxLineBytes = 1 << 20

// Config assembles the worker state behind the control channel.
type Config struct {
	// Steps is the parsed runbook, mutated in place as execution
	// results arrive.
	Steps []runbook.Step

	// Hooks is the optional frontmatter hook configuration.
	Hooks *runbook.HookConfig

	// Runner executes code blocks. Required.
	Runner *execute.Runner

	// Logger receives protocol diagnostics on stderr; protocol data
	// never goes through it. Required.
	Logger *slog.Logger
}

// Serve reads requests from input until EOF and writes responses and
// notifications to output. Malformed lines are logged and dropped;
// they never terminate the loop. Returns the scanner error, if any.
func Serve(ctx context.Context, input io.Reader, output io.Writer, config Config) error {
	server := &server{
		steps:  config.Steps,
		hooks:  config.Hooks,
		runner: config.Runner,
		logger: config.Logger,
		output: output,
	}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		message, err := wire.Decode(line)
		if err != nil {
			server.logger.Warn("dropping malformed line", "error", err)
			continue
		}
		request, ok := message.(*wire.Request)
		if !ok {
			server.logger.Warn("dropping non-request message", "type", fmt.Sprintf("%T", message))
			continue
		}
		server.handle(ctx, request)
	}
	return scanner.Err()
}

// server is the per-channel worker state. The write mutex serializes
// response lines against log notifications streamed from executing
// blocks.
type server struct {
	steps  []runbook.Step
	hooks  *runbook.HookConfig
	runner *execute.Runner
	logger *slog.Logger

	writeMu sync.Mutex
	output  io.Writer
}

func (s *server) handle(ctx context.Context, request *wire.Request) {
	switch request.Method {
	case wire.MethodGetSteps:
		s.handleGetSteps(request)
	case wire.MethodExecuteStep:
		s.handleExecuteStep(ctx, request)
	default:
		s.respondError(request.ID, fmt.Sprintf("method not found: %s", request.Method))
	}
}

func (s *server) handleGetSteps(request *wire.Request) {
	result, err := json.Marshal(s.steps)
	if err != nil {
		s.respondError(request.ID, fmt.Sprintf("encoding steps: %v", err))
		return
	}
	s.respond(request.ID, result)
}

func (s *server) handleExecuteStep(ctx context.Context, request *wire.Request) {
	params, err := request.ExecuteStepParams()
	if err != nil {
		s.respondError(request.ID, fmt.Sprintf("invalid params: %v", err))
		return
	}
	if params.Index < 0 || params.Index >= len(s.steps) {
		s.respondError(request.ID, "invalid params: index out of bounds")
		return
	}

	step := &s.steps[params.Index]
	step.Status = runbook.StatusRunning

	hookEnv := []string{
		"CAIRN_STEP_TITLE=" + step.Title,
		fmt.Sprintf("CAIRN_STEP_INDEX=%d", params.Index),
	}
	s.triggerHook(ctx, s.hookCommand(func(h *runbook.HookConfig) string { return h.PreRun }), hookEnv)

	var collected bytes.Buffer
	sink := func(chunk string) {
		collected.WriteString(chunk)
		s.notifyLog(chunk)
	}
	status := s.runner.RunStep(ctx, *step, sink)

	step.Status = status
	if collected.Len() > 0 {
		step.Output = collected.String()
	}

	hookEnv = append(hookEnv, "CAIRN_STEP_STATUS="+status.String())
	s.triggerHook(ctx, s.hookCommand(func(h *runbook.HookConfig) string { return h.PostRun }), hookEnv)
	switch status {
	case runbook.StatusSuccess:
		s.triggerHook(ctx, s.hookCommand(func(h *runbook.HookConfig) string { return h.OnSuccess }), hookEnv)
	case runbook.StatusFailed:
		s.triggerHook(ctx, s.hookCommand(func(h *runbook.HookConfig) string { return h.OnFailure }), hookEnv)
	}

	result, err := json.Marshal(wire.ExecuteResult{Status: status.String(), Output: step.Output})
	if err != nil {
		s.respondError(request.ID, fmt.Sprintf("encoding result: %v", err))
		return
	}
	s.respond(request.ID, result)
}

func (s *server) hookCommand(pick func(*runbook.HookConfig) string) string {
	if s.hooks == nil {
		return ""
	}
	return pick(s.hooks)
}

func (s *server) triggerHook(ctx context.Context, hook string, env []string) {
	runbook.Trigger(ctx, hook, env, s.logger)
}

func (s *server) respond(id uint64, result json.RawMessage) {
	s.write(&wire.Response{ID: id, Result: result})
}

func (s *server) respondError(id uint64, message string) {
	s.write(&wire.Response{ID: id, Error: &wire.ResponseError{Message: message}})
}

func (s *server) notifyLog(chunk string) {
	params, err := json.Marshal(wire.LogParams{Output: chunk})
	if err != nil {
		s.logger.Warn("encoding log params", "error", err)
		return
	}
	s.write(&wire.Notification{Method: wire.MethodLog, Params: params})
}

func (s *server) write(message wire.Message) {
	line, err := wire.Encode(message)
	if err != nil {
		s.logger.Error("encoding message", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.output.Write(line); err != nil {
		s.logger.Error("writing message", "error", err)
	}
}
