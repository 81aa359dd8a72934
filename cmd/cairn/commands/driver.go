// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cairn-run/cairn/lib/config"
	"github.com/cairn-run/cairn/lib/runbook"
	"github.com/cairn-run/cairn/lib/runner"
	"github.com/cairn-run/cairn/lib/tracker"
	"github.com/cairn-run/cairn/lib/wire"
)

// executeTimeout bounds one execute_step call. Steps run real
// commands, so this is deliberately much longer than the default
// control-channel deadline.
const executeTimeout = 10 * time.Minute

// workerSession is the driver-side bundle: a live channel to one
// worker, the step state tracker it feeds, and a notification pump
// wiring streamed output into both.
type workerSession struct {
	config  config.Config
	channel *runner.Channel
	track   *tracker.Tracker
	logger  *slog.Logger

	sinkMu sync.Mutex
	sink   func(string)
}

// startWorkerSession spawns the worker for document, fetches the step
// list, and starts pumping log notifications into the tracker.
func startWorkerSession(ctx context.Context, document string, verbose bool) (*workerSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(verbose)

	channel, err := runner.Start(ctx, cfg.WorkerExecutable, document, logger)
	if err != nil {
		return nil, err
	}

	session := &workerSession{
		config:  cfg,
		channel: channel,
		track:   tracker.New(),
		logger:  logger,
	}
	go session.pumpNotifications(channel.Notifications())

	if err := session.refreshSteps(ctx); err != nil {
		channel.Dispose()
		return nil, err
	}
	return session, nil
}

// refreshSteps fetches the worker's step list into the tracker.
func (s *workerSession) refreshSteps(ctx context.Context) error {
	result, err := s.channel.Call(ctx, wire.MethodGetSteps, nil, s.config.CallTimeout())
	if err != nil {
		return fmt.Errorf("fetching steps: %w", err)
	}
	var steps []runbook.Step
	if err := json.Unmarshal(result, &steps); err != nil {
		return fmt.Errorf("decoding step list: %w", err)
	}
	s.track.Load(steps)
	return nil
}

// executeStep runs one step on the worker. Streamed output hits the
// sink as it arrives; the final status and collected output land in
// the tracker.
func (s *workerSession) executeStep(ctx context.Context, index int, sink func(string)) (runbook.Status, error) {
	if err := s.track.SetRunning(index); err != nil {
		return runbook.StatusPending, err
	}
	s.setSink(func(chunk string) {
		s.track.AppendOutput(index, chunk)
		if sink != nil {
			sink(chunk)
		}
	})
	defer s.setSink(nil)

	result, err := s.channel.Call(ctx, wire.MethodExecuteStep,
		wire.ExecuteStepParams{Index: index}, executeTimeout)
	if err != nil {
		s.track.ApplyResult(index, runbook.StatusFailed, "")
		return runbook.StatusFailed, fmt.Errorf("executing step %d: %w", index, err)
	}

	var executed wire.ExecuteResult
	if err := json.Unmarshal(result, &executed); err != nil {
		return runbook.StatusFailed, fmt.Errorf("decoding step %d result: %w", index, err)
	}
	status, err := runbook.ParseStatus(executed.Status)
	if err != nil {
		return runbook.StatusFailed, fmt.Errorf("step %d result: %w", index, err)
	}
	s.track.ApplyResult(index, status, executed.Output)
	return status, nil
}

func (s *workerSession) close() {
	s.channel.Dispose()
}

func (s *workerSession) setSink(sink func(string)) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
}

// pumpNotifications applies streamed log output for the lifetime of
// the channel. Output outside an execution is logged, not lost.
func (s *workerSession) pumpNotifications(notifications <-chan *wire.Notification) {
	for notification := range notifications {
		params, err := notification.LogParams()
		if err != nil {
			s.logger.Warn("dropping malformed log notification", "error", err)
			continue
		}
		s.sinkMu.Lock()
		sink := s.sink
		s.sinkMu.Unlock()
		if sink != nil {
			sink(params.Output)
		} else {
			s.logger.Debug("worker output outside execution", "output", params.Output)
		}
	}
}
