// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner owns a spawned worker process and turns its standard
// input/output streams into a request/response/notification channel
// for the driver.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/cairn-run/cairn/lib/wire"
)

const (
	// DefaultCallTimeout bounds how long Call waits for a response
	// when the caller passes no explicit timeout.
	DefaultCallTimeout = 5 * time.Second

	// spawnGraceWindow is how long Start watches a freshly spawned
	// worker before trusting it. A worker that exits inside the
	// window never started in any useful sense; Start reports that
	// as a SpawnError rather than handing back a dead channel.
	spawnGraceWindow = 500 * time.Millisecond

	// maxLineBytes caps a single protocol line from the worker.
	maxLineBytes = 1 << 20
)

// Channel is the driver's connection to one worker process. The
// reader loop and request senders run concurrently: Call never blocks
// the reader, and a dead worker fails every pending call instead of
// hanging it.
type Channel struct {
	logger  *slog.Logger
	pending *wire.Pending

	stdin   io.WriteCloser
	writeMu sync.Mutex

	// terminate kills the worker process; waitExit blocks until it
	// has exited and returns its exit code. Both are nil for
	// channels attached directly to in-process pipes.
	terminate func()
	waitExit  func() int

	mu          sync.Mutex
	subscribers []*subscriber
	disposed    bool
	failure     error

	// done closes once the channel is terminal: the failure is
	// recorded, pending calls are swept, and subscriber streams
	// are closed.
	done chan struct{}
}

// Start spawns the worker executable in headless mode against the
// given document and returns a live channel to it. The worker is
// watched for a short grace window first; an executable that is
// missing or exits immediately yields a SpawnError, not a channel.
func Start(ctx context.Context, executable, document string, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, executable, "--headless", document)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}

	// Worker stderr is diagnostics, never protocol data.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("worker stderr", "line", scanner.Text())
		}
	}()

	waitExit := func() int {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return 0
	}
	channel := attach(stdin, stdout, waitExit, logger)
	channel.terminate = func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}

	timer := time.NewTimer(spawnGraceWindow)
	defer timer.Stop()
	select {
	case <-channel.done:
		return nil, &SpawnError{Executable: executable, Err: channel.terminalError()}
	case <-timer.C:
	}
	return channel, nil
}

// attach builds a channel over raw streams and starts its reader
// loop. Start wires it to a real process; tests wire it to pipes,
// with a nil waitExit.
func attach(stdin io.WriteCloser, stdout io.Reader, waitExit func() int, logger *slog.Logger) *Channel {
	channel := &Channel{
		logger:   logger,
		pending:  wire.NewPending(),
		stdin:    stdin,
		waitExit: waitExit,
		done:     make(chan struct{}),
	}
	go channel.readLoop(stdout)
	return channel
}

// Call sends a request and waits for its response, the deadline, or
// context cancellation, whichever comes first. A timeout fails only
// this call; the channel stays usable and a late response for the
// same id is discarded. The zero timeout means DefaultCallTimeout.
func (c *Channel) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if err := c.terminalError(); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params for %s: %w", method, err)
		}
		raw = encoded
	}

	id := c.pending.Next()
	call := c.pending.Register(id)
	line, err := wire.Encode(&wire.Request{ID: id, Method: method, Params: raw})
	if err != nil {
		c.pending.Expire(id)
		return nil, fmt.Errorf("encoding request %s: %w", method, err)
	}
	if err := c.write(line); err != nil {
		c.pending.Expire(id)
		if terminal := c.terminalError(); terminal != nil {
			return nil, terminal
		}
		return nil, fmt.Errorf("sending request %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-call.Done():
		return c.finish(method, outcome)
	case <-timer.C:
		c.pending.Expire(id)
		// The reader may have resolved the call in the same
		// instant the deadline fired; a delivered outcome wins.
		select {
		case outcome := <-call.Done():
			return c.finish(method, outcome)
		default:
		}
		return nil, &TimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		c.pending.Expire(id)
		select {
		case outcome := <-call.Done():
			return c.finish(method, outcome)
		default:
		}
		return nil, ctx.Err()
	}
}

func (c *Channel) finish(method string, outcome wire.Outcome) (json.RawMessage, error) {
	if outcome.Err != nil {
		var workerErr *WorkerError
		if errors.As(outcome.Err, &workerErr) {
			workerErr.Method = method
		}
		return nil, outcome.Err
	}
	return outcome.Result, nil
}

// Notifications returns an order-preserving stream of every
// notification the worker emits from this point on. Each subscriber
// gets its own stream; the reader loop never blocks on a slow
// subscriber. The stream closes when the channel becomes terminal and
// must be drained until then.
func (c *Channel) Notifications() <-chan *wire.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.failure != nil {
		closed := make(chan *wire.Notification)
		close(closed)
		return closed
	}
	sub := newSubscriber()
	c.subscribers = append(c.subscribers, sub)
	return sub.out
}

// Done closes when the channel is terminal for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Dispose terminates the worker, rejects every pending call with
// ErrChannelClosed, and closes all notification streams. Safe to call
// more than once and concurrently with in-flight calls.
func (c *Channel) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	c.stdin.Close()
	if c.terminate != nil {
		c.terminate()
	}
	c.fail(ErrChannelClosed)
}

func (c *Channel) write(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.stdin.Write(line)
	return err
}

func (c *Channel) terminalError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// fail records the terminal error, sweeps the correlation table, and
// closes subscriber streams. First caller wins; later calls are
// no-ops, so a Dispose racing a process exit settles on one error.
func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.failure != nil {
		c.mu.Unlock()
		return
	}
	c.failure = err
	subs := c.subscribers
	c.subscribers = nil
	c.mu.Unlock()

	if failed := c.pending.FailAll(err); failed > 0 {
		c.logger.Debug("rejected pending calls", "count", failed, "error", err)
	}
	for _, sub := range subs {
		sub.close()
	}
	close(c.done)
}

func (c *Channel) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		message, err := wire.Decode(line)
		if err != nil {
			c.logger.Warn("dropping malformed worker line", "error", err)
			continue
		}
		switch m := message.(type) {
		case *wire.Response:
			outcome := wire.Outcome{Result: m.Result}
			if m.Error != nil {
				outcome = wire.Outcome{Err: &WorkerError{Message: m.Error.Message}}
			}
			if err := c.pending.Resolve(m.ID, outcome); err != nil {
				c.logger.Debug("discarding late response", "id", m.ID)
			}
		case *wire.Notification:
			c.publish(m)
		case *wire.Request:
			c.logger.Warn("ignoring request from worker", "method", m.Method)
		}
	}

	code := 0
	if c.waitExit != nil {
		code = c.waitExit()
	}
	c.fail(&ProcessExitedError{Code: code})
}

func (c *Channel) publish(notification *wire.Notification) {
	c.mu.Lock()
	subs := slices.Clone(c.subscribers)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.push(notification)
	}
}

// subscriber decouples one Notifications consumer from the reader
// loop: pushes append to an unbounded queue, and a pump goroutine
// delivers in order on the out channel.
type subscriber struct {
	mu    sync.Mutex
	queue []*wire.Notification
	ended bool
	wake  chan struct{}
	out   chan *wire.Notification
}

func newSubscriber() *subscriber {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan *wire.Notification),
	}
	go sub.pump()
	return sub
}

func (s *subscriber) push(notification *wire.Notification) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, notification)
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				ended := s.ended
				s.mu.Unlock()
				if ended {
					close(s.out)
					return
				}
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.out <- next
		}
	}
}
