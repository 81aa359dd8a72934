// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCorrelation reports a Resolve for an id with no pending
// call. This legitimately happens when a response arrives after its
// call already timed out; callers log it and move on.
var ErrUnknownCorrelation = errors.New("unknown correlation id")

// Outcome is the terminal result of a pending call: a raw result
// payload or an error, never both.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Call is one outstanding request. The owner waits on Done; the
// reader loop resolves it through the Pending table.
type Call struct {
	id   uint64
	done chan Outcome
}

// ID returns the request id this call is registered under.
func (c *Call) ID() uint64 {
	return c.id
}

// Done delivers exactly one Outcome when the call resolves, fails, or
// is swept by FailAll.
func (c *Call) Done() <-chan Outcome {
	return c.done
}

// Pending is the correlation table mapping outstanding request ids to
// their waiting callers. Ids are allocated strictly increasing per
// table and never reused, so a response always matches at most one
// call even when responses arrive out of send order.
type Pending struct {
	mu     sync.Mutex
	nextID uint64
	calls  map[uint64]*Call
}

// NewPending returns an empty correlation table.
func NewPending() *Pending {
	return &Pending{calls: make(map[uint64]*Call)}
}

// Next allocates the next request id. Ids start at 1.
func (p *Pending) Next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	return p.nextID
}

// Register creates the pending call for id. Registering an id that is
// already pending panics: ids come from Next and are never reused, so
// a duplicate is a programming error, not runtime data.
func (p *Pending) Register(id uint64) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.calls[id]; exists {
		panic(fmt.Sprintf("wire: duplicate registration for id %d", id))
	}
	call := &Call{id: id, done: make(chan Outcome, 1)}
	p.calls[id] = call
	return call
}

// Resolve delivers the outcome to the call pending under id and
// removes it. Returns ErrUnknownCorrelation if no such call is
// pending, which the caller treats as a discarded late response.
func (p *Pending) Resolve(id uint64, outcome Outcome) error {
	p.mu.Lock()
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCorrelation, id)
	}
	call.done <- outcome
	return nil
}

// Expire removes the call pending under id without delivering an
// outcome. Used by the caller that owns the call after its deadline
// fired; a response arriving later takes the ErrUnknownCorrelation
// path in Resolve.
func (p *Pending) Expire(id uint64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// FailAll resolves every pending call with err and empties the table.
// Returns the number of calls failed. Safe to invoke multiple times
// and concurrently with Resolve: each call receives exactly one
// outcome, whichever path removes it from the table first.
func (p *Pending) FailAll(err error) int {
	p.mu.Lock()
	swept := make([]*Call, 0, len(p.calls))
	for id, call := range p.calls {
		swept = append(swept, call)
		delete(p.calls, id)
	}
	p.mu.Unlock()

	for _, call := range swept {
		call.done <- Outcome{Err: err}
	}
	return len(swept)
}
