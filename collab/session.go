// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cairn-run/cairn/lib/runbook"
)

// State is a session's lifecycle position.
type State int

const (
	// StateCreated: identity and secret exist, no listener yet.
	StateCreated State = iota

	// StateAwaitingPeers: listening, no guest connected.
	StateAwaitingPeers

	// StateLive: at least one guest connected.
	StateLive

	// StateClosed: terminal. Every guest connection is gone.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingPeers:
		return "awaiting-peers"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// peerSendBuffer caps how many encoded frames may queue for one guest
// before it counts as a slow consumer and is dropped. A dropped guest
// that reconnects gets a fresh snapshot, so dropping is safe.
const peerSendBuffer = 64

// peer is one connected guest. Frames are enqueued on send and a
// dedicated writer goroutine drains them, so broadcasting never
// blocks on any guest's socket.
type peer struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(conn *websocket.Conn) *peer {
	p := &peer{
		conn: conn,
		send: make(chan []byte, peerSendBuffer),
		done: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *peer) writeLoop() {
	defer p.conn.Close()
	for {
		select {
		case frame := <-p.send:
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-p.done:
			p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Session is the host-side broadcast hub. It owns the sequence
// counter, the cached snapshot late joiners are admitted with, and
// the set of connected peers. All mutation funnels through the
// emission methods below; fan-out to peer sockets happens on each
// peer's writer goroutine.
type Session struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	seq      uint64
	snapshot Snapshot
	peers    map[*peer]struct{}
}

func newSession(snapshot Snapshot, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger:   logger,
		state:    StateCreated,
		snapshot: snapshot,
		peers:    make(map[*peer]struct{}),
	}
}

// State reports the session's lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerCount reports how many guests are connected.
func (s *Session) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Navigate records a move to the given step and broadcasts it.
func (s *Session) Navigate(step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Current = step
	s.broadcastLocked(Event{Kind: KindNavigate, Step: step})
}

// ExecStarted records that a step began executing and broadcasts it.
func (s *Session) ExecStarted(step int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step >= 0 && step < len(s.snapshot.Steps) {
		s.snapshot.Steps[step].Status = runbook.StatusRunning
		s.snapshot.Steps[step].Output = ""
	}
	s.broadcastLocked(Event{Kind: KindExecStarted, Step: step, Status: status})
}

// ExecOutput appends a chunk of streamed output and broadcasts it.
func (s *Session) ExecOutput(step int, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step >= 0 && step < len(s.snapshot.Steps) {
		s.snapshot.Steps[step].Output += chunk
	}
	s.broadcastLocked(Event{Kind: KindExecOutput, Step: step, Output: chunk})
}

// ExecResult records a finished step and broadcasts its outcome.
func (s *Session) ExecResult(step int, status string, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step >= 0 && step < len(s.snapshot.Steps) {
		if parsed, err := runbook.ParseStatus(status); err == nil {
			s.snapshot.Steps[step].Status = parsed
		}
		s.snapshot.Steps[step].Output = output
	}
	s.broadcastLocked(Event{Kind: KindExecResult, Step: step, Status: status, Output: output})
}

// broadcastLocked assigns the next sequence number and fans the frame
// out. A guest whose send queue is full is dropped; it can rejoin and
// be readmitted with a fresh snapshot. Callers hold s.mu.
func (s *Session) broadcastLocked(event Event) {
	if s.state == StateClosed {
		return
	}
	s.seq++
	event.Seq = s.seq

	frame, err := EncodeEvent(event)
	if err != nil {
		s.logger.Error("dropping unencodable event", "kind", event.Kind, "error", err)
		return
	}
	for p := range s.peers {
		select {
		case p.send <- frame:
		default:
			s.logger.Warn("dropping slow guest", "queued", len(p.send))
			s.removePeerLocked(p)
		}
	}
}

// listening transitions Created to AwaitingPeers once the listener
// is up.
func (s *Session) listening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCreated {
		s.state = StateAwaitingPeers
	}
}

// admit registers a freshly authenticated guest and sends it the
// current snapshot. Registration and the snapshot share one critical
// section, so every event broadcast after the snapshot reaches the
// guest and none are skipped: a new guest never starts from partial
// state.
func (s *Session) admit(conn *websocket.Conn) (*peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false
	}

	p := newPeer(conn)
	snapshot := cloneSnapshot(s.snapshot)
	frame, err := EncodeEvent(Event{Seq: s.seq, Kind: KindSnapshot, Snapshot: &snapshot})
	if err != nil {
		s.logger.Error("encoding admission snapshot", "error", err)
		p.close()
		return nil, false
	}
	p.send <- frame

	s.peers[p] = struct{}{}
	s.state = StateLive
	return p, true
}

// resync sends a fresh snapshot to one guest that reported a gap.
func (s *Session) resync(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, connected := s.peers[p]; !connected {
		return
	}
	snapshot := cloneSnapshot(s.snapshot)
	frame, err := EncodeEvent(Event{Seq: s.seq, Kind: KindSnapshot, Snapshot: &snapshot})
	if err != nil {
		s.logger.Error("encoding resync snapshot", "error", err)
		return
	}
	select {
	case p.send <- frame:
	default:
		s.removePeerLocked(p)
	}
}

// deny answers a guest frame that attempted a host-only action.
func (s *Session) deny(p *peer) {
	frame, err := EncodeEvent(Event{Seq: 0, Kind: KindDenied})
	if err != nil {
		s.logger.Error("encoding denial", "error", err)
		return
	}
	select {
	case p.send <- frame:
	default:
	}
}

// remove drops a guest, transitioning back to AwaitingPeers when it
// was the last one.
func (s *Session) remove(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePeerLocked(p)
}

func (s *Session) removePeerLocked(p *peer) {
	if _, connected := s.peers[p]; !connected {
		return
	}
	delete(s.peers, p)
	p.close()
	if len(s.peers) == 0 && s.state == StateLive {
		s.state = StateAwaitingPeers
	}
}

// close ends the session and every guest connection. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	for p := range s.peers {
		delete(s.peers, p)
		p.close()
	}
}

func cloneSnapshot(snapshot Snapshot) Snapshot {
	clone := snapshot
	clone.Steps = runbook.CloneSteps(snapshot.Steps)
	return clone
}
