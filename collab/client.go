// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrAuthenticationFailed reports that the host rejected the join
// secret. The transport pin already matched; the secret did not.
var ErrAuthenticationFailed = errors.New("session rejected the join secret")

// ErrPermissionDenied reports that the host refused a guest request
// for a host-only action. Guests watch; they do not steer.
var ErrPermissionDenied = errors.New("guests may not execute steps")

// guestEventBuffer is the delivery buffer between the guest's read
// loop and its consumer.
const guestEventBuffer = 256

// Guest is a read-only peer connected to a remote session. Events
// arrive on Events in host emission order; the stream closes when the
// connection ends, with the reason available from Err.
type Guest struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	events  chan Event
	denials chan struct{}

	writeMu sync.Mutex

	failOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Join dials the session named by the token. Transport trust comes
// entirely from the pinned fingerprint: a certificate that does not
// match aborts the handshake before any application data, with no
// certificate-authority fallback. The join secret rides the upgrade
// request and authorizes admission.
func Join(ctx context.Context, token Token, logger *slog.Logger) (*Guest, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  PinnedClientConfig(token.Fingerprint),
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{}
	header.Set(pinHeader, token.Secret)

	conn, response, err := dialer.DialContext(ctx, token.URL(), header)
	if err != nil {
		if response != nil && response.StatusCode == http.StatusUnauthorized {
			return nil, ErrAuthenticationFailed
		}
		if errors.Is(err, ErrCertificateMismatch) {
			return nil, ErrCertificateMismatch
		}
		return nil, fmt.Errorf("joining session: %w", err)
	}

	guest := &Guest{
		conn:    conn,
		logger:  logger,
		events:  make(chan Event, guestEventBuffer),
		denials: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go guest.readLoop()
	return guest, nil
}

// Events delivers decoded events in host emission order. The first
// event is always a snapshot. The channel closes when the connection
// ends; Err then reports why.
func (g *Guest) Events() <-chan Event {
	return g.events
}

// Err reports why the event stream ended. Nil while it is live.
func (g *Guest) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Execute asks the host to run a step. The host denies every
// execution-affecting request from a guest, so this resolves to
// ErrPermissionDenied without the request ever reaching the worker.
func (g *Guest) Execute(ctx context.Context, step int) error {
	frame, err := EncodeCommand(Command{Kind: "execute_step"})
	if err != nil {
		return err
	}
	if err := g.write(frame); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	select {
	case <-g.denials:
		return ErrPermissionDenied
	case <-g.done:
		return g.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the session. The event stream closes with a
// nil-wrapped closure error.
func (g *Guest) Close() error {
	return g.conn.Close()
}

func (g *Guest) write(frame []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// readLoop decodes frames and enforces sequence order. Events are
// applied only in order: after a snapshot at sequence S, the next
// incremental must carry S+1. On a gap the guest requests a resync
// and discards incrementals until the fresh snapshot arrives; it
// never attempts partial reconciliation.
func (g *Guest) readLoop() {
	var lastSeq uint64
	synced := false

	for {
		_, frame, err := g.conn.ReadMessage()
		if err != nil {
			g.fail(err)
			return
		}
		event, err := DecodeEvent(frame)
		if err != nil {
			g.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		switch event.Kind {
		case KindDenied:
			// Routed to the waiting request, not the event
			// stream. Sequence zero, excluded from gap checks.
			select {
			case g.denials <- struct{}{}:
			default:
			}
		case KindSnapshot:
			lastSeq = event.Seq
			synced = true
			g.events <- event
		default:
			if !synced {
				continue
			}
			if event.Seq != lastSeq+1 {
				g.logger.Info("sequence gap, requesting resync",
					"have", lastSeq, "got", event.Seq)
				synced = false
				g.requestResync()
				continue
			}
			lastSeq = event.Seq
			g.events <- event
		}
	}
}

func (g *Guest) requestResync() {
	frame, err := EncodeCommand(Command{Kind: CommandResync})
	if err != nil {
		g.fail(err)
		return
	}
	if err := g.write(frame); err != nil {
		g.fail(err)
	}
}

func (g *Guest) fail(err error) {
	g.failOnce.Do(func() {
		g.mu.Lock()
		g.err = err
		g.mu.Unlock()
		close(g.done)
		close(g.events)
		g.conn.Close()
	})
}
