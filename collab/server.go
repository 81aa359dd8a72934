// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// pinHeader carries the join secret on the websocket upgrade request.
const pinHeader = "x-cairn-pin"

// HostConfig configures StartHost.
type HostConfig struct {
	// Address is the TCP listen address, e.g. "0.0.0.0:0" for an
	// ephemeral port. Defaults to "127.0.0.1:0".
	Address string

	// AdvertiseHost is the host embedded in the join token. It must
	// be reachable by peers; defaults to "127.0.0.1".
	AdvertiseHost string

	// Snapshot is the initial session state guests are admitted
	// with.
	Snapshot Snapshot

	// Logger is optional; slog.Default is used when nil.
	Logger *slog.Logger
}

// Host is a live collaboration listener. The embedded session is the
// broadcast hub the driver feeds; Token is what the operator hands to
// peers.
type Host struct {
	Session *Session
	Token   Token

	secret   string
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

// StartHost generates a fresh identity and secret, binds a TLS 1.3
// listener, and begins serving websocket joins on /session. Every
// session gets a new certificate; a restarted host always means a new
// join token.
func StartHost(config HostConfig) (*Host, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	address := config.Address
	if address == "" {
		address = "127.0.0.1:0"
	}
	advertise := config.AdvertiseHost
	if advertise == "" {
		advertise = "127.0.0.1"
	}

	identity, err := GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("generating session identity: %w", err)
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, fmt.Errorf("deriving join secret: %w", err)
	}

	listener, err := tls.Listen("tcp", address, &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{identity.Certificate},
	})
	if err != nil {
		return nil, fmt.Errorf("binding session listener on %s: %w", address, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	host := &Host{
		Session: newSession(config.Snapshot, logger),
		Token: Token{
			Host:        advertise,
			Port:        port,
			Fingerprint: identity.Fingerprint,
			Secret:      secret,
		},
		secret:   secret,
		logger:   logger,
		listener: listener,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/session", host.handleJoin)
	host.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := host.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Debug("session listener ended", "error", err)
		}
	}()
	host.Session.listening()

	logger.Info("collaboration session open",
		"address", listener.Addr().String(),
		"fingerprint", identity.Fingerprint[:12])
	return host, nil
}

// handleJoin authenticates and admits one peer. The secret check runs
// before the upgrade: a caller with the wrong pin learns nothing
// beyond 401.
func (h *Host) handleJoin(w http.ResponseWriter, r *http.Request) {
	if !secretsEqual(r.Header.Get(pinHeader), h.secret) {
		h.logger.Warn("rejected join with bad pin", "remote", r.RemoteAddr)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p, admitted := h.Session.admit(conn)
	if !admitted {
		conn.Close()
		return
	}
	h.logger.Info("guest joined", "remote", r.RemoteAddr, "peers", h.Session.PeerCount())
	go h.readCommands(p)
}

// readCommands drains one guest's frames. Guests are read-only: the
// only honored command is a resync request; anything else is answered
// with a denied event and dropped before it can reach the worker.
func (h *Host) readCommands(p *peer) {
	defer func() {
		h.Session.remove(p)
		h.logger.Info("guest left", "peers", h.Session.PeerCount())
	}()
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		command, err := DecodeCommand(frame)
		if err != nil || command.Kind != CommandResync {
			h.logger.Warn("denied guest command", "kind", command.Kind)
			h.Session.deny(p)
			continue
		}
		h.Session.resync(p)
	}
}

// Close ends the session, every guest connection, and the listener.
func (h *Host) Close() error {
	h.Session.close()
	return h.server.Close()
}
