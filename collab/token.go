// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Token is everything a peer needs to join a session: where the host
// listens, the certificate fingerprint to pin, and the shared secret
// that authorizes admission. Distributed out of band (chat, paste);
// the channel it travels over is the only thing protecting it.
type Token struct {
	Host        string
	Port        int
	Fingerprint string
	Secret      string
}

// URL renders the token as a join URL:
//
//	wss://host:port/session?pin=<fingerprint>.<secret>
func (t Token) URL() string {
	u := url.URL{
		Scheme:   "wss",
		Host:     net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:     "/session",
		RawQuery: url.Values{"pin": []string{t.Fingerprint + "." + t.Secret}}.Encode(),
	}
	return u.String()
}

// ParseToken parses a join URL back into its parts. It rejects
// anything that is not a wss URL with a well-formed two-part pin.
func ParseToken(raw string) (Token, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Token{}, fmt.Errorf("parsing join token: %w", err)
	}
	if u.Scheme != "wss" {
		return Token{}, fmt.Errorf("join token scheme is %q, want wss", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Token{}, fmt.Errorf("join token has no host")
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Token{}, fmt.Errorf("join token has no valid port")
	}

	pin := u.Query().Get("pin")
	if pin == "" {
		return Token{}, fmt.Errorf("join token has no pin")
	}
	fingerprintPart, secret, found := strings.Cut(pin, ".")
	if !found || fingerprintPart == "" || secret == "" {
		return Token{}, fmt.Errorf("join token pin is not fingerprint.secret")
	}

	return Token{
		Host:        host,
		Port:        port,
		Fingerprint: fingerprintPart,
		Secret:      secret,
	}, nil
}
