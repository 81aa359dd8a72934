// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package collab implements the session a host opens to let remote
// peers watch a live run: an ephemeral pinned-certificate TLS
// listener, a sequenced broadcast fan-out, and the guest client that
// joins it.
package collab

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/zeebo/blake3"
)

// ErrCertificateMismatch reports that the certificate a server
// presented does not hash to the pinned fingerprint. Deliberately
// generic: a guest aborting a handshake reveals nothing about which
// byte differed.
var ErrCertificateMismatch = errors.New("server certificate does not match pinned fingerprint")

// secretLength is the length in hex characters of a join secret.
const secretLength = 16

// Identity is an ephemeral host identity: a freshly generated
// self-signed certificate and the fingerprint peers pin against. It
// lives exactly as long as one session and is never persisted.
type Identity struct {
	Certificate tls.Certificate

	// Fingerprint is the lowercase hex SHA-256 digest of the
	// certificate's DER bytes. This is the sole trust anchor for
	// joining peers; there is no certificate authority.
	Fingerprint string
}

// GenerateIdentity creates a self-signed ECDSA P-256 certificate
// valid for one day, covering "localhost" and the session's internal
// name.
func GenerateIdentity() (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating certificate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "cairn-session"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", "cairn-session"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating session certificate: %w", err)
	}

	return &Identity{
		Certificate: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		},
		Fingerprint: fingerprint(der),
	}, nil
}

// fingerprint returns the lowercase hex SHA-256 digest of DER bytes.
func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// NewSecret derives a short random join secret: the BLAKE3 digest of
// 32 random bytes, hex encoded and truncated to secretLength.
func NewSecret() (string, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", fmt.Errorf("reading randomness for join secret: %w", err)
	}
	sum := blake3.Sum256(seed[:])
	return hex.EncodeToString(sum[:])[:secretLength], nil
}

// PinnedClientConfig returns the TLS configuration a guest dials
// with: TLS 1.3 minimum, no certificate authority validation, and a
// byte-for-byte fingerprint check against the join token's pin. Any
// mismatch aborts the handshake before application data flows.
func PinnedClientConfig(pinnedFingerprint string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,

		// Chain and hostname verification are replaced, not
		// skipped: VerifyPeerCertificate below enforces the pin.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrCertificateMismatch
			}
			presented := fingerprint(rawCerts[0])
			if subtle.ConstantTimeCompare([]byte(presented), []byte(pinnedFingerprint)) != 1 {
				return ErrCertificateMismatch
			}
			return nil
		},
	}
}

// secretsEqual compares two join secrets in constant time.
func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
