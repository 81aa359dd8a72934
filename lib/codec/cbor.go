// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for collaboration
// broadcast frames. Encoding is deterministic so the same logical
// event always produces identical frame bytes, which keeps frame
// comparison in tests and resync deduplication trivial.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is configured with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items.
var encMode cbor.EncMode

// decMode accepts standard CBOR. Unknown fields are ignored so older
// guests can read frames from newer hosts.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Frame payloads decoded into any-typed targets should come
		// out as map[string]any, not the CBOR default
		// map[interface{}]interface{}, so they interoperate with
		// encoding/json and the rest of the codebase. Struct field
		// decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, for delaying decoding of a
// frame payload.
type RawMessage = cbor.RawMessage
