// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the line-delimited JSON control protocol
// spoken between a driver and a worker process, plus the correlation
// table that matches responses to outstanding requests.
//
// The protocol carries three message shapes, one JSON object per line:
//
//	Request      {"id": 3, "method": "execute_step", "params": {"index": 1}}
//	Response     {"id": 3, "result": ...} or {"id": 3, "error": {"message": "..."}}
//	Notification {"method": "log", "params": {"output": "building...\n"}}
//
// Decoding is strict: a line that does not match exactly one of these
// shapes, carries unknown fields, or carries a notification method
// outside the known set is reported as ErrMalformed. The reader loop
// logs and drops such lines; they never crash the channel.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Methods in the worker control protocol. Requests flow driver to
// worker; the log notification flows worker to driver.
const (
	MethodGetSteps    = "get_steps"
	MethodExecuteStep = "execute_step"
	MethodLog         = "log"
)

// ErrMalformed reports a line that does not decode as any protocol
// message shape. Always wrapped with detail; test with errors.Is.
var ErrMalformed = errors.New("malformed message")

// Message is one decoded protocol message: *Request, *Response, or
// *Notification.
type Message interface {
	message()
}

// Request is a driver-to-worker call expecting exactly one Response
// with the same ID.
type Request struct {
	ID     uint64
	Method string
	Params json.RawMessage
}

// Response answers the Request with the same ID. Exactly one of
// Result or Error is set.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *ResponseError
}

// ResponseError is the error object carried by a failed Response.
type ResponseError struct {
	Message string `json:"message"`
}

// Notification is a worker-to-driver message with no ID and no reply.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Request) message()      {}
func (*Response) message()     {}
func (*Notification) message() {}

// ExecuteStepParams are the parameters of an execute_step request.
type ExecuteStepParams struct {
	Index int `json:"index"`
}

// LogParams are the parameters of a log notification.
type LogParams struct {
	Output string `json:"output"`
}

// ExecuteResult is the result payload of a successful execute_step
// response.
type ExecuteResult struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

// envelope is the superset wire shape used for encoding and decoding.
// ID is a pointer so "no id" (notification) is distinguishable from
// id 0.
type envelope struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// Encode serializes msg as a single line, including the trailing
// newline.
func Encode(msg Message) ([]byte, error) {
	var env envelope
	switch m := msg.(type) {
	case *Request:
		id := m.ID
		env = envelope{ID: &id, Method: m.Method, Params: m.Params}
	case *Response:
		if (m.Result != nil) == (m.Error != nil) {
			return nil, fmt.Errorf("encoding response %d: exactly one of result and error must be set", m.ID)
		}
		id := m.ID
		env = envelope{ID: &id, Result: m.Result, Error: m.Error}
	case *Notification:
		env = envelope{Method: m.Method, Params: m.Params}
	default:
		return nil, fmt.Errorf("encoding message: unknown type %T", msg)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one line into a protocol message. The returned error
// wraps ErrMalformed for any line that is not exactly one of the three
// message shapes.
func Decode(line []byte) (Message, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.DisallowUnknownFields()

	var env envelope
	if err := decoder.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after message", ErrMalformed)
	}

	switch {
	case env.ID != nil && env.Method != "":
		// Request. Result/error fields on a request are malformed.
		if env.Result != nil || env.Error != nil {
			return nil, fmt.Errorf("%w: request %d carries response fields", ErrMalformed, *env.ID)
		}
		return &Request{ID: *env.ID, Method: env.Method, Params: env.Params}, nil

	case env.ID != nil:
		// Response: exactly one of result and error.
		if (env.Result != nil) == (env.Error != nil) {
			return nil, fmt.Errorf("%w: response %d must carry exactly one of result and error", ErrMalformed, *env.ID)
		}
		if env.Params != nil {
			return nil, fmt.Errorf("%w: response %d carries params", ErrMalformed, *env.ID)
		}
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil

	case env.Method != "":
		// Notification. Methods are a closed set: an unknown method
		// is malformed rather than silently passed through.
		if env.Result != nil || env.Error != nil {
			return nil, fmt.Errorf("%w: notification %q carries response fields", ErrMalformed, env.Method)
		}
		notification := &Notification{Method: env.Method, Params: env.Params}
		if env.Method != MethodLog {
			return nil, fmt.Errorf("%w: unknown notification method %q", ErrMalformed, env.Method)
		}
		if _, err := notification.LogParams(); err != nil {
			return nil, err
		}
		return notification, nil

	default:
		return nil, fmt.Errorf("%w: neither id nor method present", ErrMalformed)
	}
}

// ExecuteStepParams decodes and validates the request's parameters as
// an execute_step payload.
func (r *Request) ExecuteStepParams() (ExecuteStepParams, error) {
	var params ExecuteStepParams
	if err := strictUnmarshal(r.Params, &params); err != nil {
		return params, fmt.Errorf("%w: execute_step params: %v", ErrMalformed, err)
	}
	return params, nil
}

// LogParams decodes and validates the notification's parameters as a
// log payload.
func (n *Notification) LogParams() (LogParams, error) {
	var params LogParams
	if err := strictUnmarshal(n.Params, &params); err != nil {
		return params, fmt.Errorf("%w: log params: %v", ErrMalformed, err)
	}
	return params, nil
}

// strictUnmarshal decodes data into v, rejecting unknown fields and
// missing payloads.
func strictUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing params")
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	return nil
}
