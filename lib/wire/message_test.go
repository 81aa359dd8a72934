// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	line, err := Encode(&Request{
		ID:     7,
		Method: MethodExecuteStep,
		Params: json.RawMessage(`{"index":2}`),
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Error("encoded line missing trailing newline")
	}

	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("encoded line is not valid JSON: %v", err)
	}
	if decoded["id"] != float64(7) || decoded["method"] != "execute_step" {
		t.Errorf("unexpected wire shape: %v", decoded)
	}
}

func TestEncodeNotificationOmitsID(t *testing.T) {
	line, err := Encode(&Notification{
		Method: MethodLog,
		Params: json.RawMessage(`{"output":"hi\n"}`),
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if strings.Contains(string(line), `"id"`) {
		t.Errorf("notification must not carry an id: %s", line)
	}
}

func TestEncodeResponseRejectsAmbiguity(t *testing.T) {
	_, err := Encode(&Response{ID: 1})
	if err == nil {
		t.Error("Encode() accepted a response with neither result nor error")
	}
	_, err = Encode(&Response{
		ID:     1,
		Result: json.RawMessage(`null`),
		Error:  &ResponseError{Message: "boom"},
	})
	if err == nil {
		t.Error("Encode() accepted a response with both result and error")
	}
}

func TestDecodeRequest(t *testing.T) {
	msg, err := Decode([]byte(`{"id":3,"method":"execute_step","params":{"index":1}}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	request, ok := msg.(*Request)
	if !ok {
		t.Fatalf("Decode() = %T, want *Request", msg)
	}
	if request.ID != 3 || request.Method != MethodExecuteStep {
		t.Errorf("request = %+v", request)
	}
	params, err := request.ExecuteStepParams()
	if err != nil {
		t.Fatalf("ExecuteStepParams() error: %v", err)
	}
	if params.Index != 1 {
		t.Errorf("params.Index = %d, want 1", params.Index)
	}
}

func TestDecodeResponseResult(t *testing.T) {
	msg, err := Decode([]byte(`{"id":1,"result":[{"title":"Setup","status":"Pending","description":"..."}]}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	response, ok := msg.(*Response)
	if !ok {
		t.Fatalf("Decode() = %T, want *Response", msg)
	}
	if response.ID != 1 || response.Result == nil || response.Error != nil {
		t.Errorf("response = %+v", response)
	}
}

func TestDecodeResponseError(t *testing.T) {
	msg, err := Decode([]byte(`{"id":9,"error":{"message":"index out of bounds"}}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	response := msg.(*Response)
	if response.Error == nil || response.Error.Message != "index out of bounds" {
		t.Errorf("response.Error = %+v", response.Error)
	}
}

func TestDecodeLogNotification(t *testing.T) {
	msg, err := Decode([]byte(`{"method":"log","params":{"output":"building...\n"}}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	notification, ok := msg.(*Notification)
	if !ok {
		t.Fatalf("Decode() = %T, want *Notification", msg)
	}
	params, err := notification.LogParams()
	if err != nil {
		t.Fatalf("LogParams() error: %v", err)
	}
	if params.Output != "building...\n" {
		t.Errorf("params.Output = %q", params.Output)
	}
}

func TestDecodeMalformed(t *testing.T) {
	lines := []string{
		``,
		`not json`,
		`{}`,
		`{"id":1}`,
		`{"id":1,"result":null,"error":{"message":"x"}}`,
		`{"id":1,"method":"get_steps","result":null}`,
		`{"method":"unknown_note","params":{}}`,
		`{"method":"log","params":{"output":"x","extra":true}}`,
		`{"method":"log"}`,
		`{"id":1,"result":null,"unknown_field":true}`,
		`{"id":1,"result":null}{"id":2,"result":null}`,
	}
	for _, line := range lines {
		if _, err := Decode([]byte(line)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", line, err)
		}
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	// Fragments that have crashed lenient parsers elsewhere.
	lines := []string{"null", "[]", `"string"`, "123", `{"id":null,"method":5}`}
	for _, line := range lines {
		if _, err := Decode([]byte(line)); err == nil {
			t.Errorf("Decode(%q) accepted a non-message", line)
		}
	}
}
