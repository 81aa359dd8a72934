// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads driver configuration from a JSONC file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

// FileName is the configuration file looked up in the user config
// directory and the working directory.
const FileName = "cairn.jsonc"

// Config is the driver-side configuration.
type Config struct {
	// WorkerExecutable is the worker binary the driver spawns.
	WorkerExecutable string `json:"worker_executable"`

	// CallTimeoutSeconds bounds each control-channel call.
	CallTimeoutSeconds int `json:"call_timeout_seconds"`

	// SessionAddress is the listen address for hosted sessions.
	SessionAddress string `json:"session_address"`

	// AdvertiseHost is the host embedded in join tokens. Leave
	// empty to advertise the loopback address.
	AdvertiseHost string `json:"advertise_host"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		WorkerExecutable:   "cairn-worker",
		CallTimeoutSeconds: 5,
		SessionAddress:     "0.0.0.0:0",
	}
}

// CallTimeout returns the per-call deadline as a duration.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result over the defaults, so a partial file only
// overrides what it names.
func Parse(data []byte) (Config, error) {
	config := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return Config{}, fmt.Errorf("parsing configuration: %w", err)
	}
	if config.WorkerExecutable == "" {
		return Config{}, fmt.Errorf("configuration has an empty worker_executable")
	}
	if config.CallTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("configuration call_timeout_seconds must be positive")
	}
	return config, nil
}

// Load reads the configuration file at path. A missing file is not an
// error; the defaults apply.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading configuration %s: %w", path, err)
	}
	config, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Locate returns the path Load should use: cairn.jsonc in the working
// directory when present, otherwise the user config directory.
func Locate() string {
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "cairn", FileName)
}
