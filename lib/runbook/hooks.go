// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runbook

import (
	"context"
	"log/slog"
	"os/exec"
)

// HookConfig is the optional frontmatter block naming shell commands
// to run around step execution:
//
//	---
//	pre_run: ./scripts/setup.sh
//	on_failure: notify-send "step failed"
//	---
type HookConfig struct {
	PreRun    string `yaml:"pre_run"`
	PostRun   string `yaml:"post_run"`
	OnFailure string `yaml:"on_failure"`
	OnSuccess string `yaml:"on_success"`
}

// Any reports whether at least one hook is configured. Safe on a nil
// receiver, which means no frontmatter was present.
func (h *HookConfig) Any() bool {
	if h == nil {
		return false
	}
	return h.PreRun != "" || h.PostRun != "" || h.OnFailure != "" || h.OnSuccess != ""
}

// Trigger runs one hook command through the shell with the given
// extra environment, without blocking the caller. Hook failures are
// logged and otherwise ignored: a broken notification hook must not
// fail the step it observes.
func Trigger(ctx context.Context, hook string, env []string, logger *slog.Logger) {
	if hook == "" {
		return
	}
	go func() {
		command := exec.CommandContext(ctx, "sh", "-c", hook)
		command.Env = append(command.Environ(), env...)
		if output, err := command.CombinedOutput(); err != nil {
			logger.Warn("hook failed", "command", hook, "error", err, "output", string(output))
		}
	}()
}
