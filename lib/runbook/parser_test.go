// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runbook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const sampleRunbook = `# Setup

Install the toolchain first.

` + "```bash\nmake install\n```" + `

## Build

Compile with the {{PROFILE}} profile into <outdir>.

` + "```bash\nmake build PROFILE={{PROFILE}}\n```" + `

<!-- cairn:if os="linux" -->
## Linux only

` + "```sh\nldconfig\n```" + `
<!-- cairn:endif -->

## Notes

No code here.
`

func TestParseSteps(t *testing.T) {
	document, err := Parse([]byte(sampleRunbook))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	steps := document.Steps
	if len(steps) != 4 {
		t.Fatalf("Parse() produced %d steps, want 4: %+v", len(steps), steps)
	}

	if steps[0].Title != "Setup" {
		t.Errorf("steps[0].Title = %q, want Setup", steps[0].Title)
	}
	if steps[0].Description != "Install the toolchain first." {
		t.Errorf("steps[0].Description = %q", steps[0].Description)
	}
	if len(steps[0].CodeBlocks) != 1 || steps[0].CodeBlocks[0].Language != "bash" {
		t.Errorf("steps[0].CodeBlocks = %+v", steps[0].CodeBlocks)
	}
	if steps[0].CodeBlocks[0].Content != "make install\n" {
		t.Errorf("steps[0] block content = %q", steps[0].CodeBlocks[0].Content)
	}
	if steps[0].Status != StatusPending {
		t.Errorf("fresh step status = %v, want Pending", steps[0].Status)
	}

	placeholders := steps[1].CodeBlocks[0].Placeholders
	if len(placeholders) != 1 || placeholders[0] != "PROFILE" {
		t.Errorf("steps[1] placeholders = %v, want [PROFILE]", placeholders)
	}

	if steps[2].Condition == nil || steps[2].Condition.Kind != ConditionOS || steps[2].Condition.Value != "linux" {
		t.Errorf("steps[2].Condition = %+v, want os=linux", steps[2].Condition)
	}
	if steps[3].Condition != nil {
		t.Errorf("steps[3].Condition = %+v, want nil after endif", steps[3].Condition)
	}
	if steps[3].Executable() {
		t.Error("steps[3].Executable() = true for a step without code")
	}
}

func TestParseFrontmatterHooks(t *testing.T) {
	source := "---\npre_run: ./setup.sh\non_failure: notify\n---\n# Only step\n\nBody.\n"
	document, err := Parse([]byte(source))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if document.Hooks == nil {
		t.Fatal("Parse() dropped the frontmatter hooks")
	}
	if document.Hooks.PreRun != "./setup.sh" || document.Hooks.OnFailure != "notify" {
		t.Errorf("Hooks = %+v", document.Hooks)
	}
	if len(document.Steps) != 1 || document.Steps[0].Title != "Only step" {
		t.Errorf("Steps = %+v, frontmatter leaked into parsing", document.Steps)
	}
}

func TestParseNoHeadings(t *testing.T) {
	document, err := Parse([]byte("just prose, no structure\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(document.Steps) != 0 {
		t.Errorf("Parse() produced %d steps from heading-less source", len(document.Steps))
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StatusRunning)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(data) != `"Running"` {
		t.Errorf("Marshal(StatusRunning) = %s", data)
	}

	var status Status
	if err := json.Unmarshal([]byte(`"Failed"`), &status); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if status != StatusFailed {
		t.Errorf("Unmarshal(Failed) = %v", status)
	}
	if err := json.Unmarshal([]byte(`"Exploded"`), &status); err == nil {
		t.Error("Unmarshal() accepted an unknown status name")
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	write := func(relative string) {
		path := filepath.Join(root, relative)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("# x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("README.md")
	write("deploy/prod.runbook.md")
	write("node_modules/dep/README.md")
	write(".git/README.md")
	write("notes.md")

	found, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	want := []string{
		filepath.Join(root, "README.md"),
		filepath.Join(root, "deploy", "prod.runbook.md"),
	}
	if len(found) != len(want) {
		t.Fatalf("Scan() = %v, want %v", found, want)
	}
	for i := range want {
		if found[i] != want[i] {
			t.Errorf("Scan()[%d] = %q, want %q", i, found[i], want[i])
		}
	}
}
