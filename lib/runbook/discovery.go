// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runbook

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxScanDepth bounds directory recursion during discovery.
const maxScanDepth = 5

// Scan finds runbook files under root: any README.md
// (case-insensitive) or *.runbook.md, up to maxScanDepth levels deep.
// Hidden directories and common build/dependency trees are skipped.
// Unreadable directories are silently ignored; results are sorted.
func Scan(root string) ([]string, error) {
	var results []string

	type frame struct {
		dir   string
		depth int
	}
	stack := []frame{{dir: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.depth > maxScanDepth {
			continue
		}

		entries, err := os.ReadDir(top.dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") || name == "target" || name == "node_modules" {
				continue
			}
			path := filepath.Join(top.dir, name)
			if entry.IsDir() {
				stack = append(stack, frame{dir: path, depth: top.depth + 1})
			} else if isRunbook(name) {
				results = append(results, path)
			}
		}
	}

	sort.Strings(results)
	return results, nil
}

func isRunbook(name string) bool {
	return strings.EqualFold(name, "README.md") || strings.HasSuffix(name, ".runbook.md")
}
