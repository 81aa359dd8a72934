// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runbook

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Document is a parsed runbook: its steps plus the optional hook
// configuration from the YAML frontmatter.
type Document struct {
	Steps []Step
	Hooks *HookConfig
}

var (
	conditionOpen  = regexp.MustCompile(`<!--\s*cairn:if\s+(\w+)="([^"]+)"\s*-->`)
	conditionClose = regexp.MustCompile(`<!--\s*cairn:endif\s*-->`)
	placeholderRe  = regexp.MustCompile(`\{\{([a-zA-Z0-9_-]+)\}\}|<([a-zA-Z0-9_-]+)>`)
)

// Parse turns markdown source into a Document. Headings of any level
// delimit steps: the heading text is the title, intervening prose
// accumulates into the description, and fenced code blocks are
// collected with their language tags. Content before the first
// heading is ignored. HTML comments of the form
//
//	<!-- cairn:if os="linux" -->
//	<!-- cairn:endif -->
//
// attach a condition to the steps they enclose.
func Parse(source []byte) (*Document, error) {
	body, hooks, err := splitFrontmatter(source)
	if err != nil {
		return nil, err
	}
	return parseBody(body, hooks)
}

// ParseFile reads and parses the runbook at path.
func ParseFile(path string) (*Document, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading runbook: %w", err)
	}
	document, err := Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return document, nil
}

func parseBody(body []byte, hooks *HookConfig) (*Document, error) {
	markdown := goldmark.New()
	root := markdown.Parser().Parse(text.NewReader(body))

	var (
		steps           []Step
		current         *Step
		activeCondition *Condition
	)
	flush := func() {
		if current != nil {
			current.Description = strings.TrimSpace(current.Description)
			steps = append(steps, *current)
			current = nil
		}
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		switch typed := node.(type) {
		case *ast.Heading:
			flush()
			current = &Step{
				Title:     nodeText(typed, body),
				Condition: activeCondition,
			}

		case *ast.FencedCodeBlock:
			if current == nil {
				continue
			}
			content := segmentText(typed.Lines(), body)
			block := CodeBlock{
				Language:     string(typed.Language(body)),
				Content:      content,
				Placeholders: extractPlaceholders(content),
			}
			current.CodeBlocks = append(current.CodeBlocks, block)

		case *ast.HTMLBlock:
			html := segmentText(typed.Lines(), body)
			if match := conditionOpen.FindStringSubmatch(html); match != nil {
				activeCondition = parseCondition(match[1], match[2])
			} else if conditionClose.MatchString(html) {
				activeCondition = nil
			}

		default:
			if current == nil {
				continue
			}
			if prose := nodeText(node, body); prose != "" {
				if current.Description != "" {
					current.Description += "\n"
				}
				current.Description += prose
			}
		}
	}
	flush()

	return &Document{Steps: steps, Hooks: hooks}, nil
}

// splitFrontmatter strips a leading "---" YAML frontmatter block and
// parses it as hook configuration. A document without frontmatter
// passes through untouched.
func splitFrontmatter(source []byte) ([]byte, *HookConfig, error) {
	if !bytes.HasPrefix(source, []byte("---")) {
		return source, nil, nil
	}
	rest := source[3:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return source, nil, nil
	}

	var hooks HookConfig
	if err := yaml.Unmarshal(rest[:end], &hooks); err != nil {
		return nil, nil, fmt.Errorf("parsing frontmatter: %w", err)
	}

	body := rest[end+4:]
	body = bytes.TrimPrefix(body, []byte("\r\n"))
	body = bytes.TrimPrefix(body, []byte("\n"))
	if !hooks.Any() {
		return body, nil, nil
	}
	return body, &hooks, nil
}

// parseCondition maps a cairn:if key/value pair to a Condition.
// Unknown keys yield no condition rather than a parse failure, so a
// newer runbook degrades to "always applicable" on an older binary.
func parseCondition(key, value string) *Condition {
	switch ConditionKind(key) {
	case ConditionOS, ConditionEnvVarExists, ConditionFileExists:
		return &Condition{Kind: ConditionKind(key), Value: value}
	default:
		return nil
	}
}

// extractPlaceholders finds {{name}} and <name> markers. Alphanumeric
// names only, so HTML tags and generics do not match.
func extractPlaceholders(content string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, match := range placeholderRe.FindAllStringSubmatch(content, -1) {
		name := match[1]
		if name == "" {
			name = match[2]
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// nodeText collects the plain text under node, including code span
// content.
func nodeText(node ast.Node, source []byte) string {
	var builder strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Text:
			builder.Write(typed.Segment.Value(source))
			if typed.SoftLineBreak() || typed.HardLineBreak() {
				builder.WriteByte('\n')
			}
		case *ast.String:
			builder.Write(typed.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(builder.String())
}

// segmentText concatenates the raw source lines of a block node.
func segmentText(lines *text.Segments, source []byte) string {
	var builder strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		builder.Write(seg.Value(source))
	}
	return builder.String()
}
