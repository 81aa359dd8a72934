// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/cairn-run/cairn/cmd/cairn/cli"
	"github.com/cairn-run/cairn/lib/runbook"
)

func parseCommand() *cli.Command {
	var showBlocks bool
	return &cli.Command{
		Name:    "parse",
		Summary: "parse a runbook and print its step outline",
		Usage:   "cairn parse <document> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("parse", pflag.ContinueOnError)
			flags.BoolVar(&showBlocks, "blocks", false, "include code blocks in the outline")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("parse requires exactly one document argument")
			}
			document, err := runbook.ParseFile(args[0])
			if err != nil {
				return err
			}

			if document.Hooks.Any() {
				fmt.Println(dimStyle.Render("hooks: configured"))
			}
			for i, step := range document.Steps {
				fmt.Println(stepLine(i, step))
				if step.Condition != nil {
					fmt.Printf("       %s\n", dimStyle.Render("when "+step.Condition.String()))
				}
				if showBlocks {
					for _, block := range step.CodeBlocks {
						language := block.Language
						if language == "" {
							language = "sh"
						}
						fmt.Printf("       %s\n", dimStyle.Render("["+language+"]"))
						fmt.Fprint(os.Stdout, indent(block.Content, "       "))
					}
				}
			}
			fmt.Printf("%d steps\n", len(document.Steps))
			return nil
		},
	}
}

func indent(text, prefix string) string {
	out := ""
	for _, line := range splitKeepNonEmpty(text) {
		out += prefix + line + "\n"
	}
	return out
}

func splitKeepNonEmpty(text string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if i > start {
				lines = append(lines, text[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
