// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/cairn-run/cairn/cmd/cairn/cli"
	"github.com/cairn-run/cairn/lib/runbook"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "find runbooks under a directory",
		Usage:   "cairn list [root]",
		Run: func(args []string) error {
			root := "."
			if len(args) > 1 {
				return fmt.Errorf("list takes at most one root directory")
			}
			if len(args) == 1 {
				root = args[0]
			}
			paths, err := runbook.Scan(root)
			if err != nil {
				return err
			}
			for _, path := range paths {
				document, err := runbook.ParseFile(path)
				if err != nil {
					fmt.Printf("  %s %s\n", failureStyle.Render("!"), path)
					continue
				}
				fmt.Printf("  %s %s\n", titleStyle.Render(path),
					dimStyle.Render(fmt.Sprintf("(%d steps)", len(document.Steps))))
			}
			if len(paths) == 0 {
				fmt.Println(dimStyle.Render("no runbooks found"))
			}
			return nil
		},
	}
}
