// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/keyflow/snippets"
)

func newSnippetsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snippets",
		Short: "Inspect the snippet library",
	}
	cmd.AddCommand(newSnippetsListCmd(flags), newSnippetsGetCmd(flags))
	return cmd
}

func newSnippetsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all snippets",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSnippets(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			trigger := lipgloss.NewStyle().Bold(true)
			for _, snip := range store.All() {
				fmt.Printf("%s  %s\n", trigger.Render(snip.Trigger), snip.Description)
			}
			fmt.Println(styleMeta.Render(fmt.Sprintf("%d snippet(s)", store.Len())))
			return nil
		},
	}
}

func newSnippetsGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <trigger>",
		Short: "Resolve one trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSnippets(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			snip, ok := store.Get(args[0])
			if !ok {
				return fmt.Errorf("no snippet for trigger %q", args[0])
			}
			fmt.Println(snip.Expansion)
			return nil
		},
	}
}

func openSnippets(flags *rootFlags) (*snippets.Store, error) {
	cfg, logger, err := loadEnvironment(flags)
	if err != nil {
		return nil, err
	}
	if cfg.Snippets.Path == "" {
		return nil, fmt.Errorf("no snippet library configured (set snippets.path)")
	}
	return snippets.Load(expandUser(cfg.Snippets.Path), logger)
}
