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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/keyflow/config"
	"github.com/AleutianAI/keyflow/pkg/logging"
)

// rootFlags holds flags shared by all subcommands.
type rootFlags struct {
	configPath string
	verbose    bool
	quiet      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "keyflow",
		Short: "Request orchestration for constrained text input",
		Long: `keyflow sits between a high-frequency text-input surface and a
slow, rate-limited backend. It debounces edits, deduplicates identical
requests, caches responses, retries transient failures, and opens a
circuit breaker when the backend degrades.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.keyflow/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress stderr logging")

	cmd.AddCommand(
		newSessionCmd(flags),
		newSnippetsCmd(flags),
		newMockServerCmd(flags),
	)
	return cmd
}

// loadEnvironment builds the config and logger for a subcommand run.
func loadEnvironment(flags *rootFlags) (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, nil, err
	}

	level := parseLevel(cfg.Logging.Level)
	if flags.verbose {
		level = logging.LevelDebug
	}

	logger := logging.New(logging.Config{
		Level:  level,
		LogDir: cfg.Logging.Dir,
		JSON:   cfg.Logging.JSON,
		Quiet:  flags.quiet,
	})
	return cfg, logger, nil
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
