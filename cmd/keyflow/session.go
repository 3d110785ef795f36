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
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/keyflow/breaker"
	"github.com/AleutianAI/keyflow/cache"
	"github.com/AleutianAI/keyflow/config"
	"github.com/AleutianAI/keyflow/credentials"
	"github.com/AleutianAI/keyflow/debounce"
	"github.com/AleutianAI/keyflow/orchestrator"
	"github.com/AleutianAI/keyflow/pkg/logging"
	"github.com/AleutianAI/keyflow/request"
	"github.com/AleutianAI/keyflow/retry"
	"github.com/AleutianAI/keyflow/snippets"
	"github.com/AleutianAI/keyflow/transport"
)

var (
	styleResult  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleCached  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleMeta    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stylePrompt  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

func newSessionCmd(flags *rootFlags) *cobra.Command {
	var (
		modeName    string
		traceStdout bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run an interactive input session",
		Long: `Reads lines from stdin. Each line is treated as the full current
input text and flows through the debounce gate. Commands:

  :mode <compose|search|chat|snippet>   switch mode (fires immediately)
  :reset                                discard outstanding work
  :stats                                breaker and cache counters
  :quit                                 exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(flags, modeName, traceStdout, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&modeName, "mode", "m", "compose", "starting mode")
	cmd.Flags().BoolVar(&traceStdout, "trace", false, "emit spans to stdout")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runSession(flags *rootFlags, modeName string, traceStdout bool, metricsAddr string) error {
	cfg, logger, err := loadEnvironment(flags)
	if err != nil {
		return err
	}
	defer logger.Close()

	mode, ok := request.ParseMode(modeName)
	if !ok {
		return fmt.Errorf("unknown mode %q", modeName)
	}

	if traceStdout {
		shutdown, err := initTracing()
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	backend, err := buildTransport(cfg, logger)
	if err != nil {
		return err
	}

	responseCache, closeCache, err := buildCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	var snippetStore *snippets.Store
	if cfg.Snippets.Path != "" {
		snippetStore, err = snippets.Load(expandUser(cfg.Snippets.Path), logger)
		if err != nil {
			return err
		}
		if cfg.Snippets.Watch {
			if err := snippetStore.Watch(); err != nil {
				logger.Warn("snippet watch unavailable", "error", err)
			}
		}
		defer snippetStore.Close()
	}

	coord := orchestrator.NewCoordinator(orchestrator.Config{
		Endpoint:       cfg.Orchestrator.Endpoint,
		AttemptTimeout: cfg.Backend.Timeout.Std(),
		RateLimit:      cfg.Orchestrator.RateLimit,
		RateBurst:      cfg.Orchestrator.RateBurst,
		Retry: retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff.Std(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Std(),
			MaxElapsed:     cfg.Retry.MaxElapsed.Std(),
		},
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown.Std(),
			MaxCooldown:      cfg.Breaker.MaxCooldown.Std(),
			OnStateChange: func(endpoint string, from, to breaker.State) {
				fmt.Println(styleMeta.Render(
					fmt.Sprintf("[breaker %s: %s → %s]", endpoint, from, to)))
			},
		},
	}, backend, responseCache, logger)

	sink := orchestrator.SinkFunc(printOutcome)
	session := coord.NewSession(debounce.Config{QuietInterval: cfg.Debounce.QuietInterval.Std()}, mode, sink)
	defer session.Close()

	fmt.Println(styleMeta.Render(fmt.Sprintf("keyflow session %s (mode: %s)", session.ID()[:8], mode)))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(stylePrompt.Render(session.Mode().String() + "> "))
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if strings.HasPrefix(line, ":") {
			quit, err := handleCommand(session, coord, responseCache, line)
			if err != nil {
				fmt.Println(styleFailure.Render(err.Error()))
			}
			if quit {
				break
			}
			continue
		}

		// Snippet mode resolves locally first; only unmatched triggers
		// go to the backend.
		if session.Mode() == request.ModeSnippet && snippetStore != nil {
			if snip, ok := snippetStore.Get(line); ok {
				fmt.Println(styleCached.Render(snip.Expansion))
				fmt.Println(styleMeta.Render("  [snippet]"))
				continue
			}
		}

		if err := session.Edit(line); err != nil {
			fmt.Println(styleFailure.Render(err.Error()))
		}
	}
	return scanner.Err()
}

// handleCommand dispatches a ":" command line.
func handleCommand(session *orchestrator.Session, coord *orchestrator.Coordinator, responseCache cache.ResponseCache, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true, nil

	case ":mode":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: :mode <compose|search|chat|snippet>")
		}
		mode, ok := request.ParseMode(fields[1])
		if !ok {
			return false, fmt.Errorf("unknown mode %q", fields[1])
		}
		return false, session.SetMode(mode, "")

	case ":reset":
		session.Reset()
		coord.Reset()
		fmt.Println(styleMeta.Render("[reset]"))
		return false, nil

	case ":stats":
		stats := coord.Breaker().Stats()
		fmt.Println(styleMeta.Render(fmt.Sprintf(
			"breaker=%s failures=%d trips=%d rejections=%d cache=%d",
			stats.State, stats.ConsecutiveFailures, stats.ConsecutiveTrips,
			stats.TotalRejections, responseCache.Len())))
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

// printOutcome renders a published outcome to the terminal.
func printOutcome(o orchestrator.Outcome) {
	switch {
	case o.OK() && o.FromCache:
		fmt.Println(styleCached.Render(o.Response.Result))
		fmt.Println(styleMeta.Render(fmt.Sprintf("  [cached, %s]", o.Elapsed.Round(time.Millisecond))))

	case o.OK():
		fmt.Println(styleResult.Render(o.Response.Result))
		fmt.Println(styleMeta.Render(fmt.Sprintf(
			"  [seq %d, %d attempt(s), %s]", o.Candidate.Seq, o.Attempts, o.Elapsed.Round(time.Millisecond))))

	default:
		fmt.Println(styleFailure.Render(o.Failure.UserMessage()))
	}
}

// buildTransport constructs the configured backend transport.
func buildTransport(cfg config.Config, logger *logging.Logger) (transport.Transport, error) {
	secure, err := credentials.NewSecure(credentials.DefaultChain(), logger)
	if err != nil {
		return nil, fmt.Errorf("resolve API key: %w", err)
	}
	logger.Info("API key resolved", "source", secure.Source())

	var backend transport.Transport
	err = secure.Use(func(key string) error {
		switch cfg.Backend.Kind {
		case "http":
			if cfg.Backend.BaseURL == "" {
				return fmt.Errorf("backend.base_url is required for the http transport")
			}
			backend = transport.NewHTTPClient(cfg.Backend.BaseURL,
				transport.WithAPIKey(key),
				transport.WithHTTPTimeout(cfg.Backend.Timeout.Std()))
			return nil

		default:
			var opts []transport.OpenAIOption
			if cfg.Backend.Model != "" {
				opts = append(opts, transport.WithModel(cfg.Backend.Model))
			}
			if cfg.Backend.BaseURL != "" {
				opts = append(opts, transport.WithBaseURL(key, cfg.Backend.BaseURL))
			}
			client, err := transport.NewOpenAIClient(key, opts...)
			if err != nil {
				return err
			}
			backend = client
			return nil
		}
	})
	return backend, err
}

// buildCache constructs the configured response cache.
func buildCache(cfg config.Config) (cache.ResponseCache, func(), error) {
	if cfg.Cache.Dir != "" {
		persistent, err := cache.NewBadger(cache.BadgerConfig{
			Path: expandUser(cfg.Cache.Dir),
			TTL:  cfg.Cache.TTL.Std(),
		})
		if err != nil {
			return nil, nil, err
		}
		return persistent, func() { persistent.Close() }, nil
	}
	return cache.NewMemory(cfg.Cache.Capacity), func() {}, nil
}

// initTracing installs a stdout span exporter for debugging.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return func() { _ = provider.Shutdown(context.Background()) }, nil
}

// serveMetrics exposes Prometheus metrics.
func serveMetrics(addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// expandUser expands a leading ~ to the home directory.
func expandUser(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
