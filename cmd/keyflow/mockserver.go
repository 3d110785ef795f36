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
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/keyflow/transport"
)

func newMockServerCmd(flags *rootFlags) *cobra.Command {
	var (
		addr       string
		latency    time.Duration
		failEvery  int
		rateLimit  float64
		rateBurst  int
		retryAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mockserver",
		Short: "Run a fake backend for local development",
		Long: `Serves the keyflow JSON protocol with configurable latency, failure
injection, and rate limiting. Useful for exercising the retry scheduler
and circuit breaker without a real backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadEnvironment(flags)
			if err != nil {
				return err
			}
			defer logger.Close()

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery())

			var limiter *rate.Limiter
			if rateLimit > 0 {
				if rateBurst <= 0 {
					rateBurst = 1
				}
				limiter = rate.NewLimiter(rate.Limit(rateLimit), rateBurst)
			}

			var served atomic.Int64
			router.POST("/v1/complete", func(c *gin.Context) {
				if limiter != nil && !limiter.Allow() {
					c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
					c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
					return
				}

				n := served.Add(1)
				if failEvery > 0 && n%int64(failEvery) == 0 {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
					return
				}

				var req transport.Request
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}

				if latency > 0 {
					// Jitter keeps concurrent requests from resolving in
					// lockstep.
					jitter := time.Duration(rand.Int63n(int64(latency) / 4))
					select {
					case <-c.Request.Context().Done():
						return
					case <-time.After(latency + jitter):
					}
				}

				c.JSON(http.StatusOK, transport.Response{
					Result: mockResult(req),
					Usage: &transport.Usage{
						InputTokens:  len(strings.Fields(req.Text)),
						OutputTokens: len(strings.Fields(req.Text)) + 4,
					},
				})
			})

			router.GET("/metrics", gin.WrapH(promhttp.Handler()))
			router.GET("/healthz", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok", "served": served.Load()})
			})

			logger.Info("mock backend listening", "addr", addr)
			return router.Run(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8089", "listen address")
	cmd.Flags().DurationVar(&latency, "latency", 150*time.Millisecond, "base response latency")
	cmd.Flags().IntVar(&failEvery, "fail-every", 0, "inject a 500 on every Nth request (0 disables)")
	cmd.Flags().Float64Var(&rateLimit, "rate", 0, "requests per second before 429 (0 disables)")
	cmd.Flags().IntVar(&rateBurst, "burst", 5, "rate limit burst")
	cmd.Flags().DurationVar(&retryAfter, "retry-after", 2*time.Second, "Retry-After hint on 429s")
	return cmd
}

// mockResult produces a deterministic, mode-shaped transformation.
func mockResult(req transport.Request) string {
	switch req.Mode {
	case "search-query":
		return strings.ToLower(strings.Join(strings.Fields(req.Text), " "))
	case "snippet":
		return "[expanded] " + req.Text
	case "conversational":
		return "You said: " + req.Text
	default:
		if req.Text == "" {
			return ""
		}
		return strings.ToUpper(req.Text[:1]) + req.Text[1:]
	}
}
