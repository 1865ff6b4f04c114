// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"io"
	"log/slog"
	"time"
)

// DefaultTimeout bounds every blocking channel operation unless overridden
const DefaultTimeout = 5 * time.Second

// Config holds the channel configuration
type Config struct {
	// Timeout is applied to every operation on top of the caller's context.
	// Zero leaves the caller's context as the only bound.
	Timeout time.Duration

	// Logger receives frame-level debug events (optional)
	Logger *slog.Logger

	// Statistics is updated with traffic counters (optional)
	Statistics *Statistics
}

func defaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring a Channel
type Option func(*Config)

// WithTimeout sets the per-operation deadline
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout >= 0 {
			c.Timeout = timeout
		}
	}
}

// WithLogger sets the logger for channel events
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithStatistics attaches a statistics tracker
func WithStatistics(stats *Statistics) Option {
	return func(c *Config) {
		c.Statistics = stats
	}
}
