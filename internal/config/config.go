// Package config defines service configuration and its loading.
//
// Values are layered: defaults from New, then an optional YAML file named
// by ERRQ_CONFIG, then ERRQ_* environment variables.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver is memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	// SQLiteDSN locates the database when StoreDriver is sqlite.
	SQLiteDSN string `koanf:"sqlite_dsn"`
	// ModelPath is the JSON model artifact.
	ModelPath string `koanf:"model_path"`

	// SessionGapMinutes is the inactivity gap that closes a session.
	SessionGapMinutes int `koanf:"session_gap_minutes"`

	// QueueSize bounds the recompute queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize caps how many pending users are coalesced.
	DedupeSize int `koanf:"dedupe_size"`

	EventsPageSize       int `koanf:"events_page_size"`
	HistoryPageSize      int `koanf:"history_page_size"`
	RowsPageSize         int `koanf:"rows_page_size"`
	WriteBatchSize       int `koanf:"write_batch_size"`
	RecomputeConcurrency int `koanf:"recompute_concurrency"`

	// RetrainEnabled turns the daily retrain on.
	RetrainEnabled  bool   `koanf:"retrain_enabled"`
	RetrainHour     int    `koanf:"retrain_hour"`
	RetrainMinute   int    `koanf:"retrain_minute"`
	RetrainTimezone string `koanf:"retrain_timezone"`

	KMeansNInit int   `koanf:"kmeans_n_init"`
	KMeansSeed  int64 `koanf:"kmeans_seed"`

	// TracingExporter is none or stdout.
	TracingExporter string `koanf:"tracing_exporter"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		StoreDriver:          DriverMemory,
		SQLiteDSN:            "file:errquotient.db",
		ModelPath:            "data/eq_model.json",
		SessionGapMinutes:    30,
		QueueSize:            10_000,
		WorkerCount:          runtime.NumCPU() * 2,
		DedupeSize:           50_000,
		EventsPageSize:       1000,
		HistoryPageSize:      2000,
		RowsPageSize:         1000,
		WriteBatchSize:       500,
		RecomputeConcurrency: 4,
		RetrainEnabled:       true,
		RetrainHour:          0,
		RetrainMinute:        0,
		RetrainTimezone:      "Asia/Jakarta",
		KMeansNInit:          10,
		KMeansSeed:           42,
		TracingExporter:      "none",
	}
}

// SessionGap returns the session gap as a duration.
func (c *Config) SessionGap() time.Duration {
	return time.Duration(c.SessionGapMinutes) * time.Minute
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr must not be empty")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLiteDSN == "" {
			problems = append(problems, "sqlite_dsn must be set for the sqlite driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store_driver %q is not memory or sqlite", c.StoreDriver))
	}
	if c.ModelPath == "" {
		problems = append(problems, "model_path must not be empty")
	}
	positive := map[string]int{
		"session_gap_minutes":   c.SessionGapMinutes,
		"queue_size":            c.QueueSize,
		"worker_count":          c.WorkerCount,
		"events_page_size":      c.EventsPageSize,
		"history_page_size":     c.HistoryPageSize,
		"rows_page_size":        c.RowsPageSize,
		"write_batch_size":      c.WriteBatchSize,
		"recompute_concurrency": c.RecomputeConcurrency,
		"kmeans_n_init":         c.KMeansNInit,
	}
	for _, key := range []string{
		"session_gap_minutes", "queue_size", "worker_count", "events_page_size", "history_page_size",
		"rows_page_size", "write_batch_size", "recompute_concurrency", "kmeans_n_init",
	} {
		if positive[key] <= 0 {
			problems = append(problems, key+" must be positive")
		}
	}
	if c.RetrainHour < 0 || c.RetrainHour > 23 {
		problems = append(problems, "retrain_hour must be within 0..23")
	}
	if c.RetrainMinute < 0 || c.RetrainMinute > 59 {
		problems = append(problems, "retrain_minute must be within 0..59")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not text or json", c.LogFormat))
	}
	switch c.TracingExporter {
	case "none", "stdout":
	default:
		problems = append(problems, fmt.Sprintf("tracing_exporter %q is not none or stdout", c.TracingExporter))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
