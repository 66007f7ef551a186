package testevents

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends both the structured logger and the progress log to
// stdout and logFile. If logFile is empty, a timestamped filename is used.
func SetupLogging(logFile string) error {
	if logFile == "" {
		logFile = "test_log_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	out := io.MultiWriter(os.Stdout, file)
	if err := logger.Init(logger.WithOutput(out)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the test events tool.
func ShowHelp() {
	os.Stdout.WriteString(`Error Quotient Event Test Tool
==============================

Drives a running errquotient service end to end: submits compiler errors for
careful, mixed and stuck synthetic learners, waits for recomputes to drain,
triggers a retrain and checks that the learners land in the expected classes.

Usage:
  go run cmd/test-events/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -learners int
        Number of synthetic learners (default 300)
  -events int
        Compiler errors per learner (default 8)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -drain duration
        How long to wait for recomputes to drain (default 2m)
  -output string
        Output file for generated events (default: generated_events_TIMESTAMP.json)
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings
  go run cmd/test-events/main.go

  # Larger run against another port
  go run cmd/test-events/main.go -learners 3000 -workers 16 -url http://localhost:8080
`)
}
