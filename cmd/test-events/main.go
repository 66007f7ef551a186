package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/errquotient/internal/testevents"
)

// Default configuration constants.
const (
	defaultNumLearners      = 300
	defaultEventsPerLearner = 8
	defaultWorkers          = 2 // multiplier for runtime.NumCPU()
	defaultTimeout          = 30 * time.Second
	defaultDrainTimeout     = 2 * time.Minute
	defaultTestTimeout      = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numLearners  = flag.Int("learners", defaultNumLearners, "Number of synthetic learners")
		eventsPer    = flag.Int("events", defaultEventsPerLearner, "Compiler errors per learner")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		drainTimeout = flag.Duration("drain", defaultDrainTimeout, "How long to wait for recomputes to drain")
		outputFile   = flag.String("output", "", "Output file for generated events (default: generated_events_TIMESTAMP.json)")
		logFile      = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	if err := testevents.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &testevents.Config{
		BaseURL:          *baseURL,
		NumLearners:      *numLearners,
		EventsPerLearner: *eventsPer,
		Workers:          *workers,
		Timeout:          *timeout,
		DrainTimeout:     *drainTimeout,
		OutputFile:       *outputFile,
		LogFile:          *logFile,
		Verbose:          *verbose,
	}

	if err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
