package testevents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

// File permission constants.
const (
	directoryPermission  = 0o750
	outputFilePermission = 0o600
)

// Run executes the complete event test: generate learners, submit their
// compiler errors, wait for recomputes, retrain and verify the classes.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting errquotient event test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("learners", config.NumLearners),
		logger.Int("eventsPerLearner", config.EventsPerLearner),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.String("logFile", config.LogFile),
		logger.Bool("verbose", config.Verbose))

	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	learners := generateLearners(config.NumLearners)
	events, err := generateEvents(ctx, config, learners, stats)
	if err != nil {
		return fmt.Errorf("event generation failed: %w", err)
	}

	if err := submitEvents(ctx, config, events, stats); err != nil {
		return fmt.Errorf("event submission failed: %w", err)
	}

	if err := waitForDrain(ctx, config); err != nil {
		return err
	}

	retrain, err := triggerRetrain(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("retrain failed: %w", err)
	}

	profiles, err := retrieveProfiles(ctx, config, learners, stats)
	if err != nil {
		return fmt.Errorf("profile retrieval failed: %w", err)
	}

	if err := verifyResults(ctx, config, learners, profiles, retrain); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	if err := saveEventsToFile(ctx, config, learners, events); err != nil {
		logger.Get().Warn(ctx, "failed to save events to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(ctx, stats)

	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth requires GET /healthz to answer 200.
func checkServiceHealth(ctx context.Context, config *Config) error {
	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	// The body is the metrics exposition; only the status matters.
	if err := decodeResponse(resp, StatusOK, nil); err != nil {
		return err
	}
	logger.Get().Info(ctx, "service is healthy", logger.String("baseURL", config.BaseURL))
	return nil
}

// eventsDump is the file layout written by saveEventsToFile.
type eventsDump struct {
	GeneratedAt time.Time `json:"generated_at"`
	Learners    []Learner `json:"learners"`
	Events      []Event   `json:"events"`
}

// saveEventsToFile writes the learners and their events as one JSON
// document so a run can be replayed or inspected.
func saveEventsToFile(ctx context.Context, config *Config, learners []Learner, events []Event) error {
	if len(events) == 0 {
		return fmt.Errorf("no events to save")
	}

	filename := config.OutputFile
	if filename == "" {
		filename = "generated_events_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(eventsDump{GeneratedAt: time.Now().UTC(), Learners: learners, Events: events}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	if err := os.WriteFile(filename, data, outputFilePermission); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}

	logger.Get().Info(ctx, "events saved to file", logger.String("filename", filename), logger.Int("events", len(events)))
	return nil
}

// displayFinalStats logs the run totals.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptedRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		acceptedRate = float64(stats.EventsAccepted) / float64(stats.EventsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsBackpressured", stats.EventsBackpressured),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("profilesRetrieved", stats.ProfilesRetrieved),
		logger.String("retrainOutcome", stats.RetrainOutcome),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptedRate", acceptedRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
