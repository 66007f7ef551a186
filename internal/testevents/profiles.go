package testevents

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

// waitForDrain polls GET /stats until no recompute is queued, pending or
// running, or until DrainTimeout elapses.
func waitForDrain(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "waiting for recomputes to drain", logger.Duration("timeout", config.DrainTimeout))

	client := newHTTPClient(config.Timeout)
	ctx, cancel := context.WithTimeout(ctx, config.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(DrainPollInterval)
	defer ticker.Stop()
	for {
		var s ServiceStats
		if err := client.getJSON(ctx, config.BaseURL+"/stats", &s); err != nil {
			return fmt.Errorf("read stats: %w", err)
		}
		// pending is read before in-flight on the server, so all zero is final.
		if s.QueueSize == 0 && s.PendingUsers == 0 && s.JobsInFlight == 0 {
			return nil
		}
		if config.Verbose {
			log.Printf("⏳ queue=%d pending=%d in_flight=%d", s.QueueSize, s.PendingUsers, s.JobsInFlight)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("recomputes did not drain: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// triggerRetrain runs POST /admin/retrain.
func triggerRetrain(ctx context.Context, config *Config, stats *Stats) (RetrainResult, error) {
	logger.Get().Info(ctx, "triggering retrain")

	client := newHTTPClient(config.Timeout)
	resp, err := client.Post(ctx, config.BaseURL+"/admin/retrain", nil)
	if err != nil {
		return RetrainResult{}, err
	}
	var res RetrainResult
	if err := decodeResponse(resp, StatusOK, &res); err != nil {
		return RetrainResult{}, err
	}
	stats.RetrainOutcome = res.Outcome
	logger.Get().Info(ctx, "retrain finished",
		logger.String("outcome", res.Outcome),
		logger.String("reason", res.Reason),
		logger.Int("rows", res.Rows),
		logger.Int("version", res.Version))
	return res, nil
}

// retrieveProfiles fetches the profile of every learner concurrently.
// Learners whose profile is missing are left out of the result.
func retrieveProfiles(ctx context.Context, config *Config, learners []Learner, stats *Stats) (map[string]Profile, error) {
	log.Printf("🔍 Retrieving %d profiles with %d workers...", len(learners), config.Workers)

	client := newHTTPClient(config.Timeout)
	jobs := make(chan Learner, config.Workers*WorkerChannelMultiplier)

	var (
		mu       sync.Mutex
		profiles = make(map[string]Profile, len(learners))
		misses   int
		wg       sync.WaitGroup
	)
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for l := range jobs {
				var p Profile
				err := client.getJSON(ctx, config.BaseURL+"/profiles/"+url.PathEscape(l.UserID), &p)
				mu.Lock()
				if err != nil {
					misses++
					if config.Verbose {
						log.Printf("⚠️  profile %s: %v", l.UserID, err)
					}
				} else {
					profiles[l.UserID] = p
				}
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, l := range learners {
			select {
			case <-ctx.Done():
				return
			case jobs <- l:
			}
		}
	}()
	wg.Wait()

	stats.ProfilesRetrieved = len(profiles)
	if misses > 0 {
		log.Printf("⚠️  %d profiles could not be retrieved", misses)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profiles retrieved")
	}
	return profiles, nil
}
