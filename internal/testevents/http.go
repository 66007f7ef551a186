package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with an optional JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// getJSON fetches url and decodes a 200 response into v.
func (c *HTTPClient) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	return decodeResponse(resp, StatusOK, v)
}

// decodeResponse reads and closes the body, decoding it into v when the
// status matches want.
func decodeResponse(resp *http.Response, want int, v any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(body, v)
}

type submitResult int

const (
	submitAccepted submitResult = iota
	submitBackpressured
	submitFailed
)

// submitEvents submits events concurrently using worker pools
func submitEvents(ctx context.Context, config *Config, events []Event, stats *Stats) error {
	log.Printf("📤 Submitting %d events with %d workers...", len(events), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/events"

	var (
		accepted      int64
		backpressured int64
		failed        int64
		submitted     int64
	)

	var lastReport atomic.Int64
	reportInterval := time.Second

	eventChan := make(chan Event, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for event := range eventChan {
				if ctx.Err() != nil {
					return
				}
				result := submitSingleEvent(ctx, client, url, event)

				atomic.AddInt64(&submitted, 1)
				switch result {
				case submitAccepted:
					atomic.AddInt64(&accepted, 1)
				case submitBackpressured:
					atomic.AddInt64(&backpressured, 1)
				case submitFailed:
					atomic.AddInt64(&failed, 1)
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(reportInterval) && lastReport.CompareAndSwap(last, now) {
					total := atomic.LoadInt64(&submitted)
					if config.Verbose {
						log.Printf("📊 Progress: %d/%d submitted (accepted: %d, backpressured: %d, failed: %d)",
							total, len(events), atomic.LoadInt64(&accepted), atomic.LoadInt64(&backpressured), atomic.LoadInt64(&failed))
					} else {
						fmt.Printf("\r📤 Submitted: %d/%d (accepted: %d, failed: %d)",
							total, len(events), atomic.LoadInt64(&accepted), atomic.LoadInt64(&failed))
					}
				}
			}
		}()
	}

	go func() {
		defer close(eventChan)
		for _, event := range events {
			select {
			case <-ctx.Done():
				return
			case eventChan <- event:
			}
		}
	}()

	wg.Wait()

	if !config.Verbose {
		fmt.Println()
	}

	stats.EventsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.EventsAccepted = int(atomic.LoadInt64(&accepted))
	stats.EventsBackpressured = int(atomic.LoadInt64(&backpressured))
	stats.EventsFailed = int(atomic.LoadInt64(&failed))

	log.Printf(`✅ Event submission completed:
   Accepted:      %d
   Backpressured: %d
   Failed:        %d
`, stats.EventsAccepted, stats.EventsBackpressured, stats.EventsFailed)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submission interrupted: %w", err)
	}
	return nil
}

// submitSingleEvent posts one event. A 429 still stores the event, only
// its recompute is dropped, so the worker backs off and moves on.
func submitSingleEvent(ctx context.Context, client *HTTPClient, url string, event Event) submitResult {
	resp, err := client.Post(ctx, url, event)
	if err != nil {
		return submitFailed
	}
	var ack AckResponse
	err = decodeResponse(resp, StatusAccepted, &ack)
	switch {
	case err == nil:
		return submitAccepted
	case resp.StatusCode == StatusTooManyRequests:
		select {
		case <-ctx.Done():
		case <-time.After(BackpressureDelay):
		}
		return submitBackpressured
	default:
		return submitFailed
	}
}
