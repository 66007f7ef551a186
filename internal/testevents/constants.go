package testevents

import "time"

// HTTP status code constants.
const (
	StatusOK              = 200
	StatusAccepted        = 202
	StatusTooManyRequests = 429
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DrainPollInterval    = 250 * time.Millisecond
	BackpressureDelay    = 200 * time.Millisecond
	EventSpacing         = time.Minute
	PercentageMultiplier = 100
)
