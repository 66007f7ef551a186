package testevents

import "time"

// Config holds configuration for the event test
type Config struct {
	BaseURL          string        // Base URL of the service
	NumLearners      int           // Number of synthetic learners
	EventsPerLearner int           // Compiler errors submitted per learner
	Workers          int           // Number of concurrent workers
	Timeout          time.Duration // HTTP request timeout
	DrainTimeout     time.Duration // How long to wait for the recompute queue to drain
	OutputFile       string        // Output file for events
	LogFile          string        // Log file for test output
	Verbose          bool          // Enable verbose logging
}

// Archetype is the behaviour a synthetic learner is generated with.
type Archetype string

// Learner archetypes, from fewest to most repeated errors.
const (
	ArchetypeCareful Archetype = "careful"
	ArchetypeMixed   Archetype = "mixed"
	ArchetypeStuck   Archetype = "stuck"
)

// Archetypes lists every archetype in ascending expected EQ.
var Archetypes = []Archetype{ArchetypeCareful, ArchetypeMixed, ArchetypeStuck}

// Learner is one synthetic user.
type Learner struct {
	UserID    string    `json:"user_id"`
	Archetype Archetype `json:"archetype"`
}

// Event represents an event to be submitted
type Event struct {
	UserID        string `json:"user_id"`
	ProjectID     string `json:"project_id"`
	ErrorSnapshot string `json:"error_snapshot"`
	OccurredAt    string `json:"occurred_at"`
}

// Profile is the subset of a user profile the test reads back.
type Profile struct {
	UserID         string  `json:"user_id"`
	AverageEQScore float64 `json:"average_eq_score"`
	TotalSessions  int     `json:"total_sessions"`
	Cluster        *int    `json:"cluster"`
	Performance    *string `json:"performance"`
}

// AckResponse represents the response from event submission
type AckResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// ServiceStats is the subset of GET /stats used to detect a drained queue.
type ServiceStats struct {
	QueueSize    int   `json:"queue_size"`
	PendingUsers int64 `json:"pending_users"`
	JobsInFlight int64 `json:"jobs_in_flight"`
}

// RetrainResult is the subset of POST /admin/retrain the test reports.
type RetrainResult struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
	Rows    int    `json:"rows"`
	Version int    `json:"version"`
}

// Stats holds test statistics
type Stats struct {
	EventsGenerated     int
	EventsSubmitted     int
	EventsAccepted      int
	EventsBackpressured int
	EventsFailed        int
	ProfilesRetrieved   int
	RetrainOutcome      string
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}
