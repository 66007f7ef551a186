package testevents

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/okian/errquotient/pkg/logger"
)

// messages that match no scoring rule; a careful learner only produces these.
var unclassified = []string{
	"warning: [unchecked] unchecked call to add(E) as a member of the raw type List",
	"Note: Main.java uses or overrides a deprecated API.",
	"warning: [deprecation] Date(int,int,int) in Date has been deprecated",
}

// pairs of distinct scoring categories a mixed learner alternates between.
var alternating = [][2]string{
	{"error: cannot find symbol", "error: missing return statement"},
	{"error: incompatible types: String cannot be converted to int", "error: not a statement"},
	{"error: <identifier> expected", "error: balance has private access in Account"},
}

// single categories a stuck learner repeats.
var repeated = []string{
	"error: cannot find symbol",
	"error: incompatible types: possible lossy conversion from double to int",
	"error: illegal start of type",
}

// randomIndex returns a uniform index in [0, n) using crypto/rand.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// generateLearners spreads NumLearners evenly over the archetypes.
func generateLearners(numLearners int) []Learner {
	learners := make([]Learner, numLearners)
	for i := range learners {
		learners[i] = Learner{
			UserID:    "learner-" + uuid.New().String(),
			Archetype: Archetypes[i%len(Archetypes)],
		}
	}
	return learners
}

// generateEvents creates EventsPerLearner events for every learner, one
// minute apart so each learner produces a single session.
func generateEvents(ctx context.Context, config *Config, learners []Learner, stats *Stats) ([]Event, error) {
	logger.Get().Info(ctx, "generating events",
		logger.Int("learners", len(learners)),
		logger.Int("eventsPerLearner", config.EventsPerLearner))

	base := time.Now().UTC().Add(-time.Duration(config.EventsPerLearner) * EventSpacing).Truncate(time.Second)
	events := make([]Event, 0, len(learners)*config.EventsPerLearner)
	for _, l := range learners {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during event generation: %w", err)
		}
		events = append(events, learnerEvents(l, config.EventsPerLearner, base)...)
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events successfully", logger.Int("count", len(events)))
	return events, nil
}

// learnerEvents builds n events for l starting at base.
func learnerEvents(l Learner, n int, base time.Time) []Event {
	project := "project-" + l.UserID[len(l.UserID)-4:]
	pair := alternating[randomIndex(len(alternating))]
	same := repeated[randomIndex(len(repeated))]

	out := make([]Event, n)
	for i := range out {
		var msg string
		switch l.Archetype {
		case ArchetypeCareful:
			msg = unclassified[randomIndex(len(unclassified))]
		case ArchetypeMixed:
			msg = pair[i%2]
		default:
			msg = same
		}
		out[i] = Event{
			UserID:        l.UserID,
			ProjectID:     project,
			ErrorSnapshot: fmt.Sprintf("Main.java:%d: %s", randomIndex(200)+1, msg),
			OccurredAt:    base.Add(time.Duration(i) * EventSpacing).Format(time.RFC3339),
		}
	}
	return out
}
