package testevents

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// archetypeSummary aggregates the profiles of one archetype.
type archetypeSummary struct {
	Archetype   Archetype
	Learners    int
	MeanEQ      float64
	Performance map[string]int
}

// summarize groups profiles by the archetype their learner was generated with.
func summarize(learners []Learner, profiles map[string]Profile) []archetypeSummary {
	byArchetype := make(map[Archetype]*archetypeSummary, len(Archetypes))
	for _, a := range Archetypes {
		byArchetype[a] = &archetypeSummary{Archetype: a, Performance: map[string]int{}}
	}
	for _, l := range learners {
		p, ok := profiles[l.UserID]
		if !ok {
			continue
		}
		s := byArchetype[l.Archetype]
		s.Learners++
		s.MeanEQ += p.AverageEQScore
		perf := "unlabelled"
		if p.Performance != nil {
			perf = *p.Performance
		}
		s.Performance[perf]++
	}

	out := make([]archetypeSummary, 0, len(Archetypes))
	for _, a := range Archetypes {
		s := byArchetype[a]
		if s.Learners > 0 {
			s.MeanEQ /= float64(s.Learners)
		}
		out = append(out, *s)
	}
	return out
}

// verifyResults checks that archetypes order by EQ and, after a fitted
// retrain, that the extreme archetypes land in the extreme classes.
func verifyResults(_ context.Context, config *Config, learners []Learner, profiles map[string]Profile, retrain RetrainResult) error {
	log.Println("🔍 Verifying results...")

	summaries := summarize(learners, profiles)
	displaySummaries(summaries, config.Verbose)

	present := make([]archetypeSummary, 0, len(summaries))
	for _, s := range summaries {
		if s.Learners > 0 {
			present = append(present, s)
		}
	}
	if len(present) == 0 {
		return fmt.Errorf("no profiles to verify")
	}
	if !sort.SliceIsSorted(present, func(i, j int) bool { return present[i].MeanEQ < present[j].MeanEQ }) {
		return fmt.Errorf("archetypes are not ordered by mean EQ")
	}

	if retrain.Outcome != "fitted" {
		log.Printf("⚠️  retrain %s (%s); skipping class checks", retrain.Outcome, retrain.Reason)
		return nil
	}
	if err := expectMajority(summaries, ArchetypeCareful, "HIGH"); err != nil {
		return err
	}
	if err := expectMajority(summaries, ArchetypeStuck, "LOW"); err != nil {
		return err
	}

	log.Println("✅ Result verification completed")
	return nil
}

// expectMajority requires most learners of archetype a to carry perf.
func expectMajority(summaries []archetypeSummary, a Archetype, perf string) error {
	for _, s := range summaries {
		if s.Archetype != a || s.Learners == 0 {
			continue
		}
		if s.Performance[perf]*2 <= s.Learners {
			return fmt.Errorf("%s learners: %d of %d classified %s", a, s.Performance[perf], s.Learners, perf)
		}
	}
	return nil
}

func displaySummaries(summaries []archetypeSummary, verbose bool) {
	for _, s := range summaries {
		log.Printf("📊 %-8s learners=%d mean_eq=%.3f", s.Archetype, s.Learners, s.MeanEQ)
		if verbose {
			for perf, n := range s.Performance {
				log.Printf("     %s: %d", perf, n)
			}
		}
	}
}
