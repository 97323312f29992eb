package memory

import (
	"math"
	"sort"
	"time"
)

const (
	// DefaultDecayTauDays halves nothing and graceful-ages everything: a
	// 30-day-old memory keeps e^-1 of its raw similarity.
	DefaultDecayTauDays = 30.0

	// DefaultCandidateMultiplier is how many times top_k candidates are
	// pulled from the index before decay re-ranking.
	DefaultCandidateMultiplier = 10
)

// DecayConfig tunes recency-weighted retrieval.
type DecayConfig struct {
	TauDays             float64
	CandidateMultiplier int
}

// DefaultDecayConfig returns the standard 30-day time constant with a 10x
// candidate pool.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		TauDays:             DefaultDecayTauDays,
		CandidateMultiplier: DefaultCandidateMultiplier,
	}
}

func (c DecayConfig) tau() float64 {
	if c.TauDays <= 0 {
		return DefaultDecayTauDays
	}
	return c.TauDays
}

func (c DecayConfig) candidatePool(topK int) int {
	mult := c.CandidateMultiplier
	if mult <= 0 {
		mult = DefaultCandidateMultiplier
	}
	return topK * mult
}

// adjustedScore applies exponential recency decay to a raw similarity
// score: raw * exp(-age_days/tau). Future timestamps clamp to zero age so
// clock skew never inflates a score above its raw value.
func (c DecayConfig) adjustedScore(raw float64, eventTime, now time.Time) float64 {
	ageDays := now.Sub(eventTime).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return raw * math.Exp(-ageDays/c.tau())
}

// rankByDecay annotates events with adjusted scores and orders them by
// adjusted score, then raw score, then recency, all descending.
func (c DecayConfig) rankByDecay(events []*ScoredEvent, now time.Time) {
	for _, ev := range events {
		ev.AdjustedScore = c.adjustedScore(ev.RawScore, ev.Timestamp, now)
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.AdjustedScore != b.AdjustedScore {
			return a.AdjustedScore > b.AdjustedScore
		}
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		return a.Timestamp.After(b.Timestamp)
	})
}
