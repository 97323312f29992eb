package memory

import (
	"math"
	"testing"
	"time"
)

func TestAdjustedScoreAtTau(t *testing.T) {
	cfg := DefaultDecayConfig()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	then := now.AddDate(0, 0, -30)

	got := cfg.adjustedScore(0.9, then, now)
	want := 0.9 * math.Exp(-1)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %f at one time constant, got %f", want, got)
	}
}

func TestAdjustedScoreFreshEventKeepsRawScore(t *testing.T) {
	cfg := DefaultDecayConfig()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if got := cfg.adjustedScore(0.72, now, now); math.Abs(got-0.72) > 1e-9 {
		t.Fatalf("expected fresh event to keep raw score, got %f", got)
	}
}

func TestAdjustedScoreClampsFutureTimestamps(t *testing.T) {
	cfg := DefaultDecayConfig()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)

	if got := cfg.adjustedScore(0.5, future, now); got > 0.5 {
		t.Fatalf("future timestamp inflated score to %f", got)
	}
}

func TestDecayIsMonotonicInAge(t *testing.T) {
	cfg := DefaultDecayConfig()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	prev := math.Inf(1)
	for _, days := range []int{0, 1, 7, 30, 90, 365} {
		got := cfg.adjustedScore(1.0, now.AddDate(0, 0, -days), now)
		if got > prev {
			t.Fatalf("score increased with age at %d days: %f > %f", days, got, prev)
		}
		if got <= 0 {
			t.Fatalf("score must stay positive, got %f at %d days", got, days)
		}
		prev = got
	}
}

func TestRecentEventOutranksOlderEqualRaw(t *testing.T) {
	cfg := DefaultDecayConfig()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	events := []*ScoredEvent{
		{EpisodicEvent: EpisodicEvent{MemoryID: "old", Timestamp: now.AddDate(0, 0, -60)}, RawScore: 0.8},
		{EpisodicEvent: EpisodicEvent{MemoryID: "new", Timestamp: now.AddDate(0, 0, -1)}, RawScore: 0.8},
	}
	cfg.rankByDecay(events, now)

	if events[0].MemoryID != "new" {
		t.Fatalf("expected recent event first, got %s", events[0].MemoryID)
	}
}

func TestRankTieBreaksOnRawThenRecency(t *testing.T) {
	cfg := DefaultDecayConfig()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ts := now.AddDate(0, 0, -3)

	// Same timestamp means equal decay, so equal adjusted ordering comes
	// from raw score; identical raw falls through to recency.
	events := []*ScoredEvent{
		{EpisodicEvent: EpisodicEvent{MemoryID: "low", Timestamp: ts}, RawScore: 0.4},
		{EpisodicEvent: EpisodicEvent{MemoryID: "high", Timestamp: ts}, RawScore: 0.6},
		{EpisodicEvent: EpisodicEvent{MemoryID: "older-twin", Timestamp: ts.Add(-time.Hour)}, RawScore: 0.0},
		{EpisodicEvent: EpisodicEvent{MemoryID: "newer-twin", Timestamp: ts}, RawScore: 0.0},
	}
	cfg.rankByDecay(events, now)

	if events[0].MemoryID != "high" || events[1].MemoryID != "low" {
		t.Fatalf("raw-score tie-break failed: %s, %s", events[0].MemoryID, events[1].MemoryID)
	}
	if events[2].MemoryID != "newer-twin" {
		t.Fatalf("recency tie-break failed: got %s third", events[2].MemoryID)
	}
}

func TestCandidatePoolDefaults(t *testing.T) {
	cfg := DecayConfig{}
	if got := cfg.candidatePool(5); got != 50 {
		t.Fatalf("expected default 10x pool, got %d", got)
	}
	cfg = DecayConfig{CandidateMultiplier: 4}
	if got := cfg.candidatePool(5); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
}
