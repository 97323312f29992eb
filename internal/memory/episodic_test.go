package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/vectorstore"
)

func newTestEpisodicStore(repo *fakeEventRepo, index *fakeIndex, enricher *fakeEnricher) *EpisodicStore {
	s := NewEpisodicStore(repo, index, enricher, DefaultDecayConfig(), zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestAddEventEnrichesAndIndexes(t *testing.T) {
	repo := newFakeEventRepo()
	index := newFakeIndex()
	enricher := &fakeEnricher{summary: "Client asked about retirement.", tags: []string{"retirement"}, vec: []float32{0.1, 0.2}}
	s := newTestEpisodicStore(repo, index, enricher)

	ev, err := s.AddEvent(context.Background(), AddEventInput{
		ClientID:    "client-1",
		AgentSource: "planning_agent",
		EventType:   "consultation",
		Transcript:  "Long conversation about retirement at 60.",
	})
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if !strings.HasPrefix(ev.MemoryID, "ep_") || len(ev.MemoryID) != len("ep_")+12 {
		t.Fatalf("unexpected memory id %q", ev.MemoryID)
	}
	if ev.EventSummary != "Client asked about retirement." {
		t.Fatalf("unexpected summary %q", ev.EventSummary)
	}
	if ev.ImportanceScore != 0.5 || ev.EmotionalValence != "neutral" {
		t.Fatalf("defaults not applied: %f %q", ev.ImportanceScore, ev.EmotionalValence)
	}
	if len(ev.Participants) != 2 || ev.Participants[0] != "planning_agent" || ev.Participants[1] != "client" {
		t.Fatalf("unexpected participants %v", ev.Participants)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected one persisted event, got %d", len(repo.events))
	}

	point, ok := index.points[vectorstore.EpisodicCollection][ev.VectorID]
	if !ok {
		t.Fatal("event not indexed")
	}
	if point.payload["memory_id"] != ev.MemoryID || point.payload["client_id"] != "client-1" {
		t.Fatalf("unexpected index payload %v", point.payload)
	}
}

func TestAddEventSurvivesTotalEnrichmentFailure(t *testing.T) {
	repo := newFakeEventRepo()
	index := newFakeIndex()
	enricher := &fakeEnricher{vec: make([]float32, 4), strictErr: errors.New("providers down")}
	s := newTestEpisodicStore(repo, index, enricher)

	transcript := "Client confirmed the quarterly rebalance."
	ev, err := s.AddEvent(context.Background(), AddEventInput{
		ClientID:   "client-1",
		Transcript: transcript,
	})
	if err != nil {
		t.Fatalf("AddEvent must not fail on enrichment: %v", err)
	}
	if ev.FullTranscript != transcript {
		t.Fatal("transcript must be stored verbatim")
	}
	if ev.EventSummary != "" {
		t.Fatalf("failed summarization must store an empty summary, got %q", ev.EventSummary)
	}
	for _, v := range ev.Embedding {
		if v != 0 {
			t.Fatal("expected zero-vector embedding fallback")
		}
	}
	if len(ev.Tags) != 0 {
		t.Fatalf("expected empty tags, got %v", ev.Tags)
	}
}

func TestAddEventIndexFailureDoesNotFailWrite(t *testing.T) {
	repo := newFakeEventRepo()
	index := newFakeIndex()
	index.upsertErr = errors.New("qdrant unavailable")
	enricher := &fakeEnricher{summary: "s", vec: []float32{0.1}}
	s := newTestEpisodicStore(repo, index, enricher)

	if _, err := s.AddEvent(context.Background(), AddEventInput{ClientID: "c", Transcript: "t"}); err != nil {
		t.Fatalf("index failure must not fail the write: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatal("event must still be persisted")
	}
}

func TestAddEventRejectsMissingFields(t *testing.T) {
	s := newTestEpisodicStore(newFakeEventRepo(), newFakeIndex(), &fakeEnricher{vec: []float32{0.1}})

	if _, err := s.AddEvent(context.Background(), AddEventInput{Transcript: "t"}); err == nil {
		t.Fatal("expected error for missing client_id")
	}
	if _, err := s.AddEvent(context.Background(), AddEventInput{ClientID: "c"}); err == nil {
		t.Fatal("expected error for missing transcript")
	}
}

func TestRetrieveMemoriesRanksByAdjustedScore(t *testing.T) {
	repo := newFakeEventRepo()
	index := newFakeIndex()
	enricher := &fakeEnricher{vec: []float32{0.1}}
	s := newTestEpisodicStore(repo, index, enricher)
	now := s.now()

	// An old strong match and a fresh moderate one: decay puts the fresh
	// one first even though its raw similarity is lower.
	repo.events = []*EpisodicEvent{
		{MemoryID: "ep_old", ClientID: "c", Timestamp: now.AddDate(0, 0, -90)},
		{MemoryID: "ep_new", ClientID: "c", Timestamp: now.AddDate(0, 0, -1)},
	}
	index.hits[vectorstore.EpisodicCollection] = []*vectorstore.SearchResult{
		{ID: "v1", Score: 0.9, Payload: map[string]string{"memory_id": "ep_old", "client_id": "c"}},
		{ID: "v2", Score: 0.6, Payload: map[string]string{"memory_id": "ep_new", "client_id": "c"}},
	}

	got, err := s.RetrieveMemories(context.Background(), "c", "rebalance", 2)
	if err != nil {
		t.Fatalf("RetrieveMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].MemoryID != "ep_new" {
		t.Fatalf("expected fresh event first, got %s", got[0].MemoryID)
	}
	if got[0].AdjustedScore >= got[0].RawScore {
		t.Fatal("adjusted score must not exceed raw score")
	}
}

func TestRetrieveMemoriesIsIdempotent(t *testing.T) {
	repo := newFakeEventRepo()
	index := newFakeIndex()
	enricher := &fakeEnricher{vec: []float32{0.1}}
	s := newTestEpisodicStore(repo, index, enricher)
	now := s.now()

	repo.events = []*EpisodicEvent{
		{MemoryID: "ep_a", ClientID: "c", Timestamp: now.AddDate(0, 0, -2)},
		{MemoryID: "ep_b", ClientID: "c", Timestamp: now.AddDate(0, 0, -5)},
	}
	index.hits[vectorstore.EpisodicCollection] = []*vectorstore.SearchResult{
		{ID: "v1", Score: 0.8, Payload: map[string]string{"memory_id": "ep_a", "client_id": "c"}},
		{ID: "v2", Score: 0.7, Payload: map[string]string{"memory_id": "ep_b", "client_id": "c"}},
	}

	first, err := s.RetrieveMemories(context.Background(), "c", "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.RetrieveMemories(context.Background(), "c", "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i].MemoryID != second[i].MemoryID || first[i].AdjustedScore != second[i].AdjustedScore {
			t.Fatalf("retrieval not idempotent at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if repo.touched["ep_a"] != 2 {
		t.Fatalf("access bookkeeping expected 2 touches, got %d", repo.touched["ep_a"])
	}
}

func TestRetrieveMemoriesFiltersByClient(t *testing.T) {
	repo := newFakeEventRepo()
	index := newFakeIndex()
	enricher := &fakeEnricher{vec: []float32{0.1}}
	s := newTestEpisodicStore(repo, index, enricher)

	repo.events = []*EpisodicEvent{{MemoryID: "ep_mine", ClientID: "c1", Timestamp: s.now()}}
	index.hits[vectorstore.EpisodicCollection] = []*vectorstore.SearchResult{
		{ID: "v1", Score: 0.9, Payload: map[string]string{"memory_id": "ep_mine", "client_id": "c1"}},
		{ID: "v2", Score: 0.95, Payload: map[string]string{"memory_id": "ep_other", "client_id": "c2"}},
	}

	got, err := s.RetrieveMemories(context.Background(), "c1", "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MemoryID != "ep_mine" {
		t.Fatalf("expected only client c1 events, got %+v", got)
	}
}

func TestRetrieveMemoriesQueryEmbeddingFailurePropagates(t *testing.T) {
	enricher := &fakeEnricher{vec: []float32{0.1}, strictErr: errors.New("embedding down")}
	s := newTestEpisodicStore(newFakeEventRepo(), newFakeIndex(), enricher)

	if _, err := s.RetrieveMemories(context.Background(), "c", "q", 3); err == nil {
		t.Fatal("expected query embedding failure to propagate")
	}
}

func TestClientTimelineBoundsInclusive(t *testing.T) {
	repo := newFakeEventRepo()
	s := newTestEpisodicStore(repo, newFakeIndex(), &fakeEnricher{vec: []float32{0.1}})

	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	repo.events = []*EpisodicEvent{
		{MemoryID: "ep_before", ClientID: "c", Timestamp: start.Add(-time.Second)},
		{MemoryID: "ep_start", ClientID: "c", Timestamp: start},
		{MemoryID: "ep_mid", ClientID: "c", Timestamp: start.AddDate(0, 0, 15)},
		{MemoryID: "ep_end", ClientID: "c", Timestamp: end},
		{MemoryID: "ep_after", ClientID: "c", Timestamp: end.Add(time.Second)},
	}

	got, err := s.ClientTimeline(context.Background(), "c", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].MemoryID != "ep_start" || got[2].MemoryID != "ep_end" {
		t.Fatalf("bounds not inclusive or order wrong: %s..%s", got[0].MemoryID, got[2].MemoryID)
	}
}

func TestClientTimelineRejectsInvertedRange(t *testing.T) {
	s := newTestEpisodicStore(newFakeEventRepo(), newFakeIndex(), &fakeEnricher{vec: []float32{0.1}})

	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.ClientTimeline(context.Background(), "c", end.AddDate(0, 0, 1), end); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s := "préavis"
	if got := truncate(s, 3); got != "pr" {
		t.Fatalf("expected cut before the multi-byte rune, got %q", got)
	}
	if got := truncate(s, len(s)); got != s {
		t.Fatalf("expected full string back, got %q", got)
	}
}
