package memory

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/vectorstore"
)

// EpisodicStore records and retrieves timestamped client interactions.
// Writes are append-only; retrieval is similarity search re-ranked by
// recency decay.
type EpisodicStore struct {
	repo     EventRepo
	index    VectorIndex
	enricher Enricher
	decay    DecayConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewEpisodicStore wires an episodic store over its repository, vector
// index and enrichment gateway.
func NewEpisodicStore(repo EventRepo, index VectorIndex, enricher Enricher, decay DecayConfig, logger *zap.Logger) *EpisodicStore {
	return &EpisodicStore{
		repo:     repo,
		index:    index,
		enricher: enricher,
		decay:    decay,
		logger:   logger,
		now:      time.Now,
	}
}

// AddEventInput carries the caller-supplied fields of a new event.
// Summary, tags and embedding are derived when absent.
type AddEventInput struct {
	ClientID      string     `json:"client_id"`
	AgentSource   string     `json:"agent_source"`
	EventType     string     `json:"event_type"`
	Transcript    string     `json:"transcript"`
	Summary       string     `json:"summary,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Importance    *float64   `json:"importance,omitempty"`
	Valence       string     `json:"valence,omitempty"`
	RelatedAssets []string   `json:"related_assets,omitempty"`
}

// AddEvent persists a new episodic event. Enrichment failures degrade: a
// failed summary is stored empty, tags fall back to empty, the embedding
// to a zero vector, and an index write failure is logged and skipped. The
// relational write is the only one that can fail the call.
func (s *EpisodicStore) AddEvent(ctx context.Context, in AddEventInput) (*EpisodicEvent, error) {
	if in.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if in.Transcript == "" {
		return nil, fmt.Errorf("transcript is required")
	}

	now := s.now().UTC()
	ts := now
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}

	summary := in.Summary
	if summary == "" {
		summary = s.enricher.Summarize(ctx, in.Transcript)
	}

	tags := in.Tags
	if len(tags) == 0 {
		tags = s.enricher.Tags(ctx, in.Transcript)
	}

	// The summary, not the transcript, is what gets embedded: it is the
	// retrieval surface of the event. When summarization failed the
	// summary stays empty and the transcript stands in for embedding.
	embedText := summary
	if embedText == "" {
		embedText = in.Transcript
	}
	embedding := s.enricher.Embed(ctx, embedText)

	importance := 0.5
	if in.Importance != nil {
		importance = *in.Importance
	}
	valence := in.Valence
	if valence == "" {
		valence = "neutral"
	}

	ev := &EpisodicEvent{
		MemoryID:         NewMemoryID("ep"),
		VectorID:         uuid.NewString(),
		ClientID:         in.ClientID,
		AgentSource:      in.AgentSource,
		EventType:        in.EventType,
		Timestamp:        ts,
		EventSummary:     summary,
		FullTranscript:   in.Transcript,
		Tags:             tags,
		Embedding:        embedding,
		ImportanceScore:  importance,
		EmotionalValence: valence,
		Participants:     []string{in.AgentSource, "client"},
		RelatedAssets:    in.RelatedAssets,
		CreatedAt:        now,
		LastAccessed:     now,
	}
	if ev.RelatedAssets == nil {
		ev.RelatedAssets = []string{}
	}

	if err := s.repo.Insert(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to insert episodic event: %w", err)
	}

	payload := map[string]string{
		"memory_id": ev.MemoryID,
		"client_id": ev.ClientID,
	}
	if err := s.index.Upsert(ctx, vectorstore.EpisodicCollection, ev.VectorID, embedding, payload); err != nil {
		s.logger.Warn("episodic index write failed, event remains searchable by timeline only",
			zap.String("memory_id", ev.MemoryID),
			zap.Error(err))
	}

	return ev, nil
}

// RetrieveMemories returns the topK events most relevant to query for a
// client, ranked by similarity with exponential recency decay. The index
// is probed for a candidate pool larger than topK so older-but-relevant
// events survive re-ranking. Retrieval never mutates ranking inputs, so
// repeated identical calls return identical results.
func (s *EpisodicStore) RetrieveMemories(ctx context.Context, clientID, query string, topK int) ([]*ScoredEvent, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := s.enricher.EmbedStrict(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	pool := s.decay.candidatePool(topK)
	hits, err := s.index.Search(ctx, vectorstore.EpisodicCollection, queryVec, uint64(pool), map[string]string{"client_id": clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to search episodic index: %w", err)
	}
	if len(hits) == 0 {
		return []*ScoredEvent{}, nil
	}

	ids := make([]string, 0, len(hits))
	rawByID := make(map[string]float64, len(hits))
	for _, h := range hits {
		id := h.Payload["memory_id"]
		if id == "" {
			continue
		}
		ids = append(ids, id)
		rawByID[id] = float64(h.Score)
	}

	events, err := s.repo.GetByMemoryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load episodic events: %w", err)
	}

	now := s.now().UTC()
	scored := make([]*ScoredEvent, 0, len(events))
	for _, ev := range events {
		scored = append(scored, &ScoredEvent{
			EpisodicEvent: *ev,
			RawScore:      rawByID[ev.MemoryID],
		})
	}
	s.decay.rankByDecay(scored, now)

	if len(scored) > topK {
		scored = scored[:topK]
	}

	// Access bookkeeping happens after ranking and affects neither raw
	// nor adjusted scores.
	accessed := make([]string, len(scored))
	for i, ev := range scored {
		accessed[i] = ev.MemoryID
	}
	if err := s.repo.TouchAccessed(ctx, accessed, now); err != nil {
		s.logger.Warn("failed to update access stats", zap.Error(err))
	}

	return scored, nil
}

// ClientTimeline returns a client's events in [start, end], both bounds
// inclusive, ordered by timestamp ascending.
func (s *EpisodicStore) ClientTimeline(ctx context.Context, clientID string, start, end time.Time) ([]*EpisodicEvent, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	events, err := s.repo.Timeline(ctx, clientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	return events, nil
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
