package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/vectorstore"
)

// SemanticStore holds durable client facts with copy-on-write versioning.
// Unlike episodic writes, semantic writes fail loudly: a fact whose
// summary cannot be generated, embedded or persisted is rejected rather
// than stored degraded.
type SemanticStore struct {
	repo     SemanticRepo
	index    VectorIndex
	enricher Enricher
	reasoner Reasoner
	logger   *zap.Logger
	now      func() time.Time
}

// NewSemanticStore wires a semantic store over its repository, vector
// index, enrichment gateway and summarization model.
func NewSemanticStore(repo SemanticRepo, index VectorIndex, enricher Enricher, reasoner Reasoner, logger *zap.Logger) *SemanticStore {
	return &SemanticStore{
		repo:     repo,
		index:    index,
		enricher: enricher,
		reasoner: reasoner,
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a new active fact for (clientID, memoryType). It fails if
// an active version already exists; Update is the path for supersession.
func (s *SemanticStore) Create(ctx context.Context, clientID, memoryType string, content map[string]any) (*SemanticMemory, error) {
	if clientID == "" || memoryType == "" {
		return nil, fmt.Errorf("client_id and memory_type are required")
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("content is required")
	}

	summary, embedding, err := s.distill(ctx, memoryType, content)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &SemanticMemory{
		MemoryID:   NewMemoryID("sm"),
		VectorID:   uuid.NewString(),
		ClientID:   clientID,
		MemoryType: memoryType,
		Content:    content,
		Summary:    summary,
		Version:    1,
		IsActive:   true,
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to insert semantic memory: %w", err)
	}
	if err := s.indexMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Update archives the active version for (clientID, memoryType) and
// installs content as its successor, version incremented. The swap is a
// single repository transaction so no interleaving can observe two active
// versions or none.
func (s *SemanticStore) Update(ctx context.Context, clientID, memoryType string, content map[string]any) (*SemanticMemory, error) {
	if clientID == "" || memoryType == "" {
		return nil, fmt.Errorf("client_id and memory_type are required")
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("content is required")
	}

	summary, embedding, err := s.distill(ctx, memoryType, content)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next := &SemanticMemory{
		MemoryID:   NewMemoryID("sm"),
		VectorID:   uuid.NewString(),
		ClientID:   clientID,
		MemoryType: memoryType,
		Content:    content,
		Summary:    summary,
		IsActive:   true,
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	prev, err := s.repo.Replace(ctx, clientID, memoryType, next)
	if err != nil {
		return nil, fmt.Errorf("failed to replace semantic memory: %w", err)
	}

	if prev != nil {
		// Only the active version is searchable; archived vectors go.
		if err := s.index.Delete(ctx, vectorstore.SemanticCollection, prev.VectorID); err != nil {
			s.logger.Warn("failed to remove archived semantic vector",
				zap.String("memory_id", prev.MemoryID),
				zap.Error(err))
		}
	}
	if err := s.indexMemory(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Retrieve returns the active fact for (clientID, memoryType), or nil when
// none exists.
func (s *SemanticStore) Retrieve(ctx context.Context, clientID, memoryType string) (*SemanticMemory, error) {
	m, err := s.repo.GetActive(ctx, clientID, memoryType)
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic memory: %w", err)
	}
	return m, nil
}

// ListActive returns all active facts for a client.
func (s *SemanticStore) ListActive(ctx context.Context, clientID string) ([]*SemanticMemory, error) {
	ms, err := s.repo.ListActive(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list semantic memories: %w", err)
	}
	return ms, nil
}

// Query runs similarity search over a client's active facts. Facts do not
// age, so no recency decay applies.
func (s *SemanticStore) Query(ctx context.Context, clientID, query string, topK int) ([]*ScoredSemantic, error) {
	if topK <= 0 {
		topK = 3
	}

	queryVec, err := s.enricher.EmbedStrict(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, vectorstore.SemanticCollection, queryVec, uint64(topK), map[string]string{"client_id": clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to search semantic index: %w", err)
	}
	if len(hits) == 0 {
		return []*ScoredSemantic{}, nil
	}

	ids := make([]string, 0, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for _, h := range hits {
		id := h.Payload["memory_id"]
		if id == "" {
			continue
		}
		ids = append(ids, id)
		scoreByID[id] = float64(h.Score)
	}

	memories, err := s.repo.GetByMemoryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic memories: %w", err)
	}

	scored := make([]*ScoredSemantic, 0, len(memories))
	for _, m := range memories {
		// An index entry can briefly outlive its archived row.
		if !m.IsActive {
			continue
		}
		scored = append(scored, &ScoredSemantic{
			SemanticMemory: *m,
			Score:          scoreByID[m.MemoryID],
		})
	}
	// The repository returns rows in storage order; restore rank order.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored, nil
}

const summaryPrompt = `Based on the following data for a client's %s, generate a concise and structured summary. The summary should be a JSON object containing the most important, factual information.

Data:
%s

Respond with ONLY the JSON summary.`

// distill asks the model for a compact structured summary of the fact and
// embeds the summary. Both steps fail loudly: a fact without a usable
// summary is rejected.
func (s *SemanticStore) distill(ctx context.Context, memoryType string, content map[string]any) (map[string]any, []float32, error) {
	raw, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode content: %w", err)
	}

	out, err := s.reasoner.Complete(ctx, "semantic", "", fmt.Sprintf(summaryPrompt, memoryType, raw), llm.Params{MaxTokens: 1000, Temperature: 0.5})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to summarize semantic content: %w", err)
	}
	var summary map[string]any
	if err := llm.DecodeJSON(out, &summary); err != nil {
		return nil, nil, fmt.Errorf("failed to parse semantic summary: %w", err)
	}
	if len(summary) == 0 {
		return nil, nil, fmt.Errorf("semantic summary is empty")
	}

	text, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode semantic summary: %w", err)
	}
	embedding, err := s.enricher.EmbedStrict(ctx, string(text))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed semantic summary: %w", err)
	}
	return summary, embedding, nil
}

func (s *SemanticStore) indexMemory(ctx context.Context, m *SemanticMemory) error {
	payload := map[string]string{
		"memory_id":   m.MemoryID,
		"client_id":   m.ClientID,
		"memory_type": m.MemoryType,
	}
	if err := s.index.Upsert(ctx, vectorstore.SemanticCollection, m.VectorID, m.Embedding, payload); err != nil {
		return fmt.Errorf("failed to index semantic memory: %w", err)
	}
	return nil
}
