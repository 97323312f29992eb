package memory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Hub is the single entry point the agents and the API use to reach the
// three memory stores.
type Hub struct {
	Episodic   *EpisodicStore
	Semantic   *SemanticStore
	Procedural *ProceduralStore

	logger *zap.Logger
	now    func() time.Time
}

// NewHub bundles the three stores behind one facade.
func NewHub(ep *EpisodicStore, sm *SemanticStore, pr *ProceduralStore, logger *zap.Logger) *Hub {
	return &Hub{
		Episodic:   ep,
		Semantic:   sm,
		Procedural: pr,
		logger:     logger,
		now:        time.Now,
	}
}

// ClientContext is everything the system knows about a client that is
// worth handing to an agent: their durable facts and their recent history.
type ClientContext struct {
	ClientID      string            `json:"client_id"`
	Facts         []*SemanticMemory `json:"facts"`
	RecentEvents  []*EpisodicEvent  `json:"recent_events"`
	LookbackDays  int               `json:"lookback_days"`
}

// GetClientContext assembles a client's active facts plus their episodic
// timeline over the last lookbackDays days. A timeline failure degrades to
// facts-only context rather than failing the call.
func (h *Hub) GetClientContext(ctx context.Context, clientID string, lookbackDays int) (*ClientContext, error) {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}

	facts, err := h.Semantic.ListActive(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := h.now().UTC()
	events, err := h.Episodic.ClientTimeline(ctx, clientID, now.AddDate(0, 0, -lookbackDays), now)
	if err != nil {
		h.logger.Warn("client timeline unavailable, returning facts only",
			zap.String("client_id", clientID),
			zap.Error(err))
		events = []*EpisodicEvent{}
	}

	return &ClientContext{
		ClientID:     clientID,
		Facts:        facts,
		RecentEvents: events,
		LookbackDays: lookbackDays,
	}, nil
}

// RelevantContext is query-driven recall across the episodic and semantic
// stores.
type RelevantContext struct {
	ClientID string            `json:"client_id"`
	Query    string            `json:"query"`
	Events   []*ScoredEvent    `json:"events"`
	Facts    []*ScoredSemantic `json:"facts"`
}

// GetRelevantContext retrieves the memories most relevant to query for a
// client: decay-ranked episodic events plus similarity-ranked active facts.
func (h *Hub) GetRelevantContext(ctx context.Context, clientID, query string, topK int) (*RelevantContext, error) {
	events, err := h.Episodic.RetrieveMemories(ctx, clientID, query, topK)
	if err != nil {
		return nil, err
	}
	facts, err := h.Semantic.Query(ctx, clientID, query, topK)
	if err != nil {
		return nil, err
	}
	return &RelevantContext{
		ClientID: clientID,
		Query:    query,
		Events:   events,
		Facts:    facts,
	}, nil
}
