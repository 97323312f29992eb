package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/vectorstore"
)

// EpisodicEvent is a single timestamped interaction or observation tied to
// a client. The full transcript is preserved verbatim; summary, tags and
// embedding are best-effort enrichment.
type EpisodicEvent struct {
	MemoryID         string    `json:"memory_id"`
	VectorID         string    `json:"-"`
	ClientID         string    `json:"client_id"`
	AgentSource      string    `json:"agent_source"`
	EventType        string    `json:"event_type"`
	Timestamp        time.Time `json:"timestamp"`
	EventSummary     string    `json:"event_summary"`
	FullTranscript   string    `json:"full_transcript"`
	Tags             []string  `json:"tags"`
	Embedding        []float32 `json:"-"`
	ImportanceScore  float64   `json:"importance_score"`
	EmotionalValence string    `json:"emotional_valence"`
	Participants     []string  `json:"participants"`
	RelatedAssets    []string  `json:"related_assets"`
	CreatedAt        time.Time `json:"created_at"`
	LastAccessed     time.Time `json:"last_accessed"`
	AccessCount      int       `json:"access_count"`
}

// ScoredEvent is an episodic event annotated with retrieval scores.
type ScoredEvent struct {
	EpisodicEvent
	RawScore      float64 `json:"raw_score"`
	AdjustedScore float64 `json:"adjusted_score"`
}

// SemanticMemory is a durable fact about a client, versioned copy-on-write:
// at most one active version exists per (client, memory type) and updates
// archive the predecessor rather than mutating it. Summary is the
// model-distilled structured digest of Content; it, not the raw content,
// is what gets embedded.
type SemanticMemory struct {
	MemoryID   string         `json:"memory_id"`
	VectorID   string         `json:"-"`
	ClientID   string         `json:"client_id"`
	MemoryType string         `json:"memory_type"`
	Content    map[string]any `json:"content"`
	Summary    map[string]any `json:"summary"`
	Version    int            `json:"version"`
	IsActive   bool           `json:"is_active"`
	Embedding  []float32      `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}

// ScoredSemantic is a semantic memory annotated with a similarity score.
type ScoredSemantic struct {
	SemanticMemory
	Score float64 `json:"score"`
}

// Procedure is a learned multi-step workflow with an evolving confidence
// derived from execution outcomes.
type Procedure struct {
	ProcedureID       string    `json:"procedure_id"`
	VectorID          string    `json:"-"`
	ClientID          string    `json:"client_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Trigger           string    `json:"trigger"`
	Steps             []string  `json:"steps"`
	Roles             []string  `json:"roles,omitempty"`
	SuccessIndicators []string  `json:"success_indicators,omitempty"`
	Category          string    `json:"category"`
	// LearnedFrom lists the episodic events the procedure was extracted
	// from. Lookup-only: deleting an event does not invalidate the
	// procedure.
	LearnedFrom  []string  `json:"learned_from,omitempty"`
	Confidence   float64   `json:"confidence"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Version      int       `json:"version"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SuccessRate returns the fraction of successful executions, or 0 when the
// procedure has never run.
func (p *Procedure) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// OutcomeSuccess is the outcome value that counts toward a procedure's
// success rate; any other outcome counts as a failure.
const OutcomeSuccess = "success"

// ExecutionRecord captures a single run of a procedure. History is
// append-only: records are never rewritten or pruned.
type ExecutionRecord struct {
	ExecutionID string         `json:"execution_id"`
	ProcedureID string         `json:"procedure_id"`
	Outcome     string         `json:"outcome"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	ExecutedAt  time.Time      `json:"executed_at"`
}

// Succeeded reports whether the execution counts as a success.
func (r *ExecutionRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// ScoredProcedure is a procedure annotated with its recommendation score.
type ScoredProcedure struct {
	Procedure
	RawScore      float64 `json:"raw_score"`
	WeightedScore float64 `json:"weighted_score"`
	// TriggerMatch is the model's verdict on whether the procedure's
	// trigger conditions fit the queried situation. Empty when the check
	// could not run.
	TriggerMatch string `json:"trigger_match,omitempty"`
}

// EventRepo persists episodic events.
type EventRepo interface {
	Insert(ctx context.Context, ev *EpisodicEvent) error
	GetByMemoryIDs(ctx context.Context, ids []string) ([]*EpisodicEvent, error)
	Timeline(ctx context.Context, clientID string, start, end time.Time) ([]*EpisodicEvent, error)
	TouchAccessed(ctx context.Context, ids []string, at time.Time) error
}

// SemanticRepo persists semantic memories with copy-on-write versioning.
type SemanticRepo interface {
	Insert(ctx context.Context, m *SemanticMemory) error
	// Replace atomically archives the active version for (clientID,
	// memoryType) and inserts next as its successor. It returns the
	// archived predecessor, or nil when none existed.
	Replace(ctx context.Context, clientID, memoryType string, next *SemanticMemory) (*SemanticMemory, error)
	GetActive(ctx context.Context, clientID, memoryType string) (*SemanticMemory, error)
	ListActive(ctx context.Context, clientID string) ([]*SemanticMemory, error)
	GetByMemoryIDs(ctx context.Context, ids []string) ([]*SemanticMemory, error)
}

// ProcedureRepo persists procedures and their execution history.
type ProcedureRepo interface {
	Insert(ctx context.Context, p *Procedure) error
	Get(ctx context.Context, procedureID string) (*Procedure, error)
	Update(ctx context.Context, p *Procedure) error
	List(ctx context.Context, clientID, category string) ([]*Procedure, error)
	GetByProcedureIDs(ctx context.Context, ids []string) ([]*Procedure, error)
	InsertExecution(ctx context.Context, rec *ExecutionRecord) error
	RecentExecutions(ctx context.Context, procedureID string, limit int) ([]*ExecutionRecord, error)
}

// VectorIndex is the similarity-search side of the memory system. The
// relational store remains the source of truth; index entries may be
// re-derived from it. Satisfied by *vectorstore.Client.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, filter map[string]string) ([]*vectorstore.SearchResult, error)
	Delete(ctx context.Context, collection string, id string) error
}

// Reasoner is the structured-generation capability used where memory
// operations need a model in the loop (procedure refinement).
type Reasoner interface {
	Complete(ctx context.Context, agentID, system, prompt string, p llm.Params) (string, error)
}

// Enricher derives summaries, tags and embeddings. Summarize, Tags and
// Embed degrade to safe defaults; EmbedStrict propagates failures.
type Enricher interface {
	Summarize(ctx context.Context, text string) string
	Tags(ctx context.Context, text string) []string
	Embed(ctx context.Context, text string) []float32
	EmbedStrict(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NewMemoryID returns an identifier with the given prefix and 12 hex
// characters of entropy, e.g. "ep_3fa85f642b1c".
func NewMemoryID(prefix string) string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is unrecoverable for id generation
		panic(err)
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}
