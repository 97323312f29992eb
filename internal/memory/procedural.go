package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/vectorstore"
)

const (
	// initialConfidence is assigned to a never-executed procedure.
	initialConfidence = 0.5

	// confidenceCap keeps even a perfect execution record short of
	// certainty.
	confidenceCap = 0.95

	// refineWindow is how many recent executions feed a refinement.
	refineWindow = 10
)

// ProceduralStore manages learned workflows: how to do things, how well
// doing them has worked, and which of them fits a situation.
type ProceduralStore struct {
	repo     ProcedureRepo
	events   EventRepo
	index    VectorIndex
	enricher Enricher
	reasoner Reasoner
	logger   *zap.Logger
	now      func() time.Time
}

// NewProceduralStore wires a procedural store over its repository, the
// episodic event repository procedures are learned from, vector index,
// enrichment gateway and reasoning client.
func NewProceduralStore(repo ProcedureRepo, events EventRepo, index VectorIndex, enricher Enricher, reasoner Reasoner, logger *zap.Logger) *ProceduralStore {
	return &ProceduralStore{
		repo:     repo,
		events:   events,
		index:    index,
		enricher: enricher,
		reasoner: reasoner,
		logger:   logger,
		now:      time.Now,
	}
}

// extractedProcedure is the structure the reasoning model must return
// when a procedure is learned or refined.
type extractedProcedure struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Trigger           string   `json:"trigger"`
	Steps             []string `json:"steps"`
	Roles             []string `json:"roles"`
	SuccessIndicators []string `json:"success_indicators"`
}

// Learn extracts a reusable procedure from a batch of the client's
// episodic events: the reasoning model distills trigger conditions, steps,
// roles and success indicators from the event summaries, and the result is
// stored at initial confidence with a back-reference to its source events.
// An unparseable extraction propagates as an error, never a guess.
func (s *ProceduralStore) Learn(ctx context.Context, clientID string, episodeIDs []string, procedureType string) (*Procedure, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if len(episodeIDs) == 0 {
		return nil, fmt.Errorf("at least one episode id is required")
	}

	events, err := s.events.GetByMemoryIDs(ctx, episodeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load episodes: %w", err)
	}
	var owned []*EpisodicEvent
	for _, ev := range events {
		if ev.ClientID == clientID {
			owned = append(owned, ev)
		}
	}
	if len(owned) == 0 {
		return nil, fmt.Errorf("no episodes found for client %s", clientID)
	}

	extracted, err := s.extractProcedure(ctx, owned)
	if err != nil {
		return nil, err
	}

	embedding, err := s.enricher.EmbedStrict(ctx, extracted.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to embed procedure: %w", err)
	}

	learnedFrom := make([]string, len(owned))
	for i, ev := range owned {
		learnedFrom[i] = ev.MemoryID
	}

	now := s.now().UTC()
	p := &Procedure{
		ProcedureID:       NewMemoryID("pr"),
		VectorID:          uuid.NewString(),
		ClientID:          clientID,
		Name:              extracted.Name,
		Description:       extracted.Description,
		Trigger:           extracted.Trigger,
		Steps:             extracted.Steps,
		Roles:             extracted.Roles,
		SuccessIndicators: extracted.SuccessIndicators,
		Category:          procedureType,
		LearnedFrom:       learnedFrom,
		Confidence:        initialConfidence,
		Version:           1,
		Embedding:         embedding,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to insert procedure: %w", err)
	}

	payload := map[string]string{
		"procedure_id": p.ProcedureID,
		"client_id":    p.ClientID,
		"category":     p.Category,
	}
	if err := s.index.Upsert(ctx, vectorstore.ProceduralCollection, p.VectorID, embedding, payload); err != nil {
		return nil, fmt.Errorf("failed to index procedure: %w", err)
	}
	return p, nil
}

func (s *ProceduralStore) extractProcedure(ctx context.Context, events []*EpisodicEvent) (*extractedProcedure, error) {
	var sb strings.Builder
	sb.WriteString("Analyze these client interaction episodes and extract a reusable procedure:\n\n")
	for _, ev := range events {
		summary := ev.EventSummary
		if summary == "" {
			summary = truncate(ev.FullTranscript, 200)
		}
		fmt.Fprintf(&sb, "Event (%s): %s\n\n", ev.EventType, summary)
	}
	sb.WriteString("Extract the trigger conditions that led to the action, the ordered steps taken, " +
		"the agents or roles involved, and the indicators of success. Respond with JSON only:\n" +
		`{"name": "...", "description": "...", "trigger": "...", "steps": ["..."], "roles": ["..."], "success_indicators": ["..."]}`)

	out, err := s.reasoner.Complete(ctx, "procedural", "", sb.String(), llm.Params{MaxTokens: 800, Temperature: 0.3})
	if err != nil {
		return nil, fmt.Errorf("procedure extraction failed: %w", err)
	}

	var extracted extractedProcedure
	if err := llm.DecodeJSON(out, &extracted); err != nil {
		return nil, fmt.Errorf("model returned unparseable procedure: %w", err)
	}
	if extracted.Name == "" || extracted.Description == "" || len(extracted.Steps) == 0 {
		return nil, fmt.Errorf("extracted procedure is missing name, description or steps")
	}
	return &extracted, nil
}

// Recommend returns the topK procedures best matching situation, ranked by
// similarity weighted with confidence and demonstrated success:
//
//	weighted = similarity * confidence * max(success_rate, 0.5)
//
// The floor on success rate keeps unproven procedures recommendable
// without letting them outrank proven ones.
func (s *ProceduralStore) Recommend(ctx context.Context, clientID, situation string, topK int) ([]*ScoredProcedure, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if topK <= 0 {
		topK = 3
	}

	queryVec, err := s.enricher.EmbedStrict(ctx, situation)
	if err != nil {
		return nil, fmt.Errorf("failed to embed situation: %w", err)
	}

	hits, err := s.index.Search(ctx, vectorstore.ProceduralCollection, queryVec, uint64(topK*2), map[string]string{"client_id": clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to search procedure index: %w", err)
	}
	if len(hits) == 0 {
		return []*ScoredProcedure{}, nil
	}

	ids := make([]string, 0, len(hits))
	rawByID := make(map[string]float64, len(hits))
	for _, h := range hits {
		id := h.Payload["procedure_id"]
		if id == "" {
			continue
		}
		ids = append(ids, id)
		rawByID[id] = float64(h.Score)
	}

	procs, err := s.repo.GetByProcedureIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load procedures: %w", err)
	}

	scored := make([]*ScoredProcedure, 0, len(procs))
	for _, p := range procs {
		raw := rawByID[p.ProcedureID]
		scored = append(scored, &ScoredProcedure{
			Procedure:     *p,
			RawScore:      raw,
			WeightedScore: raw * p.Confidence * math.Max(p.SuccessRate(), 0.5),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].WeightedScore > scored[j].WeightedScore
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	// Advisory annotation only: a non-matching trigger never filters a
	// candidate out, and a failed check leaves the field empty.
	for _, sp := range scored {
		sp.TriggerMatch = s.checkTrigger(ctx, situation, sp.Trigger)
	}
	return scored, nil
}

func (s *ProceduralStore) checkTrigger(ctx context.Context, situation, trigger string) string {
	prompt := fmt.Sprintf(
		"Current situation: %s\n\nProcedure trigger: %s\n\nDo the trigger conditions match the situation? Respond with Yes/No and confidence 0-1.",
		situation, trigger)
	out, err := s.reasoner.Complete(ctx, "procedural", "", prompt, llm.Params{MaxTokens: 50, Temperature: 0.2})
	if err != nil {
		s.logger.Warn("trigger match check failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}

// RecordExecution appends one run to a procedure's history and recomputes
// its confidence as min(0.95, 0.5 + success_rate*0.45), so confidence
// starts at the initial 0.5 and climbs with demonstrated success. A zero
// executedAt means "now".
func (s *ProceduralStore) RecordExecution(ctx context.Context, procedureID string, executedAt time.Time, outcome string, metrics map[string]any) (*Procedure, error) {
	p, err := s.repo.Get(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("failed to load procedure: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("procedure %s not found", procedureID)
	}
	if outcome == "" {
		return nil, fmt.Errorf("outcome is required")
	}
	if executedAt.IsZero() {
		executedAt = s.now().UTC()
	}

	rec := &ExecutionRecord{
		ExecutionID: NewMemoryID("ex"),
		ProcedureID: procedureID,
		Outcome:     outcome,
		Metrics:     metrics,
		ExecutedAt:  executedAt.UTC(),
	}
	if err := s.repo.InsertExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	if rec.Succeeded() {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.Confidence = math.Min(confidenceCap, initialConfidence+p.SuccessRate()*0.45)
	p.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update procedure: %w", err)
	}
	return p, nil
}

// Executions returns the most recent runs of a procedure, newest first.
func (s *ProceduralStore) Executions(ctx context.Context, procedureID string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = refineWindow
	}
	recs, err := s.repo.RecentExecutions(ctx, procedureID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}
	return recs, nil
}

// List returns a client's procedures, optionally filtered to one category
// and a minimum confidence.
func (s *ProceduralStore) List(ctx context.Context, clientID, category string, minConfidence float64) ([]*Procedure, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	procs, err := s.repo.List(ctx, clientID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list procedures: %w", err)
	}
	if minConfidence <= 0 {
		return procs, nil
	}
	kept := procs[:0]
	for _, p := range procs {
		if p.Confidence >= minConfidence {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// Refine asks the reasoning model to revise a procedure's trigger, steps
// and success indicators in light of its last ten execution outcomes, then
// installs the revision as the next version. Counters and confidence carry
// over: the procedure is the same skill, better described.
func (s *ProceduralStore) Refine(ctx context.Context, procedureID string) (*Procedure, error) {
	p, err := s.repo.Get(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("failed to load procedure: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("procedure %s not found", procedureID)
	}

	recs, err := s.repo.RecentExecutions(ctx, procedureID, refineWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("procedure %s has no executions to refine from", procedureID)
	}

	revised, err := s.revise(ctx, p, recs)
	if err != nil {
		return nil, fmt.Errorf("failed to revise procedure: %w", err)
	}

	if revised.Trigger != "" {
		p.Trigger = revised.Trigger
	}
	p.Steps = revised.Steps
	if len(revised.SuccessIndicators) > 0 {
		p.SuccessIndicators = revised.SuccessIndicators
	}
	p.Version++
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store refined procedure: %w", err)
	}
	return p, nil
}

func (s *ProceduralStore) revise(ctx context.Context, p *Procedure, recs []*ExecutionRecord) (*extractedProcedure, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A procedure named %q (trigger: %s) currently has these steps:\n", p.Name, p.Trigger)
	for i, step := range p.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	sb.WriteString("\nRecent execution history, newest first:\n")
	for _, r := range recs {
		fmt.Fprintf(&sb, "- %s, outcome: %s", r.ExecutedAt.Format("2006-01-02"), r.Outcome)
		if len(r.Metrics) > 0 {
			if b, err := json.Marshal(r.Metrics); err == nil {
				fmt.Fprintf(&sb, ", metrics: %s", b)
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nBased on the execution history, refine the trigger conditions so they are " +
		"more accurate, improve or reorder the action steps, and revise the success criteria. " +
		"Respond with JSON only:\n" +
		`{"trigger": "...", "steps": ["..."], "success_indicators": ["..."]}`)

	out, err := s.reasoner.Complete(ctx, "procedural", "", sb.String(), llm.Params{MaxTokens: 800, Temperature: 0.3})
	if err != nil {
		return nil, err
	}

	var revised extractedProcedure
	if err := llm.DecodeJSON(out, &revised); err != nil {
		return nil, fmt.Errorf("model returned unparseable revision: %w", err)
	}
	if len(revised.Steps) == 0 {
		return nil, fmt.Errorf("model returned no steps")
	}
	return &revised, nil
}
