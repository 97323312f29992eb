package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/agent"
	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/memory"
	"github.com/oakline/advisory/internal/orchestrator"
	"github.com/oakline/advisory/internal/vectorstore"
)

// In-memory repositories so handler tests run without postgres or qdrant.

type memEventRepo struct{ events []*memory.EpisodicEvent }

func (r *memEventRepo) Insert(_ context.Context, ev *memory.EpisodicEvent) error {
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *memEventRepo) GetByMemoryIDs(_ context.Context, ids []string) ([]*memory.EpisodicEvent, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*memory.EpisodicEvent
	for _, ev := range r.events {
		if want[ev.MemoryID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memEventRepo) Timeline(_ context.Context, clientID string, start, end time.Time) ([]*memory.EpisodicEvent, error) {
	var out []*memory.EpisodicEvent
	for _, ev := range r.events {
		if ev.ClientID == clientID && !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *memEventRepo) TouchAccessed(_ context.Context, _ []string, _ time.Time) error { return nil }

type memSemanticRepo struct{ memories []*memory.SemanticMemory }

func (r *memSemanticRepo) Insert(_ context.Context, m *memory.SemanticMemory) error {
	cp := *m
	r.memories = append(r.memories, &cp)
	return nil
}

func (r *memSemanticRepo) Replace(_ context.Context, clientID, memoryType string, next *memory.SemanticMemory) (*memory.SemanticMemory, error) {
	var prev *memory.SemanticMemory
	for _, m := range r.memories {
		if m.ClientID == clientID && m.MemoryType == memoryType && m.IsActive {
			m.IsActive = false
			prev = m
			break
		}
	}
	next.Version = 1
	if prev != nil {
		next.Version = prev.Version + 1
	}
	cp := *next
	r.memories = append(r.memories, &cp)
	*next = cp
	return prev, nil
}

func (r *memSemanticRepo) GetActive(_ context.Context, clientID, memoryType string) (*memory.SemanticMemory, error) {
	for _, m := range r.memories {
		if m.ClientID == clientID && m.MemoryType == memoryType && m.IsActive {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memSemanticRepo) ListActive(_ context.Context, clientID string) ([]*memory.SemanticMemory, error) {
	var out []*memory.SemanticMemory
	for _, m := range r.memories {
		if m.ClientID == clientID && m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memSemanticRepo) GetByMemoryIDs(_ context.Context, ids []string) ([]*memory.SemanticMemory, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*memory.SemanticMemory
	for _, m := range r.memories {
		if want[m.MemoryID] {
			out = append(out, m)
		}
	}
	return out, nil
}

type memProcedureRepo struct {
	procedures []*memory.Procedure
	executions []*memory.ExecutionRecord
}

func (r *memProcedureRepo) Insert(_ context.Context, p *memory.Procedure) error {
	cp := *p
	r.procedures = append(r.procedures, &cp)
	return nil
}

func (r *memProcedureRepo) Get(_ context.Context, id string) (*memory.Procedure, error) {
	for _, p := range r.procedures {
		if p.ProcedureID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memProcedureRepo) Update(_ context.Context, p *memory.Procedure) error {
	for i, existing := range r.procedures {
		if existing.ProcedureID == p.ProcedureID {
			cp := *p
			r.procedures[i] = &cp
		}
	}
	return nil
}

func (r *memProcedureRepo) List(_ context.Context, clientID, category string) ([]*memory.Procedure, error) {
	var out []*memory.Procedure
	for _, p := range r.procedures {
		if p.ClientID == clientID && (category == "" || p.Category == category) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memProcedureRepo) GetByProcedureIDs(_ context.Context, ids []string) ([]*memory.Procedure, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*memory.Procedure
	for _, p := range r.procedures {
		if want[p.ProcedureID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memProcedureRepo) InsertExecution(_ context.Context, rec *memory.ExecutionRecord) error {
	cp := *rec
	r.executions = append(r.executions, &cp)
	return nil
}

func (r *memProcedureRepo) RecentExecutions(_ context.Context, procedureID string, limit int) ([]*memory.ExecutionRecord, error) {
	var out []*memory.ExecutionRecord
	for i := len(r.executions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.executions[i].ProcedureID == procedureID {
			out = append(out, r.executions[i])
		}
	}
	return out, nil
}

// memIndex echoes upserted points back as search hits, newest first.
type memIndex struct {
	points map[string][]*vectorstore.SearchResult
}

func (f *memIndex) Upsert(_ context.Context, collection, id string, _ []float32, payload map[string]string) error {
	if f.points == nil {
		f.points = map[string][]*vectorstore.SearchResult{}
	}
	f.points[collection] = append(f.points[collection], &vectorstore.SearchResult{ID: id, Score: 0.9, Payload: payload})
	return nil
}

func (f *memIndex) Search(_ context.Context, collection string, _ []float32, topK uint64, filter map[string]string) ([]*vectorstore.SearchResult, error) {
	var out []*vectorstore.SearchResult
	for _, h := range f.points[collection] {
		ok := true
		for k, v := range filter {
			if h.Payload[k] != v {
				ok = false
			}
		}
		if ok {
			out = append(out, h)
		}
		if uint64(len(out)) == topK {
			break
		}
	}
	return out, nil
}

func (f *memIndex) Delete(_ context.Context, collection string, id string) error {
	kept := f.points[collection][:0]
	for _, h := range f.points[collection] {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	f.points[collection] = kept
	return nil
}

type staticEnricher struct{}

func (staticEnricher) Summarize(_ context.Context, text string) string {
	if len(text) > 60 {
		return text[:60]
	}
	return text
}
func (staticEnricher) Tags(_ context.Context, _ string) []string { return []string{"test"} }
func (staticEnricher) Embed(_ context.Context, _ string) []float32 {
	return []float32{0.1, 0.2, 0.3}
}
func (staticEnricher) EmbedStrict(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (staticEnricher) Dimension() int { return 3 }

type staticReasoner struct{ out string }

func (r staticReasoner) Complete(_ context.Context, _, _, _ string, _ llm.Params) (string, error) {
	return r.out, nil
}

type cannedAgent struct {
	id        string
	eventType string
	out       string
}

func (a cannedAgent) ID() string        { return a.id }
func (a cannedAgent) Name() string      { return a.id }
func (a cannedAgent) EventType() string { return a.eventType }
func (a cannedAgent) Run(_ context.Context, _ *agent.State) (string, error) {
	return a.out, nil
}

// newTestHandler creates a Handler wired with in-memory deps (no
// postgres/qdrant/redis).
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	index := &memIndex{}
	enricher := staticEnricher{}
	events := &memEventRepo{}

	extraction := `{"name": "quarterly rebalance", "description": "Rebalance a drifted portfolio.",
		"trigger": "drift over 5%", "steps": ["compute drift", "trade"],
		"roles": ["portfolio_manager"], "success_indicators": ["drift under 1%"]}`

	ep := memory.NewEpisodicStore(events, index, enricher, memory.DefaultDecayConfig(), logger)
	sm := memory.NewSemanticStore(&memSemanticRepo{}, index, enricher, staticReasoner{out: `{"risk_tolerance": "moderate"}`}, logger)
	pr := memory.NewProceduralStore(&memProcedureRepo{}, events, index, enricher, staticReasoner{out: extraction}, logger)
	hub := memory.NewHub(ep, sm, pr, logger)

	orch := orchestrator.New(orchestrator.Agents{
		MarketResearcher: cannedAgent{"market_researcher", "market_analysis", "market out"},
		RiskAssessor:     cannedAgent{"risk_assessor", "risk_assessment", "risk out"},
		PortfolioManager: cannedAgent{"portfolio_manager", "portfolio_analysis", "portfolio out"},
		FinancialPlanner: cannedAgent{"financial_planner", "financial_planning", "plan out"},
		TaxOptimizer:     cannedAgent{"tax_optimizer", "tax_optimization", "tax out"},
		Compliance:       cannedAgent{"compliance_officer", "compliance_review", "compliance out"},
	}, ep, logger)

	return NewHandler(hub, orch, logger).Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/analyze", map[string]any{
		"profile":   map[string]any{"user_id": "c1", "name": "Ada"},
		"portfolio": map[string]any{"total_value": 100000},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		ClientID string            `json:"client_id"`
		Results  map[string]string `json:"results"`
		Report   string            `json:"report"`
	}
	decodeBody(t, resp, &body)
	if body.ClientID != "c1" {
		t.Fatalf("unexpected client id %q", body.ClientID)
	}
	if len(body.Results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(body.Results))
	}
	if !strings.Contains(body.Report, "## Risk Assessment") {
		t.Fatal("report missing sections")
	}
}

func TestAnalyzeRejectsMissingProfile(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/analyze", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEpisodicEndpoints(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/episodic/events", map[string]any{
		"client_id":  "c1",
		"transcript": "Client asked about bond ladders.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var ev memory.EpisodicEvent
	decodeBody(t, resp, &ev)
	if !strings.HasPrefix(ev.MemoryID, "ep_") {
		t.Fatalf("unexpected memory id %q", ev.MemoryID)
	}

	resp = postJSON(t, ts, "/api/memory/episodic/search", map[string]any{
		"client_id": "c1", "query": "bonds", "top_k": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	var search struct {
		Events []memory.ScoredEvent `json:"events"`
	}
	decodeBody(t, resp, &search)
	if len(search.Events) != 1 || search.Events[0].MemoryID != ev.MemoryID {
		t.Fatalf("unexpected search results %+v", search.Events)
	}

	start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp = getJSON(t, ts, "/api/memory/episodic/c1/timeline?start="+start+"&end="+end)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timeline: expected 200, got %d", resp.StatusCode)
	}
	var timeline struct {
		Events []memory.EpisodicEvent `json:"events"`
	}
	decodeBody(t, resp, &timeline)
	if len(timeline.Events) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(timeline.Events))
	}
}

func TestTimelineRejectsBadTimestamps(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/memory/episodic/c1/timeline?start=yesterday&end=today")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSemanticEndpoints(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/semantic", map[string]any{
		"client_id": "c1", "memory_type": "risk_profile",
		"content": map[string]any{"tolerance": "moderate"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}

	b, _ := json.Marshal(map[string]any{
		"client_id": "c1", "memory_type": "risk_profile",
		"content": map[string]any{"tolerance": "aggressive"},
	})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/memory/semantic", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	var updated memory.SemanticMemory
	decodeBody(t, resp, &updated)
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	resp = getJSON(t, ts, "/api/memory/semantic/c1")
	var listed struct {
		Memories []memory.SemanticMemory `json:"memories"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Memories) != 1 || listed.Memories[0].Version != 2 {
		t.Fatalf("expected single active v2, got %+v", listed.Memories)
	}
}

func TestProceduralEndpoints(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/episodic/events", map[string]any{
		"client_id":  "c1",
		"transcript": "Rebalanced the portfolio after a 6% drift.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("event: expected 201, got %d", resp.StatusCode)
	}
	var ev memory.EpisodicEvent
	decodeBody(t, resp, &ev)

	resp = postJSON(t, ts, "/api/memory/procedures", map[string]any{
		"client_id":      "c1",
		"episode_ids":    []string{ev.MemoryID},
		"procedure_type": "portfolio",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("learn: expected 201, got %d", resp.StatusCode)
	}
	var p memory.Procedure
	decodeBody(t, resp, &p)
	if p.Confidence != 0.5 {
		t.Fatalf("expected initial confidence 0.5, got %f", p.Confidence)
	}
	if p.Name != "quarterly rebalance" || len(p.LearnedFrom) != 1 {
		t.Fatalf("extraction not installed: %+v", p)
	}

	resp = postJSON(t, ts, "/api/memory/procedures/"+p.ProcedureID+"/executions", map[string]any{
		"outcome": "success", "metrics": map[string]any{"drift_after": 0.01},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execution: expected 200, got %d", resp.StatusCode)
	}
	var afterExec memory.Procedure
	decodeBody(t, resp, &afterExec)
	if afterExec.Confidence != 0.95 {
		t.Fatalf("expected capped confidence, got %f", afterExec.Confidence)
	}

	resp = postJSON(t, ts, "/api/memory/procedures/recommend", map[string]any{
		"client_id": "c1", "situation": "portfolio drifted", "top_k": 3,
	})
	var rec struct {
		Procedures []memory.ScoredProcedure `json:"procedures"`
	}
	decodeBody(t, resp, &rec)
	if len(rec.Procedures) != 1 || rec.Procedures[0].ProcedureID != p.ProcedureID {
		t.Fatalf("unexpected recommendations %+v", rec.Procedures)
	}

	resp = postJSON(t, ts, "/api/memory/procedures/"+p.ProcedureID+"/refine", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refine: expected 200, got %d", resp.StatusCode)
	}
	var refined memory.Procedure
	decodeBody(t, resp, &refined)
	if refined.Version != 2 {
		t.Fatalf("expected version 2 after refine, got %d", refined.Version)
	}

	resp = getJSON(t, ts, "/api/memory/procedures?client_id=c1&category=portfolio&min_confidence=0.9")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var listed struct {
		Procedures []memory.Procedure `json:"procedures"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Procedures) != 1 || listed.Procedures[0].ProcedureID != p.ProcedureID {
		t.Fatalf("unexpected listing %+v", listed.Procedures)
	}
}

func TestClientContextEndpoint(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	postJSON(t, ts, "/api/memory/episodic/events", map[string]any{
		"client_id": "c1", "transcript": "intake call",
	})
	postJSON(t, ts, "/api/memory/semantic", map[string]any{
		"client_id": "c1", "memory_type": "goals",
		"content": map[string]any{"goal": "retire at 60"},
	})

	resp := getJSON(t, ts, "/api/memory/context/c1?days=7")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cc memory.ClientContext
	decodeBody(t, resp, &cc)
	if len(cc.Facts) != 1 || len(cc.RecentEvents) != 1 {
		t.Fatalf("unexpected context %+v", cc)
	}
}
