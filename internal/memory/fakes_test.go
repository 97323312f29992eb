package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/vectorstore"
)

// fakeEventRepo is an in-memory EventRepo.
type fakeEventRepo struct {
	events    []*EpisodicEvent
	insertErr error
	touched   map[string]int
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{touched: map[string]int{}}
}

func (r *fakeEventRepo) Insert(_ context.Context, ev *EpisodicEvent) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeEventRepo) GetByMemoryIDs(_ context.Context, ids []string) ([]*EpisodicEvent, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*EpisodicEvent
	for _, ev := range r.events {
		if want[ev.MemoryID] {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) Timeline(_ context.Context, clientID string, start, end time.Time) ([]*EpisodicEvent, error) {
	var out []*EpisodicEvent
	for _, ev := range r.events {
		if ev.ClientID != clientID {
			continue
		}
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *fakeEventRepo) TouchAccessed(_ context.Context, ids []string, _ time.Time) error {
	for _, id := range ids {
		r.touched[id]++
	}
	return nil
}

// fakeSemanticRepo is an in-memory SemanticRepo enforcing the same
// single-active rule the postgres implementation does.
type fakeSemanticRepo struct {
	memories []*SemanticMemory
}

func (r *fakeSemanticRepo) Insert(_ context.Context, m *SemanticMemory) error {
	cp := *m
	r.memories = append(r.memories, &cp)
	return nil
}

func (r *fakeSemanticRepo) Replace(_ context.Context, clientID, memoryType string, next *SemanticMemory) (*SemanticMemory, error) {
	var prev *SemanticMemory
	for _, m := range r.memories {
		if m.ClientID == clientID && m.MemoryType == memoryType && m.IsActive {
			m.IsActive = false
			at := next.UpdatedAt
			m.ArchivedAt = &at
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
	if prev == nil {
		return nil, nil
	}
	cp2 := *prev
	return &cp2, nil
}

func (r *fakeSemanticRepo) GetActive(_ context.Context, clientID, memoryType string) (*SemanticMemory, error) {
	for _, m := range r.memories {
		if m.ClientID == clientID && m.MemoryType == memoryType && m.IsActive {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeSemanticRepo) ListActive(_ context.Context, clientID string) ([]*SemanticMemory, error) {
	var out []*SemanticMemory
	for _, m := range r.memories {
		if m.ClientID == clientID && m.IsActive {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSemanticRepo) GetByMemoryIDs(_ context.Context, ids []string) ([]*SemanticMemory, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*SemanticMemory
	for _, m := range r.memories {
		if want[m.MemoryID] {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeProcedureRepo is an in-memory ProcedureRepo.
type fakeProcedureRepo struct {
	procedures []*Procedure
	executions []*ExecutionRecord
}

func (r *fakeProcedureRepo) Insert(_ context.Context, p *Procedure) error {
	cp := *p
	r.procedures = append(r.procedures, &cp)
	return nil
}

func (r *fakeProcedureRepo) Get(_ context.Context, id string) (*Procedure, error) {
	for _, p := range r.procedures {
		if p.ProcedureID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeProcedureRepo) Update(_ context.Context, p *Procedure) error {
	for i, existing := range r.procedures {
		if existing.ProcedureID == p.ProcedureID {
			cp := *p
			r.procedures[i] = &cp
			return nil
		}
	}
	return nil
}

func (r *fakeProcedureRepo) List(_ context.Context, clientID, category string) ([]*Procedure, error) {
	var out []*Procedure
	for _, p := range r.procedures {
		if p.ClientID == clientID && (category == "" || p.Category == category) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeProcedureRepo) GetByProcedureIDs(_ context.Context, ids []string) ([]*Procedure, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*Procedure
	for _, p := range r.procedures {
		if want[p.ProcedureID] {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeProcedureRepo) InsertExecution(_ context.Context, rec *ExecutionRecord) error {
	cp := *rec
	r.executions = append(r.executions, &cp)
	return nil
}

func (r *fakeProcedureRepo) RecentExecutions(_ context.Context, procedureID string, limit int) ([]*ExecutionRecord, error) {
	var out []*ExecutionRecord
	for i := len(r.executions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.executions[i].ProcedureID == procedureID {
			cp := *r.executions[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type indexedPoint struct {
	vector  []float32
	payload map[string]string
}

// fakeIndex is an in-memory VectorIndex. Searches return scripted hits so
// tests control similarity scores directly.
type fakeIndex struct {
	points    map[string]map[string]indexedPoint
	hits      map[string][]*vectorstore.SearchResult
	filters   []map[string]string
	deleted   []string
	upsertErr error
	searchErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		points: map[string]map[string]indexedPoint{},
		hits:   map[string][]*vectorstore.SearchResult{},
	}
}

func (f *fakeIndex) Upsert(_ context.Context, collection, id string, vector []float32, payload map[string]string) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.points[collection] == nil {
		f.points[collection] = map[string]indexedPoint{}
	}
	f.points[collection][id] = indexedPoint{vector: vector, payload: payload}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, collection string, _ []float32, topK uint64, filter map[string]string) ([]*vectorstore.SearchResult, error) {
	f.filters = append(f.filters, filter)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []*vectorstore.SearchResult
	for _, h := range f.hits[collection] {
		match := true
		for k, v := range filter {
			if h.Payload[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, h)
		}
		if uint64(len(out)) == topK {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, _ string, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

// fakeEnricher returns deterministic enrichment. strictErr makes
// EmbedStrict fail while the degrading paths keep their defaults.
type fakeEnricher struct {
	summary   string
	tags      []string
	vec       []float32
	strictErr error
}

func (f *fakeEnricher) Summarize(_ context.Context, _ string) string { return f.summary }
func (f *fakeEnricher) Tags(_ context.Context, _ string) []string {
	if f.tags == nil {
		return []string{}
	}
	return f.tags
}
func (f *fakeEnricher) Embed(_ context.Context, _ string) []float32 {
	if f.strictErr != nil {
		return make([]float32, f.Dimension())
	}
	return f.vec
}
func (f *fakeEnricher) EmbedStrict(_ context.Context, _ string) ([]float32, error) {
	if f.strictErr != nil {
		return nil, f.strictErr
	}
	return f.vec, nil
}
func (f *fakeEnricher) Dimension() int { return len(f.vec) }

// fakeMemReasoner scripts Complete for procedure learning and refinement
// tests. Queued outputs in outs are consumed first, then out repeats.
type fakeMemReasoner struct {
	out     string
	outs    []string
	err     error
	prompts []string
}

func (f *fakeMemReasoner) Complete(_ context.Context, _, _, prompt string, _ llm.Params) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.outs) > 0 {
		next := f.outs[0]
		f.outs = f.outs[1:]
		return next, nil
	}
	return f.out, nil
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
