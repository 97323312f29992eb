package e2e

import (
	"context"
	"fmt"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/memory"
	pgstore "github.com/oakline/advisory/internal/store"
	"github.com/oakline/advisory/internal/vectorstore"
)

// Package-level shared state, set by TestMain and used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("advisory_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// echoIndex is an in-memory VectorIndex: searches return everything
// upserted into a collection, newest first. Postgres semantics are the
// point of this suite; similarity ordering is covered by unit tests.
type echoIndex struct {
	points map[string][]*vectorstore.SearchResult
}

func newEchoIndex() *echoIndex {
	return &echoIndex{points: map[string][]*vectorstore.SearchResult{}}
}

func (f *echoIndex) Upsert(_ context.Context, collection, id string, _ []float32, payload map[string]string) error {
	f.points[collection] = append(f.points[collection], &vectorstore.SearchResult{ID: id, Score: 0.9, Payload: payload})
	return nil
}

func (f *echoIndex) Search(_ context.Context, collection string, _ []float32, topK uint64, filter map[string]string) ([]*vectorstore.SearchResult, error) {
	var out []*vectorstore.SearchResult
	pts := f.points[collection]
	for i := len(pts) - 1; i >= 0 && uint64(len(out)) < topK; i-- {
		match := true
		for k, v := range filter {
			if pts[i].Payload[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, pts[i])
		}
	}
	return out, nil
}

func (f *echoIndex) Delete(_ context.Context, collection string, id string) error {
	kept := f.points[collection][:0]
	for _, h := range f.points[collection] {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	f.points[collection] = kept
	return nil
}

// staticEnricher produces deterministic enrichment without model calls.
type staticEnricher struct{}

func (staticEnricher) Summarize(_ context.Context, text string) string {
	if len(text) > 80 {
		return text[:80]
	}
	return text
}
func (staticEnricher) Tags(_ context.Context, _ string) []string { return []string{"e2e"} }
func (staticEnricher) Embed(_ context.Context, _ string) []float32 {
	return []float32{0.1, 0.2, 0.3, 0.4}
}
func (staticEnricher) EmbedStrict(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}
func (staticEnricher) Dimension() int { return 4 }

// staticReasoner answers every completion with the same canned output.
type staticReasoner struct{ out string }

func (r staticReasoner) Complete(_ context.Context, _, _, _ string, _ llm.Params) (string, error) {
	return r.out, nil
}

const summaryJSON = `{"risk_tolerance": "moderate", "horizon_years": 20}`

const extractionJSON = `{"name": "rebalance drifted portfolio",
	"description": "Return allocations to target.",
	"trigger": "drift over 5%",
	"steps": ["compute drift", "plan trades", "execute"],
	"roles": ["portfolio_manager"],
	"success_indicators": ["drift under 1%"]}`

// newMemoryStores builds the three stores over the shared postgres pool
// and a fresh echo index.
func newMemoryStores() (*memory.EpisodicStore, *memory.SemanticStore, *memory.ProceduralStore) {
	index := newEchoIndex()
	enricher := staticEnricher{}
	ep := memory.NewEpisodicStore(testPGStore.Events(), index, enricher, memory.DefaultDecayConfig(), testLogger)
	sm := memory.NewSemanticStore(testPGStore.Semantics(), index, enricher, staticReasoner{out: summaryJSON}, testLogger)
	pr := memory.NewProceduralStore(testPGStore.Procedures(), testPGStore.Events(), index, enricher,
		staticReasoner{out: extractionJSON}, testLogger)
	return ep, sm, pr
}
