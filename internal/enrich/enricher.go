package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/embedding"
	"github.com/oakline/advisory/internal/llm"
)

// enricherID identifies enrichment calls when routing to LLM providers.
const enricherID = "enricher"

// Reasoner is the text-generation capability used for summaries and tags.
type Reasoner interface {
	Complete(ctx context.Context, agentID, system, prompt string, p llm.Params) (string, error)
}

// Enricher derives summaries, tags and embeddings from raw text. It is the
// failure-tolerant gateway in front of the model providers: every degraded
// path returns a safe default (empty summary, empty tag set, zero-vector)
// instead of an error, so memory writes never block on enrichment.
type Enricher struct {
	reasoner Reasoner
	embedder embedding.Provider
	cache    *Cache // optional, nil disables caching
	logger   *zap.Logger
}

// New creates an Enricher. cache may be nil.
func New(reasoner Reasoner, embedder embedding.Provider, cache *Cache, logger *zap.Logger) *Enricher {
	return &Enricher{
		reasoner: reasoner,
		embedder: embedder,
		cache:    cache,
		logger:   logger,
	}
}

// Dimension returns the declared embedding dimensionality.
func (e *Enricher) Dimension() int {
	return e.embedder.Dimension()
}

// Summarize condenses text into one or two sentences. Returns an empty
// string on failure.
func (e *Enricher) Summarize(ctx context.Context, text string) string {
	prompt := "Summarize the following text in one or two sentences:\n\n" + text
	out, err := e.reasoner.Complete(ctx, enricherID, "", prompt, llm.Params{MaxTokens: 200, Temperature: 0.7})
	if err != nil {
		e.logger.Warn("summarization failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}

// Tags extracts keyword tags from text. Returns an empty (non-nil) slice
// on failure.
func (e *Enricher) Tags(ctx context.Context, text string) []string {
	prompt := "Extract the most relevant keywords or tags from the following text. " +
		"Return them as a single comma-separated string, for example: 'tag1, tag2, tag3'.\n\nText: " + text
	out, err := e.reasoner.Complete(ctx, enricherID, "", prompt, llm.Params{MaxTokens: 100, Temperature: 0.2})
	if err != nil {
		e.logger.Warn("tag extraction failed", zap.Error(err))
		return []string{}
	}
	return splitTags(out)
}

func splitTags(raw string) []string {
	raw = strings.Trim(strings.TrimSpace(raw), `'"`)
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if tag := strings.TrimSpace(p); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Embed returns a vector for text, degrading to a zero-vector of the
// declared dimensionality on failure so downstream vector arithmetic never
// sees a missing or mis-sized embedding.
func (e *Enricher) Embed(ctx context.Context, text string) []float32 {
	vec, err := e.EmbedStrict(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed, using zero vector", zap.Error(err))
		return make([]float32, e.embedder.Dimension())
	}
	return vec
}

// EmbedStrict returns a vector for text or an error. Used by the paths
// where a degraded embedding is not acceptable (semantic create, query
// embedding, procedure learning).
func (e *Enricher) EmbedStrict(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.GetVector(ctx, text); ok {
			return vec, nil
		}
	}

	vecs, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}

	if e.cache != nil {
		e.cache.SetVector(ctx, text, vecs[0])
	}
	return vecs[0], nil
}
