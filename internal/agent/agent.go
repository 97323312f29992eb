package agent

import (
	"context"
	"encoding/json"

	"github.com/oakline/advisory/internal/llm"
)

// Reasoner is the text-generation capability agents run on.
type Reasoner interface {
	Complete(ctx context.Context, agentID, system, prompt string, p llm.Params) (string, error)
}

// ClientData is the raw client input to an analysis run.
type ClientData struct {
	Profile   map[string]any   `json:"profile"`
	Portfolio map[string]any   `json:"portfolio"`
	Goals     []map[string]any `json:"goals"`
	TaxInfo   map[string]any   `json:"tax_info"`
}

// ClientID returns the user_id from the profile, or empty.
func (c *ClientData) ClientID() string {
	id, _ := c.Profile["user_id"].(string)
	return id
}

// State is the shared analysis context flowing through a run. The
// orchestrator is its only writer; agents read the fields earlier phases
// filled in.
type State struct {
	Client                   ClientData
	MarketAnalysis           string
	RiskProfile              string
	PortfolioRecommendations string
	FinancialPlan            string
	TaxOptimization          string
}

// Agent is one financial specialist. Run produces the agent's analysis
// from the shared state; it never mutates the state.
type Agent interface {
	ID() string
	Name() string
	EventType() string
	Run(ctx context.Context, state *State) (string, error)
}

// base carries what every specialist shares.
type base struct {
	reasoner Reasoner
}

func (b *base) complete(ctx context.Context, agentID, system, prompt string) (string, error) {
	return b.reasoner.Complete(ctx, agentID, system, prompt, llm.Params{MaxTokens: 1024, Temperature: 0.7})
}

// asJSON renders a prompt section. Marshal failures degrade to "{}" so a
// stray unencodable value cannot abort an analysis.
func asJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
