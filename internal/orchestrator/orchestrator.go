package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/agent"
	"github.com/oakline/advisory/internal/memory"
)

// Result keys in the analysis output.
const (
	KeyMarketResearch    = "market_research"
	KeyRiskAssessment    = "risk_assessment"
	KeyPortfolioAnalysis = "portfolio_analysis"
	KeyFinancialPlan     = "financial_plan"
	KeyTaxOptimization   = "tax_optimization"
	KeyComplianceReview  = "compliance_review"
)

// EventLogger is the slice of the memory hub the orchestrator writes to.
type EventLogger interface {
	AddEvent(ctx context.Context, in memory.AddEventInput) (*memory.EpisodicEvent, error)
}

// Agents bundles the six specialists of an advisory run.
type Agents struct {
	MarketResearcher agent.Agent
	RiskAssessor     agent.Agent
	PortfolioManager agent.Agent
	FinancialPlanner agent.Agent
	TaxOptimizer     agent.Agent
	Compliance       agent.Agent
}

// Orchestrator drives the fixed three-phase advisory workflow: independent
// context providers first, strategy formulation on top of them, compliance
// review last.
type Orchestrator struct {
	agents Agents
	events EventLogger
	logger *zap.Logger
	now    func() time.Time
}

// New creates an orchestrator over the six agents and the episodic store.
func New(agents Agents, events EventLogger, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		agents: agents,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Analysis is the outcome of one comprehensive run.
type Analysis struct {
	ClientID    string            `json:"client_id"`
	Results     map[string]string `json:"results"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// ComprehensiveAnalysis runs all six agents over the client's data.
//
// Phase 1 runs market research and risk assessment concurrently; neither
// depends on the other. Phase 2 runs portfolio analysis, financial
// planning and tax optimization in order, each reading the context fields
// earlier steps wrote. Phase 3 reviews everything for compliance.
//
// A failing agent degrades to an in-band error string in its result slot;
// the run always produces all six results. Every agent invocation is
// recorded as exactly one episodic event, failed or not.
func (o *Orchestrator) ComprehensiveAnalysis(ctx context.Context, client agent.ClientData) (*Analysis, error) {
	if client.ClientID() == "" {
		return nil, fmt.Errorf("client profile missing user_id")
	}

	state := &agent.State{Client: client}
	results := make(map[string]string, 6)
	clientID := client.ClientID()
	o.logger.Info("starting comprehensive analysis", zap.String("client_id", clientID))

	// Phase 1: independent context providers.
	var wg sync.WaitGroup
	var market, risk string
	wg.Add(2)
	go func() {
		defer wg.Done()
		market = o.runAgent(ctx, o.agents.MarketResearcher, state, clientID)
	}()
	go func() {
		defer wg.Done()
		risk = o.runAgent(ctx, o.agents.RiskAssessor, state, clientID)
	}()
	wg.Wait()

	results[KeyMarketResearch] = market
	state.MarketAnalysis = market
	results[KeyRiskAssessment] = risk
	state.RiskProfile = risk

	// Phase 2: strategy formulation over the phase 1 context.
	portfolio := o.runAgent(ctx, o.agents.PortfolioManager, state, clientID)
	results[KeyPortfolioAnalysis] = portfolio
	state.PortfolioRecommendations = portfolio

	plan := o.runAgent(ctx, o.agents.FinancialPlanner, state, clientID)
	results[KeyFinancialPlan] = plan
	state.FinancialPlan = plan

	tax := o.runAgent(ctx, o.agents.TaxOptimizer, state, clientID)
	results[KeyTaxOptimization] = tax
	state.TaxOptimization = tax

	// Phase 3: final review of the assembled recommendations.
	results[KeyComplianceReview] = o.runAgent(ctx, o.agents.Compliance, state, clientID)

	o.logger.Info("comprehensive analysis complete", zap.String("client_id", clientID))
	return &Analysis{
		ClientID:    clientID,
		Results:     results,
		GeneratedAt: o.now().UTC(),
	}, nil
}

// runAgent executes one specialist and logs its outcome as a single
// episodic event. Failures degrade to an error string so one broken agent
// never sinks the run; the error text lands in the result, the report and
// memory alike.
func (o *Orchestrator) runAgent(ctx context.Context, a agent.Agent, state *agent.State, clientID string) string {
	out, err := a.Run(ctx, state)
	if err != nil {
		o.logger.Error("agent failed",
			zap.String("agent", a.ID()),
			zap.String("client_id", clientID),
			zap.Error(err))
		out = fmt.Sprintf("Error: Could not complete task. %v", err)
	} else {
		o.logger.Info("agent complete", zap.String("agent", a.ID()))
	}

	if _, err := o.events.AddEvent(ctx, memory.AddEventInput{
		ClientID:    clientID,
		AgentSource: a.ID(),
		EventType:   a.EventType(),
		Transcript:  out,
	}); err != nil {
		o.logger.Warn("failed to log agent event",
			zap.String("agent", a.ID()),
			zap.Error(err))
	}
	return out
}
