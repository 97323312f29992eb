package agent

import (
	"context"
	"fmt"
)

const marketResearchPrompt = `You are an expert Market Research Analyst specializing in:
- Macroeconomic trend analysis
- Sector rotation strategies
- Industry and sector performance analysis
- Market cycle identification
- Economic indicator interpretation (GDP, inflation, unemployment, interest rates)
- Global market dynamics
- Emerging market opportunities

Provide data-driven insights and forward-looking market perspectives.`

// MarketResearch analyzes the economic environment. It needs no client
// context, which is what lets it run in the first phase.
type MarketResearch struct{ base }

// NewMarketResearch returns the market research analyst.
func NewMarketResearch(r Reasoner) *MarketResearch { return &MarketResearch{base{r}} }

func (a *MarketResearch) ID() string        { return "market_researcher" }
func (a *MarketResearch) Name() string      { return "Market Research Analyst" }
func (a *MarketResearch) EventType() string { return "market_analysis" }

func (a *MarketResearch) Run(ctx context.Context, _ *State) (string, error) {
	prompt := `Provide current market analysis:

Please analyze:
1. Current economic environment and key trends
2. Sector performance and outlook
3. Interest rate impact
4. Inflation considerations
5. Investment opportunities and risks
6. 6-12 month outlook`
	return a.complete(ctx, a.ID(), marketResearchPrompt, prompt)
}

const riskAssessmentPrompt = `You are an expert Risk Assessment Specialist with expertise in:
- Risk tolerance assessment and profiling
- Portfolio volatility analysis (standard deviation, beta, VaR)
- Stress testing and scenario analysis
- Correlation analysis across assets
- Drawdown analysis
- Risk-adjusted return metrics (Sharpe ratio, Sortino ratio)
- Black swan event preparation

Provide comprehensive risk analysis with clear explanations for non-technical clients.`

// RiskAssessment profiles the client's risk posture against their
// portfolio.
type RiskAssessment struct{ base }

// NewRiskAssessment returns the risk assessment specialist.
func NewRiskAssessment(r Reasoner) *RiskAssessment { return &RiskAssessment{base{r}} }

func (a *RiskAssessment) ID() string        { return "risk_assessor" }
func (a *RiskAssessment) Name() string      { return "Risk Assessment Specialist" }
func (a *RiskAssessment) EventType() string { return "risk_assessment" }

func (a *RiskAssessment) Run(ctx context.Context, state *State) (string, error) {
	prompt := fmt.Sprintf(`Conduct a comprehensive risk assessment:

Portfolio:
%s

Client Profile:
%s

Please provide:
1. Risk tolerance alignment analysis
2. Portfolio volatility metrics
3. Stress test scenarios (market crash, inflation surge, recession)
4. Concentration risk assessment
5. Risk mitigation recommendations`,
		asJSON(state.Client.Portfolio), asJSON(state.Client.Profile))
	return a.complete(ctx, a.ID(), riskAssessmentPrompt, prompt)
}

const portfolioManagerPrompt = `You are an expert Portfolio Manager specializing in investment strategy and asset allocation.
Your expertise includes:
- Modern Portfolio Theory and asset allocation strategies
- Risk-return optimization
- Portfolio rebalancing strategies
- Diversification across asset classes
- Investment vehicle selection (stocks, bonds, ETFs, mutual funds)
- Long-term wealth building strategies

Provide detailed, actionable investment recommendations based on client goals and risk tolerance.`

// PortfolioManager recommends allocation changes using the market and risk
// findings from the first phase.
type PortfolioManager struct{ base }

// NewPortfolioManager returns the portfolio manager.
func NewPortfolioManager(r Reasoner) *PortfolioManager { return &PortfolioManager{base{r}} }

func (a *PortfolioManager) ID() string        { return "portfolio_manager" }
func (a *PortfolioManager) Name() string      { return "Portfolio Manager" }
func (a *PortfolioManager) EventType() string { return "portfolio_analysis" }

func (a *PortfolioManager) Run(ctx context.Context, state *State) (string, error) {
	prompt := fmt.Sprintf(`Analyze the following portfolio and provide comprehensive recommendations:

Portfolio Data:
%s

Market Analysis:
%s

Risk Profile:
%s

Please provide:
1. Current allocation analysis
2. Risk-adjusted performance assessment
3. Rebalancing recommendations
4. Diversification improvements
5. Expected returns and risk metrics`,
		asJSON(state.Client.Portfolio), state.MarketAnalysis, state.RiskProfile)
	return a.complete(ctx, a.ID(), portfolioManagerPrompt, prompt)
}

const financialPlannerPrompt = `You are an expert Financial Planning Specialist with expertise in:
- Comprehensive financial planning
- Goal-based investing strategies
- Retirement planning and projections
- Education funding (529 plans, etc.)
- Major purchase planning
- Cash flow analysis and budgeting
- Net worth tracking
- Milestone-based financial roadmaps

Create clear, actionable financial plans with realistic timelines and measurable milestones.`

// FinancialPlanner turns goals plus the upstream analyses into a
// milestone plan.
type FinancialPlanner struct{ base }

// NewFinancialPlanner returns the financial planning specialist.
func NewFinancialPlanner(r Reasoner) *FinancialPlanner { return &FinancialPlanner{base{r}} }

func (a *FinancialPlanner) ID() string        { return "financial_planner" }
func (a *FinancialPlanner) Name() string      { return "Financial Planning Specialist" }
func (a *FinancialPlanner) EventType() string { return "financial_planning" }

func (a *FinancialPlanner) Run(ctx context.Context, state *State) (string, error) {
	prompt := fmt.Sprintf(`Create a comprehensive financial plan:

Client Data:
%s

Financial Goals:
%s

Risk Profile:
%s

Portfolio Recommendations:
%s

Please provide:
1. Current financial situation assessment
2. Goal prioritization and timeline
3. Savings and investment requirements
4. Milestone-based action plan
5. Progress tracking recommendations
6. Contingency planning`,
		asJSON(state.Client.Profile), asJSON(state.Client.Goals),
		state.RiskProfile, state.PortfolioRecommendations)
	return a.complete(ctx, a.ID(), financialPlannerPrompt, prompt)
}

const taxOptimizerPrompt = `You are an expert Tax Optimization Specialist with deep knowledge of:
- Tax-loss harvesting strategies
- Capital gains and losses management
- Tax-efficient fund placement (tax-advantaged vs taxable accounts)
- Qualified dividend strategies
- Required Minimum Distribution (RMD) planning
- Tax brackets and marginal tax rate optimization
- Estate tax planning basics

Provide specific, actionable tax optimization strategies while noting that clients should consult with tax professionals.`

// TaxOptimizer hunts for harvesting and placement opportunities.
type TaxOptimizer struct{ base }

// NewTaxOptimizer returns the tax optimization specialist.
func NewTaxOptimizer(r Reasoner) *TaxOptimizer { return &TaxOptimizer{base{r}} }

func (a *TaxOptimizer) ID() string        { return "tax_optimizer" }
func (a *TaxOptimizer) Name() string      { return "Tax Optimization Specialist" }
func (a *TaxOptimizer) EventType() string { return "tax_optimization" }

func (a *TaxOptimizer) Run(ctx context.Context, state *State) (string, error) {
	prompt := fmt.Sprintf(`Identify tax optimization opportunities:

Portfolio Holdings:
%s

Tax Information:
%s

Please identify:
1. Tax-loss harvesting opportunities
2. Capital gains optimization strategies
3. Asset location optimization
4. Estimated tax savings
5. Implementation timeline`,
		asJSON(state.Client.Portfolio), asJSON(state.Client.TaxInfo))
	return a.complete(ctx, a.ID(), taxOptimizerPrompt, prompt)
}

const compliancePrompt = `You are an expert Compliance Officer specializing in:
- SEC regulations and compliance
- FINRA rules and guidelines
- Fiduciary duty standards
- Investment advisor regulations
- Documentation requirements
- Risk disclosure protocols
- KYC (Know Your Customer) procedures
- Anti-money laundering (AML) compliance

Ensure all recommendations meet regulatory requirements and proper disclosures are made.`

// Compliance reviews the assembled recommendations last.
type Compliance struct{ base }

// NewCompliance returns the compliance officer.
func NewCompliance(r Reasoner) *Compliance { return &Compliance{base{r}} }

func (a *Compliance) ID() string        { return "compliance_officer" }
func (a *Compliance) Name() string      { return "Compliance Officer" }
func (a *Compliance) EventType() string { return "compliance_review" }

func (a *Compliance) Run(ctx context.Context, state *State) (string, error) {
	recommendation := map[string]any{
		"client_id": state.Client.ClientID(),
		"recommendations": map[string]string{
			"market_research":    state.MarketAnalysis,
			"risk_assessment":    state.RiskProfile,
			"portfolio_analysis": state.PortfolioRecommendations,
			"financial_plan":     state.FinancialPlan,
			"tax_optimization":   state.TaxOptimization,
		},
	}
	prompt := fmt.Sprintf(`Review the following recommendation for compliance:

Recommendation:
%s

Please verify:
1. Regulatory compliance (SEC, FINRA)
2. Appropriate risk disclosures
3. Suitability for client
4. Documentation requirements
5. Required client acknowledgments
6. Any compliance concerns or flags`, asJSON(recommendation))
	return a.complete(ctx, a.ID(), compliancePrompt, prompt)
}
