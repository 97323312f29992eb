package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// reportSections fixes the order sections appear in the final report,
// independent of the order agents ran in.
var reportSections = []struct {
	title string
	key   string
}{
	{"Risk Assessment", KeyRiskAssessment},
	{"Portfolio Analysis", KeyPortfolioAnalysis},
	{"Tax Optimization Opportunities", KeyTaxOptimization},
	{"Market Research & Trends", KeyMarketResearch},
	{"Financial Planning", KeyFinancialPlan},
	{"Compliance Review", KeyComplianceReview},
}

const reportDisclaimer = "*This report is for informational purposes only and does not constitute financial advice. " +
	"Please consult with licensed financial professionals before making investment decisions.*"

// BuildReport renders the analysis results as a markdown report. Missing
// sections render as N/A rather than disappearing.
func BuildReport(results map[string]string, at time.Time) string {
	var sb strings.Builder
	sb.WriteString("# Comprehensive Financial Advisory Report\n")
	fmt.Fprintf(&sb, "Generated: %s\n", at.Format("2006-01-02 15:04:05"))

	for _, section := range reportSections {
		body := results[section.key]
		if body == "" {
			body = "N/A"
		}
		sb.WriteString("\n---\n\n")
		fmt.Fprintf(&sb, "## %s\n%s\n", section.title, body)
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(reportDisclaimer)
	sb.WriteString("\n")
	return sb.String()
}
