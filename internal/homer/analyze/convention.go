package analyze

import (
	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// ConventionAnalyzer is a typed, schedulable stub for NamingPattern,
// TestingPattern, ErrorHandlingPattern, DocumentationStylePattern, and
// AgentRuleValidation (spec's peripheral scope; see SPEC_FULL.md). Its
// AnalysisKind slots are real so a consumer can depend on them without a
// later schema migration, but Run computes nothing yet.
type ConventionAnalyzer struct{}

func NewConventionAnalyzer() *ConventionAnalyzer { return &ConventionAnalyzer{} }

func (c *ConventionAnalyzer) Name() string { return "convention" }

func (c *ConventionAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisNamingPattern,
		types.AnalysisTestingPattern,
		types.AnalysisErrorHandlingPattern,
		types.AnalysisDocumentationStylePattern,
		types.AnalysisAgentRuleValidation,
	}
}

func (c *ConventionAnalyzer) Requires() []types.AnalysisKind { return nil }

func (c *ConventionAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return false, nil }

func (c *ConventionAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	return &Stats{}, nil
}
