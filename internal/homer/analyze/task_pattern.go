package analyze

import (
	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// TaskPatternAnalyzer is a typed, schedulable stub for TaskPattern and
// DomainVocabulary (spec's peripheral scope; see SPEC_FULL.md). The
// original groups PromptHotspot/CorrectionHotspot under this same
// analyzer; this repo computes those two in the Behavioral family instead
// (BehavioralAnalyzer.writePromptHotspots), so only the root-module-scoped
// pattern-mining kinds remain stubbed here.
type TaskPatternAnalyzer struct{}

func NewTaskPatternAnalyzer() *TaskPatternAnalyzer { return &TaskPatternAnalyzer{} }

func (t *TaskPatternAnalyzer) Name() string { return "task_pattern" }

func (t *TaskPatternAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisTaskPattern,
		types.AnalysisDomainVocabulary,
	}
}

func (t *TaskPatternAnalyzer) Requires() []types.AnalysisKind { return nil }

func (t *TaskPatternAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return false, nil }

func (t *TaskPatternAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	return &Stats{}, nil
}
