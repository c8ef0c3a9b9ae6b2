package analyze

import (
	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// TemporalAnalyzer is a typed, schedulable stub for CentralityTrend,
// ArchitecturalDrift, and StabilityClassification (spec's peripheral
// scope; see SPEC_FULL.md). It registers real AnalysisKind slots in the
// scheduler's DAG so a downstream consumer can depend on them without a
// later schema migration, but Run computes nothing yet.
type TemporalAnalyzer struct{}

func NewTemporalAnalyzer() *TemporalAnalyzer { return &TemporalAnalyzer{} }

func (t *TemporalAnalyzer) Name() string { return "temporal" }

func (t *TemporalAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisCentralityTrend,
		types.AnalysisArchitecturalDrift,
		types.AnalysisStabilityClassification,
	}
}

// Requires CompositeSalience/CommunityAssignment: a real implementation
// would compare centrality and community snapshots across runs, so the
// dependency is declared now even though Run doesn't use it yet.
func (t *TemporalAnalyzer) Requires() []types.AnalysisKind {
	return []types.AnalysisKind{types.AnalysisCompositeSalience, types.AnalysisCommunityAssignment}
}

// NeedsRerun reports false: an unimplemented analyzer has no input hash
// worth gating on, and running it would be a no-op anyway.
func (t *TemporalAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return false, nil }

func (t *TemporalAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	return &Stats{}, nil
}
