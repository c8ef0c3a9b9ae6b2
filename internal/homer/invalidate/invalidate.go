// Package invalidate implements Homer's checkpoint & invalidation engine:
// deciding, after an extraction pass, which stale analysis results must be
// cleared before analyzers run again.
package invalidate

import (
	"fmt"

	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// TopologyChange records that a hyperedge of a topology-bearing kind (Calls,
// Imports, Inherits, ...) was added, removed, or had its member set change
// during extraction.
type TopologyChange struct {
	Kind types.HyperedgeKind
}

// ContentChange records that a node's own content hash changed during
// extraction.
type ContentChange struct {
	NodeID types.NodeID
}

// topologyKinds are the hyperedge kinds whose addition or removal can shift
// global graph-theoretic properties (spec §4.2).
var topologyKinds = map[types.HyperedgeKind]bool{
	types.EdgeCalls:    true,
	types.EdgeImports:  true,
	types.EdgeInherits: true,
	types.EdgeDependsOn: true,
}

// IsTopologyKind reports whether a hyperedge kind participates in global
// centrality invalidation.
func IsTopologyKind(k types.HyperedgeKind) bool {
	return topologyKinds[k]
}

// Engine applies invalidation decisions to the store after an extraction pass.
type Engine struct {
	st *store.Store
}

// New constructs an invalidation engine over st.
func New(st *store.Store) *Engine {
	return &Engine{st: st}
}

// Result reports what the engine invalidated, for logging and tests.
type Result struct {
	GlobalCentralityCleared bool
	SemanticCleared         []types.NodeID
}

// Apply runs Homer's two invalidation rules:
//
//  1. Global centrality invalidation: if any topology-bearing hyperedge
//     kind changed, every PageRank/Betweenness/HITS/CompositeSalience
//     result is cleared wholesale, since these are global properties of
//     the whole graph and a local edit can move any of them.
//
//  2. Conservative semantic invalidation: a node's own LLM-derived
//     analyses (SemanticSummary, DesignRationale, InvariantDescription)
//     are cleared only when that node's own content hash changed — never
//     transitively through its neighbors. This keeps expensive
//     re-summarization bounded to what actually changed (spec §4.2).
func (e *Engine) Apply(topology []TopologyChange, content []ContentChange) (*Result, error) {
	res := &Result{}

	needsGlobal := false
	for _, tc := range topology {
		if IsTopologyKind(tc.Kind) {
			needsGlobal = true
			break
		}
	}
	if needsGlobal {
		for _, kind := range types.GlobalCentralityKinds {
			if err := e.st.ClearByKind(kind); err != nil {
				return nil, fmt.Errorf("clearing %s: %w", kind, err)
			}
		}
		res.GlobalCentralityCleared = true
	}

	for _, cc := range content {
		if err := e.st.ClearSemantic(cc.NodeID); err != nil {
			return nil, fmt.Errorf("clearing semantic analysis for node %d: %w", cc.NodeID, err)
		}
		res.SemanticCleared = append(res.SemanticCleared, cc.NodeID)
	}

	return res, nil
}
