// Package extract implements Homer's extractor framework: the has_work/
// extract contract every extractor satisfies, and the fixed-order
// orchestration (Git → Structure → Graph → Document → Forge → Prompt) that
// runs them against a store (spec §4.3).
package extract

import (
	"fmt"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// ItemError records a single non-fatal failure within an extractor pass —
// one malformed file or unreachable commit does not abort the extractor.
type ItemError struct {
	Subject string
	Kind    herrors.Kind
	Err     error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Subject, e.Kind, e.Err)
}

// ExtractStats reports what one extractor pass did.
type ExtractStats struct {
	NodesCreated uint64
	NodesUpdated uint64
	EdgesCreated uint64
	Duration     time.Duration
	Errors       []ItemError
	// ContentChangedNodes lists nodes whose own content hash changed this
	// pass — only populated for the node kinds that carry a content hash
	// (File, Document, AgentRule, AgentSession). The pipeline feeds this
	// straight to invalidate.Engine.Apply's conservative semantic
	// invalidation (spec §4.2).
	ContentChangedNodes []types.NodeID
}

func (s *ExtractStats) recordError(subject string, err error) {
	s.Errors = append(s.Errors, ItemError{Subject: subject, Kind: herrors.KindOf(err), Err: err})
}

// merge folds another extractor's stats into s, used by composite
// extractors (e.g. per-forge-provider) that run sub-extractors in sequence.
func (s *ExtractStats) merge(other *ExtractStats) {
	s.NodesCreated += other.NodesCreated
	s.NodesUpdated += other.NodesUpdated
	s.EdgesCreated += other.EdgesCreated
	s.Errors = append(s.Errors, other.Errors...)
	s.ContentChangedNodes = append(s.ContentChangedNodes, other.ContentChangedNodes...)
}

// Extractor is the common interface every extractor satisfies (spec §4.3).
type Extractor interface {
	// Name is a short, human-readable identifier (e.g. "git", "structure").
	Name() string
	// HasWork reports whether a pass would find anything new to process.
	HasWork(st *store.Store) (bool, error)
	// Extract runs one pass, populating the store with nodes and edges.
	Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error)
}

// RunAll runs extractors sequentially in the given order, skipping any
// whose HasWork reports false. A HasWork or Extract error of Invariant
// severity aborts the whole run (spec §7); anything else is recorded in
// that extractor's stats and the orchestrator moves on to the next.
func RunAll(st *store.Store, cfg *config.Config, extractors []Extractor) (map[string]*ExtractStats, error) {
	results := make(map[string]*ExtractStats, len(extractors))

	for _, ex := range extractors {
		work, err := ex.HasWork(st)
		if err != nil {
			if herrors.KindOf(err) == herrors.Invariant {
				return results, fmt.Errorf("%s: checking for work: %w", ex.Name(), err)
			}
			results[ex.Name()] = &ExtractStats{Errors: []ItemError{{Subject: ex.Name(), Kind: herrors.KindOf(err), Err: err}}}
			continue
		}
		if !work {
			results[ex.Name()] = &ExtractStats{}
			continue
		}

		stats, err := ex.Extract(st, cfg)
		if err != nil {
			if herrors.KindOf(err) == herrors.Invariant {
				return results, fmt.Errorf("%s: extracting: %w", ex.Name(), err)
			}
			if stats == nil {
				stats = &ExtractStats{}
			}
			stats.recordError(ex.Name(), err)
		}
		if stats == nil {
			stats = &ExtractStats{}
		}
		results[ex.Name()] = stats
	}

	return results, nil
}
