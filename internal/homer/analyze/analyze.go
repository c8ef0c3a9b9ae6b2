// Package analyze implements Homer's analyzer scheduler and the three
// analyzer families it schedules: Behavioral, Centrality, and Community
// (spec §4.5–§4.8). Each analyzer declares the AnalysisKinds it produces
// and requires; the scheduler topologically orders them before a run.
package analyze

import (
	"fmt"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// ItemError records one non-fatal failure within an analyzer run.
type ItemError struct {
	Subject string
	Kind    herrors.Kind
	Err     error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Subject, e.Kind, e.Err)
}

// Stats reports what one analyzer run did.
type Stats struct {
	NodesAnalyzed uint64
	ResultsWritten uint64
	Duration      time.Duration
	Errors        []ItemError
}

func (s *Stats) recordError(subject string, err error) {
	s.Errors = append(s.Errors, ItemError{Subject: subject, Kind: herrors.KindOf(err), Err: err})
}

// Analyzer is the common interface every analyzer family satisfies
// (spec §4.5). Produces/Requires describe the AnalysisKind DAG the
// scheduler orders against; NeedsRerun lets an analyzer skip cheaply when
// its inputs have not changed since it last ran.
type Analyzer interface {
	Name() string
	Produces() []types.AnalysisKind
	Requires() []types.AnalysisKind
	NeedsRerun(st *store.Store) (bool, error)
	Run(st *store.Store, cfg *config.Config) (*Stats, error)
}

// Diagnostic is a non-fatal scheduling note (e.g. a declared-dependency
// cycle), surfaced to the pipeline result rather than aborting the run.
type Diagnostic struct {
	Message string
}

// Schedule computes a total order over analyzers via Kahn's algorithm on
// the DAG whose edges run from each producer to every analyzer that
// requires one of its kinds (spec §4.5). If the declared dependencies
// contain a cycle — a bug in an analyzer's Produces/Requires, never
// expected in practice — the remaining unordered analyzers are appended in
// their original registration order and a diagnostic is recorded; the run
// continues rather than aborting (spec §4.5 "cycle policy").
func Schedule(analyzers []Analyzer) ([]Analyzer, []Diagnostic) {
	n := len(analyzers)
	indexOf := make(map[string]int, n)
	for i, a := range analyzers {
		indexOf[a.Name()] = i
	}

	// producedBy[kind] lists the indices of analyzers that produce it.
	producedBy := map[types.AnalysisKind][]int{}
	for i, a := range analyzers {
		for _, k := range a.Produces() {
			producedBy[k] = append(producedBy[k], i)
		}
	}

	// adjacency: edge i -> j means analyzers[i] must run before analyzers[j].
	adj := make([][]int, n)
	indegree := make([]int, n)
	seenEdge := make([]map[int]bool, n)
	for i := range seenEdge {
		seenEdge[i] = map[int]bool{}
	}
	for j, a := range analyzers {
		for _, k := range a.Requires() {
			for _, i := range producedBy[k] {
				if i == j || seenEdge[i][j] {
					continue
				}
				seenEdge[i][j] = true
				adj[i] = append(adj[i], j)
				indegree[j]++
			}
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	scheduled := make([]bool, n)
	var order []int
	for len(queue) > 0 {
		// FIFO: analyzers ready at the start pop in registration order,
		// and each one that becomes ready later joins the back of the
		// queue, so the schedule is deterministic.
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		scheduled[cur] = true
		for _, next := range adj[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	var diags []Diagnostic
	if len(order) < n {
		diags = append(diags, Diagnostic{Message: "analyzer dependency cycle detected; appending remaining analyzers in registration order"})
		for i := 0; i < n; i++ {
			if !scheduled[i] {
				order = append(order, i)
			}
		}
	}

	out := make([]Analyzer, n)
	for pos, idx := range order {
		out[pos] = analyzers[idx]
	}
	return out, diags
}

// Result aggregates every analyzer's stats from one scheduled run.
type Result struct {
	Stats       map[string]*Stats
	Diagnostics []Diagnostic
}

// RunAll schedules analyzers and runs them in order, tolerating per-analyzer
// errors (spec §4.5 "error tolerance"): an analyzer that returns an error
// has it recorded, and downstream analyzers still run against whatever
// partial inputs exist.
func RunAll(st *store.Store, cfg *config.Config, analyzers []Analyzer) (*Result, error) {
	ordered, diags := Schedule(analyzers)
	res := &Result{Stats: make(map[string]*Stats, len(ordered)), Diagnostics: diags}

	for _, a := range ordered {
		rerun, err := a.NeedsRerun(st)
		if err != nil {
			res.Stats[a.Name()] = &Stats{Errors: []ItemError{{Subject: a.Name(), Kind: herrors.KindOf(err), Err: err}}}
			continue
		}
		if !rerun {
			res.Stats[a.Name()] = &Stats{}
			continue
		}

		stats, err := a.Run(st, cfg)
		if stats == nil {
			stats = &Stats{}
		}
		if err != nil {
			if herrors.KindOf(err) == herrors.Invariant {
				return res, fmt.Errorf("%s: %w", a.Name(), err)
			}
			stats.recordError(a.Name(), err)
		}
		res.Stats[a.Name()] = stats
	}

	return res, nil
}

// median returns the median of a slice of float64 scores. Even-length
// inputs average the two middle values. An empty slice returns 0.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// minMaxNormalize maps each value in scores into [0,1] via min-max scaling
// over the active set. If every value is equal, every normalized value is 0.
func minMaxNormalize(scores map[types.NodeID]float64) map[types.NodeID]float64 {
	out := make(map[types.NodeID]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scoreRange(scores)
	span := max - min
	for id, v := range scores {
		if span == 0 {
			out[id] = 0
			continue
		}
		out[id] = (v - min) / span
	}
	return out
}

func scoreRange(scores map[types.NodeID]float64) (float64, float64) {
	first := true
	var min, max float64
	for _, v := range scores {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
