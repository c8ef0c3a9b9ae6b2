package analyze

import (
	"math"
	"sort"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// CentralityAnalyzer computes PageRank, Brandes betweenness (exact or
// k-source approximate), HITS, and composite salience over the structural
// graph formed by Calls/Imports/Inherits hyperedges (spec §4.7).
type CentralityAnalyzer struct{}

// NewCentralityAnalyzer constructs the centrality analyzer.
func NewCentralityAnalyzer() *CentralityAnalyzer { return &CentralityAnalyzer{} }

func (c *CentralityAnalyzer) Name() string { return "centrality" }

func (c *CentralityAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisPageRank,
		types.AnalysisBetweennessCentrality,
		types.AnalysisHITSScore,
		types.AnalysisCompositeSalience,
	}
}

// Requires the behavioral analyzer's ChangeFrequency/ContributorConcentration
// outputs, since composite salience folds churn and bus factor into the
// same score as the graph-theoretic signals.
func (c *CentralityAnalyzer) Requires() []types.AnalysisKind {
	return []types.AnalysisKind{types.AnalysisChangeFrequency, types.AnalysisContributorConcentration}
}

func (c *CentralityAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return true, nil }

func (c *CentralityAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	structural, err := loadStructuralGraph(st)
	if err != nil {
		return stats, err
	}
	if structural.NodeCount() == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	pr := pageRank(structural, cfg.Analysis.PageRankDamping, cfg.Analysis.PageRankConvergence, cfg.Analysis.PageRankMaxIterations)
	hits := hitsScores(structural, cfg.Analysis.PageRankConvergence, cfg.Analysis.PageRankMaxIterations)
	bt, tier := betweenness(structural, cfg.Analysis.BetweennessApproxThreshold)

	prMap := make(map[int]float64, len(pr))
	for i, v := range pr {
		prMap[i] = v
	}
	btMap := make(map[int]float64, len(bt))
	for i, v := range bt {
		btMap[i] = v
	}
	prRanked := rankScores(prMap)
	btRanked := rankScores(btMap)
	authorities := make(map[int]float64, len(hits.authority))
	for i, v := range hits.authority {
		authorities[i] = v
	}
	authRanked := rankScores(authorities)

	for i, nodeID := range structural.Nodes {
		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: nodeID,
			Kind:   types.AnalysisPageRank,
			Data:   map[string]any{"score": pr[i], "rank": prRanked[i]},
		}); err != nil {
			stats.recordError("pagerank", err)
			continue
		}
		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: nodeID,
			Kind:   types.AnalysisBetweennessCentrality,
			Data:   map[string]any{"score": bt[i], "rank": btRanked[i], "graph_tier": tier},
		}); err != nil {
			stats.recordError("betweenness", err)
			continue
		}
		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: nodeID,
			Kind:   types.AnalysisHITSScore,
			Data:   map[string]any{"hub": hits.hub[i], "authority": hits.authority[i], "rank": authRanked[i]},
		}); err != nil {
			stats.recordError("hits", err)
			continue
		}
		stats.NodesAnalyzed++
		stats.ResultsWritten += 3
	}

	if err := c.computeCompositeSalience(st, stats, structural, pr, bt, hits.authority, cfg); err != nil {
		stats.recordError("composite_salience", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// loadStructuralGraph builds the directed graph PageRank/betweenness/HITS
// run over: every Calls, Imports, and Inherits edge, spanning Function, Type,
// File, and ExternalDep nodes (spec §4.7 "Loads the call graph and the
// import graph").
func loadStructuralGraph(st *store.Store) (*types.InMemoryGraph, error) {
	var edges []types.Hyperedge
	for _, kind := range []types.HyperedgeKind{types.EdgeCalls, types.EdgeImports, types.EdgeInherits} {
		es, err := st.EdgesOfKind(kind)
		if err != nil {
			return nil, err
		}
		edges = append(edges, es...)
	}
	return types.NewInMemoryGraph(edges), nil
}

// pageRank runs power iteration with the given damping factor, convergence
// threshold (L1 norm of successive differences), and iteration cap (spec
// §4.7). Dangling nodes (no outgoing edges) redistribute their mass evenly
// across every node, keeping the total rank mass conserved at 1.0.
func pageRank(g *types.InMemoryGraph, damping, convergence float64, maxIterations int) []float64 {
	n := g.NodeCount()
	if n == 0 {
		return nil
	}
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 / float64(n)
	}

	outWeight := make([]float64, n)
	for i, out := range g.Out {
		for _, e := range out {
			outWeight[i] += e.Confidence
		}
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := make([]float64, n)
		danglingMass := 0.0
		for i, s := range scores {
			if outWeight[i] == 0 {
				danglingMass += s
			}
		}
		base := (1 - damping) / float64(n)
		danglingShare := damping * danglingMass / float64(n)
		for i := range next {
			next[i] = base + danglingShare
		}
		for i, out := range g.Out {
			if outWeight[i] == 0 {
				continue
			}
			contribution := damping * scores[i] / outWeight[i]
			for _, e := range out {
				next[e.To] += contribution * e.Confidence
			}
		}

		diff := 0.0
		for i := range next {
			diff += math.Abs(next[i] - scores[i])
		}
		scores = next
		if diff < convergence {
			break
		}
	}
	return scores
}

type hitsResult struct {
	hub       []float64
	authority []float64
}

// hitsScores runs the mutual hub/authority power iteration (spec §4.7),
// normalizing by L2 norm each iteration so scores stay bounded.
func hitsScores(g *types.InMemoryGraph, convergence float64, maxIterations int) hitsResult {
	n := g.NodeCount()
	hub := make([]float64, n)
	authority := make([]float64, n)
	for i := range hub {
		hub[i] = 1.0
		authority[i] = 1.0
	}

	for iter := 0; iter < maxIterations; iter++ {
		newAuth := make([]float64, n)
		for i, out := range g.Out {
			for _, e := range out {
				newAuth[e.To] += hub[i] * e.Confidence
			}
		}
		normalizeL2(newAuth)

		newHub := make([]float64, n)
		for i, out := range g.Out {
			for _, e := range out {
				newHub[i] += newAuth[e.To] * e.Confidence
			}
		}
		normalizeL2(newHub)

		diff := 0.0
		for i := range newHub {
			diff += math.Abs(newHub[i]-hub[i]) + math.Abs(newAuth[i]-authority[i])
		}
		hub, authority = newHub, newAuth
		if diff < convergence {
			break
		}
	}
	return hitsResult{hub: hub, authority: authority}
}

func normalizeL2(v []float64) {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

// betweenness computes Brandes' algorithm exactly when the graph is small
// enough, else switches to k-source sampling with k ≈ √V, tagging the
// result with a graph_tier so callers know which precision tier produced it
// (spec §4.7).
func betweenness(g *types.InMemoryGraph, approxThreshold int) ([]float64, string) {
	n := g.NodeCount()
	if n == 0 {
		return nil, "exact"
	}
	if n <= approxThreshold {
		return brandes(g, allSources(n)), "exact"
	}
	k := int(math.Sqrt(float64(n)))
	if k < 1 {
		k = 1
	}
	sources := sampledSources(n, k)
	scores := brandes(g, sources)
	scale := float64(n) / float64(len(sources))
	for i := range scores {
		scores[i] *= scale
	}
	return scores, "approximate"
}

func allSources(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// sampledSources deterministically picks k evenly-spaced node indices,
// rather than drawing randomly, so a run is reproducible for identical input
// (spec §6 "must be deterministic for identical inputs" applies in spirit
// to every analyzer here, not just SourceParser).
func sampledSources(n, k int) []int {
	if k >= n {
		return allSources(n)
	}
	out := make([]int, 0, k)
	stride := float64(n) / float64(k)
	for i := 0; i < k; i++ {
		out = append(out, int(float64(i)*stride))
	}
	return out
}

// brandes runs unweighted Brandes' betweenness-centrality accumulation from
// each given source node via BFS.
func brandes(g *types.InMemoryGraph, sources []int) []float64 {
	n := g.NodeCount()
	centrality := make([]float64, n)

	for _, s := range sources {
		stack := make([]int, 0, n)
		predecessors := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, e := range g.Out[v] {
				w := e.To
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					predecessors[w] = append(predecessors[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range predecessors[w] {
				delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
			}
			if w != s {
				centrality[w] += delta[w]
			}
		}
	}
	return centrality
}

// rankScores assigns a 1-based rank to every node by descending score,
// breaking ties by ascending node id so zero-score nodes still receive a
// deterministic rank (spec §4.7 "tie-breaks").
func rankScores(scores map[int]float64) map[int]int {
	indices := make([]int, 0, len(scores))
	for i := range scores {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool {
		ia, ib := indices[a], indices[b]
		if scores[ia] != scores[ib] {
			return scores[ia] > scores[ib]
		}
		return ia < ib
	})
	ranks := make(map[int]int, len(scores))
	for rank, idx := range indices {
		ranks[idx] = rank + 1
	}
	return ranks
}

func (c *CentralityAnalyzer) computeCompositeSalience(st *store.Store, stats *Stats, g *types.InMemoryGraph, pr, bt, authority []float64, cfg *config.Config) error {
	prMap := toNodeMap(g, pr)
	btMap := toNodeMap(g, bt)
	authMap := toNodeMap(g, authority)

	normPR := minMaxNormalize(prMap)
	normBT := minMaxNormalize(btMap)
	normAuth := minMaxNormalize(authMap)

	churn := map[types.NodeID]float64{}
	busFactor := map[types.NodeID]float64{}
	for _, nodeID := range g.Nodes {
		cf, err := st.GetAnalysis(nodeID, types.AnalysisChangeFrequency)
		if err == nil {
			if total, ok := cf.Data["total"].(float64); ok {
				churn[nodeID] = total
			} else if ti, ok := toInt(cf.Data["total"]); ok {
				churn[nodeID] = float64(ti)
			}
		}
		cc, err := st.GetAnalysis(nodeID, types.AnalysisContributorConcentration)
		if err == nil {
			if bf, ok := cc.Data["bus_factor"].(float64); ok {
				busFactor[nodeID] = bf
			} else if bi, ok := toInt(cc.Data["bus_factor"]); ok {
				busFactor[nodeID] = float64(bi)
			}
		} else {
			// Nodes outside the behavioral analyzer's file-only scope
			// (functions, types) have no bus factor of their own; default
			// to 1 (single "author"), the most concentrated value, so they
			// neither inflate nor understate the churn-risk term.
			busFactor[nodeID] = 1
		}
	}

	normChurn := minMaxNormalize(churn)
	normBus := minMaxNormalize(busFactor)

	w := cfg.Analysis.Salience
	centralityScores := map[types.NodeID]float64{}
	salience := map[types.NodeID]float64{}
	for _, nodeID := range g.Nodes {
		structuralCentrality := w.PageRank*normPR[nodeID] + w.Betweenness*normBT[nodeID] + w.Authority*normAuth[nodeID]
		centralityScores[nodeID] = structuralCentrality
		s := structuralCentrality + w.Churn*normChurn[nodeID] + w.BusFactor*(1-normBus[nodeID])
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		salience[nodeID] = s
	}

	centralityMedian := median(sortedValues(centralityScores))
	churnMedian := median(sortedValues(normChurn))

	for _, nodeID := range g.Nodes {
		class := types.ClassifySalience(centralityScores[nodeID], normChurn[nodeID], centralityMedian, churnMedian)
		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: nodeID,
			Kind:   types.AnalysisCompositeSalience,
			Data: map[string]any{
				"score":          salience[nodeID],
				"classification": string(class),
			},
		}); err != nil {
			return err
		}
		stats.ResultsWritten++
	}
	return nil
}

func toNodeMap(g *types.InMemoryGraph, scores []float64) map[types.NodeID]float64 {
	out := make(map[types.NodeID]float64, len(scores))
	for i, s := range scores {
		out[g.Nodes[i]] = s
	}
	return out
}

func sortedValues(m map[types.NodeID]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
