package analyze

import (
	"strings"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// CommunityAnalyzer partitions the undirected import graph into modularity-
// maximizing clusters via Louvain, then records whether each community's
// members predominantly share a directory (spec §4.8).
type CommunityAnalyzer struct{}

// NewCommunityAnalyzer constructs the community analyzer.
func NewCommunityAnalyzer() *CommunityAnalyzer { return &CommunityAnalyzer{} }

func (c *CommunityAnalyzer) Name() string { return "community" }

func (c *CommunityAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{types.AnalysisCommunityAssignment}
}

// Requires nothing; community detection runs purely over the import graph's
// topology.
func (c *CommunityAnalyzer) Requires() []types.AnalysisKind { return nil }

func (c *CommunityAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return true, nil }

func (c *CommunityAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	edges, err := st.EdgesOfKind(types.EdgeImports)
	if err != nil {
		return stats, err
	}
	g := types.NewInMemoryGraph(edges)
	if g.NodeCount() == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	undirected := toUndirectedWeights(g)
	assignment := louvain(g.NodeCount(), undirected)

	members := map[int][]int{}
	for node, community := range assignment {
		members[community] = append(members[community], node)
	}

	for community, nodeIdxs := range members {
		nodeIDs := make([]types.NodeID, len(nodeIdxs))
		for i, idx := range nodeIdxs {
			nodeIDs[i] = g.Nodes[idx]
		}
		aligned, prefix := c.directoryAligned(st, nodeIDs)
		for _, nodeID := range nodeIDs {
			if err := st.WriteAnalysis(&types.AnalysisResult{
				NodeID: nodeID,
				Kind:   types.AnalysisCommunityAssignment,
				Data: map[string]any{
					"community_id":       community,
					"size":               len(nodeIDs),
					"directory_aligned":  aligned,
					"directory_prefix":   prefix,
				},
			}); err != nil {
				stats.recordError("community", err)
				continue
			}
			stats.NodesAnalyzed++
			stats.ResultsWritten++
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// directoryAligned reports whether a strict majority of members share a
// directory prefix of depth >= 2 (spec §4.8), and which prefix that is.
func (c *CommunityAnalyzer) directoryAligned(st *store.Store, nodeIDs []types.NodeID) (bool, string) {
	counts := map[string]int{}
	for _, id := range nodeIDs {
		n, err := st.GetNode(id)
		if err != nil {
			continue
		}
		prefix := dirPrefix(n.Name, 2)
		if prefix == "" {
			continue
		}
		counts[prefix]++
	}
	best, bestCount := "", 0
	for prefix, count := range counts {
		if count > bestCount {
			best, bestCount = prefix, count
		}
	}
	if len(nodeIDs) == 0 {
		return false, ""
	}
	return bestCount*2 > len(nodeIDs), best
}

// dirPrefix returns the first depth path components of a slash-separated
// path, or "" if the path doesn't have at least that many directory levels.
func dirPrefix(path string, depth int) string {
	parts := strings.Split(path, "/")
	if len(parts) <= depth {
		return ""
	}
	return strings.Join(parts[:depth], "/")
}

// weightedGraph is an undirected weighted adjacency list plus a per-node
// self-loop weight. Self-loops only appear after aggregation: they carry the
// weight folded in from edges between two original nodes that ended up in
// the same super-node, so a coarsened node's degree still reflects every
// edge among the original nodes it represents.
type weightedGraph struct {
	adj      [][]weightedPair
	selfLoop []float64
}

// toUndirectedWeights collapses a directed graph's edges into a symmetric
// adjacency-weight map, summing both directions' confidence into a single
// undirected weight per pair (spec §4.8 "undirected import graph").
func toUndirectedWeights(g *types.InMemoryGraph) *weightedGraph {
	n := g.NodeCount()
	acc := make(map[[2]int]float64)
	for i, out := range g.Out {
		for _, e := range out {
			j := e.To
			if i == j {
				continue
			}
			key := pairKey(i, j)
			acc[key] += e.Confidence
		}
	}
	adj := make([][]weightedPair, n)
	for key, w := range acc {
		adj[key[0]] = append(adj[key[0]], weightedPair{node: key[1], weight: w})
		adj[key[1]] = append(adj[key[1]], weightedPair{node: key[0], weight: w})
	}
	return &weightedGraph{adj: adj, selfLoop: make([]float64, n)}
}

type weightedPair struct {
	node   int
	weight float64
}

func pairKey(a, b int) [2]int {
	if a < b {
		return [2]int{a, b}
	}
	return [2]int{b, a}
}

// louvain runs multi-level Louvain modularity optimization (Blondel et al.)
// over an undirected weighted graph: local-moving passes over the current
// level's nodes, then — once that level is stable — collapse its
// communities into super-nodes and repeat over the coarsened graph, until a
// level's local-moving makes no merge at all. The per-level node-index ->
// community assignments are composed back down to the original node ids.
func louvain(n int, g *weightedGraph) map[int]int {
	if n == 0 {
		return map[int]int{}
	}

	// originalOf[i] lists which original node indices the current level's
	// node i represents; it starts as the identity mapping and gets
	// re-grouped each time a level collapses into its super-nodes.
	originalOf := make([][]int, n)
	for i := range originalOf {
		originalOf[i] = []int{i}
	}

	curN, curG := n, g
	for level := 0; level < 100 && curN > 1; level++ {
		comm := localMove(curN, curG)
		compacted, k := compactAssignment(comm)
		if k == curN {
			// No node moved into another's community at this level: stable,
			// and nothing left to aggregate.
			break
		}

		nextOriginalOf := make([][]int, k)
		for i, c := range compacted {
			nextOriginalOf[c] = append(nextOriginalOf[c], originalOf[i]...)
		}
		curG = aggregate(curG, compacted, k)
		originalOf = nextOriginalOf
		curN = k
	}

	assignment := make([]int, n)
	for superIdx, origs := range originalOf {
		for _, o := range origs {
			assignment[o] = superIdx
		}
	}

	// Compact community ids to a dense, deterministic 0..k-1 range ordered
	// by first appearance, so output is stable across runs.
	order := map[int]int{}
	result := make(map[int]int, n)
	for i := 0; i < n; i++ {
		c := assignment[i]
		if _, ok := order[c]; !ok {
			order[c] = len(order)
		}
		result[i] = order[c]
	}
	return result
}

// localMove runs the flat node-level phase of Louvain over one level's
// graph: repeatedly move each node to whichever neighboring community (or
// its own) maximizes modularity gain, until a full pass makes no move or
// the pass cap is hit. Ties in the best-move search are broken by lowest
// community id for determinism.
func localMove(n int, g *weightedGraph) []int {
	community := make([]int, n)
	for i := range community {
		community[i] = i
	}

	degree := make([]float64, n)
	totalWeight := 0.0
	for i, edges := range g.adj {
		for _, e := range edges {
			degree[i] += e.weight
			totalWeight += e.weight
		}
		degree[i] += 2 * g.selfLoop[i]
		totalWeight += 2 * g.selfLoop[i]
	}
	totalWeight /= 2 // each edge's weight is counted from both endpoints above
	if totalWeight == 0 {
		return community
	}

	commWeight := make([]float64, n)
	for i := range degree {
		commWeight[community[i]] += degree[i]
	}

	improved := true
	for pass := 0; pass < 100 && improved; pass++ {
		improved = false
		for i := 0; i < n; i++ {
			currentComm := community[i]
			neighborWeight := map[int]float64{}
			for _, e := range g.adj[i] {
				neighborWeight[community[e.node]] += e.weight
			}

			commWeight[currentComm] -= degree[i]

			bestComm := currentComm
			bestGain := neighborWeight[currentComm] - degree[i]*commWeight[currentComm]/(2*totalWeight)

			candidates := make([]int, 0, len(neighborWeight))
			for c := range neighborWeight {
				candidates = append(candidates, c)
			}
			sortInts(candidates)
			for _, c := range candidates {
				gain := neighborWeight[c] - degree[i]*commWeight[c]/(2*totalWeight)
				if gain > bestGain || (gain == bestGain && c < bestComm) {
					bestGain, bestComm = gain, c
				}
			}

			commWeight[bestComm] += degree[i]
			if bestComm != currentComm {
				community[i] = bestComm
				improved = true
			}
		}
	}
	return community
}

// compactAssignment renumbers a community assignment to a dense 0..k-1
// range ordered by first appearance, and reports k, the number of distinct
// communities — k == len(comm) means every node ended up alone, the signal
// louvain uses to stop aggregating.
func compactAssignment(comm []int) ([]int, int) {
	order := map[int]int{}
	compacted := make([]int, len(comm))
	for i, c := range comm {
		id, ok := order[c]
		if !ok {
			id = len(order)
			order[c] = id
		}
		compacted[i] = id
	}
	return compacted, len(order)
}

// aggregate collapses a graph's nodes into k super-nodes per compacted,
// producing the coarsened graph the next Louvain level runs local-moving
// over: edges between two different communities sum into an inter-super-node
// edge, edges within one community fold into that super-node's self-loop
// alongside whatever self-loop weight it already carried.
func aggregate(g *weightedGraph, compacted []int, k int) *weightedGraph {
	inter := make(map[[2]int]float64)
	selfLoop := make([]float64, k)
	for i, edges := range g.adj {
		ci := compacted[i]
		for _, e := range edges {
			j := e.node
			if i >= j {
				continue // each undirected edge appears in both adj[i] and adj[j]; count it once
			}
			cj := compacted[j]
			if ci == cj {
				selfLoop[ci] += e.weight
			} else {
				key := pairKey(ci, cj)
				inter[key] += e.weight
			}
		}
	}
	for i, sl := range g.selfLoop {
		selfLoop[compacted[i]] += sl
	}

	adj := make([][]weightedPair, k)
	for key, w := range inter {
		adj[key[0]] = append(adj[key[0]], weightedPair{node: key[1], weight: w})
		adj[key[1]] = append(adj[key[1]], weightedPair{node: key[0], weight: w})
	}
	return &weightedGraph{adj: adj, selfLoop: selfLoop}
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
