package types

import "time"

// SnapshotInfo describes a labeled, immutable copy of the node/edge sets at
// a point in time.
type SnapshotInfo struct {
	ID        SnapshotID
	Label     string
	CreatedAt time.Time
	NodeCount int64
	EdgeCount int64
}

// GraphDiff is the result of diffing two snapshots by identity.
type GraphDiff struct {
	AddedNodes   []NodeID
	RemovedNodes []NodeID
	AddedEdges   []HyperedgeID
	RemovedEdges []HyperedgeID
}

// SearchScope narrows a full-text search.
type SearchScope struct {
	ContentTypes []string
	NodeKinds    []NodeKind
	Limit        int
}

// SearchHit is a single full-text search result.
type SearchHit struct {
	NodeID      NodeID
	ContentType string
	Snippet     string
	Rank        float64
}

// StoreStats summarizes the store's contents.
type StoreStats struct {
	TotalNodes    int64
	TotalEdges    int64
	TotalAnalyses int64
	NodesByKind   map[NodeKind]int64
	EdgesByKind   map[HyperedgeKind]int64
	DBSizeBytes   int64
}

// SubgraphFilterKind discriminates the SubgraphFilter variant.
type SubgraphFilterKind int

const (
	SubgraphFull SubgraphFilterKind = iota
	SubgraphNeighborhood
	SubgraphHighSalience
	SubgraphModule
	SubgraphOfKind
	SubgraphAnd
)

// SubgraphFilter selects which portion of the persisted graph to load into
// memory (spec §4.1 "Subgraph load").
type SubgraphFilter struct {
	Kind SubgraphFilterKind

	// Neighborhood
	Centers []NodeID
	Hops    int

	// HighSalience
	MinScore float64

	// Module
	PathPrefix string

	// OfKind
	Kinds []NodeKind

	// And
	Filters []SubgraphFilter
}

// InMemoryGraph is a directed graph materialized from the store for a
// single analyzer run, then dropped (spec §9 "lazy subgraph materialization").
type InMemoryGraph struct {
	// Adjacency by internal dense index; NodeIDs map to indices via NodeIndex.
	Nodes     []NodeID
	NodeIndex map[NodeID]int
	// Out[i] holds (target index, confidence) pairs for node i.
	Out [][]WeightedEdge
	// In[i] holds (source index, confidence) pairs for node i.
	In [][]WeightedEdge
}

// WeightedEdge is a directed edge projection with its source hyperedge's
// confidence as weight.
type WeightedEdge struct {
	To         int
	Confidence float64
}

// NewInMemoryGraph builds an InMemoryGraph from a set of hyperedges,
// projecting each hyperedge onto a directed pair via ExtractDirectedPair.
func NewInMemoryGraph(edges []Hyperedge) *InMemoryGraph {
	g := &InMemoryGraph{
		NodeIndex: make(map[NodeID]int),
	}

	ensure := func(id NodeID) int {
		if idx, ok := g.NodeIndex[id]; ok {
			return idx
		}
		idx := len(g.Nodes)
		g.Nodes = append(g.Nodes, id)
		g.NodeIndex[id] = idx
		g.Out = append(g.Out, nil)
		g.In = append(g.In, nil)
		return idx
	}

	for _, e := range edges {
		for _, m := range e.Members {
			ensure(m.NodeID)
		}
	}
	for _, e := range edges {
		src, dst := ExtractDirectedPair(e.Members)
		si, ok1 := g.NodeIndex[src]
		di, ok2 := g.NodeIndex[dst]
		if !ok1 || !ok2 || si == di {
			continue
		}
		g.Out[si] = append(g.Out[si], WeightedEdge{To: di, Confidence: e.Confidence})
		g.In[di] = append(g.In[di], WeightedEdge{To: si, Confidence: e.Confidence})
	}
	return g
}

// NodeCount returns the number of nodes in the graph.
func (g *InMemoryGraph) NodeCount() int { return len(g.Nodes) }

// EdgeCount returns the number of directed edges in the graph.
func (g *InMemoryGraph) EdgeCount() int {
	n := 0
	for _, out := range g.Out {
		n += len(out)
	}
	return n
}
