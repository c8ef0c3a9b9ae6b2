package store

import (
	"database/sql"
	"fmt"

	"github.com/homer-dev/homer/internal/homer/types"
)

// LoadSubgraph materializes the portion of the persisted graph selected by
// f into an in-memory directed graph for a single analyzer run (spec §9
// "lazy subgraph materialization"). The graph is dropped by the caller
// once the analyzer finishes; nothing here is cached.
func (s *Store) LoadSubgraph(f types.SubgraphFilter) (*types.InMemoryGraph, error) {
	nodeIDs, err := s.resolveFilterNodes(f)
	if err != nil {
		return nil, fmt.Errorf("resolving subgraph filter: %w", err)
	}

	var edges []types.Hyperedge
	if nodeIDs == nil {
		edges, err = s.allEdges()
	} else {
		edges, err = s.edgesAmong(nodeIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("loading subgraph edges: %w", err)
	}
	return types.NewInMemoryGraph(edges), nil
}

// resolveFilterNodes returns nil to mean "all nodes" (SubgraphFull), or an
// explicit set for every other filter kind.
func (s *Store) resolveFilterNodes(f types.SubgraphFilter) (map[types.NodeID]bool, error) {
	switch f.Kind {
	case types.SubgraphFull:
		return nil, nil

	case types.SubgraphOfKind:
		set := map[types.NodeID]bool{}
		for _, k := range f.Kinds {
			nodes, err := s.FindNodes(types.NodeFilter{Kind: k})
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				set[n.ID] = true
			}
		}
		return set, nil

	case types.SubgraphModule:
		rows, err := s.conn.Query(`SELECT id FROM nodes WHERE name LIKE ? ESCAPE '\'`, escapeLike(f.PathPrefix)+"%")
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		set := map[types.NodeID]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			set[types.NodeID(id)] = true
		}
		return set, rows.Err()

	case types.SubgraphHighSalience:
		rows, err := s.conn.Query(
			`SELECT node_id, data_json FROM analysis_results WHERE kind = ?`,
			string(types.AnalysisCompositeSalience),
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		set := map[types.NodeID]bool{}
		for rows.Next() {
			var nodeID int64
			var dataJSON string
			if err := rows.Scan(&nodeID, &dataJSON); err != nil {
				return nil, err
			}
			data, err := unmarshalMeta(dataJSON)
			if err != nil {
				return nil, err
			}
			score, _ := data["score"].(float64)
			if score >= f.MinScore {
				set[types.NodeID(nodeID)] = true
			}
		}
		return set, rows.Err()

	case types.SubgraphNeighborhood:
		return s.neighborhoodOf(f.Centers, f.Hops)

	case types.SubgraphAnd:
		var result map[types.NodeID]bool
		for _, sub := range f.Filters {
			set, err := s.resolveFilterNodes(sub)
			if err != nil {
				return nil, err
			}
			if set == nil {
				continue // "full" contributes no restriction
			}
			if result == nil {
				result = set
				continue
			}
			for id := range result {
				if !set[id] {
					delete(result, id)
				}
			}
		}
		if result == nil {
			result = map[types.NodeID]bool{}
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown subgraph filter kind %d", f.Kind)
	}
}

func (s *Store) neighborhoodOf(centers []types.NodeID, hops int) (map[types.NodeID]bool, error) {
	frontier := map[types.NodeID]bool{}
	for _, c := range centers {
		frontier[c] = true
	}
	visited := map[types.NodeID]bool{}
	for id := range frontier {
		visited[id] = true
	}

	for h := 0; h < hops; h++ {
		next := map[types.NodeID]bool{}
		for id := range frontier {
			neighbors, err := s.directNeighbors(id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if !visited[n] {
					next[n] = true
					visited[n] = true
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return visited, nil
}

func (s *Store) directNeighbors(id types.NodeID) ([]types.NodeID, error) {
	rows, err := s.conn.Query(`
		SELECT DISTINCT m2.node_id
		FROM hyperedge_members m1
		JOIN hyperedge_members m2 ON m1.hyperedge_id = m2.hyperedge_id
		WHERE m1.node_id = ? AND m2.node_id != ?`, int64(id), int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.NodeID
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, types.NodeID(n))
	}
	return out, rows.Err()
}

func (s *Store) allEdges() ([]types.Hyperedge, error) {
	rows, err := s.conn.Query(`SELECT id FROM hyperedges`)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	return s.loadEdgesByID(ids)
}

func (s *Store) edgesAmong(nodeIDs map[types.NodeID]bool) ([]types.Hyperedge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(`SELECT DISTINCT hyperedge_id FROM hyperedge_members`)
	if err != nil {
		return nil, err
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()

	var ids []int64
	for _, id := range candidates {
		members, err := s.membersOf(types.HyperedgeID(id))
		if err != nil {
			return nil, err
		}
		allIn := true
		for _, m := range members {
			if !nodeIDs[m.NodeID] {
				allIn = false
				break
			}
		}
		if allIn {
			ids = append(ids, id)
		}
	}
	return s.loadEdgesByID(ids)
}

func (s *Store) loadEdgesByID(ids []int64) ([]types.Hyperedge, error) {
	out := make([]types.Hyperedge, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetHyperedge(types.HyperedgeID(id))
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}
