package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/types"
)

// CreateSnapshot records the current node and edge sets under label. If a
// snapshot with that label already exists, CreateSnapshot is a no-op and
// returns its existing info — snapshot creation is idempotent on label
// (spec §4.5), so a re-run with the same release tag never duplicates work.
func (s *Store) CreateSnapshot(label string) (*types.SnapshotInfo, error) {
	if existing, err := s.SnapshotByLabel(label); err == nil {
		return existing, nil
	} else if !herrors.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.conn.Exec(`INSERT INTO graph_snapshots (label, created_at) VALUES (?, ?)`, label, now)
	if err != nil {
		return nil, fmt.Errorf("inserting snapshot: %w", err)
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := s.conn.Exec(
		`INSERT INTO snapshot_nodes (snapshot_id, node_id) SELECT ?, id FROM nodes`, snapID,
	); err != nil {
		return nil, fmt.Errorf("snapshotting nodes: %w", err)
	}
	if _, err := s.conn.Exec(
		`INSERT INTO snapshot_edges (snapshot_id, hyperedge_id) SELECT ?, id FROM hyperedges`, snapID,
	); err != nil {
		return nil, fmt.Errorf("snapshotting edges: %w", err)
	}

	return s.snapshotInfo(types.SnapshotID(snapID))
}

func (s *Store) snapshotInfo(id types.SnapshotID) (*types.SnapshotInfo, error) {
	var label, createdAt string
	if err := s.conn.QueryRow(
		`SELECT label, created_at FROM graph_snapshots WHERE id = ?`, int64(id),
	).Scan(&label, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, herrors.NotFound("snapshot not found")
		}
		return nil, err
	}
	var nodeCount, edgeCount int64
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM snapshot_nodes WHERE snapshot_id = ?`, int64(id)).Scan(&nodeCount); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM snapshot_edges WHERE snapshot_id = ?`, int64(id)).Scan(&edgeCount); err != nil {
		return nil, err
	}
	t, _ := time.Parse(time.RFC3339Nano, createdAt)
	return &types.SnapshotInfo{ID: id, Label: label, CreatedAt: t, NodeCount: nodeCount, EdgeCount: edgeCount}, nil
}

// SnapshotByLabel looks up a snapshot by its label.
func (s *Store) SnapshotByLabel(label string) (*types.SnapshotInfo, error) {
	var id int64
	err := s.conn.QueryRow(`SELECT id FROM graph_snapshots WHERE label = ?`, label).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, herrors.NotFound("snapshot not found: " + label)
	}
	if err != nil {
		return nil, err
	}
	return s.snapshotInfo(types.SnapshotID(id))
}

// ListSnapshots returns every snapshot, oldest first.
func (s *Store) ListSnapshots() ([]types.SnapshotInfo, error) {
	rows, err := s.conn.Query(`SELECT id FROM graph_snapshots ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.SnapshotInfo
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		info, err := s.snapshotInfo(types.SnapshotID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

// DiffSnapshots computes the set-difference of nodes and edges between two
// labeled snapshots.
func (s *Store) DiffSnapshots(fromLabel, toLabel string) (*types.GraphDiff, error) {
	from, err := s.SnapshotByLabel(fromLabel)
	if err != nil {
		return nil, err
	}
	to, err := s.SnapshotByLabel(toLabel)
	if err != nil {
		return nil, err
	}

	diff := &types.GraphDiff{}
	var err2 error
	diff.AddedNodes, err2 = s.diffIDs("snapshot_nodes", "node_id", to.ID, from.ID)
	if err2 != nil {
		return nil, err2
	}
	removed, err2 := s.diffIDs("snapshot_nodes", "node_id", from.ID, to.ID)
	if err2 != nil {
		return nil, err2
	}
	diff.RemovedNodes = make([]types.NodeID, len(removed))
	copy(diff.RemovedNodes, removed)

	addedEdges, err2 := s.diffIDs("snapshot_edges", "hyperedge_id", to.ID, from.ID)
	if err2 != nil {
		return nil, err2
	}
	for _, id := range addedEdges {
		diff.AddedEdges = append(diff.AddedEdges, types.HyperedgeID(id))
	}
	removedEdges, err2 := s.diffIDs("snapshot_edges", "hyperedge_id", from.ID, to.ID)
	if err2 != nil {
		return nil, err2
	}
	for _, id := range removedEdges {
		diff.RemovedEdges = append(diff.RemovedEdges, types.HyperedgeID(id))
	}

	return diff, nil
}

// diffIDs returns IDs present in snapshot "in" but absent from snapshot "notIn".
func (s *Store) diffIDs(table, col string, in, notIn types.SnapshotID) ([]types.NodeID, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM %s WHERE snapshot_id = ?
		AND %s NOT IN (SELECT %s FROM %s WHERE snapshot_id = ?)`, col, table, col, col, table)
	rows, err := s.conn.Query(q, int64(in), int64(notIn))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.NodeID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.NodeID(id))
	}
	return out, rows.Err()
}
