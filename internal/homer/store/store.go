// Package store persists Homer's hypergraph to an embedded SQLite database
// and loads subgraphs of it back into memory for analyzers and renderers.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/types"
)

// Store handles persistence of the hypergraph to SQLite.
type Store struct {
	db     *sql.DB
	conn   dbConn // the connection reads/writes run against: db itself, or a batch's *sql.Tx
	dbPath string
}

// Open creates or opens a Homer graph database. By default, stores at
// .homer/homer.db relative to the given project directory (spec §6).
func Open(projectDir string) (*Store, error) {
	homerDir := filepath.Join(projectDir, ".homer")
	if err := os.MkdirAll(homerDir, 0755); err != nil {
		return nil, fmt.Errorf("creating .homer directory: %w", err)
	}
	return OpenPath(filepath.Join(homerDir, "homer.db"))
}

// OpenPath opens a Homer graph database at an explicit path, creating it
// and its schema if necessary.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, conn: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMeta(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertResult reports whether an upsert created a brand-new node, left an
// existing node untouched because its content hash matched, or updated an
// existing node's content.
type UpsertResult int

const (
	UpsertCreated UpsertResult = iota
	UpsertTouched
	UpsertUpdated
)

// UpsertNode creates a node by (kind, name) identity if absent, or updates
// it in place if its content hash has changed. If the content hash is
// unchanged from the stored value, only last_extracted advances ("touch")
// and the caller's change-detection (invalidation) is not triggered — this
// is spec §4.2's conservative hook for keeping semantic analysis stable
// across no-op re-extraction.
func (s *Store) UpsertNode(n *types.Node) (types.NodeID, UpsertResult, error) {
	metaJSON, err := marshalMeta(n.Metadata)
	if err != nil {
		return 0, 0, fmt.Errorf("marshaling node metadata: %w", err)
	}

	var existingID int64
	var existingHash sql.NullInt64
	err = s.conn.QueryRow(
		`SELECT id, content_hash FROM nodes WHERE kind = ? AND name = ?`,
		string(n.Kind), n.Name,
	).Scan(&existingID, &existingHash)

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err == sql.ErrNoRows {
		var hashVal any
		if n.ContentHash != nil {
			hashVal = types.EncodeHash(*n.ContentHash)
		}
		res, err := s.conn.Exec(
			`INSERT INTO nodes (kind, name, content_hash, metadata_json, last_extracted)
			 VALUES (?, ?, ?, ?, ?)`,
			string(n.Kind), n.Name, hashVal, metaJSON, now,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("inserting node: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, 0, fmt.Errorf("getting inserted node id: %w", err)
		}
		return types.NodeID(id), UpsertCreated, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("looking up node: %w", err)
	}

	sameHash := false
	if n.ContentHash == nil && !existingHash.Valid {
		sameHash = true
	} else if n.ContentHash != nil && existingHash.Valid {
		sameHash = types.EncodeHash(*n.ContentHash) == existingHash.Int64
	}

	if sameHash {
		if _, err := s.conn.Exec(`UPDATE nodes SET last_extracted = ? WHERE id = ?`, now, existingID); err != nil {
			return 0, 0, fmt.Errorf("touching node: %w", err)
		}
		return types.NodeID(existingID), UpsertTouched, nil
	}

	var hashVal any
	if n.ContentHash != nil {
		hashVal = types.EncodeHash(*n.ContentHash)
	}
	if _, err := s.conn.Exec(
		`UPDATE nodes SET content_hash = ?, metadata_json = ?, last_extracted = ? WHERE id = ?`,
		hashVal, metaJSON, now, existingID,
	); err != nil {
		return 0, 0, fmt.Errorf("updating node: %w", err)
	}
	return types.NodeID(existingID), UpsertUpdated, nil
}

// GetNode loads a node by ID.
func (s *Store) GetNode(id types.NodeID) (*types.Node, error) {
	row := s.conn.QueryRow(
		`SELECT id, kind, name, content_hash, metadata_json, last_extracted FROM nodes WHERE id = ?`,
		int64(id),
	)
	return scanNode(row)
}

// FindNode looks up a node by its (kind, name) identity.
func (s *Store) FindNode(kind types.NodeKind, name string) (*types.Node, error) {
	row := s.conn.QueryRow(
		`SELECT id, kind, name, content_hash, metadata_json, last_extracted FROM nodes WHERE kind = ? AND name = ?`,
		string(kind), name,
	)
	return scanNode(row)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanNode(row scannable) (*types.Node, error) {
	var (
		id       int64
		kind     string
		name     string
		hash     sql.NullInt64
		metaJSON string
		lastExt  string
	)
	if err := row.Scan(&id, &kind, &name, &hash, &metaJSON, &lastExt); err != nil {
		if err == sql.ErrNoRows {
			return nil, herrors.NotFound("node not found")
		}
		return nil, err
	}
	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, lastExt)
	if err != nil {
		t, err = time.Parse(time.RFC3339, lastExt)
		if err != nil {
			return nil, err
		}
	}
	n := &types.Node{
		ID:            types.NodeID(id),
		Kind:          types.NodeKind(kind),
		Name:          name,
		Metadata:      meta,
		LastExtracted: t,
	}
	if hash.Valid {
		h := types.DecodeHash(hash.Int64)
		n.ContentHash = &h
	}
	return n, nil
}

// FindNodes lists nodes matching a filter.
func (s *Store) FindNodes(f types.NodeFilter) ([]types.Node, error) {
	q := `SELECT id, kind, name, content_hash, metadata_json, last_extracted FROM nodes WHERE 1=1`
	var args []any
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.NamePrefix != "" {
		q += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(f.NamePrefix)+"%")
	}
	if f.NameContains != "" {
		q += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.NameContains)+"%")
	}
	q += ` ORDER BY id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}

// UpsertHyperedge inserts a new hyperedge or, if one with the same identity
// key already exists, updates its confidence, metadata, and members in
// place. This is the invariant the original implementation's upsert path
// never enforced (it always inserted a fresh row): identical extraction
// output on a second run must map to the same row, not accumulate
// duplicates (spec §3, §8 "idempotence").
func (s *Store) UpsertHyperedge(e *types.Hyperedge) (types.HyperedgeID, bool, error) {
	key := types.IdentityKey(e.Kind, e.Members)
	metaJSON, err := marshalMeta(e.Metadata)
	if err != nil {
		return 0, false, fmt.Errorf("marshaling edge metadata: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var existingID int64
	err = s.conn.QueryRow(`SELECT id FROM hyperedges WHERE identity_key = ?`, key).Scan(&existingID)

	if err == sql.ErrNoRows {
		var id int64
		err := s.withTx(func(tx dbConn) error {
			res, err := tx.Exec(
				`INSERT INTO hyperedges (kind, identity_key, confidence, metadata_json, last_updated)
				 VALUES (?, ?, ?, ?, ?)`,
				string(e.Kind), key, e.Confidence, metaJSON, now,
			)
			if err != nil {
				return fmt.Errorf("inserting hyperedge: %w", err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			return insertMembers(tx, types.HyperedgeID(id), e.Members)
		})
		if err != nil {
			return 0, false, err
		}
		return types.HyperedgeID(id), true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up hyperedge: %w", err)
	}

	// Member rewrite is UPDATE + DELETE + INSERT as one unit: a crash
	// between the DELETE and INSERT must not leave a hyperedge row with no
	// members (spec §3's failure model).
	err = s.withTx(func(tx dbConn) error {
		if _, err := tx.Exec(
			`UPDATE hyperedges SET confidence = ?, metadata_json = ?, last_updated = ? WHERE id = ?`,
			e.Confidence, metaJSON, now, existingID,
		); err != nil {
			return fmt.Errorf("updating hyperedge: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM hyperedge_members WHERE hyperedge_id = ?`, existingID); err != nil {
			return fmt.Errorf("clearing hyperedge members: %w", err)
		}
		return insertMembers(tx, types.HyperedgeID(existingID), e.Members)
	})
	if err != nil {
		return 0, false, err
	}
	return types.HyperedgeID(existingID), false, nil
}

func insertMembers(conn dbConn, edgeID types.HyperedgeID, members []types.HyperedgeMember) error {
	for _, m := range members {
		if _, err := conn.Exec(
			`INSERT INTO hyperedge_members (hyperedge_id, node_id, role, position) VALUES (?, ?, ?, ?)`,
			int64(edgeID), int64(m.NodeID), m.Role, m.Position,
		); err != nil {
			return fmt.Errorf("inserting hyperedge member: %w", err)
		}
	}
	return nil
}

// GetHyperedge loads a hyperedge and its members by ID.
func (s *Store) GetHyperedge(id types.HyperedgeID) (*types.Hyperedge, error) {
	var (
		kind     string
		conf     float64
		metaJSON string
		lastUpd  string
	)
	err := s.conn.QueryRow(
		`SELECT kind, confidence, metadata_json, last_updated FROM hyperedges WHERE id = ?`,
		int64(id),
	).Scan(&kind, &conf, &metaJSON, &lastUpd)
	if err == sql.ErrNoRows {
		return nil, herrors.NotFound("hyperedge not found")
	}
	if err != nil {
		return nil, err
	}
	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	t, _ := time.Parse(time.RFC3339Nano, lastUpd)

	members, err := s.membersOf(id)
	if err != nil {
		return nil, err
	}
	return &types.Hyperedge{
		ID:          id,
		Kind:        types.HyperedgeKind(kind),
		Members:     members,
		Confidence:  conf,
		Metadata:    meta,
		LastUpdated: t,
	}, nil
}

func (s *Store) membersOf(id types.HyperedgeID) ([]types.HyperedgeMember, error) {
	rows, err := s.conn.Query(
		`SELECT node_id, role, position FROM hyperedge_members WHERE hyperedge_id = ? ORDER BY position`,
		int64(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.HyperedgeMember
	for rows.Next() {
		var nodeID int64
		var role string
		var pos int
		if err := rows.Scan(&nodeID, &role, &pos); err != nil {
			return nil, err
		}
		out = append(out, types.HyperedgeMember{NodeID: types.NodeID(nodeID), Role: role, Position: pos})
	}
	return out, rows.Err()
}

// EdgesInvolving returns every hyperedge of the given kinds (or all kinds,
// if empty) that has the node as a member.
func (s *Store) EdgesInvolving(node types.NodeID, kinds ...types.HyperedgeKind) ([]types.Hyperedge, error) {
	q := `SELECT DISTINCT h.id FROM hyperedges h
	      JOIN hyperedge_members m ON m.hyperedge_id = h.id
	      WHERE m.node_id = ?`
	args := []any{int64(node)}
	if len(kinds) > 0 {
		q += ` AND h.kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	rows, err := s.conn.Query(q, args...)
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

	out := make([]types.Hyperedge, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetHyperedge(types.HyperedgeID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

// EdgesOfKind returns every hyperedge of the given kind, for analyzers that
// load a whole relation family at once (e.g. the Calls graph for PageRank).
func (s *Store) EdgesOfKind(kind types.HyperedgeKind) ([]types.Hyperedge, error) {
	rows, err := s.conn.Query(`SELECT id FROM hyperedges WHERE kind = ?`, string(kind))
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

	out := make([]types.Hyperedge, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetHyperedge(types.HyperedgeID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// DeleteEdgesOfKind removes every hyperedge of the given kind. Used by
// extractors that recompute a relation family wholesale each run (e.g.
// co-change clusters) rather than incrementally.
func (s *Store) DeleteEdgesOfKind(kind types.HyperedgeKind) error {
	_, err := s.conn.Exec(`DELETE FROM hyperedges WHERE kind = ?`, string(kind))
	return err
}

// WriteAnalysis upserts an analysis result keyed by (node, kind).
func (s *Store) WriteAnalysis(r *types.AnalysisResult) error {
	dataJSON, err := marshalMeta(r.Data)
	if err != nil {
		return fmt.Errorf("marshaling analysis data: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.conn.Exec(
		`INSERT INTO analysis_results (node_id, kind, data_json, input_hash, computed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(node_id, kind) DO UPDATE SET
		     data_json = excluded.data_json,
		     input_hash = excluded.input_hash,
		     computed_at = excluded.computed_at`,
		int64(r.NodeID), string(r.Kind), dataJSON, types.EncodeHash(r.InputHash), now,
	)
	if err != nil {
		return fmt.Errorf("writing analysis result: %w", err)
	}
	return nil
}

// GetAnalysis loads an analysis result for a node, if present.
func (s *Store) GetAnalysis(node types.NodeID, kind types.AnalysisKind) (*types.AnalysisResult, error) {
	var (
		id         int64
		dataJSON   string
		inputHash  int64
		computedAt string
	)
	err := s.conn.QueryRow(
		`SELECT id, data_json, input_hash, computed_at FROM analysis_results WHERE node_id = ? AND kind = ?`,
		int64(node), string(kind),
	).Scan(&id, &dataJSON, &inputHash, &computedAt)
	if err == sql.ErrNoRows {
		return nil, herrors.NotFound("analysis result not found")
	}
	if err != nil {
		return nil, err
	}
	data, err := unmarshalMeta(dataJSON)
	if err != nil {
		return nil, err
	}
	t, _ := time.Parse(time.RFC3339Nano, computedAt)
	return &types.AnalysisResult{
		ID:         types.AnalysisResultID(id),
		NodeID:     node,
		Kind:       kind,
		Data:       data,
		InputHash:  types.DecodeHash(inputHash),
		ComputedAt: t,
	}, nil
}

// FindAnalysesByKind loads every analysis result of one kind, across all
// nodes — the read side of global analyses like CompositeSalience that
// downstream analyzers (temporal trends, semantic prioritization) rank or
// aggregate over.
func (s *Store) FindAnalysesByKind(kind types.AnalysisKind) ([]types.AnalysisResult, error) {
	rows, err := s.conn.Query(
		`SELECT id, node_id, data_json, input_hash, computed_at FROM analysis_results WHERE kind = ?`,
		string(kind),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AnalysisResult
	for rows.Next() {
		var (
			id         int64
			nodeID     int64
			dataJSON   string
			inputHash  int64
			computedAt string
		)
		if err := rows.Scan(&id, &nodeID, &dataJSON, &inputHash, &computedAt); err != nil {
			return nil, err
		}
		data, err := unmarshalMeta(dataJSON)
		if err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, computedAt)
		out = append(out, types.AnalysisResult{
			ID:         types.AnalysisResultID(id),
			NodeID:     types.NodeID(nodeID),
			Kind:       kind,
			Data:       data,
			InputHash:  types.DecodeHash(inputHash),
			ComputedAt: t,
		})
	}
	return out, rows.Err()
}

// ClearByKind deletes every analysis result of the given kind, across all
// nodes. Used when a global analysis (e.g. PageRank) is invalidated.
func (s *Store) ClearByKind(kind types.AnalysisKind) error {
	_, err := s.conn.Exec(`DELETE FROM analysis_results WHERE kind = ?`, string(kind))
	return err
}

// ClearSemantic deletes every LLM-derived analysis result for one node.
// Called by conservative semantic invalidation when that node's own
// content hash changes (spec §4.2).
func (s *Store) ClearSemantic(node types.NodeID) error {
	for _, kind := range types.SemanticKinds {
		if _, err := s.conn.Exec(
			`DELETE FROM analysis_results WHERE node_id = ? AND kind = ?`,
			int64(node), string(kind),
		); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint reads a named checkpoint value, decoding it into v. Returns
// herrors.NotFound if the key has never been set.
func (s *Store) Checkpoint(key string, v any) error {
	var valueJSON string
	err := s.conn.QueryRow(`SELECT value_json FROM checkpoints WHERE key = ?`, key).Scan(&valueJSON)
	if err == sql.ErrNoRows {
		return herrors.NotFound("checkpoint not set: " + key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(valueJSON), v)
}

// SetCheckpoint writes a named checkpoint value.
func (s *Store) SetCheckpoint(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.conn.Exec(
		`INSERT INTO checkpoints (key, value_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		key, string(b), now,
	)
	return err
}

// Stats summarizes the store's current contents.
func (s *Store) Stats() (*types.StoreStats, error) {
	st := &types.StoreStats{
		NodesByKind: map[types.NodeKind]int64{},
		EdgesByKind: map[types.HyperedgeKind]int64{},
	}
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&st.TotalNodes); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM hyperedges`).Scan(&st.TotalEdges); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM analysis_results`).Scan(&st.TotalAnalyses); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(`SELECT kind, COUNT(*) FROM nodes GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k string
		var c int64
		if err := rows.Scan(&k, &c); err != nil {
			rows.Close()
			return nil, err
		}
		st.NodesByKind[types.NodeKind(k)] = c
	}
	rows.Close()

	rows, err = s.conn.Query(`SELECT kind, COUNT(*) FROM hyperedges GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k string
		var c int64
		if err := rows.Scan(&k, &c); err != nil {
			rows.Close()
			return nil, err
		}
		st.EdgesByKind[types.HyperedgeKind(k)] = c
	}
	rows.Close()

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}
	return st, nil
}
