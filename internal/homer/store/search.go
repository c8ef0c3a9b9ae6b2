package store

import (
	"database/sql"
	"fmt"

	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/types"
)

// IndexText (re)indexes one node's searchable body under content_type in
// the FTS5 index, replacing any prior entry for the same (node, content_type).
func (s *Store) IndexText(node types.NodeID, contentType, body string) error {
	if _, err := s.conn.Exec(
		`DELETE FROM text_search WHERE node_id = ? AND content_type = ?`, int64(node), contentType,
	); err != nil {
		return fmt.Errorf("clearing prior text index: %w", err)
	}
	_, err := s.conn.Exec(
		`INSERT INTO text_search (node_id, content_type, body) VALUES (?, ?, ?)`,
		int64(node), contentType, body,
	)
	if err != nil {
		return fmt.Errorf("indexing text: %w", err)
	}
	return nil
}

// GetIndexedText returns the raw body previously indexed via IndexText for
// (node, contentType), or a NotFound error if nothing was indexed under
// that content type yet.
func (s *Store) GetIndexedText(node types.NodeID, contentType string) (string, error) {
	var body string
	err := s.conn.QueryRow(
		`SELECT body FROM text_search WHERE node_id = ? AND content_type = ?`,
		int64(node), contentType,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return "", herrors.NotFound("indexed text not found")
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

// Search runs a full-text query over indexed node content, ranked by FTS5's
// built-in bm25 relevance.
func (s *Store) Search(query string, scope types.SearchScope) ([]types.SearchHit, error) {
	q := `
		SELECT node_id, content_type, snippet(text_search, 2, '[', ']', '...', 16), bm25(text_search)
		FROM text_search
		WHERE text_search MATCH ?`
	args := []any{query}

	if len(scope.ContentTypes) > 0 {
		q += ` AND content_type IN (` + placeholders(len(scope.ContentTypes)) + `)`
		for _, ct := range scope.ContentTypes {
			args = append(args, ct)
		}
	}
	q += ` ORDER BY bm25(text_search)`
	limit := scope.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var out []types.SearchHit
	for rows.Next() {
		var nodeID int64
		var contentType, snippet string
		var rank float64
		if err := rows.Scan(&nodeID, &contentType, &snippet, &rank); err != nil {
			return nil, err
		}
		hit := types.SearchHit{NodeID: types.NodeID(nodeID), ContentType: contentType, Snippet: snippet, Rank: rank}
		if len(scope.NodeKinds) > 0 {
			n, err := s.GetNode(hit.NodeID)
			if err != nil {
				continue
			}
			if !kindIn(n.Kind, scope.NodeKinds) {
				continue
			}
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

func kindIn(k types.NodeKind, kinds []types.NodeKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
