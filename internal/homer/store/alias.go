package store

import "database/sql"

// RecordAlias records that fromName was renamed/merged to toName for the
// given node kind. Alias chains are stored as a sequence of pairwise edges
// (fromName -> toName), not one N-ary edge, so each rename is independently
// recorded and ResolveCanonical can walk the chain one hop at a time.
func (s *Store) RecordAlias(kind string, fromName, toName string) error {
	_, err := s.conn.Exec(
		`INSERT INTO aliases (from_name, to_name, kind) VALUES (?, ?, ?)
		 ON CONFLICT(from_name, kind) DO UPDATE SET to_name = excluded.to_name`,
		fromName, toName, kind,
	)
	return err
}

// ResolveCanonical walks the alias chain starting at name until it reaches
// a name with no further alias, guarding against cycles.
func (s *Store) ResolveCanonical(kind, name string) (string, error) {
	seen := map[string]bool{name: true}
	current := name
	for {
		var next string
		err := s.conn.QueryRow(`SELECT to_name FROM aliases WHERE from_name = ? AND kind = ?`, current, kind).Scan(&next)
		if err == sql.ErrNoRows {
			return current, nil
		}
		if err != nil {
			return "", err
		}
		if seen[next] {
			return current, nil
		}
		seen[next] = true
		current = next
	}
}

// AliasChain returns the full sequence of names from the oldest alias
// down to the canonical current name.
func (s *Store) AliasChain(kind, name string) ([]string, error) {
	chain := []string{name}
	seen := map[string]bool{name: true}
	current := name
	for {
		var next string
		err := s.conn.QueryRow(`SELECT to_name FROM aliases WHERE from_name = ? AND kind = ?`, current, kind).Scan(&next)
		if err == sql.ErrNoRows {
			return chain, nil
		}
		if err != nil {
			return nil, err
		}
		if seen[next] {
			return chain, nil
		}
		chain = append(chain, next)
		seen[next] = true
		current = next
	}
}
