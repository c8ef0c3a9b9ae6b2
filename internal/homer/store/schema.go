package store

// schema contains the SQL statements that create Homer's hypergraph
// persistence layout: nodes, hyperedges and their members, analysis
// results, checkpoints, and graph snapshots, plus an FTS5 index over
// searchable content. Mirrors the original implementation's table shapes
// (nodes/hyperedges/hyperedge_members/analysis_results/checkpoints) with
// one deliberate addition: a unique index on hyperedges.identity_key,
// which the original's upsert path never enforced. Persisting
// identity_key as a stored column (computed in Go, not SQL) rather than
// a generated column keeps the dedup logic in one place: types.IdentityKey.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS nodes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    kind           TEXT NOT NULL,
    name           TEXT NOT NULL,
    content_hash   INTEGER,
    metadata_json  TEXT,
    last_extracted TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_kind_name ON nodes(kind, name);
CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);

CREATE TABLE IF NOT EXISTS hyperedges (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    kind          TEXT NOT NULL,
    identity_key  TEXT NOT NULL,
    confidence    REAL NOT NULL DEFAULT 1.0,
    metadata_json TEXT,
    last_updated  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hyperedges_identity ON hyperedges(identity_key);
CREATE INDEX IF NOT EXISTS idx_hyperedges_kind ON hyperedges(kind);

CREATE TABLE IF NOT EXISTS hyperedge_members (
    hyperedge_id INTEGER NOT NULL,
    node_id      INTEGER NOT NULL,
    role         TEXT NOT NULL,
    position     INTEGER NOT NULL,
    PRIMARY KEY (hyperedge_id, node_id, role),
    FOREIGN KEY (hyperedge_id) REFERENCES hyperedges(id) ON DELETE CASCADE,
    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_hyperedge_members_node ON hyperedge_members(node_id);
CREATE INDEX IF NOT EXISTS idx_hyperedge_members_role ON hyperedge_members(role);

CREATE TABLE IF NOT EXISTS analysis_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id     INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    data_json   TEXT NOT NULL,
    input_hash  INTEGER NOT NULL,
    computed_at TEXT NOT NULL,
    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_analysis_node_kind ON analysis_results(node_id, kind);
CREATE INDEX IF NOT EXISTS idx_analysis_kind ON analysis_results(kind);

CREATE TABLE IF NOT EXISTS checkpoints (
    key        TEXT PRIMARY KEY,
    value_json TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    label      TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_nodes (
    snapshot_id INTEGER NOT NULL,
    node_id     INTEGER NOT NULL,
    PRIMARY KEY (snapshot_id, node_id),
    FOREIGN KEY (snapshot_id) REFERENCES graph_snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_edges (
    snapshot_id  INTEGER NOT NULL,
    hyperedge_id INTEGER NOT NULL,
    PRIMARY KEY (snapshot_id, hyperedge_id),
    FOREIGN KEY (snapshot_id) REFERENCES graph_snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS aliases (
    from_name TEXT NOT NULL,
    to_name   TEXT NOT NULL,
    kind      TEXT NOT NULL,
    PRIMARY KEY (from_name, kind)
);

CREATE VIRTUAL TABLE IF NOT EXISTS text_search USING fts5(
    node_id UNINDEXED,
    content_type UNINDEXED,
    body,
    tokenize = 'porter unicode61'
);
`
