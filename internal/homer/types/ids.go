// Package types defines the hypergraph data model shared across the store,
// extractors, analyzers, and renderers: node/hyperedge/analysis-result
// shapes, the closed kind enums, and the content-hash codec.
package types

import "fmt"

// NodeID is a type-safe identifier for a stored node.
type NodeID int64

func (id NodeID) String() string { return fmt.Sprintf("%d", int64(id)) }

// HyperedgeID is a type-safe identifier for a stored hyperedge.
type HyperedgeID int64

func (id HyperedgeID) String() string { return fmt.Sprintf("%d", int64(id)) }

// AnalysisResultID is a type-safe identifier for a stored analysis result.
type AnalysisResultID int64

// SnapshotID is a type-safe identifier for a stored snapshot.
type SnapshotID int64
