package types

import (
	"sort"
	"strings"
	"time"
)

// HyperedgeKind is the closed set of N-ary relation kinds.
type HyperedgeKind string

const (
	EdgeModifies             HyperedgeKind = "Modifies"
	EdgeAuthored             HyperedgeKind = "Authored"
	EdgeCalls                HyperedgeKind = "Calls"
	EdgeImports              HyperedgeKind = "Imports"
	EdgeInherits             HyperedgeKind = "Inherits"
	EdgeResolves             HyperedgeKind = "Resolves"
	EdgeReviewed             HyperedgeKind = "Reviewed"
	EdgeBelongsTo            HyperedgeKind = "BelongsTo"
	EdgeIncludes             HyperedgeKind = "Includes"
	EdgeDependsOn            HyperedgeKind = "DependsOn"
	EdgeAliases              HyperedgeKind = "Aliases"
	EdgeDocuments            HyperedgeKind = "Documents"
	EdgePromptReferences     HyperedgeKind = "PromptReferences"
	EdgePromptModifiedFiles  HyperedgeKind = "PromptModifiedFiles"
	EdgeRelatedPrompts       HyperedgeKind = "RelatedPrompts"
	EdgeCoChanges            HyperedgeKind = "CoChanges"
	EdgeClusterMembers       HyperedgeKind = "ClusterMembers"
	EdgeEncompasses          HyperedgeKind = "Encompasses"
)

// AllHyperedgeKinds lists every recognized HyperedgeKind.
var AllHyperedgeKinds = []HyperedgeKind{
	EdgeModifies, EdgeAuthored, EdgeCalls, EdgeImports, EdgeInherits,
	EdgeResolves, EdgeReviewed, EdgeBelongsTo, EdgeIncludes, EdgeDependsOn,
	EdgeAliases, EdgeDocuments, EdgePromptReferences, EdgePromptModifiedFiles,
	EdgeRelatedPrompts, EdgeCoChanges, EdgeClusterMembers, EdgeEncompasses,
}

// HyperedgeMember is one participant of a hyperedge: the node, its role
// within the edge (e.g. "caller"/"callee"), and its position (preserved on
// write but excluded from identity).
type HyperedgeMember struct {
	NodeID   NodeID
	Role     string
	Position int
}

// Hyperedge is an N-ary typed relation between nodes.
type Hyperedge struct {
	ID          HyperedgeID
	Kind        HyperedgeKind
	Members     []HyperedgeMember
	Confidence  float64
	Metadata    map[string]any
	LastUpdated time.Time
}

// IdentityKey computes the deterministic identity of a hyperedge: its kind
// plus the lexicographically sorted set of (role, node_id) member pairs.
// Position is deliberately excluded — two edges with the same kind and
// member set are the same edge regardless of member ordering. This is the
// invariant that makes repeated extraction idempotent (spec §3, §8).
func IdentityKey(kind HyperedgeKind, members []HyperedgeMember) string {
	pairs := make([]string, len(members))
	for i, m := range members {
		pairs[i] = m.Role + "\x1f" + m.NodeID.String()
	}
	sort.Strings(pairs)
	var b strings.Builder
	b.WriteString(string(kind))
	for _, p := range pairs {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return b.String()
}

// IdentityKey is a convenience method computing the edge's own identity key
// from its current kind and members.
func (e *Hyperedge) IdentityKey() string {
	return IdentityKey(e.Kind, e.Members)
}

// directedRolePairs maps a (source-role, target-role) pair recognized when
// projecting a hyperedge onto a directed (source, target) pair for
// in-memory graph construction.
var directedSourceRoles = []string{"caller", "source", "importer", "subclass", "child"}
var directedTargetRoles = []string{"callee", "target", "imported", "superclass", "parent"}

// ExtractDirectedPair projects a hyperedge's members onto a single directed
// (source, target) pair, preferring recognized role names and falling back
// to position order. Mirrors the original implementation's
// extract_directed_pair so in-memory graph construction agrees with it.
func ExtractDirectedPair(members []HyperedgeMember) (NodeID, NodeID) {
	if len(members) == 0 {
		return 0, 0
	}
	if len(members) == 1 {
		return members[0].NodeID, members[0].NodeID
	}

	var source, target *HyperedgeMember
	for i := range members {
		m := &members[i]
		if source == nil && containsRole(directedSourceRoles, m.Role) {
			source = m
		}
		if target == nil && containsRole(directedTargetRoles, m.Role) {
			target = m
		}
	}
	if source != nil && target != nil {
		return source.NodeID, target.NodeID
	}

	sorted := make([]HyperedgeMember, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	return sorted[0].NodeID, sorted[1].NodeID
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
