package types

import "time"

// NodeKind is the closed set of entity kinds Homer tracks.
type NodeKind string

const (
	NodeFile         NodeKind = "File"
	NodeFunction     NodeKind = "Function"
	NodeType         NodeKind = "Type"
	NodeModule       NodeKind = "Module"
	NodeCommit       NodeKind = "Commit"
	NodeContributor  NodeKind = "Contributor"
	NodeRelease      NodeKind = "Release"
	NodePullRequest  NodeKind = "PullRequest"
	NodeIssue        NodeKind = "Issue"
	NodeDocument     NodeKind = "Document"
	NodeExternalDep  NodeKind = "ExternalDep"
	NodeConcept      NodeKind = "Concept"
	NodePrompt       NodeKind = "Prompt"
	NodeAgentRule    NodeKind = "AgentRule"
	NodeAgentSession NodeKind = "AgentSession"
)

// AllNodeKinds lists every recognized NodeKind, for validation and tests.
var AllNodeKinds = []NodeKind{
	NodeFile, NodeFunction, NodeType, NodeModule,
	NodeCommit, NodeContributor, NodeRelease, NodePullRequest, NodeIssue,
	NodeDocument, NodeExternalDep, NodeConcept,
	NodePrompt, NodeAgentRule, NodeAgentSession,
}

// Node is the immutable conceptual identity (kind, name) for every entity
// Homer tracks. A node is mutated in place when its content hash changes;
// it is never deleted except by an explicit staleness sweep.
type Node struct {
	ID            NodeID
	Kind          NodeKind
	Name          string
	ContentHash   *uint64
	Metadata      map[string]any
	LastExtracted time.Time
}

// NodeFilter narrows a FindNodes query.
type NodeFilter struct {
	Kind         NodeKind // empty means any kind
	NamePrefix   string
	NameContains string
	Limit        int
}
