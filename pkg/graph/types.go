package graph

import "time"

// NodeID uniquely identifies a node in the knowledge graph.
//
// IDs are stable string handles. Composite ids (e.g. "src/auth.ts#class:Session")
// let multiple nodes share a file path.
type NodeID string

// EdgeID uniquely identifies an edge.
type EdgeID string

// NodeType classifies what a node represents in the scanned project.
//
// The set is open: scanners may introduce new types without a schema change.
type NodeType string

// Well-known node types produced by the scanning collaborators.
const (
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
	NodeFunction  NodeType = "function"
	NodeClass     NodeType = "class"
	NodeError     NodeType = "error"
	NodePattern   NodeType = "pattern"
)

// EdgeType classifies a relationship between two nodes.
//
// The set is open, like NodeType.
type EdgeType string

// Well-known edge types.
const (
	EdgeContains  EdgeType = "contains"
	EdgeDependsOn EdgeType = "depends_on"
	EdgeRelatesTo EdgeType = "relates_to"
	EdgeCalls     EdgeType = "calls"
	EdgeUsedBy    EdgeType = "used_by"
)

// Node is a single entity in the knowledge graph: a file, function, class,
// error, detected pattern, or anything else a scanner reports.
//
// Nodes are value types identified by ID. The store deep-copies at its API
// boundary, so callers can never mutate shared state through a returned Node;
// updates go through Store.AddNode (upsert, last-write-wins).
type Node struct {
	ID          NodeID         `json:"id"`
	Type        NodeType       `json:"type"`
	Name        string         `json:"name"`
	Path        string         `json:"path,omitempty"`
	Confidence  float64        `json:"confidence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Edge is a directed, weighted relationship between two nodes.
//
// Weight is the propagation factor used by activation spreading; Confidence
// is how sure the producing scanner or learner was about the relationship.
type Edge struct {
	ID         EdgeID         `json:"id"`
	Source     NodeID         `json:"source"`
	Target     NodeID         `json:"target"`
	Type       EdgeType       `json:"type"`
	Weight     float64        `json:"weight"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	copied := *n
	if n.Metadata != nil {
		copied.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	copied := *e
	if e.Metadata != nil {
		copied.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
