// Package graph provides the in-memory knowledge graph store that every other
// Muninn subsystem builds on.
//
// The store is a thread-safe arena of nodes and edges addressed by stable
// string ids. Cycles are expected (dependency loops, mutual relates_to) and
// are safe because nothing holds owning references; consumers like the
// activation network terminate by round caps, not cycle detection.
//
// Key behaviors:
//   - AddNode/AddEdge are upserts by id (last-write-wins, never an error)
//   - FindNodes/FindEdges are full predicate scans; an external scale manager
//     decides when a scan is acceptable for the current graph size tier
//   - RemoveNode does NOT cascade: edges referencing a removed node become
//     dangling and are filtered lazily by every reader
//
// Example:
//
//	store := graph.NewStore()
//	store.AddNode(&graph.Node{ID: "src/auth.ts", Type: graph.NodeFile, Name: "auth.ts", Confidence: 0.9})
//	store.AddNode(&graph.Node{ID: "src/login.ts", Type: graph.NodeFile, Name: "login.ts", Confidence: 0.7})
//	store.AddEdge(&graph.Edge{ID: "e1", Source: "src/auth.ts", Target: "src/login.ts",
//		Type: graph.EdgeRelatesTo, Weight: 0.8, Confidence: 1.0})
//
//	files := store.FindNodes(func(n *graph.Node) bool { return n.Type == graph.NodeFile })
package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors returned by Store operations.
var (
	ErrNotFound  = errors.New("graph: not found")
	ErrInvalidID = errors.New("graph: invalid id")
	ErrClosed    = errors.New("graph: store is closed")
)

// ValidationError reports a structurally invalid node or edge.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "graph: validation failed: " + e.Reason
}

// Store is the in-memory graph. All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Secondary indexes for adjacency lookups
	nodesByPath   map[string]map[NodeID]struct{}
	outgoingEdges map[NodeID]map[EdgeID]struct{}
	incomingEdges map[NodeID]map[EdgeID]struct{}

	closed bool
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		nodesByPath:   make(map[string]map[NodeID]struct{}),
		outgoingEdges: make(map[NodeID]map[EdgeID]struct{}),
		incomingEdges: make(map[NodeID]map[EdgeID]struct{}),
	}
}

// AddNode inserts or replaces a node by id. Duplicate-id insertion is an
// upsert, never an error; the last write wins.
func (s *Store) AddNode(node *Node) error {
	if node == nil {
		return &ValidationError{Reason: "nil node"}
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if existing, ok := s.nodes[node.ID]; ok && existing.Path != "" {
		if idx := s.nodesByPath[existing.Path]; idx != nil {
			delete(idx, node.ID)
		}
	}

	stored := node.Clone()
	if stored.LastUpdated.IsZero() {
		stored.LastUpdated = time.Now()
	}
	s.nodes[node.ID] = stored

	if stored.Path != "" {
		if s.nodesByPath[stored.Path] == nil {
			s.nodesByPath[stored.Path] = make(map[NodeID]struct{})
		}
		s.nodesByPath[stored.Path][node.ID] = struct{}{}
	}

	return nil
}

// AddEdge inserts or replaces an edge by id (upsert, last-write-wins).
//
// Both endpoints must exist at insertion time, and a "contains" edge may not
// be a self-loop. Endpoints may later be removed; readers filter the
// resulting dangling edges lazily.
func (s *Store) AddEdge(edge *Edge) error {
	if edge == nil {
		return &ValidationError{Reason: "nil edge"}
	}
	if edge.ID == "" {
		return ErrInvalidID
	}
	if edge.Type == EdgeContains && edge.Source == edge.Target {
		return &ValidationError{Reason: fmt.Sprintf("contains self-loop on %q", edge.Source)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, ok := s.nodes[edge.Source]; !ok {
		return fmt.Errorf("edge %q source %q: %w", edge.ID, edge.Source, ErrNotFound)
	}
	if _, ok := s.nodes[edge.Target]; !ok {
		return fmt.Errorf("edge %q target %q: %w", edge.ID, edge.Target, ErrNotFound)
	}

	// Replacing an edge whose endpoints changed must fix the adjacency indexes.
	if existing, ok := s.edges[edge.ID]; ok {
		if idx := s.outgoingEdges[existing.Source]; idx != nil {
			delete(idx, edge.ID)
		}
		if idx := s.incomingEdges[existing.Target]; idx != nil {
			delete(idx, edge.ID)
		}
	}

	stored := edge.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.edges[edge.ID] = stored

	if s.outgoingEdges[edge.Source] == nil {
		s.outgoingEdges[edge.Source] = make(map[EdgeID]struct{})
	}
	s.outgoingEdges[edge.Source][edge.ID] = struct{}{}

	if s.incomingEdges[edge.Target] == nil {
		s.incomingEdges[edge.Target] = make(map[EdgeID]struct{})
	}
	s.incomingEdges[edge.Target][edge.ID] = struct{}{}

	return nil
}

// GetNode retrieves a node by id.
func (s *Store) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return node.Clone(), nil
}

// GetEdge retrieves an edge by id. Dangling edges (an endpoint was removed)
// are reported as not found.
func (s *Store) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	edge, ok := s.edges[id]
	if !ok || !s.edgeLive(edge) {
		return nil, ErrNotFound
	}
	return edge.Clone(), nil
}

// RemoveNode deletes a node by id.
//
// Edges referencing the removed node are NOT cascaded; they stay in the edge
// table as dangling entries and every reader filters them out. This keeps
// removal O(1) and matches the external scanners' churn patterns (a file
// rewrite removes and re-adds the same ids within one scan batch).
func (s *Store) RemoveNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	node, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}

	if node.Path != "" {
		if idx := s.nodesByPath[node.Path]; idx != nil {
			delete(idx, id)
		}
	}
	delete(s.nodes, id)
	return nil
}

// FindNodes returns all nodes matching the predicate. This is a full scan;
// callers at larger graph size tiers should prefer the adjacency accessors.
func (s *Store) FindNodes(pred func(*Node) bool) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	var out []*Node
	for _, node := range s.nodes {
		if pred == nil || pred(node) {
			out = append(out, node.Clone())
		}
	}
	return out
}

// FindEdges returns all live edges matching the predicate. Dangling edges are
// filtered here, not at RemoveNode time.
func (s *Store) FindEdges(pred func(*Edge) bool) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	var out []*Edge
	for _, edge := range s.edges {
		if !s.edgeLive(edge) {
			continue
		}
		if pred == nil || pred(edge) {
			out = append(out, edge.Clone())
		}
	}
	return out
}

// NodesByPath returns all nodes that share the given file path.
func (s *Store) NodesByPath(path string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := s.nodesByPath[path]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(ids))
	for id := range ids {
		if node := s.nodes[id]; node != nil {
			out = append(out, node.Clone())
		}
	}
	return out
}

// OutgoingEdges returns all live edges starting at the given node.
func (s *Store) OutgoingEdges(id NodeID) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adjacent(s.outgoingEdges[id])
}

// IncomingEdges returns all live edges ending at the given node.
func (s *Store) IncomingEdges(id NodeID) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adjacent(s.incomingEdges[id])
}

// Neighbors returns the distinct live nodes reachable from id over one edge
// in either direction.
func (s *Store) Neighbors(id NodeID) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	seen := make(map[NodeID]struct{})
	var out []*Node
	appendNode := func(nid NodeID) {
		if _, dup := seen[nid]; dup {
			return
		}
		if node := s.nodes[nid]; node != nil {
			seen[nid] = struct{}{}
			out = append(out, node.Clone())
		}
	}

	for eid := range s.outgoingEdges[id] {
		if edge := s.edges[eid]; edge != nil && s.edgeLive(edge) {
			appendNode(edge.Target)
		}
	}
	for eid := range s.incomingEdges[id] {
		if edge := s.edges[eid]; edge != nil && s.edgeLive(edge) {
			appendNode(edge.Source)
		}
	}
	return out
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of live edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, edge := range s.edges {
		if s.edgeLive(edge) {
			count++
		}
	}
	return count
}

// CompactEdges drops dangling edges eagerly. Maintenance-only; readers never
// need it for correctness.
func (s *Store) CompactEdges() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, edge := range s.edges {
		if s.edgeLive(edge) {
			continue
		}
		if idx := s.outgoingEdges[edge.Source]; idx != nil {
			delete(idx, id)
		}
		if idx := s.incomingEdges[edge.Target]; idx != nil {
			delete(idx, id)
		}
		delete(s.edges, id)
		removed++
	}
	return removed
}

// Snapshot returns deep copies of all nodes and all edges (dangling included,
// so a restore preserves lazy-filter semantics exactly).
func (s *Store) Snapshot() ([]*Node, []*Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node.Clone())
	}
	edges := make([]*Edge, 0, len(s.edges))
	for _, edge := range s.edges {
		edges = append(edges, edge.Clone())
	}
	return nodes, edges
}

// Restore replaces the store contents with the given nodes and edges.
// Used by the persistence layer; not part of the query path.
func (s *Store) Restore(nodes []*Node, edges []*Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.nodes = make(map[NodeID]*Node, len(nodes))
	s.edges = make(map[EdgeID]*Edge, len(edges))
	s.nodesByPath = make(map[string]map[NodeID]struct{})
	s.outgoingEdges = make(map[NodeID]map[EdgeID]struct{})
	s.incomingEdges = make(map[NodeID]map[EdgeID]struct{})

	for _, node := range nodes {
		if node == nil || node.ID == "" {
			continue
		}
		stored := node.Clone()
		s.nodes[stored.ID] = stored
		if stored.Path != "" {
			if s.nodesByPath[stored.Path] == nil {
				s.nodesByPath[stored.Path] = make(map[NodeID]struct{})
			}
			s.nodesByPath[stored.Path][stored.ID] = struct{}{}
		}
	}
	for _, edge := range edges {
		if edge == nil || edge.ID == "" {
			continue
		}
		stored := edge.Clone()
		s.edges[stored.ID] = stored
		if s.outgoingEdges[stored.Source] == nil {
			s.outgoingEdges[stored.Source] = make(map[EdgeID]struct{})
		}
		s.outgoingEdges[stored.Source][stored.ID] = struct{}{}
		if s.incomingEdges[stored.Target] == nil {
			s.incomingEdges[stored.Target] = make(map[EdgeID]struct{})
		}
		s.incomingEdges[stored.Target][stored.ID] = struct{}{}
	}
	return nil
}

// Close releases the store. Subsequent operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.nodes = nil
	s.edges = nil
	s.nodesByPath = nil
	s.outgoingEdges = nil
	s.incomingEdges = nil
	return nil
}

// edgeLive reports whether both endpoints still exist. Callers must hold the
// lock.
func (s *Store) edgeLive(e *Edge) bool {
	if _, ok := s.nodes[e.Source]; !ok {
		return false
	}
	_, ok := s.nodes[e.Target]
	return ok
}

// adjacent collects live edge copies for an index entry. Callers must hold
// the read lock.
func (s *Store) adjacent(ids map[EdgeID]struct{}) []*Edge {
	if s.closed || len(ids) == 0 {
		return nil
	}
	out := make([]*Edge, 0, len(ids))
	for id := range ids {
		if edge := s.edges[id]; edge != nil && s.edgeLive(edge) {
			out = append(out, edge.Clone())
		}
	}
	return out
}
