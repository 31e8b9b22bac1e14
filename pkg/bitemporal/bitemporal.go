// Package bitemporal layers valid-time/transaction-time tracking over graph
// relationships.
//
// Bi-temporal means every relationship carries two independent timelines:
//
//   - Valid time: when the relationship was true in the project
//     ("auth.ts depended on legacy-http from March until the migration")
//   - Transaction time: when Muninn learned about it, recorded as an
//     append-only, timestamp-ordered revision history
//
// The split answers two different questions — "what was true at time T?"
// versus "what did we believe at time T?" — which diverge whenever a
// relationship is discovered late or invalidated retroactively.
//
// Consistency invariants:
//   - validTime.Start ≤ validTime.End when End is present
//   - revisions are append-only and timestamp-ordered
//   - a relationship may not be re-invalidated with a date earlier than an
//     already-recorded invalidation (TemporalConsistencyError)
//
// Context windows group relationship changes over a named interval (e.g. a
// framework migration period); at most one window is current for
// write-tagging at a time.
package bitemporal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/muninn/pkg/graph"
)

// Errors returned by Model operations.
var (
	ErrNotFound     = errors.New("bitemporal: edge not found")
	ErrInvalidInput = errors.New("bitemporal: invalid input")
)

// TemporalConsistencyError reports a violation of the bi-temporal ordering
// invariants: re-invalidating with an earlier date, or a malformed interval.
type TemporalConsistencyError struct {
	EdgeID    string
	Requested time.Time
	Existing  *time.Time
	Reason    string
}

func (e *TemporalConsistencyError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("bitemporal: edge %s: %s (requested %s, existing %s)",
			e.EdgeID, e.Reason, e.Requested.Format(time.RFC3339), e.Existing.Format(time.RFC3339))
	}
	return fmt.Sprintf("bitemporal: edge %s: %s (requested %s)",
		e.EdgeID, e.Reason, e.Requested.Format(time.RFC3339))
}

// Interval is a valid-time interval. A nil End means open-ended.
type Interval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the interval, treating a nil End
// as "still valid now".
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.Start) {
		return false
	}
	if iv.End != nil && t.After(*iv.End) {
		return false
	}
	return true
}

// Overlaps reports whether two intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	if other.End != nil && other.End.Before(iv.Start) {
		return false
	}
	if iv.End != nil && iv.End.Before(other.Start) {
		return false
	}
	return true
}

// RevisionKind labels what a revision recorded.
type RevisionKind string

const (
	RevisionCreated     RevisionKind = "created"
	RevisionInvalidated RevisionKind = "invalidated"
)

// Revision is one append-only entry in an edge's transaction-time history.
type Revision struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Kind      RevisionKind `json:"kind"`
	Reason    string       `json:"reason,omitempty"`
	Evidence  string       `json:"evidence,omitempty"`
	// ValidTimeEnd records the valid-time end set by an invalidation.
	ValidTimeEnd *time.Time `json:"valid_time_end,omitempty"`
}

// TransactionTime is the system-knowledge timeline of an edge.
type TransactionTime struct {
	Created   time.Time  `json:"created"`
	Revisions []Revision `json:"revisions"`
}

// Edge is a bi-temporal relationship between two graph nodes.
type Edge struct {
	ID              string          `json:"id"`
	Source          graph.NodeID    `json:"source"`
	Target          graph.NodeID    `json:"target"`
	Type            string          `json:"type"`
	ValidTime       Interval        `json:"valid_time"`
	TransactionTime TransactionTime `json:"transaction_time"`
	Evidence        string          `json:"evidence,omitempty"`
	DiscoveryMethod string          `json:"discovery_method,omitempty"`
	Confidence      float64         `json:"confidence"`
	// Window is the context window current when the edge was recorded.
	Window string `json:"window,omitempty"`
}

// Active reports whether the edge is valid at t (open-ended counts).
func (e *Edge) Active(t time.Time) bool {
	return e.ValidTime.Contains(t)
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	copied := *e
	copied.TransactionTime.Revisions = append([]Revision(nil), e.TransactionTime.Revisions...)
	if e.ValidTime.End != nil {
		end := *e.ValidTime.End
		copied.ValidTime.End = &end
	}
	return &copied
}

// ContextWindow names an interval grouping related relationship changes.
type ContextWindow struct {
	Name              string            `json:"name"`
	Interval          Interval          `json:"interval"`
	Description       string            `json:"description,omitempty"`
	FrameworkVersions map[string]string `json:"framework_versions,omitempty"`
	Current           bool              `json:"current"`
}

// Model is the bi-temporal relationship store. Safe for concurrent use.
type Model struct {
	mu            sync.RWMutex
	edges         map[string]*Edge
	windows       map[string]*ContextWindow
	currentWindow string
	snapshots     []Snapshot
}

// NewModel creates an empty bi-temporal model.
func NewModel() *Model {
	return &Model{
		edges:   make(map[string]*Edge),
		windows: make(map[string]*ContextWindow),
	}
}

// CreateEdge records a newly discovered relationship. Valid time starts at
// validStart and is open-ended; transaction time starts now with a single
// "created" revision. The edge is tagged with the current context window,
// if any.
func (m *Model) CreateEdge(source, target graph.NodeID, edgeType string, validStart time.Time, evidence, discoveryMethod string) (*Edge, error) {
	if source == "" || target == "" || edgeType == "" {
		return nil, fmt.Errorf("%w: source, target and type are required", ErrInvalidInput)
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	edge := &Edge{
		ID:     uuid.NewString(),
		Source: source,
		Target: target,
		Type:   edgeType,
		ValidTime: Interval{
			Start: validStart,
		},
		TransactionTime: TransactionTime{
			Created: now,
			Revisions: []Revision{{
				ID:        uuid.NewString(),
				Timestamp: now,
				Kind:      RevisionCreated,
				Evidence:  evidence,
			}},
		},
		Evidence:        evidence,
		DiscoveryMethod: discoveryMethod,
		Confidence:      1.0,
		Window:          m.currentWindow,
	}
	m.edges[edge.ID] = edge
	return edge.Clone(), nil
}

// InvalidateRelationship closes an edge's valid time at invalidationDate and
// appends exactly one revision.
//
// Fails with TemporalConsistencyError when the date precedes the edge's
// valid-time start, or when the edge already has an end date and the new
// date is earlier than it. Re-invalidating with an equal or later date
// succeeds.
func (m *Model) InvalidateRelationship(edgeID string, invalidationDate time.Time, reason, evidence string) (*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edge, ok := m.edges[edgeID]
	if !ok {
		return nil, fmt.Errorf("edge %q: %w", edgeID, ErrNotFound)
	}

	if invalidationDate.Before(edge.ValidTime.Start) {
		return nil, &TemporalConsistencyError{
			EdgeID:    edgeID,
			Requested: invalidationDate,
			Reason:    "invalidation before valid-time start",
		}
	}
	if edge.ValidTime.End != nil && invalidationDate.Before(*edge.ValidTime.End) {
		return nil, &TemporalConsistencyError{
			EdgeID:    edgeID,
			Requested: invalidationDate,
			Existing:  edge.ValidTime.End,
			Reason:    "invalidation earlier than recorded invalidation",
		}
	}

	end := invalidationDate
	edge.ValidTime.End = &end
	edge.TransactionTime.Revisions = append(edge.TransactionTime.Revisions, Revision{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Kind:         RevisionInvalidated,
		Reason:       reason,
		Evidence:     evidence,
		ValidTimeEnd: &end,
	})
	return edge.Clone(), nil
}

// GetEdge retrieves an edge by id.
func (m *Model) GetEdge(id string) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edge, ok := m.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %q: %w", id, ErrNotFound)
	}
	return edge.Clone(), nil
}

// ActiveEdgeBetween returns an edge of the given type between two nodes that
// is valid now, or nil. Used by the query pipeline to avoid duplicating
// opportunistic edges.
func (m *Model) ActiveEdgeBetween(source, target graph.NodeID, edgeType string) *Edge {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, edge := range m.edges {
		if edge.Type != edgeType || !edge.Active(now) {
			continue
		}
		if (edge.Source == source && edge.Target == target) ||
			(edge.Source == target && edge.Target == source) {
			return edge.Clone()
		}
	}
	return nil
}
