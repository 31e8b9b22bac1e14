package bitemporal

import (
	"fmt"
	"sort"
	"time"
)

// TemporalQuery selects edges along either timeline. Exactly one of AsOf,
// ValidAt, ValidDuring, or ContextWindow drives the query; NodeID and
// EdgeType narrow the results.
type TemporalQuery struct {
	// AsOf reconstructs knowledge as of a transaction time: what did the
	// system believe at that moment?
	AsOf *time.Time
	// ValidAt selects relationships that were true at a valid time.
	ValidAt *time.Time
	// ValidDuring selects relationships whose valid time overlaps the
	// interval.
	ValidDuring *Interval
	// ContextWindow selects edges recorded under a named window.
	ContextWindow string

	NodeID   string
	EdgeType string
}

// QueryResult holds selected edges plus any matched context window.
type QueryResult struct {
	Edges  []*Edge
	Window *ContextWindow
}

// Query evaluates a temporal query. Results are sorted by valid-time start,
// then edge id, for deterministic output.
func (m *Model) Query(q TemporalQuery) (*QueryResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := &QueryResult{}

	if q.ContextWindow != "" {
		window, ok := m.windows[q.ContextWindow]
		if !ok {
			return nil, fmt.Errorf("context window %q: %w", q.ContextWindow, ErrNotFound)
		}
		copied := *window
		result.Window = &copied
	}

	for _, edge := range m.edges {
		if !m.matchesLocked(edge, q) {
			continue
		}
		view := edge.Clone()
		if q.AsOf != nil {
			view = asOfView(edge, *q.AsOf)
		}
		result.Edges = append(result.Edges, view)
	}

	sort.Slice(result.Edges, func(i, j int) bool {
		a, b := result.Edges[i], result.Edges[j]
		if !a.ValidTime.Start.Equal(b.ValidTime.Start) {
			return a.ValidTime.Start.Before(b.ValidTime.Start)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (m *Model) matchesLocked(edge *Edge, q TemporalQuery) bool {
	if q.NodeID != "" && string(edge.Source) != q.NodeID && string(edge.Target) != q.NodeID {
		return false
	}
	if q.EdgeType != "" && edge.Type != q.EdgeType {
		return false
	}

	switch {
	case q.AsOf != nil:
		// Unknown before the system recorded it.
		return !edge.TransactionTime.Created.After(*q.AsOf)
	case q.ValidAt != nil:
		return edge.ValidTime.Contains(*q.ValidAt)
	case q.ValidDuring != nil:
		return edge.ValidTime.Overlaps(*q.ValidDuring)
	case q.ContextWindow != "":
		return edge.Window == q.ContextWindow
	default:
		return true
	}
}

// asOfView reconstructs an edge as it was known at transaction time t:
// revisions after t are dropped, and an end date is visible only if its
// invalidation revision had been recorded by t.
func asOfView(edge *Edge, t time.Time) *Edge {
	view := edge.Clone()
	kept := view.TransactionTime.Revisions[:0]
	var knownEnd *time.Time
	for _, rev := range view.TransactionTime.Revisions {
		if rev.Timestamp.After(t) {
			continue
		}
		if rev.Kind == RevisionInvalidated && rev.ValidTimeEnd != nil {
			end := *rev.ValidTimeEnd
			knownEnd = &end
		}
		kept = append(kept, rev)
	}
	view.TransactionTime.Revisions = kept
	view.ValidTime.End = knownEnd
	return view
}

// Relationship annotates a node with one of its temporal edges.
type Relationship struct {
	EdgeID        string     `json:"edge_id"`
	Other         string     `json:"other"`
	Type          string     `json:"type"`
	Direction     string     `json:"direction"` // "outgoing" or "incoming"
	ValidSince    time.Time  `json:"valid_since"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	Historical    bool       `json:"historical"`
}

// EnhanceNodes annotates node ids with the temporal relationships valid at
// queryTime. With includeHistory, invalidated relationships are included
// and flagged Historical.
func (m *Model) EnhanceNodes(nodeIDs []string, queryTime time.Time, includeHistory bool) map[string][]Relationship {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]Relationship, len(nodeIDs))
	want := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		want[id] = true
		out[id] = nil
	}

	for _, edge := range m.edges {
		active := edge.Active(queryTime)
		if !active && !includeHistory {
			continue
		}
		rel := Relationship{
			EdgeID:        edge.ID,
			Type:          edge.Type,
			ValidSince:    edge.ValidTime.Start,
			InvalidatedAt: edge.ValidTime.End,
			Historical:    !active,
		}
		if want[string(edge.Source)] {
			r := rel
			r.Other = string(edge.Target)
			r.Direction = "outgoing"
			out[string(edge.Source)] = append(out[string(edge.Source)], r)
		}
		if want[string(edge.Target)] {
			r := rel
			r.Other = string(edge.Source)
			r.Direction = "incoming"
			out[string(edge.Target)] = append(out[string(edge.Target)], r)
		}
	}

	for id := range out {
		rels := out[id]
		sort.Slice(rels, func(i, j int) bool {
			if !rels[i].ValidSince.Equal(rels[j].ValidSince) {
				return rels[i].ValidSince.Before(rels[j].ValidSince)
			}
			return rels[i].EdgeID < rels[j].EdgeID
		})
	}
	return out
}
