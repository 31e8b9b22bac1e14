package bitemporal

import (
	"fmt"
	"time"
)

// Stats summarizes the temporal model.
type Stats struct {
	TotalEdges          int `json:"total_edges"`
	ActiveRelationships int `json:"active_relationships"`
	RevisionCount       int `json:"revision_count"`
	WindowCount         int `json:"window_count"`
}

// Snapshot is a named point-in-time summary, kept for later comparison.
type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Stats     Stats     `json:"stats"`
}

// Stats returns current model statistics.
func (m *Model) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *Model) statsLocked() Stats {
	now := time.Now()
	s := Stats{
		TotalEdges:  len(m.edges),
		WindowCount: len(m.windows),
	}
	for _, edge := range m.edges {
		if edge.Active(now) {
			s.ActiveRelationships++
		}
		s.RevisionCount += len(edge.TransactionTime.Revisions)
	}
	return s
}

// CreateSnapshot records a named summary of the current temporal state.
func (m *Model) CreateSnapshot(name string) (Snapshot, error) {
	if name == "" {
		return Snapshot{}, fmt.Errorf("%w: snapshot name is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.snapshots {
		if existing.Name == name {
			return Snapshot{}, fmt.Errorf("%w: snapshot %q already exists", ErrInvalidInput, name)
		}
	}
	snap := Snapshot{
		Name:      name,
		CreatedAt: time.Now(),
		Stats:     m.statsLocked(),
	}
	m.snapshots = append(m.snapshots, snap)
	return snap, nil
}

// Snapshots lists recorded snapshots in creation order.
func (m *Model) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snapshots...)
}

// State is a serializable dump of the model, used for persistence.
type State struct {
	Edges         []*Edge         `json:"edges"`
	Windows       []ContextWindow `json:"windows"`
	CurrentWindow string          `json:"current_window,omitempty"`
	Snapshots     []Snapshot      `json:"snapshots,omitempty"`
}

// Dump exports the full model state.
func (m *Model) Dump() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := State{
		CurrentWindow: m.currentWindow,
		Snapshots:     append([]Snapshot(nil), m.snapshots...),
	}
	for _, edge := range m.edges {
		state.Edges = append(state.Edges, edge.Clone())
	}
	for _, w := range m.windows {
		state.Windows = append(state.Windows, *w)
	}
	return state
}

// Restore replaces the model contents with a previously dumped state.
func (m *Model) Restore(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.edges = make(map[string]*Edge, len(state.Edges))
	for _, edge := range state.Edges {
		m.edges[edge.ID] = edge.Clone()
	}
	m.windows = make(map[string]*ContextWindow, len(state.Windows))
	for i := range state.Windows {
		w := state.Windows[i]
		m.windows[w.Name] = &w
	}
	m.currentWindow = state.CurrentWindow
	m.snapshots = append([]Snapshot(nil), state.Snapshots...)
}
