// Package hebbian maintains associative connections between nodes that are
// frequently retrieved together ("fire together, wire together").
//
// Connections are unordered pairs with a strength in [0,1]. Reinforcement
// saturates toward 1:
//
//	strength += learningRate × signal × (1 − strength)
//
// so repeated identical reinforcement is monotonically non-decreasing and
// converges to 1.0 without ever crossing it. Decay runs out-of-band: every
// connection not reinforced since the previous cycle is multiplied by
// (1 − decayRate), and connections below a prune epsilon are dropped.
//
// ELI12 (Explain Like I'm 12):
//
// Think of a footpath in the grass between two buildings. Every time people
// walk it together, the path gets a little more worn in — but each trip
// matters less once the path is already obvious. If nobody walks it for a
// while, the grass slowly grows back, and eventually the path disappears.
package hebbian

import (
	"sort"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/graph"
)

// Config holds Hebbian learning parameters.
type Config struct {
	// LearningRate scales each reinforcement step.
	LearningRate float64
	// DecayRate is the per-cycle multiplier applied to unreinforced
	// connections: strength ×= (1 − DecayRate).
	DecayRate float64
	// PruneEpsilon drops connections whose strength falls below it.
	PruneEpsilon float64
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate: 0.1,
		DecayRate:    0.02,
		PruneEpsilon: 0.01,
	}
}

// Connection is a symmetric association between two nodes.
//
// A and B are stored in lexicographic order so (x,y) and (y,x) address the
// same connection.
type Connection struct {
	A              graph.NodeID `json:"a"`
	B              graph.NodeID `json:"b"`
	Strength       float64      `json:"strength"`
	Context        string       `json:"context,omitempty"`
	LastReinforced time.Time    `json:"last_reinforced"`
}

type pairKey struct {
	a, b graph.NodeID
}

func keyFor(x, y graph.NodeID) pairKey {
	if x < y {
		return pairKey{x, y}
	}
	return pairKey{y, x}
}

// Stats summarizes the connection table for observability.
type Stats struct {
	TotalConnections int     `json:"total_connections"`
	AverageStrength  float64 `json:"average_strength"`
	// StrengthHistogram counts connections per 0.1-wide strength bin.
	StrengthHistogram [10]int `json:"strength_histogram"`
}

// Learner is the Hebbian connection table. Safe for concurrent use; decay
// holds the lock only for the table walk and never blocks queries longer
// than that.
type Learner struct {
	mu          sync.RWMutex
	config      Config
	connections map[pairKey]*Connection

	// lastCycle marks the previous decay run; connections reinforced after
	// it are spared by the next run.
	lastCycle time.Time
}

// New creates an empty learner.
func New(config Config) *Learner {
	return &Learner{
		config:      config,
		connections: make(map[pairKey]*Connection),
		lastCycle:   time.Now(),
	}
}

// RecordCoActivation reinforces the connection between the primary node and
// every co-activated node. Self-pairs are skipped. The signal strength is
// typically rank-weighted by the caller.
func (l *Learner) RecordCoActivation(primary graph.NodeID, coActivated []graph.NodeID, context string, strength float64) {
	if primary == "" || strength <= 0 {
		return
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, other := range coActivated {
		if other == "" || other == primary {
			continue
		}
		key := keyFor(primary, other)
		conn, ok := l.connections[key]
		if !ok {
			conn = &Connection{A: key.a, B: key.b, Context: context}
			l.connections[key] = conn
		}
		conn.Strength += l.config.LearningRate * strength * (1 - conn.Strength)
		if conn.Strength > 1 {
			conn.Strength = 1
		}
		conn.LastReinforced = now
	}
}

// Decay runs one out-of-band maintenance cycle: every connection not
// reinforced since the previous cycle decays by (1 − DecayRate); connections
// below the prune epsilon are removed. Returns the number pruned.
func (l *Learner) Decay() int {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key, conn := range l.connections {
		if conn.LastReinforced.After(l.lastCycle) {
			continue
		}
		conn.Strength *= 1 - l.config.DecayRate
		if conn.Strength < l.config.PruneEpsilon {
			delete(l.connections, key)
			pruned++
		}
	}
	l.lastCycle = now
	return pruned
}

// Connections returns all connections touching the given node, sorted by
// strength descending (ties by the partner id).
func (l *Learner) Connections(id graph.NodeID) []Connection {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Connection
	for _, conn := range l.connections {
		if conn.A == id || conn.B == id {
			out = append(out, *conn)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return partner(out[i], id) < partner(out[j], id)
	})
	return out
}

// Strength returns the current strength between two nodes, zero when no
// connection exists.
func (l *Learner) Strength(x, y graph.NodeID) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if conn, ok := l.connections[keyFor(x, y)]; ok {
		return conn.Strength
	}
	return 0
}

// Stats returns table-level statistics.
func (l *Learner) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{TotalConnections: len(l.connections)}
	if len(l.connections) == 0 {
		return stats
	}

	sum := 0.0
	for _, conn := range l.connections {
		sum += conn.Strength
		bin := int(conn.Strength * 10)
		if bin > 9 {
			bin = 9
		}
		stats.StrengthHistogram[bin]++
	}
	stats.AverageStrength = sum / float64(len(l.connections))
	return stats
}

// Snapshot returns a copy of every connection for persistence.
func (l *Learner) Snapshot() []Connection {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Connection, 0, len(l.connections))
	for _, conn := range l.connections {
		out = append(out, *conn)
	}
	return out
}

// Restore replaces the table with the given connections.
func (l *Learner) Restore(connections []Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connections = make(map[pairKey]*Connection, len(connections))
	for i := range connections {
		conn := connections[i]
		l.connections[keyFor(conn.A, conn.B)] = &conn
	}
}

func partner(conn Connection, id graph.NodeID) graph.NodeID {
	if conn.A == id {
		return conn.B
	}
	return conn.A
}
