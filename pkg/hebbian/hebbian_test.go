package hebbian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/graph"
)

func TestLearner_RecordCoActivation(t *testing.T) {
	t.Run("first reinforcement", func(t *testing.T) {
		l := New(DefaultConfig())
		l.RecordCoActivation("a", []graph.NodeID{"b"}, "query", 1.0)

		// 0 + 0.1×1.0×(1−0) = 0.1
		assert.InDelta(t, 0.1, l.Strength("a", "b"), 1e-12)
	})

	t.Run("symmetry", func(t *testing.T) {
		l := New(DefaultConfig())
		l.RecordCoActivation("b", []graph.NodeID{"a"}, "query", 1.0)

		assert.Equal(t, l.Strength("a", "b"), l.Strength("b", "a"))
		conns := l.Connections("a")
		require.Len(t, conns, 1)
		assert.Equal(t, graph.NodeID("a"), conns[0].A)
		assert.Equal(t, graph.NodeID("b"), conns[0].B)
	})

	t.Run("self-pairs skipped", func(t *testing.T) {
		l := New(DefaultConfig())
		l.RecordCoActivation("a", []graph.NodeID{"a", "b"}, "query", 1.0)

		assert.Equal(t, 0.0, l.Strength("a", "a"))
		assert.Equal(t, 1, l.Stats().TotalConnections)
	})

	t.Run("zero strength is a no-op", func(t *testing.T) {
		l := New(DefaultConfig())
		l.RecordCoActivation("a", []graph.NodeID{"b"}, "query", 0)
		assert.Equal(t, 0, l.Stats().TotalConnections)
	})
}

// Strength must be non-decreasing under repeated identical reinforcement and
// converge toward (never past) 1.0.
func TestLearner_MonotonicSaturation(t *testing.T) {
	l := New(DefaultConfig())

	prev := 0.0
	for i := 0; i < 500; i++ {
		l.RecordCoActivation("a", []graph.NodeID{"b"}, "query", 1.0)
		current := l.Strength("a", "b")
		require.GreaterOrEqual(t, current, prev, "reinforcement %d decreased strength", i)
		require.LessOrEqual(t, current, 1.0)
		prev = current
	}
	assert.Greater(t, prev, 0.99, "500 reinforcements should approach saturation")
}

func TestLearner_Decay(t *testing.T) {
	t.Run("unreinforced connections decay monotonically", func(t *testing.T) {
		l := New(DefaultConfig())
		l.RecordCoActivation("a", []graph.NodeID{"b"}, "query", 1.0)
		l.Decay() // start a cycle so the connection counts as stale next time

		prev := l.Strength("a", "b")
		for i := 0; i < 20; i++ {
			l.Decay()
			current := l.Strength("a", "b")
			require.LessOrEqual(t, current, prev)
			prev = current
		}
		assert.InDelta(t, 0.1*pow(0.98, 20), prev, 1e-9)
	})

	t.Run("weak connections are pruned", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DecayRate = 0.9
		l := New(cfg)
		l.RecordCoActivation("a", []graph.NodeID{"b"}, "query", 1.0)
		l.Decay()

		pruned := l.Decay() // 0.1 → 0.01 → below epsilon on the next pass
		if pruned == 0 {
			pruned = l.Decay()
		}
		assert.Equal(t, 1, pruned)
		assert.Equal(t, 0, l.Stats().TotalConnections)
	})

	t.Run("recent reinforcement is spared", func(t *testing.T) {
		l := New(DefaultConfig())
		l.Decay() // establish a cycle boundary in the past
		l.RecordCoActivation("a", []graph.NodeID{"b"}, "query", 1.0)

		before := l.Strength("a", "b")
		l.Decay()
		assert.Equal(t, before, l.Strength("a", "b"))
	})
}

func TestLearner_ConnectionsSorted(t *testing.T) {
	l := New(DefaultConfig())
	l.RecordCoActivation("a", []graph.NodeID{"weak"}, "query", 0.2)
	l.RecordCoActivation("a", []graph.NodeID{"strong"}, "query", 1.0)
	l.RecordCoActivation("a", []graph.NodeID{"strong"}, "query", 1.0)
	l.RecordCoActivation("a", []graph.NodeID{"mid"}, "query", 0.6)

	conns := l.Connections("a")
	require.Len(t, conns, 3)
	assert.Equal(t, graph.NodeID("strong"), partner(conns[0], "a"))
	assert.Equal(t, graph.NodeID("mid"), partner(conns[1], "a"))
	assert.Equal(t, graph.NodeID("weak"), partner(conns[2], "a"))
}

func TestLearner_Stats(t *testing.T) {
	l := New(DefaultConfig())
	assert.Equal(t, 0, l.Stats().TotalConnections)

	l.RecordCoActivation("a", []graph.NodeID{"b", "c"}, "query", 1.0)

	stats := l.Stats()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.InDelta(t, 0.1, stats.AverageStrength, 1e-12)
	assert.Equal(t, 2, stats.StrengthHistogram[1]) // both at 0.1
}

func TestLearner_SnapshotRestore(t *testing.T) {
	l := New(DefaultConfig())
	l.RecordCoActivation("a", []graph.NodeID{"b", "c"}, "query", 1.0)

	restored := New(DefaultConfig())
	restored.Restore(l.Snapshot())

	assert.Equal(t, l.Strength("a", "b"), restored.Strength("a", "b"))
	assert.Equal(t, l.Strength("a", "c"), restored.Strength("a", "c"))
	assert.Equal(t, 2, restored.Stats().TotalConnections)
}

func pow(base float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}
