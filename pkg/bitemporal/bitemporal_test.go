package bitemporal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestModel_CreateEdge(t *testing.T) {
	m := NewModel()

	t.Run("creates open-ended edge with created revision", func(t *testing.T) {
		edge, err := m.CreateEdge("file:src/auth.ts", "file:src/http.ts", "depends_on", day(0), "import statement", "static-analysis")
		require.NoError(t, err)

		assert.NotEmpty(t, edge.ID)
		assert.Equal(t, day(0), edge.ValidTime.Start)
		assert.Nil(t, edge.ValidTime.End)
		require.Len(t, edge.TransactionTime.Revisions, 1)
		assert.Equal(t, RevisionCreated, edge.TransactionTime.Revisions[0].Kind)
		assert.True(t, edge.Active(time.Now()))
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		_, err := m.CreateEdge("", "file:b", "depends_on", day(0), "", "")
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = m.CreateEdge("file:a", "file:b", "", day(0), "", "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("returned edge is a copy", func(t *testing.T) {
		edge, err := m.CreateEdge("file:a", "file:b", "calls", day(0), "", "")
		require.NoError(t, err)

		edge.Type = "mutated"
		stored, err := m.GetEdge(edge.ID)
		require.NoError(t, err)
		assert.Equal(t, "calls", stored.Type)
	})
}

func TestModel_InvalidateRelationship(t *testing.T) {
	t.Run("sets end date and appends one revision", func(t *testing.T) {
		m := NewModel()
		edge, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
		require.NoError(t, err)

		updated, err := m.InvalidateRelationship(edge.ID, day(10), "dependency removed", "commit abc123")
		require.NoError(t, err)

		require.NotNil(t, updated.ValidTime.End)
		assert.Equal(t, day(10), *updated.ValidTime.End)
		require.Len(t, updated.TransactionTime.Revisions, 2)
		assert.Equal(t, RevisionInvalidated, updated.TransactionTime.Revisions[1].Kind)
		assert.Equal(t, "dependency removed", updated.TransactionTime.Revisions[1].Reason)
		assert.False(t, updated.Active(day(11)))
		assert.True(t, updated.Active(day(5)))
	})

	t.Run("re-invalidation with earlier date fails", func(t *testing.T) {
		m := NewModel()
		edge, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
		require.NoError(t, err)

		_, err = m.InvalidateRelationship(edge.ID, day(10), "first", "")
		require.NoError(t, err)

		_, err = m.InvalidateRelationship(edge.ID, day(5), "earlier", "")
		var tcErr *TemporalConsistencyError
		require.ErrorAs(t, err, &tcErr)
		assert.Equal(t, edge.ID, tcErr.EdgeID)

		// The original invalidation is untouched.
		stored, err := m.GetEdge(edge.ID)
		require.NoError(t, err)
		assert.Equal(t, day(10), *stored.ValidTime.End)
		assert.Len(t, stored.TransactionTime.Revisions, 2)
	})

	t.Run("re-invalidation with equal or later date succeeds", func(t *testing.T) {
		m := NewModel()
		edge, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
		require.NoError(t, err)

		_, err = m.InvalidateRelationship(edge.ID, day(10), "first", "")
		require.NoError(t, err)

		updated, err := m.InvalidateRelationship(edge.ID, day(10), "same date", "")
		require.NoError(t, err)
		assert.Len(t, updated.TransactionTime.Revisions, 3)

		updated, err = m.InvalidateRelationship(edge.ID, day(15), "later evidence", "")
		require.NoError(t, err)
		assert.Equal(t, day(15), *updated.ValidTime.End)
		assert.Len(t, updated.TransactionTime.Revisions, 4)
	})

	t.Run("invalidation before valid start fails", func(t *testing.T) {
		m := NewModel()
		edge, err := m.CreateEdge("file:a", "file:b", "depends_on", day(5), "", "")
		require.NoError(t, err)

		_, err = m.InvalidateRelationship(edge.ID, day(2), "", "")
		var tcErr *TemporalConsistencyError
		assert.ErrorAs(t, err, &tcErr)
	})

	t.Run("unknown edge", func(t *testing.T) {
		m := NewModel()
		_, err := m.InvalidateRelationship("nope", day(0), "", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestModel_RevisionsAppendOnlyOrdered(t *testing.T) {
	m := NewModel()
	edge, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := m.InvalidateRelationship(edge.ID, day(10+i), "update", "")
		require.NoError(t, err)
	}

	stored, err := m.GetEdge(edge.ID)
	require.NoError(t, err)
	require.Len(t, stored.TransactionTime.Revisions, 6)
	for i := 1; i < len(stored.TransactionTime.Revisions); i++ {
		prev := stored.TransactionTime.Revisions[i-1].Timestamp
		cur := stored.TransactionTime.Revisions[i].Timestamp
		assert.False(t, cur.Before(prev), "revisions must be timestamp-ordered")
	}
}

func TestModel_Query(t *testing.T) {
	m := NewModel()

	e1, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
	require.NoError(t, err)
	_, err = m.InvalidateRelationship(e1.ID, day(10), "removed", "")
	require.NoError(t, err)

	_, err = m.CreateEdge("file:a", "file:c", "depends_on", day(5), "", "")
	require.NoError(t, err)

	_, err = m.CreateEdge("file:b", "file:c", "calls", day(7), "", "")
	require.NoError(t, err)

	t.Run("valid at selects edges true at that time", func(t *testing.T) {
		at := day(6)
		res, err := m.Query(TemporalQuery{ValidAt: &at})
		require.NoError(t, err)
		assert.Len(t, res.Edges, 2) // e1 still valid, e2 started, e3 not yet

		at = day(12)
		res, err = m.Query(TemporalQuery{ValidAt: &at})
		require.NoError(t, err)
		assert.Len(t, res.Edges, 2) // e1 invalidated at day 10
	})

	t.Run("valid during selects overlapping intervals", func(t *testing.T) {
		end := day(4)
		res, err := m.Query(TemporalQuery{ValidDuring: &Interval{Start: day(1), End: &end}})
		require.NoError(t, err)
		require.Len(t, res.Edges, 1)
		assert.Equal(t, e1.ID, res.Edges[0].ID)
	})

	t.Run("node and type filters narrow results", func(t *testing.T) {
		at := day(8)
		res, err := m.Query(TemporalQuery{ValidAt: &at, NodeID: "file:a", EdgeType: "depends_on"})
		require.NoError(t, err)
		assert.Len(t, res.Edges, 2)

		res, err = m.Query(TemporalQuery{ValidAt: &at, NodeID: "file:c", EdgeType: "calls"})
		require.NoError(t, err)
		require.Len(t, res.Edges, 1)
	})

	t.Run("results sorted by valid-time start", func(t *testing.T) {
		res, err := m.Query(TemporalQuery{})
		require.NoError(t, err)
		require.Len(t, res.Edges, 3)
		assert.Equal(t, day(0), res.Edges[0].ValidTime.Start)
		assert.Equal(t, day(5), res.Edges[1].ValidTime.Start)
		assert.Equal(t, day(7), res.Edges[2].ValidTime.Start)
	})

	t.Run("as of excludes edges not yet recorded", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		res, err := m.Query(TemporalQuery{AsOf: &past})
		require.NoError(t, err)
		assert.Empty(t, res.Edges)
	})
}

func TestModel_AsOfReconstruction(t *testing.T) {
	m := NewModel()
	edge, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	beforeInvalidation := time.Now()
	time.Sleep(5 * time.Millisecond)

	_, err = m.InvalidateRelationship(edge.ID, day(10), "removed", "")
	require.NoError(t, err)

	// Knowledge as of the moment before invalidation: still open-ended.
	res, err := m.Query(TemporalQuery{AsOf: &beforeInvalidation})
	require.NoError(t, err)
	require.Len(t, res.Edges, 1)
	assert.Nil(t, res.Edges[0].ValidTime.End)
	assert.Len(t, res.Edges[0].TransactionTime.Revisions, 1)

	// Knowledge now: the invalidation is visible.
	now := time.Now()
	res, err = m.Query(TemporalQuery{AsOf: &now})
	require.NoError(t, err)
	require.Len(t, res.Edges, 1)
	require.NotNil(t, res.Edges[0].ValidTime.End)
	assert.Equal(t, day(10), *res.Edges[0].ValidTime.End)
	assert.Len(t, res.Edges[0].TransactionTime.Revisions, 2)
}

func TestModel_ContextWindows(t *testing.T) {
	m := NewModel()

	_, err := m.CreateWindow("react-18-migration", day(0), "upgrading react", map[string]string{"react": "18.2.0"})
	require.NoError(t, err)

	tagged, err := m.CreateEdge("file:a", "file:b", "depends_on", day(1), "", "")
	require.NoError(t, err)
	assert.Equal(t, "react-18-migration", tagged.Window)

	require.NoError(t, m.CloseCurrentWindow(day(30)))

	untagged, err := m.CreateEdge("file:a", "file:c", "depends_on", day(31), "", "")
	require.NoError(t, err)
	assert.Empty(t, untagged.Window)

	t.Run("query by window returns tagged edges", func(t *testing.T) {
		res, err := m.Query(TemporalQuery{ContextWindow: "react-18-migration"})
		require.NoError(t, err)
		require.Len(t, res.Edges, 1)
		assert.Equal(t, tagged.ID, res.Edges[0].ID)
		require.NotNil(t, res.Window)
		assert.Equal(t, "18.2.0", res.Window.FrameworkVersions["react"])
		assert.False(t, res.Window.Current)
	})

	t.Run("unknown window", func(t *testing.T) {
		_, err := m.Query(TemporalQuery{ContextWindow: "missing"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("at most one window is current", func(t *testing.T) {
		_, err := m.CreateWindow("w1", day(40), "", nil)
		require.NoError(t, err)
		_, err = m.CreateWindow("w2", day(41), "", nil)
		require.NoError(t, err)

		current := 0
		for _, w := range m.Windows() {
			if w.Current {
				current++
			}
		}
		assert.Equal(t, 1, current)

		require.NoError(t, m.SetCurrentWindow("w1"))
		current = 0
		for _, w := range m.Windows() {
			if w.Current {
				current++
				assert.Equal(t, "w1", w.Name)
			}
		}
		assert.Equal(t, 1, current)
	})

	t.Run("duplicate window name rejected", func(t *testing.T) {
		_, err := m.CreateWindow("w1", day(50), "", nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("window end before start rejected", func(t *testing.T) {
		_, err := m.CreateWindow("w3", day(60), "", nil)
		require.NoError(t, err)
		err = m.CloseCurrentWindow(day(59))
		var tcErr *TemporalConsistencyError
		assert.ErrorAs(t, err, &tcErr)
	})
}

func TestModel_EnhanceNodes(t *testing.T) {
	m := NewModel()

	e1, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
	require.NoError(t, err)
	_, err = m.InvalidateRelationship(e1.ID, day(10), "removed", "")
	require.NoError(t, err)

	e2, err := m.CreateEdge("file:a", "file:c", "calls", day(5), "", "")
	require.NoError(t, err)

	t.Run("without history only active relationships", func(t *testing.T) {
		out := m.EnhanceNodes([]string{"file:a"}, day(20), false)
		require.Len(t, out["file:a"], 1)
		rel := out["file:a"][0]
		assert.Equal(t, e2.ID, rel.EdgeID)
		assert.Equal(t, "file:c", rel.Other)
		assert.Equal(t, "outgoing", rel.Direction)
		assert.False(t, rel.Historical)
	})

	t.Run("with history includes invalidated relationships", func(t *testing.T) {
		out := m.EnhanceNodes([]string{"file:a"}, day(20), true)
		require.Len(t, out["file:a"], 2)
		assert.True(t, out["file:a"][0].Historical)
		assert.Equal(t, e1.ID, out["file:a"][0].EdgeID)
	})

	t.Run("incoming direction annotated", func(t *testing.T) {
		out := m.EnhanceNodes([]string{"file:c"}, day(20), false)
		require.Len(t, out["file:c"], 1)
		assert.Equal(t, "incoming", out["file:c"][0].Direction)
		assert.Equal(t, "file:a", out["file:c"][0].Other)
	})
}

func TestModel_ActiveEdgeBetween(t *testing.T) {
	m := NewModel()

	edge, err := m.CreateEdge("file:a", "file:b", "co_occurs", day(0), "", "query-correlation")
	require.NoError(t, err)

	found := m.ActiveEdgeBetween("file:a", "file:b", "co_occurs")
	require.NotNil(t, found)
	assert.Equal(t, edge.ID, found.ID)

	// Direction-agnostic.
	assert.NotNil(t, m.ActiveEdgeBetween("file:b", "file:a", "co_occurs"))
	assert.Nil(t, m.ActiveEdgeBetween("file:a", "file:b", "depends_on"))

	_, err = m.InvalidateRelationship(edge.ID, day(1), "", "")
	require.NoError(t, err)
	assert.Nil(t, m.ActiveEdgeBetween("file:a", "file:b", "co_occurs"))
}

func TestModel_StatsAndSnapshots(t *testing.T) {
	m := NewModel()

	e1, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "", "")
	require.NoError(t, err)
	_, err = m.CreateEdge("file:a", "file:c", "calls", day(0), "", "")
	require.NoError(t, err)
	_, err = m.InvalidateRelationship(e1.ID, day(1), "", "")
	require.NoError(t, err)
	_, err = m.CreateWindow("w", day(0), "", nil)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalEdges)
	assert.Equal(t, 1, stats.ActiveRelationships)
	assert.Equal(t, 3, stats.RevisionCount)
	assert.Equal(t, 1, stats.WindowCount)

	snap, err := m.CreateSnapshot("before-refactor")
	require.NoError(t, err)
	assert.Equal(t, stats, snap.Stats)

	_, err = m.CreateSnapshot("before-refactor")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.Len(t, m.Snapshots(), 1)
}

func TestModel_DumpRestore(t *testing.T) {
	m := NewModel()

	e1, err := m.CreateEdge("file:a", "file:b", "depends_on", day(0), "evidence", "static-analysis")
	require.NoError(t, err)
	_, err = m.InvalidateRelationship(e1.ID, day(10), "removed", "")
	require.NoError(t, err)
	_, err = m.CreateWindow("w", day(0), "desc", map[string]string{"go": "1.25"})
	require.NoError(t, err)
	_, err = m.CreateSnapshot("s1")
	require.NoError(t, err)

	state := m.Dump()

	restored := NewModel()
	restored.Restore(state)

	assert.Equal(t, m.Stats(), restored.Stats())

	got, err := restored.GetEdge(e1.ID)
	require.NoError(t, err)
	assert.Equal(t, day(10), *got.ValidTime.End)
	assert.Len(t, got.TransactionTime.Revisions, 2)

	require.Len(t, restored.Snapshots(), 1)

	// New edges in the restored model are tagged with the restored window.
	tagged, err := restored.CreateEdge("file:x", "file:y", "calls", day(20), "", "")
	require.NoError(t, err)
	assert.Equal(t, "w", tagged.Window)
}

func TestTemporalConsistencyError_Message(t *testing.T) {
	end := day(10)
	err := &TemporalConsistencyError{
		EdgeID:    "e1",
		Requested: day(5),
		Existing:  &end,
		Reason:    "invalidation earlier than recorded invalidation",
	}
	assert.Contains(t, err.Error(), "e1")
	assert.Contains(t, err.Error(), "earlier")

	var target *TemporalConsistencyError
	assert.True(t, errors.As(err, &target))
}
