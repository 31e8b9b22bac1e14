package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/bitemporal"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/hebbian"
	"github.com/orneryd/muninn/pkg/inhibit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleState(t *testing.T) State {
	t.Helper()

	temporal := bitemporal.NewModel()
	edge, err := temporal.CreateEdge("fn:a", "fn:b", "depends_on",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "import", "static-analysis")
	require.NoError(t, err)
	_, err = temporal.InvalidateRelationship(edge.ID,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "removed", "")
	require.NoError(t, err)

	learner := hebbian.New(hebbian.DefaultConfig())
	learner.RecordCoActivation("fn:a", []graph.NodeID{"fn:b"}, "auth", 1.0)

	inhibitor := inhibit.New(inhibit.DefaultConfig(), nil)
	inhibitor.LearnFromFailure("parse config", inhibit.ErrorDetails{Category: "import"}, []string{"src/x.ts"}, "")

	return State{
		Nodes: []*graph.Node{
			{ID: "fn:a", Type: graph.NodeFunction, Name: "a", Path: "src/a.ts", Confidence: 0.9},
			{ID: "fn:b", Type: graph.NodeFunction, Name: "b", Path: "src/b.ts", Confidence: 0.8},
		},
		Edges: []*graph.Edge{
			{ID: "e1", Source: "fn:a", Target: "fn:b", Type: graph.EdgeCalls, Weight: 0.8, Confidence: 1.0},
		},
		Hebbian:    learner.Snapshot(),
		Inhibition: inhibitor.Patterns(),
		Temporal:   temporal.Dump(),
	}
}

func TestStore_SaveLoadRoundtrip(t *testing.T) {
	store := openTestStore(t)
	saved := sampleState(t)

	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)

	require.Len(t, loaded.Nodes, 2)
	require.Len(t, loaded.Edges, 1)
	assert.Equal(t, graph.NodeID("fn:a"), loaded.Edges[0].Source)

	require.Len(t, loaded.Hebbian, 1)
	assert.InDelta(t, 0.1, loaded.Hebbian[0].Strength, 1e-9)

	require.Len(t, loaded.Inhibition, 1)
	assert.Equal(t, "parse config", loaded.Inhibition[0].Task)
	assert.InDelta(t, 0.4, loaded.Inhibition[0].Strength, 1e-9)

	require.Len(t, loaded.Temporal.Edges, 1)
	require.NotNil(t, loaded.Temporal.Edges[0].ValidTime.End)
	assert.Len(t, loaded.Temporal.Edges[0].TransactionTime.Revisions, 2)

	assert.False(t, loaded.SavedAt.IsZero())
}

func TestStore_LoadEmptyDatabase(t *testing.T) {
	store := openTestStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Nodes)
	assert.Empty(t, loaded.Edges)
	assert.Empty(t, loaded.Hebbian)
	assert.Empty(t, loaded.Inhibition)
	assert.Empty(t, loaded.Temporal.Edges)
	assert.True(t, loaded.SavedAt.IsZero())
}

func TestStore_SaveReplacesRemovedEntities(t *testing.T) {
	store := openTestStore(t)
	state := sampleState(t)
	require.NoError(t, store.Save(state))

	// Second save with fn:b and the edge gone.
	state.Nodes = state.Nodes[:1]
	state.Edges = nil
	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, graph.NodeID("fn:a"), loaded.Nodes[0].ID)
	assert.Empty(t, loaded.Edges)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleState(t)))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 2)
	assert.Len(t, loaded.Hebbian, 1)
}
