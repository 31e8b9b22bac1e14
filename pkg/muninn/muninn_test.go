package muninn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/inhibit"
	"github.com/orneryd/muninn/pkg/query"
)

func openMemoryEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func seedEngine(t *testing.T, e *Engine) {
	t.Helper()
	err := e.Ingest(
		[]*graph.Node{
			{ID: "fn:auth", Type: graph.NodeFunction, Name: "auth", Path: "src/auth.ts", Confidence: 0.9},
			{ID: "fn:session", Type: graph.NodeFunction, Name: "session", Path: "src/session.ts", Confidence: 0.8},
			{ID: "fn:login", Type: graph.NodeFunction, Name: "login", Path: "src/login.ts", Confidence: 0.75},
		},
		[]*graph.Edge{
			{ID: "e1", Source: "fn:auth", Target: "fn:session", Type: graph.EdgeCalls, Weight: 0.8, Confidence: 1.0},
			{ID: "e2", Source: "fn:session", Target: "fn:login", Type: graph.EdgeCalls, Weight: 0.7, Confidence: 0.9},
		},
	)
	require.NoError(t, err)
}

func TestEngine_QueryMemoryOnly(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	res, err := e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, graph.NodeID("fn:auth"), res.Candidates[0].Node.ID)

	// Second identical query is served from cache.
	res, err = e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestEngine_QueryCustomOptions(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	opts := query.DefaultOptions()
	opts.Limit = 1
	opts.BypassCache = true

	res, err := e.Query(context.Background(), "auth", &opts)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 1)
	assert.False(t, res.FromCache)
}

func TestEngine_IngestInvalidatesCache(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	_, err := e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	require.Positive(t, e.Stats().Cache.Entries)

	// Re-ingesting a path that contributed to the cached result drops it.
	err = e.Ingest([]*graph.Node{
		{ID: "fn:auth", Type: graph.NodeFunction, Name: "auth", Path: "src/auth.ts", Confidence: 0.95},
	}, nil)
	require.NoError(t, err)

	res, err := e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.InDelta(t, 0.95, res.Candidates[0].Node.Confidence, 1e-9)
}

func TestEngine_IngestValidation(t *testing.T) {
	e := openMemoryEngine(t)

	err := e.Ingest(nil, []*graph.Edge{
		{ID: "e1", Source: "fn:missing", Target: "fn:also-missing", Type: graph.EdgeCalls, Weight: 1, Confidence: 1},
	})
	assert.Error(t, err)
}

func TestEngine_LearnFromFailure(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	_, err := e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	require.Positive(t, e.Stats().Cache.Entries)

	pattern := e.LearnFromFailure("auth refactor", inhibit.ErrorDetails{Category: "type-error"}, []string{"src/auth.ts"}, "")
	require.NotNil(t, pattern)
	assert.Zero(t, e.Stats().Cache.Entries, "new failure patterns purge the cache")
	assert.Equal(t, 1, e.Stats().Inhibition.TotalPatterns)
}

func TestEngine_InvalidatePathsKeepsLearnedState(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	// Build up learned state through a query and a failure.
	_, err := e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	e.LearnFromFailure("auth refactor", inhibit.ErrorDetails{Category: "type-error"}, []string{"src/auth.ts"}, "")
	_, err = e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)

	before := e.Stats()
	require.Positive(t, before.Hebbian.TotalConnections)
	require.Positive(t, before.Inhibition.TotalPatterns)

	e.InvalidatePaths([]string{"src/auth.ts"})

	after := e.Stats()
	assert.Equal(t, before.Hebbian.TotalConnections, after.Hebbian.TotalConnections)
	assert.Equal(t, before.Inhibition.TotalPatterns, after.Inhibition.TotalPatterns)
	assert.Zero(t, after.Cache.Entries)
}

func TestEngine_Stats(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	stats := e.Stats()
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 2, stats.Edges)

	_, err := e.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	assert.Positive(t, e.Stats().Hebbian.TotalConnections)
}

func TestEngine_Analyze(t *testing.T) {
	e := openMemoryEngine(t)
	seedEngine(t, e)

	analysis := e.Analyze(context.Background(), 5)
	require.NotNil(t, analysis)
	assert.NotEmpty(t, analysis.Hubs)
}

func TestEngine_PersistenceRoundtrip(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, nil)
	require.NoError(t, err)
	seedEngine(t, e)

	// Bypass the bi-temporal stage so the co-occurrence heuristic does not
	// add a second temporal edge next to the explicit one below.
	opts := query.DefaultOptions()
	opts.BypassBiTemporal = true
	_, err = e.Query(context.Background(), "auth", &opts)
	require.NoError(t, err)
	e.LearnFromFailure("auth refactor", inhibit.ErrorDetails{Category: "type-error"}, []string{"src/auth.ts"}, "")

	_, err = e.Temporal().CreateEdge("fn:auth", "fn:session", "depends_on", time.Now().Add(-time.Hour), "", "static-analysis")
	require.NoError(t, err)

	require.NoError(t, e.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	stats := reopened.Stats()
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 2, stats.Edges)
	assert.Positive(t, stats.Hebbian.TotalConnections)
	assert.Equal(t, 1, stats.Inhibition.TotalPatterns)
	assert.Equal(t, 1, stats.Temporal.TotalEdges)

	res, err := reopened.Query(context.Background(), "auth", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.NodeID("fn:auth"), res.Candidates[0].Node.ID)
}

func TestEngine_CloseIdempotent(t *testing.T) {
	e, err := Open("", nil)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Query(context.Background(), "auth", nil)
	assert.ErrorIs(t, err, graph.ErrClosed)

	assert.Error(t, e.Ingest([]*graph.Node{{ID: "n", Type: graph.NodeFile, Name: "n"}}, nil))
}

func TestEngine_RecordOutcome(t *testing.T) {
	e := openMemoryEngine(t)

	for i := 0; i < 10; i++ {
		e.RecordOutcome(0.85, i < 8)
	}
	analysis := e.Analyze(context.Background(), 5)
	require.NotEmpty(t, analysis.Calibration)
}
