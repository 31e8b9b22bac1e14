// Package muninn assembles the knowledge-graph retrieval engine.
//
// Engine owns the graph store, the spreading-activation network, the
// learning subsystems (Hebbian, inhibitory), the bi-temporal model, the
// query cache and the query pipeline, plus the optional disk persistence
// layer. Everything runs in-process; there is no network surface here.
//
// A background maintenance loop runs the out-of-band decay cycles and
// periodic snapshots. Learning happens inline during queries; forgetting
// happens on the maintenance clock.
package muninn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/activation"
	"github.com/orneryd/muninn/pkg/bitemporal"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/fusion"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/hebbian"
	"github.com/orneryd/muninn/pkg/inhibit"
	"github.com/orneryd/muninn/pkg/persist"
	"github.com/orneryd/muninn/pkg/query"
	"github.com/orneryd/muninn/pkg/querycache"
)

// Engine is the assembled retrieval engine.
type Engine struct {
	cfg *config.Config

	store       *graph.Store
	network     *activation.Network
	inhibitor   *inhibit.System
	learner     *hebbian.Learner
	fuser       *fusion.Fuser
	calibration *fusion.Calibration
	temporal    *bitemporal.Model
	cache       *querycache.Cache
	orch        *query.Orchestrator
	disk        *persist.Store

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Stats aggregates statistics across every subsystem.
type Stats struct {
	Nodes      int              `json:"nodes"`
	Edges      int              `json:"edges"`
	Hebbian    hebbian.Stats    `json:"hebbian"`
	Inhibition inhibit.Stats    `json:"inhibition"`
	Temporal   bitemporal.Stats `json:"temporal"`
	Cache      querycache.Stats `json:"cache"`
}

// Open assembles an engine. dataDir overrides cfg.DataDir; when both are
// empty the engine runs memory-only. A nil cfg uses defaults.
func Open(dataDir string, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := graph.NewStore()
	cache, err := querycache.New(cfg.CacheSettings())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		store:       store,
		network:     activation.New(store, cfg.ActivationSettings()),
		inhibitor:   inhibit.New(cfg.InhibitionSettings(), store),
		learner:     hebbian.New(cfg.HebbianSettings()),
		fuser:       fusion.New(cfg.FusionSettings()),
		calibration: fusion.NewCalibration(),
		temporal:    bitemporal.NewModel(),
		cache:       cache,
		stop:        make(chan struct{}),
	}

	e.orch, err = query.New(cfg.QuerySettings(), query.Deps{
		Store:       e.store,
		Network:     e.network,
		Inhibitor:   e.inhibitor,
		Learner:     e.learner,
		Fuser:       e.fuser,
		Calibration: e.calibration,
		Temporal:    e.temporal,
		Cache:       e.cache,
	})
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		disk, err := persist.Open(dataDir)
		if err != nil {
			return nil, err
		}
		e.disk = disk
		if err := e.restore(); err != nil {
			disk.Close()
			return nil, err
		}
		fmt.Printf("🧠 muninn: opened %s (%d nodes, %d edges)\n", dataDir, e.store.NodeCount(), e.store.EdgeCount())
	} else {
		fmt.Println("🧠 muninn: memory-only mode")
	}

	e.wg.Add(1)
	go e.maintenanceLoop()

	return e, nil
}

func (e *Engine) restore() error {
	state, err := e.disk.Load()
	if err != nil {
		return err
	}
	if len(state.Nodes) > 0 || len(state.Edges) > 0 {
		if err := e.store.Restore(state.Nodes, state.Edges); err != nil {
			return err
		}
	}
	e.learner.Restore(state.Hebbian)
	e.inhibitor.Restore(state.Inhibition)
	e.temporal.Restore(state.Temporal)
	return nil
}

// maintenanceLoop runs out-of-band decay and periodic persistence until
// Close.
func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	decay := time.NewTicker(e.cfg.Maintenance.DecayInterval)
	defer decay.Stop()

	var persistCh <-chan time.Time
	if e.disk != nil && e.cfg.Maintenance.PersistInterval > 0 {
		persistTicker := time.NewTicker(e.cfg.Maintenance.PersistInterval)
		defer persistTicker.Stop()
		persistCh = persistTicker.C
	}

	for {
		select {
		case <-e.stop:
			return
		case <-decay.C:
			prunedConns := e.learner.Decay()
			prunedPatterns := e.inhibitor.Decay()
			if prunedConns > 0 || prunedPatterns > 0 {
				log.Printf("muninn: decay cycle pruned %d connections, %d patterns", prunedConns, prunedPatterns)
			}
		case <-persistCh:
			if err := e.persistNow(); err != nil {
				log.Printf("muninn: periodic snapshot failed: %v", err)
			}
		}
	}
}

func (e *Engine) persistNow() error {
	nodes, edges := e.store.Snapshot()
	return e.disk.Save(persist.State{
		Nodes:      nodes,
		Edges:      edges,
		Hebbian:    e.learner.Snapshot(),
		Inhibition: e.inhibitor.Patterns(),
		Temporal:   e.temporal.Dump(),
	})
}

// Query executes a query with the given options; nil opts uses the
// configured defaults.
func (e *Engine) Query(ctx context.Context, text string, opts *query.Options) (*query.Result, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	o := e.cfg.QueryOptions()
	if opts != nil {
		o = *opts
	}
	return e.orch.Execute(ctx, text, o)
}

// Ingest adds nodes and edges to the graph and invalidates cached results
// that depended on the touched paths.
func (e *Engine) Ingest(nodes []*graph.Node, edges []*graph.Edge) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	var paths []string
	for _, node := range nodes {
		if err := e.store.AddNode(node); err != nil {
			return fmt.Errorf("ingest node %s: %w", node.ID, err)
		}
		if node.Path != "" {
			paths = append(paths, node.Path)
		}
	}
	for _, edge := range edges {
		if err := e.store.AddEdge(edge); err != nil {
			return fmt.Errorf("ingest edge %s: %w", edge.ID, err)
		}
	}
	if len(paths) > 0 {
		e.cache.InvalidatePaths(paths)
	}
	return nil
}

// LearnFromFailure records a task failure as an inhibitory pattern.
// Cached results are dropped wholesale: new patterns can change ranking
// for any query.
func (e *Engine) LearnFromFailure(task string, details inhibit.ErrorDetails, files []string, context string) *inhibit.Pattern {
	if e.checkOpen() != nil {
		return nil
	}
	pattern := e.inhibitor.LearnFromFailure(task, details, files, context)
	if pattern != nil {
		e.cache.Purge()
	}
	return pattern
}

// InvalidatePaths drops cached results depending on the given paths.
// Learned state (Hebbian connections, inhibitory patterns) is deliberately
// untouched: a file change invalidates retrieval results, not what the
// engine has learned about co-use and failures.
func (e *Engine) InvalidatePaths(paths []string) int {
	if e.checkOpen() != nil {
		return 0
	}
	return e.cache.InvalidatePaths(paths)
}

// RecordOutcome feeds a prediction outcome into confidence calibration.
func (e *Engine) RecordOutcome(predicted float64, correct bool) {
	e.calibration.RecordOutcome(predicted, correct)
}

// Analyze runs the graph analysis methods.
func (e *Engine) Analyze(ctx context.Context, topN int) *query.Analysis {
	return e.orch.Analyze(ctx, topN)
}

// Temporal exposes the bi-temporal model for relationship management.
func (e *Engine) Temporal() *bitemporal.Model {
	return e.temporal
}

// Store exposes the underlying graph store.
func (e *Engine) Store() *graph.Store {
	return e.store
}

// Stats aggregates statistics from every subsystem.
func (e *Engine) Stats() Stats {
	return Stats{
		Nodes:      e.store.NodeCount(),
		Edges:      e.store.EdgeCount(),
		Hebbian:    e.learner.Stats(),
		Inhibition: e.inhibitor.Stats(),
		Temporal:   e.temporal.Stats(),
		Cache:      e.cache.Stats(),
	}
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return graph.ErrClosed
	}
	return nil
}

// Close stops maintenance, writes a final snapshot when persistence is
// configured, and releases resources. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()

	var firstErr error
	if e.disk != nil {
		if err := e.persistNow(); err != nil {
			firstErr = err
		}
		if err := e.disk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		fmt.Println("💾 muninn: snapshot written")
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
