// Package query runs retrieval requests through a fixed multi-stage
// pipeline over the knowledge graph.
//
// The pipeline order is: fast path, routing, cache lookup, ranking,
// inhibition, context boost, attention, bi-temporal annotation, Hebbian
// recording, confidence fusion, cache store. Ranking is load-bearing: if
// it fails the query fails with a HardFailure. Every other stage is
// auxiliary: a failure (error or panic) is logged, the pre-stage result is
// kept, and the pipeline continues.
package query

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/muninn/pkg/activation"
	"github.com/orneryd/muninn/pkg/bitemporal"
	"github.com/orneryd/muninn/pkg/fusion"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/hebbian"
	"github.com/orneryd/muninn/pkg/inhibit"
	"github.com/orneryd/muninn/pkg/querycache"
)

// Config tunes orchestrator behavior.
type Config struct {
	// CoOccurrenceThreshold is the minimum confidence both of the top
	// two results need before an opportunistic co-occurrence edge is
	// recorded.
	CoOccurrenceThreshold float64
	// AnalyzeTimeout bounds each analysis method in Analyze.
	AnalyzeTimeout time.Duration
	// MaxLimit caps the per-query result limit.
	MaxLimit int
}

// DefaultConfig returns production orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		CoOccurrenceThreshold: 0.7,
		AnalyzeTimeout:        2 * time.Second,
		MaxLimit:              100,
	}
}

// ContextBooster adjusts candidate scores using recent query context.
type ContextBooster interface {
	Boost(query string, candidates []*Candidate, level float64) []*Candidate
}

// Attention focuses a candidate list, dropping weak trailing results.
type Attention interface {
	Focus(query string, candidates []*Candidate) []*Candidate
}

// Orchestrator wires the retrieval subsystems into the query pipeline.
type Orchestrator struct {
	cfg         Config
	store       *graph.Store
	network     *activation.Network
	inhibitor   *inhibit.System
	learner     *hebbian.Learner
	fuser       *fusion.Fuser
	calibration *fusion.Calibration
	temporal    *bitemporal.Model
	cache       *querycache.Cache
	booster     ContextBooster
	attention   Attention
}

// Deps are the subsystems an orchestrator operates on. Store, Network,
// Inhibitor, Learner, Fuser and Temporal are required; Cache, Booster,
// Attention and Calibration are optional.
type Deps struct {
	Store       *graph.Store
	Network     *activation.Network
	Inhibitor   *inhibit.System
	Learner     *hebbian.Learner
	Fuser       *fusion.Fuser
	Calibration *fusion.Calibration
	Temporal    *bitemporal.Model
	Cache       *querycache.Cache
	Booster     ContextBooster
	Attention   Attention
}

// New creates an orchestrator over the given subsystems.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil || deps.Network == nil || deps.Inhibitor == nil ||
		deps.Learner == nil || deps.Fuser == nil || deps.Temporal == nil {
		return nil, fmt.Errorf("query: store, network, inhibitor, learner, fuser and temporal are required")
	}
	if cfg.CoOccurrenceThreshold <= 0 {
		cfg.CoOccurrenceThreshold = DefaultConfig().CoOccurrenceThreshold
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = DefaultConfig().AnalyzeTimeout
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultConfig().MaxLimit
	}
	o := &Orchestrator{
		cfg:         cfg,
		store:       deps.Store,
		network:     deps.Network,
		inhibitor:   deps.Inhibitor,
		learner:     deps.Learner,
		fuser:       deps.Fuser,
		calibration: deps.Calibration,
		temporal:    deps.Temporal,
		cache:       deps.Cache,
		booster:     deps.Booster,
		attention:   deps.Attention,
	}
	if o.booster == nil {
		o.booster = newRecencyBooster()
	}
	if o.attention == nil {
		o.attention = thresholdAttention{ratio: 0.1}
	}
	return o, nil
}

// Execute runs a query through the pipeline.
func (o *Orchestrator) Execute(ctx context.Context, queryText string, opts Options) (*Result, error) {
	started := time.Now()

	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	opts = opts.normalize()
	if opts.Limit > o.cfg.MaxLimit {
		opts.Limit = o.cfg.MaxLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Query: queryText, Route: RouteStandard}

	// Stage 1: literal path lookups skip ranking entirely.
	fastStart := time.Now()
	if isLiteralPath(queryText) {
		if nodes := o.store.NodesByPath(queryText); len(nodes) > 0 {
			result.Route = RouteFastPath
			for _, n := range nodes {
				result.Candidates = append(result.Candidates, &Candidate{
					Node:            n,
					Score:           1.0,
					Activation:      1.0,
					FinalConfidence: n.Confidence,
				})
			}
			trimCandidates(result, opts.Limit)
			result.Stages = append(result.Stages, StageTrace{Stage: StageFastPath, Duration: time.Since(fastStart)})
			result.Duration = time.Since(started)
			return result, nil
		}
	}
	result.Stages = append(result.Stages, StageTrace{Stage: StageFastPath, Duration: time.Since(fastStart), Skipped: true})

	// Stage 2: specialized prefixes route to their own handlers.
	routeStart := time.Now()
	route, rest := routeFor(queryText)
	result.Stages = append(result.Stages, StageTrace{Stage: StageRouting, Duration: time.Since(routeStart)})
	switch route {
	case RouteGraph, RouteTemporal, RouteAggregate:
		specialized, err := o.execSpecialized(route, rest, opts)
		if err != nil {
			return nil, err
		}
		specialized.Query = queryText
		specialized.Stages = append(result.Stages, specialized.Stages...)
		specialized.Duration = time.Since(started)
		return specialized, nil
	}

	// Stage 3: cache lookup.
	cacheKey := querycache.Key(queryText, opts.fingerprint())
	if o.cache != nil && !opts.BypassCache {
		lookupStart := time.Now()
		if value, ok := o.cache.Get(cacheKey); ok {
			cached, ok := value.(*Result)
			if ok {
				hit := cached.Clone()
				hit.FromCache = true
				hit.Duration = time.Since(started)
				return hit, nil
			}
		}
		result.Stages = append(result.Stages, StageTrace{Stage: StageCacheLookup, Duration: time.Since(lookupStart)})
	} else {
		result.Stages = append(result.Stages, StageTrace{Stage: StageCacheLookup, Skipped: true})
	}

	// Stage 4: ranking. The only stage whose failure aborts the query.
	if err := o.rank(result, queryText, opts); err != nil {
		return nil, &HardFailure{Stage: StageRanking, Err: err}
	}

	// Stages 5-10 are auxiliary and individually recoverable.
	o.runStage(result, StageInhibition, opts.BypassInhibition, func() error {
		return o.applyInhibition(result, queryText)
	})
	o.runStage(result, StageContextBoost, opts.ContextLevel <= 0, func() error {
		result.Candidates = o.booster.Boost(queryText, result.Candidates, opts.ContextLevel)
		sortCandidates(result.Candidates)
		return nil
	})
	o.runStage(result, StageAttention, opts.BypassAttention, func() error {
		result.Candidates = o.attention.Focus(queryText, result.Candidates)
		return nil
	})
	o.runStage(result, StageBiTemporal, opts.BypassBiTemporal, func() error {
		return o.annotateTemporal(result, opts)
	})
	o.runStage(result, StageHebbian, opts.BypassHebbian, func() error {
		o.recordCoActivations(result, queryText)
		return nil
	})
	o.runStage(result, StageFusion, opts.BypassFusion, func() error {
		return o.fuseConfidence(result)
	})

	trimCandidates(result, opts.Limit)

	// Stage 11: store for next time.
	if o.cache != nil && !opts.BypassCache {
		storeStart := time.Now()
		cacheable := result.Clone()
		cacheable.Duration = 0
		o.cache.Put(cacheKey, cacheable, cacheable.size(), cacheable.paths())
		result.Stages = append(result.Stages, StageTrace{Stage: StageCacheStore, Duration: time.Since(storeStart)})
	} else {
		result.Stages = append(result.Stages, StageTrace{Stage: StageCacheStore, Skipped: true})
	}

	result.Duration = time.Since(started)
	return result, nil
}

func (o *Orchestrator) execSpecialized(route Route, rest string, opts Options) (*Result, error) {
	switch route {
	case RouteGraph:
		return o.execGraph(rest, opts)
	case RouteTemporal:
		return o.execTemporal(rest, opts)
	default:
		return o.execAggregate(rest, opts)
	}
}

// runStage executes an auxiliary stage, recovering from errors and panics
// by restoring the pre-stage candidate list.
func (o *Orchestrator) runStage(result *Result, stage Stage, skip bool, fn func() error) {
	if skip {
		result.Stages = append(result.Stages, StageTrace{Stage: stage, Skipped: true})
		return
	}

	before := make([]*Candidate, len(result.Candidates))
	for i, c := range result.Candidates {
		cc := *c
		before[i] = &cc
	}
	scoreBefore := result.InhibitionScore

	started := time.Now()
	trace := StageTrace{Stage: stage}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()

	trace.Duration = time.Since(started)
	if err != nil {
		log.Printf("query: stage %s recovered: %v", stage, err)
		trace.Recovered = true
		trace.Error = err.Error()
		result.Candidates = before
		result.InhibitionScore = scoreBefore
	}
	result.Stages = append(result.Stages, trace)
}

// rank produces the initial candidate list via spreading activation, or
// the linear substring ranker when forced or when no seeds match.
func (o *Orchestrator) rank(result *Result, queryText string, opts Options) error {
	started := time.Now()
	defer func() {
		result.Stages = append(result.Stages, StageTrace{Stage: StageRanking, Duration: time.Since(started)})
	}()

	if !opts.UseLinearRanker {
		seeds := o.network.MatchSeeds(queryText)
		if len(seeds) > 0 {
			ranked := o.network.Rank(seeds, opts.ActivationLevels, opts.Decay)
			for i := range ranked {
				result.Candidates = append(result.Candidates, &Candidate{
					Node:            ranked[i].Node,
					Score:           ranked[i].Score,
					Activation:      ranked[i].Activation,
					FinalConfidence: ranked[i].Node.Confidence,
				})
			}
			return nil
		}
	}
	result.Candidates = o.linearRank(queryText)
	return nil
}

// linearRank is the fallback ranker: case-insensitive substring scoring
// over names and paths, weighted by node confidence.
func (o *Orchestrator) linearRank(queryText string) []*Candidate {
	terms := strings.Fields(strings.ToLower(queryText))
	if len(terms) == 0 {
		return nil
	}

	var out []*Candidate
	nodes := o.store.FindNodes(func(*graph.Node) bool { return true })
	for _, node := range nodes {
		name := strings.ToLower(node.Name)
		path := strings.ToLower(node.Path)
		matched := 0
		for _, term := range terms {
			if strings.Contains(name, term) || strings.Contains(path, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		coverage := float64(matched) / float64(len(terms))
		out = append(out, &Candidate{
			Node:            node,
			Score:           0.7*coverage + 0.3*node.Confidence,
			Activation:      coverage,
			FinalConfidence: node.Confidence,
		})
	}
	sortCandidates(out)
	return out
}

func (o *Orchestrator) applyInhibition(result *Result, queryText string) error {
	if len(result.Candidates) == 0 {
		return nil
	}
	in := make([]inhibit.Candidate, len(result.Candidates))
	byID := make(map[graph.NodeID]*Candidate, len(result.Candidates))
	for i, c := range result.Candidates {
		in[i] = inhibit.Candidate{
			ID:         c.Node.ID,
			Path:       c.Node.Path,
			Confidence: c.Score,
		}
		byID[c.Node.ID] = c
	}

	res := o.inhibitor.Apply(in, queryText, "")
	result.InhibitionScore = res.InhibitionScore

	kept := make([]*Candidate, 0, len(res.Candidates))
	for _, ic := range res.Candidates {
		c := byID[ic.ID]
		if c == nil {
			continue
		}
		c.InhibitionPenalty = c.Score - ic.Confidence
		c.Score = ic.Confidence
		kept = append(kept, c)
	}
	sortCandidates(kept)
	result.Candidates = kept
	return nil
}

// annotateTemporal attaches valid relationships to each candidate and
// records a co-occurrence edge between the top two results when both carry
// high confidence and no such edge is already active.
func (o *Orchestrator) annotateTemporal(result *Result, opts Options) error {
	queryTime := time.Now()
	if opts.ValidAt != nil {
		queryTime = *opts.ValidAt
	}

	ids := make([]string, len(result.Candidates))
	for i, c := range result.Candidates {
		ids[i] = string(c.Node.ID)
	}
	annotations := o.temporal.EnhanceNodes(ids, queryTime, opts.IncludeHistory)
	for _, c := range result.Candidates {
		c.Relationships = annotations[string(c.Node.ID)]
	}

	if len(result.Candidates) >= 2 {
		a, b := result.Candidates[0], result.Candidates[1]
		if a.Node.Confidence > o.cfg.CoOccurrenceThreshold &&
			b.Node.Confidence > o.cfg.CoOccurrenceThreshold &&
			o.temporal.ActiveEdgeBetween(a.Node.ID, b.Node.ID, "co_occurs") == nil {
			_, err := o.temporal.CreateEdge(a.Node.ID, b.Node.ID, "co_occurs",
				queryTime, fmt.Sprintf("co-retrieved for %q", result.Query), "query-correlation")
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// recordCoActivations reinforces Hebbian connections between the top
// result and the rest, weighted by inverse rank.
func (o *Orchestrator) recordCoActivations(result *Result, queryText string) {
	if len(result.Candidates) < 2 {
		return
	}
	primary := result.Candidates[0].Node.ID
	for rank, c := range result.Candidates[1:] {
		signal := 1.0 / float64(rank+2)
		o.learner.RecordCoActivation(primary, []graph.NodeID{c.Node.ID}, queryText, signal)
	}
}

// fuseConfidence combines activation, structural confidence and Hebbian
// affinity into a fused confidence per candidate.
func (o *Orchestrator) fuseConfidence(result *Result) error {
	if len(result.Candidates) == 0 {
		return nil
	}
	primary := result.Candidates[0].Node.ID

	for _, c := range result.Candidates {
		evidence := []fusion.Evidence{
			{Modality: "activation", Value: clamp01(c.Score), Weight: 0.6, Uncertainty: 0.2},
			{Modality: "structural", Value: clamp01(c.Node.Confidence), Weight: 0.3, Uncertainty: 0.1},
		}
		if c.Node.ID != primary {
			if affinity := o.learner.Strength(primary, c.Node.ID); affinity > 0 {
				evidence = append(evidence, fusion.Evidence{
					Modality: "hebbian", Value: affinity, Weight: 0.1, Uncertainty: 0.3,
				})
			}
		}
		fused, err := o.fuser.Fuse(evidence)
		if err != nil {
			return err
		}
		c.FinalConfidence = fused.FinalConfidence
	}

	// The fused confidence is what the caller sees, so it is also the
	// final ranking key.
	sort.Slice(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.FinalConfidence != b.FinalConfidence {
			return a.FinalConfidence > b.FinalConfidence
		}
		if a.Node.Confidence != b.Node.Confidence {
			return a.Node.Confidence > b.Node.Confidence
		}
		return a.Node.ID < b.Node.ID
	})
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
