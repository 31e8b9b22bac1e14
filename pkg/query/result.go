package query

import (
	"fmt"
	"time"

	"github.com/orneryd/muninn/pkg/bitemporal"
	"github.com/orneryd/muninn/pkg/graph"
)

// Stage identifies one step of the fixed query pipeline, in execution
// order.
type Stage string

const (
	StageFastPath     Stage = "fast_path"
	StageRouting      Stage = "routing"
	StageCacheLookup  Stage = "cache_lookup"
	StageRanking      Stage = "ranking"
	StageInhibition   Stage = "inhibition"
	StageContextBoost Stage = "context_boost"
	StageAttention    Stage = "attention"
	StageBiTemporal   Stage = "bi_temporal"
	StageHebbian      Stage = "hebbian"
	StageFusion       Stage = "fusion"
	StageCacheStore   Stage = "cache_store"
)

// HardFailure aborts a query: the failing stage is load-bearing and its
// output cannot be substituted.
type HardFailure struct {
	Stage Stage
	Err   error
}

func (e *HardFailure) Error() string {
	return fmt.Sprintf("query: stage %s failed: %v", e.Stage, e.Err)
}

func (e *HardFailure) Unwrap() error { return e.Err }

// StageTrace records the outcome of one pipeline stage for diagnostics.
type StageTrace struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
	// Recovered is set when the stage failed and the pipeline kept the
	// pre-stage result.
	Recovered bool   `json:"recovered,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Candidate is one ranked result.
type Candidate struct {
	Node       *graph.Node `json:"node"`
	Score      float64     `json:"score"`
	Activation float64     `json:"activation"`
	// FinalConfidence is the fused confidence over all signals.
	FinalConfidence float64 `json:"final_confidence"`
	// InhibitionPenalty is the amount subtracted by failure patterns.
	InhibitionPenalty float64 `json:"inhibition_penalty,omitempty"`
	// Relationships are temporal annotations added by the bi-temporal
	// stage.
	Relationships []bitemporal.Relationship `json:"relationships,omitempty"`
}

// Result is the outcome of a query execution.
type Result struct {
	Query      string       `json:"query"`
	Candidates []*Candidate `json:"candidates"`
	// TotalMatches counts candidates before the limit was applied.
	TotalMatches int `json:"total_matches"`
	// Route records which handler served the query.
	Route Route `json:"route"`
	// InhibitionScore is the total penalty applied across candidates.
	InhibitionScore float64       `json:"inhibition_score,omitempty"`
	FromCache       bool          `json:"from_cache"`
	Stages          []StageTrace  `json:"stages,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Clone deep-copies a result so cached entries stay immutable.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	copied := *r
	copied.Candidates = make([]*Candidate, len(r.Candidates))
	for i, c := range r.Candidates {
		cc := *c
		cc.Node = c.Node.Clone()
		cc.Relationships = append([]bitemporal.Relationship(nil), c.Relationships...)
		copied.Candidates[i] = &cc
	}
	copied.Stages = append([]StageTrace(nil), r.Stages...)
	return &copied
}

// size estimates the bytes a cached result occupies.
func (r *Result) size() int64 {
	size := int64(len(r.Query)) + 64
	for _, c := range r.Candidates {
		size += 128
		size += int64(len(c.Node.ID) + len(c.Node.Name) + len(c.Node.Path))
		for k := range c.Node.Metadata {
			size += int64(len(k)) + 16
		}
		size += int64(len(c.Relationships)) * 96
	}
	return size
}

// paths lists the file paths contributing to a result, for cache
// invalidation.
func (r *Result) paths() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range r.Candidates {
		if c.Node.Path == "" {
			continue
		}
		if _, ok := seen[c.Node.Path]; ok {
			continue
		}
		seen[c.Node.Path] = struct{}{}
		out = append(out, c.Node.Path)
	}
	return out
}
