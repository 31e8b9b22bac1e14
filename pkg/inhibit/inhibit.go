// Package inhibit learns negative patterns from task failures and suppresses
// matching retrieval results.
//
// When a task fails, the failure's trigger signature — task description,
// error category, and involved file paths hashed into a signature vector —
// is stored as an inhibitory pattern. At query time each candidate is scored
// against every pattern and penalized by
//
//	penalty = pattern.Strength × similarity(candidate context, pattern)
//
// Candidates whose confidence falls below the floor are removed entirely.
// Repeated identical failures reinforce a pattern (capped at 1.0) and, past
// a threshold, spawn a durable pattern node in the knowledge graph so the
// failure mode becomes visible to ordinary retrieval. Patterns decay over
// time absent reinforcement.
//
// ELI12 (Explain Like I'm 12):
//
// Touch a hot stove once and you flinch near stoves for a while. Touch it
// three times and "stoves burn" becomes a fact you'd tell other people.
// Stay away from stoves long enough and the flinch fades.
package inhibit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/signature"
)

// Config holds inhibitory learning parameters.
type Config struct {
	// InitialStrength for a newly learned pattern.
	InitialStrength float64
	// ReinforceRate scales reinforcement: s += rate × (1−s), capped at 1.
	ReinforceRate float64
	// ReinforceThreshold is the minimum signature similarity for a failure
	// to reinforce an existing pattern instead of creating a new one.
	ReinforceThreshold float64
	// Floor removes a candidate whose inhibited confidence drops below it.
	Floor float64
	// DecayRate is the per-cycle multiplier for unreinforced patterns.
	DecayRate float64
	// PruneEpsilon drops patterns whose strength falls below it.
	PruneEpsilon float64
	// PatternNodeThreshold is the reinforcement count at which a pattern
	// node is created in the graph. Zero disables node creation.
	PatternNodeThreshold int
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		InitialStrength:      0.4,
		ReinforceRate:        0.3,
		ReinforceThreshold:   0.9,
		Floor:                0.05,
		DecayRate:            0.05,
		PruneEpsilon:         0.01,
		PatternNodeThreshold: 3,
	}
}

// ErrorDetails describes the failure being learned from.
type ErrorDetails struct {
	Category string `json:"category"`
	Message  string `json:"message,omitempty"`
}

// Pattern is a learned failure-trigger signature with suppression strength.
type Pattern struct {
	ID             string           `json:"id"`
	Signature      signature.Vector `json:"signature"`
	Task           string           `json:"task"`
	Category       string           `json:"category"`
	Paths          []string         `json:"paths,omitempty"`
	Strength       float64          `json:"strength"`
	ReinforceCount int              `json:"reinforce_count"`
	LastReinforced time.Time        `json:"last_reinforced"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Candidate is a retrieval result as seen by the inhibitory system.
type Candidate struct {
	ID         graph.NodeID
	Path       string
	Confidence float64
}

// Result reports an inhibition pass for observability.
type Result struct {
	Candidates []Candidate
	// InhibitionScore is the total confidence mass subtracted, including
	// from removed candidates.
	InhibitionScore float64
	OriginalCount   int
	InhibitedCount  int
}

// Stats summarizes the pattern table.
type Stats struct {
	TotalPatterns   int     `json:"total_patterns"`
	AverageStrength float64 `json:"average_strength"`
}

// System is the inhibitory pattern table. Safe for concurrent use.
type System struct {
	mu       sync.RWMutex
	config   Config
	patterns map[string]*Pattern

	// store is optional; when set, repeated failures spawn pattern nodes.
	store *graph.Store

	lastCycle time.Time
}

// New creates an empty inhibitory system. store may be nil.
func New(config Config, store *graph.Store) *System {
	return &System{
		config:    config,
		patterns:  make(map[string]*Pattern),
		store:     store,
		lastCycle: time.Now(),
	}
}

// LearnFromFailure records a task failure. A failure similar to an existing
// pattern reinforces it; otherwise a new pattern is created.
func (s *System) LearnFromFailure(task string, details ErrorDetails, files []string, context string) *Pattern {
	sig := buildSignature(task, details, files, context)
	if sig.IsZero() {
		return nil
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reinforce the closest pattern above the threshold, if any.
	var best *Pattern
	bestSim := 0.0
	for _, p := range s.patterns {
		if sim := signature.Similarity(sig, p.Signature); sim > bestSim {
			best, bestSim = p, sim
		}
	}

	if best != nil && bestSim >= s.config.ReinforceThreshold {
		best.Strength += s.config.ReinforceRate * (1 - best.Strength)
		if best.Strength > 1 {
			best.Strength = 1
		}
		best.ReinforceCount++
		best.LastReinforced = now
		if s.config.PatternNodeThreshold > 0 && best.ReinforceCount == s.config.PatternNodeThreshold {
			s.spawnPatternNode(best)
		}
		return best
	}

	p := &Pattern{
		ID:             uuid.NewString(),
		Signature:      sig,
		Task:           task,
		Category:       details.Category,
		Paths:          append([]string(nil), files...),
		Strength:       s.config.InitialStrength,
		LastReinforced: now,
		CreatedAt:      now,
	}
	s.patterns[p.ID] = p
	return p
}

// Apply suppresses candidates matching known failure patterns for the given
// query and context. The input slice is not mutated.
func (s *System) Apply(candidates []Candidate, query, context string) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := Result{OriginalCount: len(candidates)}
	if len(s.patterns) == 0 {
		result.Candidates = append([]Candidate(nil), candidates...)
		result.InhibitedCount = len(candidates)
		return result
	}

	base := signature.FromTokens(nil).Add(query, 1).Add(context, 0.5)

	kept := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		sig := append(signature.Vector(nil), base...)
		if cand.Path != "" {
			sig = sig.Add(cand.Path, 1)
		}

		penalty := 0.0
		for _, p := range s.patterns {
			if applied := p.Strength * signature.Similarity(sig, p.Signature); applied > penalty {
				penalty = applied
			}
		}

		if penalty > 0 {
			result.InhibitionScore += penalty
			cand.Confidence -= penalty
		}
		if cand.Confidence < s.config.Floor {
			continue // suppressed entirely
		}
		kept = append(kept, cand)
	}

	result.Candidates = kept
	result.InhibitedCount = len(kept)
	return result
}

// Decay runs one out-of-band maintenance cycle over the pattern table.
// Returns the number of patterns pruned.
func (s *System) Decay() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, p := range s.patterns {
		if p.LastReinforced.After(s.lastCycle) {
			continue
		}
		p.Strength *= 1 - s.config.DecayRate
		if p.Strength < s.config.PruneEpsilon {
			delete(s.patterns, id)
			pruned++
		}
	}
	s.lastCycle = now
	return pruned
}

// Patterns returns a copy of every pattern, for persistence and inspection.
func (s *System) Patterns() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p)
	}
	return out
}

// Restore replaces the pattern table.
func (s *System) Restore(patterns []Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns = make(map[string]*Pattern, len(patterns))
	for i := range patterns {
		p := patterns[i]
		s.patterns[p.ID] = &p
	}
}

// Stats returns table-level statistics.
func (s *System) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TotalPatterns: len(s.patterns)}
	if len(s.patterns) == 0 {
		return stats
	}
	sum := 0.0
	for _, p := range s.patterns {
		sum += p.Strength
	}
	stats.AverageStrength = sum / float64(len(s.patterns))
	return stats
}

// spawnPatternNode records a repeatedly-confirmed failure mode as a graph
// node so ordinary retrieval can surface it. Callers must hold the lock.
func (s *System) spawnPatternNode(p *Pattern) {
	if s.store == nil {
		return
	}
	node := &graph.Node{
		ID:         graph.NodeID("pattern:" + p.ID),
		Type:       graph.NodePattern,
		Name:       fmt.Sprintf("failure: %s (%s)", p.Task, p.Category),
		Confidence: p.Strength,
		Metadata: map[string]any{
			"category":        p.Category,
			"paths":           p.Paths,
			"reinforce_count": p.ReinforceCount,
		},
	}
	// Pattern nodes are advisory; a store error must not fail learning.
	_ = s.store.AddNode(node)
}

func buildSignature(task string, details ErrorDetails, files []string, context string) signature.Vector {
	sig := signature.FromTokens(nil)
	sig = sig.Add(task, 1)
	sig = sig.Add(details.Category, 1.5)
	for _, f := range files {
		sig = sig.Add(f, 1)
	}
	sig = sig.Add(context, 0.5)
	return sig
}
