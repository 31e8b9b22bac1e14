package query

import (
	"sync"
)

// recencyBooster is the default ContextBooster. It remembers how often
// paths appeared in recent results and nudges returning candidates up,
// scaled by the query's context level.
type recencyBooster struct {
	mu     sync.Mutex
	counts map[string]int
	order  []string
	max    int
}

func newRecencyBooster() *recencyBooster {
	return &recencyBooster{
		counts: make(map[string]int),
		max:    256,
	}
}

func (b *recencyBooster) Boost(query string, candidates []*Candidate, level float64) []*Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range candidates {
		if c.Node.Path == "" {
			continue
		}
		count := b.counts[c.Node.Path]
		if count == 0 {
			continue
		}
		if count > 3 {
			count = 3
		}
		c.Score += level * 0.05 * float64(count)
	}

	// Record this result set for the next query.
	for _, c := range candidates {
		path := c.Node.Path
		if path == "" {
			continue
		}
		if b.counts[path] == 0 {
			b.order = append(b.order, path)
		}
		b.counts[path]++
	}
	for len(b.order) > b.max {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.counts, oldest)
	}
	return candidates
}

// thresholdAttention is the default Attention: it drops candidates whose
// score falls below a fraction of the top score.
type thresholdAttention struct {
	ratio float64
}

func (a thresholdAttention) Focus(query string, candidates []*Candidate) []*Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	top := candidates[0].Score
	if top <= 0 {
		return candidates
	}
	cutoff := top * a.ratio
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score >= cutoff {
			kept = append(kept, c)
		}
	}
	return kept
}
