// Package activation implements spreading-activation ranking over the
// knowledge graph.
//
// Relevance energy starts at query-matched seed nodes and flows outward along
// weighted edges for a bounded number of rounds. The graph is intrinsically
// cyclic; termination is guaranteed by the round cap (round-bounded
// breadth-first propagation), never by cycle detection.
//
// Propagation rule, per round, for every node that gained activation in the
// previous round:
//
//	contribution = activation × edge.Weight × edge.Confidence × decay
//
// Contributions accumulate additively per node across rounds. Propagation
// stops early when the largest per-round gain falls below Epsilon.
//
// The final score combines accumulated activation with the node's own stored
// confidence using a fixed, documented formula (reproducibility contract):
//
//	score = ActivationWeight×activation + ConfidenceWeight×node.Confidence
//
// with defaults ActivationWeight=0.7, ConfidenceWeight=0.3. Ties break by
// node confidence, then lexicographic id.
//
// ELI12 (Explain Like I'm 12):
//
// Imagine dropping food coloring on a map of roads. The color starts at the
// towns that match your question and bleeds outward along the roads. Wide,
// trustworthy roads carry more color; after a few blocks the color is too
// faint to matter. The towns with the most color at the end are your answer.
package activation

import (
	"sort"
	"strings"

	"github.com/orneryd/muninn/pkg/graph"
)

// Config holds spreading-activation tuning parameters.
//
// Every constant here is hand-tuned; treat DefaultConfig() as the documented
// production values rather than hardcoding.
type Config struct {
	// Epsilon stops propagation early when the max per-round gain drops below it.
	Epsilon float64
	// ActivationWeight scales accumulated activation in the final score.
	ActivationWeight float64
	// ConfidenceWeight scales the node's stored confidence in the final score.
	ConfidenceWeight float64

	// Seed match scores by match quality.
	ExactMatchScore     float64
	PrefixMatchScore    float64
	PathSuffixScore     float64
	SubstringMatchScore float64
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		Epsilon:             1e-6,
		ActivationWeight:    0.7,
		ConfidenceWeight:    0.3,
		ExactMatchScore:     1.0,
		PrefixMatchScore:    0.85,
		PathSuffixScore:     0.75,
		SubstringMatchScore: 0.6,
	}
}

// Seed is a query-matched starting node with its match score.
type Seed struct {
	ID    graph.NodeID
	Score float64
}

// Candidate is a ranked node with its scoring components exposed for
// downstream fusion.
type Candidate struct {
	Node       *graph.Node
	Score      float64
	Activation float64
}

// Network ranks graph nodes by spreading activation.
type Network struct {
	store  *graph.Store
	config Config
}

// New creates a spreading-activation network over the given store.
func New(store *graph.Store, config Config) *Network {
	return &Network{store: store, config: config}
}

// Rank spreads activation from seeds for up to levels rounds with the given
// per-hop decay and returns candidates ordered by final score.
//
// Energy flows in both edge directions: a calls edge makes the callee
// relevant to the caller and vice versa. Dangling edges are skipped because
// the store's adjacency readers filter them.
func (n *Network) Rank(seeds []Seed, levels int, decay float64) []Candidate {
	if len(seeds) == 0 || levels < 0 {
		return nil
	}

	accumulated := make(map[graph.NodeID]float64, len(seeds))
	frontier := make(map[graph.NodeID]float64, len(seeds))
	for _, seed := range seeds {
		if seed.Score <= 0 {
			continue
		}
		accumulated[seed.ID] += seed.Score
		frontier[seed.ID] += seed.Score
	}

	for round := 0; round < levels && len(frontier) > 0; round++ {
		gains := make(map[graph.NodeID]float64)

		for id, energy := range frontier {
			for _, edge := range n.store.OutgoingEdges(id) {
				gains[edge.Target] += energy * edge.Weight * edge.Confidence * decay
			}
			for _, edge := range n.store.IncomingEdges(id) {
				gains[edge.Source] += energy * edge.Weight * edge.Confidence * decay
			}
		}

		maxGain := 0.0
		for id, gain := range gains {
			accumulated[id] += gain
			if gain > maxGain {
				maxGain = gain
			}
		}

		// Convergence optimization: the round cap still bounds the loop.
		if maxGain < n.config.Epsilon {
			break
		}
		frontier = gains
	}

	candidates := make([]Candidate, 0, len(accumulated))
	for id, activation := range accumulated {
		node, err := n.store.GetNode(id)
		if err != nil {
			continue // seeded or reached node removed mid-query
		}
		candidates = append(candidates, Candidate{
			Node:       node,
			Activation: activation,
			Score:      n.config.ActivationWeight*activation + n.config.ConfidenceWeight*node.Confidence,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Node.Confidence != candidates[j].Node.Confidence {
			return candidates[i].Node.Confidence > candidates[j].Node.Confidence
		}
		return candidates[i].Node.ID < candidates[j].Node.ID
	})

	return candidates
}

// MatchSeeds derives seed nodes for a natural-language query.
//
// Every node is scored by its best lexical match against the query terms:
// exact name match, name prefix, path suffix, then substring. Nodes with no
// match are not seeded. The result order is deterministic for a fixed graph.
func (n *Network) MatchSeeds(query string) []Seed {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	nodes := n.store.FindNodes(nil)
	seeds := make([]Seed, 0)

	for _, node := range nodes {
		score := n.matchScore(node, terms)
		if score > 0 {
			seeds = append(seeds, Seed{ID: node.ID, Score: score})
		}
	}

	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].Score != seeds[j].Score {
			return seeds[i].Score > seeds[j].Score
		}
		return seeds[i].ID < seeds[j].ID
	})
	return seeds
}

func (n *Network) matchScore(node *graph.Node, terms []string) float64 {
	name := strings.ToLower(node.Name)
	path := strings.ToLower(node.Path)

	best := 0.0
	for _, term := range terms {
		switch {
		case name == term:
			best = max(best, n.config.ExactMatchScore)
		case strings.HasPrefix(name, term):
			best = max(best, n.config.PrefixMatchScore)
		case path != "" && strings.HasSuffix(path, term):
			best = max(best, n.config.PathSuffixScore)
		case name != "" && strings.Contains(name, term):
			best = max(best, n.config.SubstringMatchScore)
		}
	}
	return best
}
