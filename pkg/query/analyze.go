package query

import (
	"context"
	"sort"
	"time"

	"github.com/orneryd/muninn/pkg/fusion"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/hebbian"
)

// HubNode is a highly connected node in the graph.
type HubNode struct {
	Node   *graph.Node `json:"node"`
	Degree int         `json:"degree"`
}

// Analysis is the composite output of Analyze. A method that exceeded its
// timeout leaves its field empty and is listed in TimedOut.
type Analysis struct {
	Hubs        []HubNode                `json:"hubs"`
	StrongPairs []hebbian.Connection     `json:"strong_pairs"`
	Calibration []fusion.BinReport       `json:"calibration,omitempty"`
	Timings     map[string]time.Duration `json:"timings"`
	TimedOut    []string                 `json:"timed_out,omitempty"`
}

// Analyze runs the available analysis methods, each bounded by the
// configured timeout. Slow methods contribute typed empty values instead
// of blocking the whole analysis.
func (o *Orchestrator) Analyze(ctx context.Context, topN int) *Analysis {
	if topN <= 0 {
		topN = 10
	}
	out := &Analysis{Timings: make(map[string]time.Duration)}

	runBounded(ctx, o.cfg.AnalyzeTimeout, out, "hubs", func() []HubNode {
		return o.hubNodes(topN)
	}, func(v []HubNode) { out.Hubs = v })

	runBounded(ctx, o.cfg.AnalyzeTimeout, out, "strong_pairs", func() []hebbian.Connection {
		return o.strongPairs(topN)
	}, func(v []hebbian.Connection) { out.StrongPairs = v })

	if o.calibration != nil {
		runBounded(ctx, o.cfg.AnalyzeTimeout, out, "calibration", func() []fusion.BinReport {
			return o.calibration.Report()
		}, func(v []fusion.BinReport) { out.Calibration = v })
	}

	return out
}

// runBounded executes fn with a deadline, assigning its value only when it
// finishes in time.
func runBounded[T any](ctx context.Context, timeout time.Duration, out *Analysis, name string, fn func() T, assign func(T)) {
	started := time.Now()
	done := make(chan T, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-done:
		assign(v)
	case <-timer.C:
		out.TimedOut = append(out.TimedOut, name)
	case <-ctx.Done():
		out.TimedOut = append(out.TimedOut, name)
	}
	out.Timings[name] = time.Since(started)
}

// hubNodes returns the topN nodes by total degree.
func (o *Orchestrator) hubNodes(topN int) []HubNode {
	nodes := o.store.FindNodes(func(*graph.Node) bool { return true })
	hubs := make([]HubNode, 0, len(nodes))
	for _, node := range nodes {
		degree := len(o.store.OutgoingEdges(node.ID)) + len(o.store.IncomingEdges(node.ID))
		if degree == 0 {
			continue
		}
		hubs = append(hubs, HubNode{Node: node, Degree: degree})
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Degree != hubs[j].Degree {
			return hubs[i].Degree > hubs[j].Degree
		}
		return hubs[i].Node.ID < hubs[j].Node.ID
	})
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}
	return hubs
}

// strongPairs returns the topN Hebbian connections by strength.
func (o *Orchestrator) strongPairs(topN int) []hebbian.Connection {
	conns := o.learner.Snapshot()
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].Strength != conns[j].Strength {
			return conns[i].Strength > conns[j].Strength
		}
		if conns[i].A != conns[j].A {
			return conns[i].A < conns[j].A
		}
		return conns[i].B < conns[j].B
	})
	if len(conns) > topN {
		conns = conns[:topN]
	}
	return conns
}
