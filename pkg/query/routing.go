package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/muninn/pkg/bitemporal"
	"github.com/orneryd/muninn/pkg/graph"
)

// Route identifies which handler served a query.
type Route string

const (
	RouteStandard  Route = "standard"
	RouteFastPath  Route = "fast_path"
	RouteGraph     Route = "graph"
	RouteTemporal  Route = "temporal"
	RouteAggregate Route = "aggregate"
)

// routeFor scans the query for a specialized prefix. Everything without a
// recognized prefix goes through the standard ranked pipeline.
func routeFor(query string) (Route, string) {
	switch {
	case strings.HasPrefix(query, "graph:"):
		return RouteGraph, strings.TrimSpace(strings.TrimPrefix(query, "graph:"))
	case strings.HasPrefix(query, "temporal:"):
		return RouteTemporal, strings.TrimSpace(strings.TrimPrefix(query, "temporal:"))
	case strings.HasPrefix(query, "aggregate:"):
		return RouteAggregate, strings.TrimSpace(strings.TrimPrefix(query, "aggregate:"))
	default:
		return RouteStandard, query
	}
}

// isLiteralPath reports whether the query is a bare file path rather than
// natural language. Paths have separators or extensions and no spaces.
func isLiteralPath(query string) bool {
	if strings.ContainsAny(query, " \t") {
		return false
	}
	return strings.Contains(query, "/") || strings.Contains(query, ".")
}

// execGraph handles "graph:" queries:
//
//	graph:neighbors <node-id-or-path> [depth=N]
//	graph:edges <node-id-or-path> [type=T]
func (o *Orchestrator) execGraph(rest string, opts Options) (*Result, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil, &ValidationError{Field: "query", Reason: "graph: expects an operation and a node"}
	}
	op, ref := fields[0], fields[1]

	node, err := o.resolveNode(ref)
	if err != nil {
		return nil, err
	}

	result := &Result{Route: RouteGraph}
	switch op {
	case "neighbors":
		depth := 1
		for _, f := range fields[2:] {
			if v, ok := strings.CutPrefix(f, "depth="); ok {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					depth = n
				}
			}
		}
		for _, n := range o.neighborhood(node.ID, depth, opts.Limit) {
			result.Candidates = append(result.Candidates, &Candidate{
				Node:            n,
				Score:           n.Confidence,
				FinalConfidence: n.Confidence,
			})
		}
	case "edges":
		edgeType := ""
		for _, f := range fields[2:] {
			if v, ok := strings.CutPrefix(f, "type="); ok {
				edgeType = v
			}
		}
		seen := make(map[graph.NodeID]struct{})
		appendOther := func(id graph.NodeID) {
			if _, ok := seen[id]; ok {
				return
			}
			seen[id] = struct{}{}
			if other, err := o.store.GetNode(id); err == nil {
				result.Candidates = append(result.Candidates, &Candidate{
					Node:            other,
					Score:           other.Confidence,
					FinalConfidence: other.Confidence,
				})
			}
		}
		for _, e := range o.store.OutgoingEdges(node.ID) {
			if edgeType != "" && string(e.Type) != edgeType {
				continue
			}
			appendOther(e.Target)
		}
		for _, e := range o.store.IncomingEdges(node.ID) {
			if edgeType != "" && string(e.Type) != edgeType {
				continue
			}
			appendOther(e.Source)
		}
	default:
		return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("unknown graph operation %q", op)}
	}

	sortCandidates(result.Candidates)
	trimCandidates(result, opts.Limit)
	return result, nil
}

// execTemporal handles "temporal:" queries:
//
//	temporal:asof <RFC3339> [node-id-or-path]
//	temporal:validat <RFC3339> [node-id-or-path]
//	temporal:history <node-id-or-path>
//	temporal:window <name>
func (o *Orchestrator) execTemporal(rest string, opts Options) (*Result, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil, &ValidationError{Field: "query", Reason: "temporal: expects an operation and an argument"}
	}
	op := fields[0]

	result := &Result{Route: RouteTemporal}
	tq := bitemporal.TemporalQuery{}

	switch op {
	case "asof", "validat":
		ts, err := time.Parse(time.RFC3339, fields[1])
		if err != nil {
			return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("bad timestamp %q: %v", fields[1], err)}
		}
		if op == "asof" {
			tq.AsOf = &ts
		} else {
			tq.ValidAt = &ts
		}
		if len(fields) > 2 {
			node, err := o.resolveNode(fields[2])
			if err != nil {
				return nil, err
			}
			tq.NodeID = string(node.ID)
		}
	case "history":
		node, err := o.resolveNode(fields[1])
		if err != nil {
			return nil, err
		}
		tq.NodeID = string(node.ID)
	case "window":
		tq.ContextWindow = fields[1]
	default:
		return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("unknown temporal operation %q", op)}
	}

	tr, err := o.temporal.Query(tq)
	if err != nil {
		return nil, err
	}

	seen := make(map[graph.NodeID]struct{})
	for _, edge := range tr.Edges {
		for _, id := range []graph.NodeID{edge.Source, edge.Target} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			node, err := o.store.GetNode(id)
			if err != nil {
				continue
			}
			result.Candidates = append(result.Candidates, &Candidate{
				Node:            node,
				Score:           node.Confidence,
				FinalConfidence: node.Confidence,
			})
		}
	}
	sortCandidates(result.Candidates)
	trimCandidates(result, opts.Limit)
	return result, nil
}

// execAggregate handles "aggregate:" queries:
//
//	aggregate:count nodes [type=T]
//	aggregate:count edges [type=T]
//	aggregate:top [n] — highest-confidence nodes
func (o *Orchestrator) execAggregate(rest string, opts Options) (*Result, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, &ValidationError{Field: "query", Reason: "aggregate: expects an operation"}
	}

	result := &Result{Route: RouteAggregate}
	switch fields[0] {
	case "count":
		if len(fields) < 2 {
			return nil, &ValidationError{Field: "query", Reason: "aggregate:count expects nodes or edges"}
		}
		typeFilter := ""
		for _, f := range fields[2:] {
			if v, ok := strings.CutPrefix(f, "type="); ok {
				typeFilter = v
			}
		}
		var count int
		switch fields[1] {
		case "nodes":
			if typeFilter == "" {
				count = o.store.NodeCount()
			} else {
				count = len(o.store.FindNodes(func(n *graph.Node) bool {
					return string(n.Type) == typeFilter
				}))
			}
		case "edges":
			if typeFilter == "" {
				count = o.store.EdgeCount()
			} else {
				count = len(o.store.FindEdges(func(e *graph.Edge) bool {
					return string(e.Type) == typeFilter
				}))
			}
		default:
			return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("unknown count target %q", fields[1])}
		}
		counter := &graph.Node{
			ID:         graph.NodeID("aggregate:count"),
			Type:       graph.NodeType("aggregate"),
			Name:       strconv.Itoa(count),
			Confidence: 1.0,
			Metadata:   map[string]any{"count": strconv.Itoa(count), "target": fields[1]},
		}
		result.Candidates = append(result.Candidates, &Candidate{Node: counter, Score: 1, FinalConfidence: 1})
	case "top":
		n := opts.Limit
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
				n = v
			}
		}
		nodes := o.store.FindNodes(func(*graph.Node) bool { return true })
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].Confidence != nodes[j].Confidence {
				return nodes[i].Confidence > nodes[j].Confidence
			}
			return nodes[i].ID < nodes[j].ID
		})
		if len(nodes) > n {
			nodes = nodes[:n]
		}
		for _, node := range nodes {
			result.Candidates = append(result.Candidates, &Candidate{
				Node:            node,
				Score:           node.Confidence,
				FinalConfidence: node.Confidence,
			})
		}
	default:
		return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("unknown aggregate operation %q", fields[0])}
	}
	result.TotalMatches = len(result.Candidates)
	return result, nil
}

// resolveNode accepts a node id or a file path.
func (o *Orchestrator) resolveNode(ref string) (*graph.Node, error) {
	if node, err := o.store.GetNode(graph.NodeID(ref)); err == nil {
		return node, nil
	}
	if nodes := o.store.NodesByPath(ref); len(nodes) > 0 {
		return nodes[0], nil
	}
	return nil, fmt.Errorf("node %q: %w", ref, graph.ErrNotFound)
}

// neighborhood collects nodes within depth hops, breadth-first,
// deterministic order.
func (o *Orchestrator) neighborhood(start graph.NodeID, depth, limit int) []*graph.Node {
	visited := map[graph.NodeID]struct{}{start: {}}
	frontier := []graph.NodeID{start}
	var out []*graph.Node

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []graph.NodeID
		for _, id := range frontier {
			neighbors := o.store.Neighbors(id)
			sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].ID < neighbors[j].ID })
			for _, n := range neighbors {
				if _, ok := visited[n.ID]; ok {
					continue
				}
				visited[n.ID] = struct{}{}
				out = append(out, n)
				next = append(next, n.ID)
				if limit > 0 && len(out) >= limit {
					return out
				}
			}
		}
		frontier = next
	}
	return out
}

func sortCandidates(cands []*Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Node.Confidence != cands[j].Node.Confidence {
			return cands[i].Node.Confidence > cands[j].Node.Confidence
		}
		return cands[i].Node.ID < cands[j].Node.ID
	})
}

func trimCandidates(r *Result, limit int) {
	r.TotalMatches = len(r.Candidates)
	if limit > 0 && len(r.Candidates) > limit {
		r.Candidates = r.Candidates[:limit]
	}
}
