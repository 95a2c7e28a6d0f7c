package dag

import (
	"sort"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// compatible lists, per target kind, the source kinds allowed to feed it.
// A nil entry means any source kind is accepted.
var compatible = map[tradeflow.NodeKind][]tradeflow.NodeKind{
	tradeflow.KindTrigger:    {},
	tradeflow.KindDataSource: {tradeflow.KindTrigger},
	tradeflow.KindIndicator:  {tradeflow.KindDataSource},
	tradeflow.KindCondition:  {tradeflow.KindDataSource, tradeflow.KindIndicator, tradeflow.KindCondition},
	tradeflow.KindOrder:      {tradeflow.KindTrigger, tradeflow.KindCondition},
	tradeflow.KindNotify:     nil,
}

// Validate checks the structural invariants of g without modifying it:
// unique ids, no dangling edges, no cycles, at least one entry point and
// compatible edge kinds. Errors unwrap to tradeflow.ErrStructural.
func Validate(g *tradeflow.Graph) error {
	kinds := make(map[string]tradeflow.NodeKind, len(g.Nodes))
	for _, n := range sortedNodes(g) {
		if n.ID == "" {
			return &tradeflow.GraphValidationError{Reason: tradeflow.ReasonEmptyNodeID}
		}
		if _, dup := kinds[n.ID]; dup {
			return &tradeflow.GraphValidationError{Reason: tradeflow.ReasonDuplicateNode, Ref: n.ID}
		}
		kinds[n.ID] = n.Kind
	}

	edges := sortedEdges(g)
	adjacency := make(map[string][]string)
	inDegree := make(map[string]int, len(kinds))
	for _, e := range edges {
		if _, ok := kinds[e.Source]; !ok {
			return &tradeflow.GraphValidationError{Reason: tradeflow.ReasonDanglingEdge, Ref: e.String()}
		}
		if _, ok := kinds[e.Target]; !ok {
			return &tradeflow.GraphValidationError{Reason: tradeflow.ReasonDanglingEdge, Ref: e.String()}
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}

	if cycle := findCycle(kinds, adjacency); cycle != nil {
		return &tradeflow.CycleDetectedError{CyclePath: cycle}
	}

	hasEntry := false
	for id := range kinds {
		if inDegree[id] == 0 {
			hasEntry = true
			break
		}
	}
	if !hasEntry {
		return &tradeflow.GraphValidationError{Reason: tradeflow.ReasonNoEntryPoint}
	}

	for _, e := range edges {
		if !edgeAllowed(kinds[e.Source], kinds[e.Target]) {
			return &tradeflow.GraphValidationError{
				Reason: tradeflow.ReasonIncompatibleEdge,
				Ref:    e.String() + " (" + string(kinds[e.Source]) + " -> " + string(kinds[e.Target]) + ")",
			}
		}
	}
	return nil
}

func edgeAllowed(from, to tradeflow.NodeKind) bool {
	if !from.Valid() || !to.Valid() {
		// Unknown kinds surface at dispatch time.
		return true
	}
	allowed := compatible[to]
	if allowed == nil {
		return true
	}
	for _, k := range allowed {
		if k == from {
			return true
		}
	}
	return false
}

// findCycle runs a three-color depth-first search. Nodes and neighbours are
// visited in ascending id order so the reported path is reproducible.
func findCycle(nodes map[string]tradeflow.NodeKind, adjacency map[string][]string) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	color := make(map[string]int, len(nodes))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = onStack
		path = append(path, id)

		neighbors := append([]string(nil), adjacency[id]...)
		sort.Strings(neighbors)
		for _, next := range neighbors {
			switch color[next] {
			case onStack:
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), path[start:]...), next)
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = done
		return false
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

func sortedNodes(g *tradeflow.Graph) []tradeflow.Node {
	nodes := append([]tradeflow.Node(nil), g.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func sortedEdges(g *tradeflow.Graph) []tradeflow.Connection {
	edges := append([]tradeflow.Connection(nil), g.Connections...)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}
