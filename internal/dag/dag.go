package dag

import (
	"fmt"
	"sort"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// DAG is a validated graph with its execution order precomputed.
type DAG struct {
	nodes     map[string]*tradeflow.Node
	children  map[string][]string
	parents   map[string][]string
	topoOrder []string
}

// Build validates g and computes a topological order. Ties between ready
// nodes are broken by id ascending, so the order is stable across runs.
func Build(g *tradeflow.Graph) (*DAG, error) {
	if err := Validate(g); err != nil {
		return nil, err
	}

	d := &DAG{
		nodes:    make(map[string]*tradeflow.Node, len(g.Nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
	for i := range g.Nodes {
		d.nodes[g.Nodes[i].ID] = &g.Nodes[i]
	}
	seen := make(map[tradeflow.Connection]bool, len(g.Connections))
	for _, c := range g.Connections {
		if seen[c] {
			continue
		}
		seen[c] = true
		d.children[c.Source] = append(d.children[c.Source], c.Target)
		d.parents[c.Target] = append(d.parents[c.Target], c.Source)
	}
	for id := range d.parents {
		sort.Strings(d.parents[id])
	}
	for id := range d.children {
		sort.Strings(d.children[id])
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.topoOrder = order
	return d, nil
}

func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for id := range d.nodes {
		inDegree[id] = len(d.parents[id])
	}
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, c := range d.children[node] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
		sort.Strings(queue)
	}
	if len(order) != len(d.nodes) {
		// Validate already rejected cycles; reaching here is a bug.
		return nil, fmt.Errorf("topological sort covered %d of %d nodes", len(order), len(d.nodes))
	}
	return order, nil
}

func (d *DAG) TopologicalOrder() []string      { return d.topoOrder }
func (d *DAG) Children(nodeID string) []string { return d.children[nodeID] }
func (d *DAG) Parents(nodeID string) []string  { return d.parents[nodeID] }
func (d *DAG) Node(id string) *tradeflow.Node  { return d.nodes[id] }
func (d *DAG) Len() int                        { return len(d.nodes) }

// Roots returns the entry points in id order.
func (d *DAG) Roots() []string {
	var roots []string
	for id := range d.nodes {
		if len(d.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// NodesOfKind returns the ids of every node of kind k in execution order.
func (d *DAG) NodesOfKind(k tradeflow.NodeKind) []string {
	var out []string
	for _, id := range d.topoOrder {
		if d.nodes[id].Kind == k {
			out = append(out, id)
		}
	}
	return out
}
