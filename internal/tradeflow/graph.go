package tradeflow

import "time"

// NodeKind identifies which executor runs a node.
type NodeKind string

const (
	KindTrigger    NodeKind = "TRIGGER"
	KindDataSource NodeKind = "DATA_SOURCE"
	KindIndicator  NodeKind = "INDICATOR"
	KindCondition  NodeKind = "CONDITION"
	KindOrder      NodeKind = "ORDER"
	KindNotify     NodeKind = "NOTIFY"
)

// Kinds lists every node kind the engine can dispatch.
var Kinds = []NodeKind{
	KindTrigger,
	KindDataSource,
	KindIndicator,
	KindCondition,
	KindOrder,
	KindNotify,
}

// Valid reports whether k belongs to the closed set of node kinds.
func (k NodeKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Node is one typed unit of work. Config is decoded into the kind's typed
// config struct by DecodeConfig.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   NodeKind       `json:"kind" yaml:"kind"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Connection is a directed data dependency from Source to Target.
type Connection struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

func (c Connection) String() string {
	return c.Source + "->" + c.Target
}

// Graph is a stored workflow: nodes plus the connections between them.
type Graph struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Version     int          `json:"version" yaml:"version"`
	Nodes       []Node       `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`
	CreatedAt   time.Time    `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty" yaml:"-"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the graph. Runs execute against a clone so
// that edits to the stored workflow never reach an in-flight run.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := *g
	out.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		n.Config = cloneMap(n.Config)
		out.Nodes[i] = n
	}
	out.Connections = append([]Connection(nil), g.Connections...)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	default:
		return v
	}
}

// RedactedSecret replaces a TRIGGER node's webhook secret in API views.
const RedactedSecret = "********"

const secretKey = "secret"

// Redacted returns a copy of g with webhook secrets masked.
func (g *Graph) Redacted() *Graph {
	out := g.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Nodes {
		n := &out.Nodes[i]
		if n.Kind != KindTrigger {
			continue
		}
		if s, ok := n.Config[secretKey].(string); ok && s != "" {
			n.Config[secretKey] = RedactedSecret
		}
	}
	return out
}

// RestoreSecrets puts back secrets from prev wherever g still carries the
// mask, so a graph read from the API can be saved unchanged.
func (g *Graph) RestoreSecrets(prev *Graph) {
	if g == nil || prev == nil {
		return
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if s, _ := n.Config[secretKey].(string); s != RedactedSecret {
			continue
		}
		if old, ok := prev.Node(n.ID); ok && old.Kind == KindTrigger {
			if secret, ok := old.Config[secretKey]; ok {
				n.Config[secretKey] = secret
				continue
			}
		}
		delete(n.Config, secretKey)
	}
}
