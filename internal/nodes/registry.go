package nodes

import "github.com/soochol/tradeflow/internal/tradeflow"

// Registry maps every node kind to exactly one executor. It is built through
// NewRegistry, whose parameter list names each kind, so leaving one out
// does not compile.
type Registry struct {
	trigger    Executor
	dataSource Executor
	indicator  Executor
	condition  Executor
	order      Executor
	notify     Executor
}

// NewRegistry builds the dispatch table.
func NewRegistry(trigger, dataSource, indicator, condition, order, notify Executor) *Registry {
	return &Registry{
		trigger:    trigger,
		dataSource: dataSource,
		indicator:  indicator,
		condition:  condition,
		order:      order,
		notify:     notify,
	}
}

// For returns the executor for n, or *tradeflow.NodeExecutionError when the
// node's kind is outside the closed set.
func (r *Registry) For(n *tradeflow.Node) (Executor, error) {
	var e Executor
	switch n.Kind {
	case tradeflow.KindTrigger:
		e = r.trigger
	case tradeflow.KindDataSource:
		e = r.dataSource
	case tradeflow.KindIndicator:
		e = r.indicator
	case tradeflow.KindCondition:
		e = r.condition
	case tradeflow.KindOrder:
		e = r.order
	case tradeflow.KindNotify:
		e = r.notify
	}
	if e == nil {
		return nil, &tradeflow.NodeExecutionError{NodeID: n.ID, Kind: n.Kind}
	}
	return e, nil
}

// WithDataSource returns a copy of r using e for DATA_SOURCE nodes.
func (r *Registry) WithDataSource(e Executor) *Registry {
	cp := *r
	cp.dataSource = e
	return &cp
}

// WithOrder returns a copy of r using e for ORDER nodes.
func (r *Registry) WithOrder(e Executor) *Registry {
	cp := *r
	cp.order = e
	return &cp
}

// WithNotify returns a copy of r using e for NOTIFY nodes.
func (r *Registry) WithNotify(e Executor) *Registry {
	cp := *r
	cp.notify = e
	return &cp
}
