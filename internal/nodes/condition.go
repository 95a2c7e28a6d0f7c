package nodes

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// ConditionExecutor evaluates an expr expression against its inputs.
//
// The environment exposes the newest bar as open, high, low, close and
// volume, each indicator input under its name (plus name_prev for the bar
// before), and each upstream condition result under its node id. An ERROR
// input blocks evaluation; an indicator that is still warming up makes the
// condition false, as does a name_prev the expression reads before the
// indicator has two ready values.
type ConditionExecutor struct{}

func (ConditionExecutor) Execute(ctx context.Context, call *Call) (any, error) {
	cfg, err := tradeflow.DecodeConfig[ConditionConfig](call.Node)
	if err != nil {
		return nil, err
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("condition %q: expression is required", call.Node.ID)
	}
	if failed, ok := call.Inputs.FirstFailed(); ok {
		return nil, fmt.Errorf("upstream node %q failed: %s", failed.NodeID, failed.Output.Message)
	}

	env, out, ready, pending, err := conditionEnv(call.Inputs)
	if err != nil {
		return nil, err
	}
	out.Expression = cfg.Expression
	if ready && len(pending) > 0 {
		names, err := identifiers(cfg.Expression)
		if err != nil {
			return nil, err
		}
		for name := range pending {
			if names[name] {
				ready = false
				break
			}
		}
	}
	if !ready {
		logf(ctx, call.Node.ID, "inputs not ready", nil)
		return out, nil
	}

	result, err := evaluate(cfg.Expression, env)
	if err != nil {
		return nil, err
	}
	out.Result = result
	out.Ready = true
	return out, nil
}

// conditionEnv builds the expression environment. pending holds the
// name_prev variables bound to a placeholder because the previous value is
// not ready yet.
func conditionEnv(inputs Inputs) (env map[string]any, out ConditionOutput, ready bool, pending map[string]bool, err error) {
	env = make(map[string]any)
	ready = true
	haveBar := false

	setBar := func(b tradeflow.Bar, symbol string) {
		if haveBar || b.Timestamp.IsZero() {
			return
		}
		haveBar = true
		out.Bar = b
		out.Symbol = symbol
		env["open"] = b.Open.InexactFloat64()
		env["high"] = b.High.InexactFloat64()
		env["low"] = b.Low.InexactFloat64()
		env["close"] = b.Close.InexactFloat64()
		env["volume"] = b.Volume.InexactFloat64()
	}

	for _, in := range inputs {
		switch in.Kind {
		case tradeflow.KindDataSource:
			src, err := tradeflow.Decode[DataSourceOutput](in.Output.Value)
			if err != nil {
				return nil, out, false, nil, fmt.Errorf("read data source %q: %w", in.NodeID, err)
			}
			if last, ok := src.Last(); ok {
				setBar(last, src.Symbol)
			}
			env["bars"] = len(src.Bars)
		case tradeflow.KindIndicator:
			ind, err := tradeflow.Decode[IndicatorOutput](in.Output.Value)
			if err != nil {
				return nil, out, false, nil, fmt.Errorf("read indicator %q: %w", in.NodeID, err)
			}
			setBar(ind.Bar, ind.Symbol)
			if !ind.Latest.Ready {
				ready = false
				continue
			}
			v := ind.Latest.Value.InexactFloat64()
			env[ind.Name] = v
			env[in.NodeID] = v
			prev := ind.Name + "_prev"
			if ind.Previous.Ready {
				env[prev] = ind.Previous.Value.InexactFloat64()
			} else {
				env[prev] = 0.0
				if pending == nil {
					pending = make(map[string]bool)
				}
				pending[prev] = true
			}
		case tradeflow.KindCondition:
			c, err := tradeflow.Decode[ConditionOutput](in.Output.Value)
			if err != nil {
				return nil, out, false, nil, fmt.Errorf("read condition %q: %w", in.NodeID, err)
			}
			setBar(c.Bar, c.Symbol)
			if !c.Ready {
				ready = false
			}
			env[in.NodeID] = c.Result
		}
	}
	return env, out, ready, pending, nil
}

type identCollector map[string]bool

func (c identCollector) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		c[id.Value] = true
	}
}

// identifiers returns the variable names an expression reads.
func identifiers(expression string) (map[string]bool, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse condition %q: %w", expression, err)
	}
	names := identCollector{}
	ast.Walk(&tree.Node, names)
	return names, nil
}

func evaluate(expression string, env map[string]any) (bool, error) {
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return isTruthy(result), nil
}

func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
