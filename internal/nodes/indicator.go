package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soochol/tradeflow/internal/indicator"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// IndicatorExecutor computes an indicator over its DATA_SOURCE input. A
// window longer than the visible series is reported as not ready rather
// than as a failure, since every replay starts that way.
type IndicatorExecutor struct{}

func (IndicatorExecutor) Execute(ctx context.Context, call *Call) (any, error) {
	cfg, name, err := DecodeIndicator(call.Node)
	if err != nil {
		return nil, err
	}
	if failed, ok := call.Inputs.FirstFailed(); ok {
		return nil, fmt.Errorf("upstream node %q failed: %s", failed.NodeID, failed.Output.Message)
	}
	sources := call.Inputs.OfKind(tradeflow.KindDataSource)
	if len(sources) == 0 {
		return nil, fmt.Errorf("indicator %q has no data source input", call.Node.ID)
	}
	src, err := tradeflow.Decode[DataSourceOutput](sources[0].Output.Value)
	if err != nil {
		return nil, fmt.Errorf("read data source %q: %w", sources[0].NodeID, err)
	}

	out := IndicatorOutput{Name: name, Type: cfg.Type, Symbol: src.Symbol}
	out.Bar, _ = src.Last()

	values, err := indicator.Compute(src.Bars, cfg)
	var short *tradeflow.InsufficientDataError
	switch {
	case errors.As(err, &short):
		logf(ctx, call.Node.ID, "indicator warming up", map[string]any{"required": short.Required, "got": short.Got})
		out.Values = make([]indicator.Value, len(src.Bars))
		return out, nil
	case err != nil:
		return nil, err
	}

	out.Values = values
	out.Latest = indicator.Latest(values)
	if len(values) > 1 {
		out.Previous = values[len(values)-2]
	}
	return out, nil
}

// DecodeIndicator decodes an INDICATOR config and returns the variable name
// its value is exposed under.
func DecodeIndicator(n *tradeflow.Node) (indicator.Config, string, error) {
	raw, err := tradeflow.DecodeConfig[IndicatorConfig](n)
	if err != nil {
		return indicator.Config{}, "", err
	}
	cfg := indicator.Config{
		Type:   indicator.Type(raw.Type),
		Period: raw.Period,
		Fast:   raw.Fast,
		Slow:   raw.Slow,
	}.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, "", fmt.Errorf("node %q: %w", n.ID, err)
	}
	name := raw.Name
	if name == "" {
		name = strings.ToLower(string(cfg.Type))
	}
	return cfg, name, nil
}
