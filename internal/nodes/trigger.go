package nodes

import (
	"context"
	"strings"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// TriggerExecutor echoes what started the run. It has no side effects.
type TriggerExecutor struct{}

func (TriggerExecutor) Execute(_ context.Context, call *Call) (any, error) {
	cfg, err := tradeflow.DecodeConfig[TriggerConfig](call.Node)
	if err != nil {
		return nil, err
	}
	mode := strings.ToLower(cfg.Mode)
	if m, ok := call.Trigger["mode"].(string); ok && m != "" {
		mode = m
	}
	if mode == "" {
		mode = TriggerManual
	}
	return TriggerOutput{Mode: mode, FiredAt: call.Now, Payload: call.Trigger}, nil
}
