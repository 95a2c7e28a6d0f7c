package nodes

import (
	"time"

	"github.com/soochol/tradeflow/internal/indicator"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// TriggerOutput describes what started the run.
type TriggerOutput struct {
	Mode    string         `json:"mode"`
	FiredAt time.Time      `json:"fired_at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DataSourceOutput is the candle window visible to downstream nodes.
type DataSourceOutput struct {
	Symbol   string             `json:"symbol"`
	Interval tradeflow.Interval `json:"interval"`
	Bars     []tradeflow.Bar    `json:"bars"`
}

// Last returns the newest bar.
func (o DataSourceOutput) Last() (tradeflow.Bar, bool) {
	if len(o.Bars) == 0 {
		return tradeflow.Bar{}, false
	}
	return o.Bars[len(o.Bars)-1], true
}

// IndicatorOutput carries the computed series and the newest bar it was
// computed against, so conditions can compare price with indicator.
type IndicatorOutput struct {
	Name     string            `json:"name"`
	Type     indicator.Type    `json:"type"`
	Symbol   string            `json:"symbol"`
	Values   []indicator.Value `json:"values"`
	Latest   indicator.Value   `json:"latest"`
	Previous indicator.Value   `json:"previous"`
	Bar      tradeflow.Bar     `json:"bar"`
}

// ConditionOutput is the evaluated expression.
type ConditionOutput struct {
	Expression string        `json:"expression"`
	Result     bool          `json:"result"`
	Ready      bool          `json:"ready"`
	Symbol     string        `json:"symbol,omitempty"`
	Bar        tradeflow.Bar `json:"bar"`
}

// Order actions.
const (
	OrderFilled   = "filled"
	OrderSkipped  = "skipped"
	OrderUnfilled = "unfilled"
)

// OrderOutput reports what an ORDER node did.
type OrderOutput struct {
	Action string           `json:"action"`
	Reason string           `json:"reason,omitempty"`
	Order  *tradeflow.Order `json:"order,omitempty"`
	Fill   *tradeflow.Fill  `json:"fill,omitempty"`
}

// NotifyOutput reports a rendered (and possibly delivered) message.
type NotifyOutput struct {
	Delivered bool   `json:"delivered"`
	Channel   string `json:"channel,omitempty"`
	Message   string `json:"message"`
}
