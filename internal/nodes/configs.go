package nodes

import (
	"github.com/shopspring/decimal"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// Trigger modes.
const (
	TriggerManual  = "manual"
	TriggerCron    = "cron"
	TriggerWebhook = "webhook"
	TriggerReplay  = "replay"
)

// TriggerConfig configures a TRIGGER node.
type TriggerConfig struct {
	Mode     string `json:"mode"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// DataSourceConfig configures a DATA_SOURCE node.
type DataSourceConfig struct {
	Symbol   string             `json:"symbol"`
	Interval tradeflow.Interval `json:"interval"`
	Lookback int                `json:"lookback"`
}

const defaultLookback = 100

// IndicatorConfig configures an INDICATOR node. Name is the variable the
// latest value is exposed under in condition expressions.
type IndicatorConfig struct {
	Type   string `json:"type"`
	Period int    `json:"period"`
	Fast   int    `json:"fast,omitempty"`
	Slow   int    `json:"slow,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ConditionConfig configures a CONDITION node.
type ConditionConfig struct {
	Expression string `json:"expression"`
}

// OrderConfig configures an ORDER node.
type OrderConfig struct {
	Side         tradeflow.Side      `json:"side"`
	Quantity     decimal.Decimal     `json:"quantity"`
	OrderType    tradeflow.OrderType `json:"order_type"`
	LimitPrice   decimal.Decimal     `json:"limit_price"`
	Symbol       string              `json:"symbol,omitempty"`
	CredentialID string              `json:"credential_id,omitempty"`
	MaxPosition  decimal.Decimal     `json:"max_position"`
	AllowShort   bool                `json:"allow_short,omitempty"`
}

// NotifyConfig configures a NOTIFY node.
type NotifyConfig struct {
	CredentialID string `json:"credential_id"`
	Message      string `json:"message"`
}
