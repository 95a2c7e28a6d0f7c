// Package indicator computes technical indicators over OHLCV series.
//
// Every function is causal: the value at index k depends only on bars
// [0..k], so recomputing over a prefix yields the same value at its last
// index as a pass over the full series. Replays rely on this to evaluate
// indicators bar by bar.
package indicator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// Type names a supported indicator.
type Type string

const (
	SMA  Type = "sma"
	EMA  Type = "ema"
	RSI  Type = "rsi"
	MACD Type = "macd"
)

// scale bounds the precision of recursive averages so repeated
// multiplication does not grow decimal exponents without limit.
const scale = 12

var hundred = decimal.NewFromInt(100)

// Config selects an indicator and its lookback.
type Config struct {
	Type   Type `json:"type"`
	Period int  `json:"period"`
	Fast   int  `json:"fast,omitempty"`
	Slow   int  `json:"slow,omitempty"`
}

// Value is one aligned output. Ready is false for leading bars that do not
// have enough lookback yet.
type Value struct {
	Value decimal.Decimal `json:"value"`
	Ready bool            `json:"ready"`
}

// Normalize lower-cases the type and fills MACD defaults.
func (c Config) Normalize() Config {
	c.Type = Type(strings.ToLower(string(c.Type)))
	if c.Type == MACD {
		if c.Fast <= 0 {
			c.Fast = 12
		}
		if c.Slow <= 0 {
			c.Slow = 26
		}
	}
	return c
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	c = c.Normalize()
	switch c.Type {
	case SMA, EMA, RSI:
		if c.Period <= 0 {
			return fmt.Errorf("indicator %s: period must be positive, got %d", c.Type, c.Period)
		}
	case MACD:
		if c.Fast >= c.Slow {
			return fmt.Errorf("indicator macd: fast period %d must be below slow period %d", c.Fast, c.Slow)
		}
	default:
		return fmt.Errorf("unknown indicator type %q", c.Type)
	}
	return nil
}

// Window returns the number of bars needed for the first ready value.
func (c Config) Window() int {
	c = c.Normalize()
	switch c.Type {
	case RSI:
		return c.Period + 1
	case MACD:
		return c.Slow
	default:
		return c.Period
	}
}

// Compute returns one Value per bar. It fails with
// *tradeflow.InsufficientDataError only when the whole series is shorter
// than the window; leading not-ready entries are the normal case.
func Compute(series []tradeflow.Bar, cfg Config) ([]Value, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w := cfg.Window(); len(series) < w {
		return nil, &tradeflow.InsufficientDataError{Required: w, Got: len(series)}
	}

	closes := make([]decimal.Decimal, len(series))
	for i, b := range series {
		closes[i] = b.Close
	}

	switch cfg.Type {
	case SMA:
		return smaSeries(closes, cfg.Period), nil
	case EMA:
		return emaSeries(closes, cfg.Period), nil
	case RSI:
		return rsiSeries(closes, cfg.Period), nil
	default:
		return macdSeries(closes, cfg.Fast, cfg.Slow), nil
	}
}

// Latest returns the last value of a computed series.
func Latest(values []Value) Value {
	if len(values) == 0 {
		return Value{}
	}
	return values[len(values)-1]
}

func smaSeries(closes []decimal.Decimal, period int) []Value {
	out := make([]Value, len(closes))
	n := decimal.NewFromInt(int64(period))
	sum := decimal.Zero
	for i, c := range closes {
		sum = sum.Add(c)
		if i >= period {
			sum = sum.Sub(closes[i-period])
		}
		if i >= period-1 {
			out[i] = Value{Value: sum.Div(n).Round(scale), Ready: true}
		}
	}
	return out
}

// emaSeries seeds with the simple average of the first period closes and
// then applies the usual 2/(period+1) smoothing.
func emaSeries(closes []decimal.Decimal, period int) []Value {
	out := make([]Value, len(closes))
	if len(closes) < period {
		return out
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	seed := decimal.Zero
	for i := 0; i < period; i++ {
		seed = seed.Add(closes[i])
	}
	prev := seed.Div(decimal.NewFromInt(int64(period))).Round(scale)
	out[period-1] = Value{Value: prev, Ready: true}
	for i := period; i < len(closes); i++ {
		prev = prev.Add(k.Mul(closes[i].Sub(prev))).Round(scale)
		out[i] = Value{Value: prev, Ready: true}
	}
	return out
}

// rsiSeries uses Wilder smoothing.
func rsiSeries(closes []decimal.Decimal, period int) []Value {
	out := make([]Value, len(closes))
	if len(closes) <= period {
		return out
	}
	n := decimal.NewFromInt(int64(period))
	n1 := decimal.NewFromInt(int64(period - 1))

	gains, losses := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		g, l := split(closes[i].Sub(closes[i-1]))
		gains = gains.Add(g)
		losses = losses.Add(l)
	}
	avgGain := gains.Div(n).Round(scale)
	avgLoss := losses.Div(n).Round(scale)
	out[period] = Value{Value: rsi(avgGain, avgLoss), Ready: true}

	for i := period + 1; i < len(closes); i++ {
		g, l := split(closes[i].Sub(closes[i-1]))
		avgGain = avgGain.Mul(n1).Add(g).Div(n).Round(scale)
		avgLoss = avgLoss.Mul(n1).Add(l).Div(n).Round(scale)
		out[i] = Value{Value: rsi(avgGain, avgLoss), Ready: true}
	}
	return out
}

func split(change decimal.Decimal) (gain, loss decimal.Decimal) {
	if change.IsPositive() {
		return change, decimal.Zero
	}
	return decimal.Zero, change.Abs()
}

func rsi(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return decimal.NewFromInt(50)
		}
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))).Round(scale)
}

// macdSeries returns the MACD line (fast EMA minus slow EMA).
func macdSeries(closes []decimal.Decimal, fast, slow int) []Value {
	f := emaSeries(closes, fast)
	s := emaSeries(closes, slow)
	out := make([]Value, len(closes))
	for i := range closes {
		if f[i].Ready && s[i].Ready {
			out[i] = Value{Value: f[i].Value.Sub(s[i].Value), Ready: true}
		}
	}
	return out
}
