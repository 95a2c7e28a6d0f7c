package indicator

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes ...float64) []tradeflow.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]tradeflow.Bar, len(closes))
	for i, c := range closes {
		p := decimal.NewFromFloat(c)
		out[i] = tradeflow.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1),
		}
	}
	return out
}

func TestSMALeadingEntriesNotReady(t *testing.T) {
	values, err := Compute(barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), Config{Type: SMA, Period: 5})
	require.NoError(t, err)
	require.Len(t, values, 10)

	for i := 0; i < 4; i++ {
		assert.False(t, values[i].Ready, "index %d should not be ready", i)
		assert.True(t, values[i].Value.IsZero())
	}
	assert.True(t, values[4].Ready)
	assert.True(t, values[4].Value.Equal(decimal.NewFromInt(3)), "sma[4] = %s", values[4].Value)
	assert.True(t, values[9].Value.Equal(decimal.NewFromInt(8)), "sma[9] = %s", values[9].Value)
}

func TestEMASeededWithSMA(t *testing.T) {
	values, err := Compute(barsFromCloses(2, 4, 6, 8), Config{Type: EMA, Period: 3})
	require.NoError(t, err)
	assert.False(t, values[1].Ready)
	assert.True(t, values[2].Value.Equal(decimal.NewFromInt(4)))
	// k = 0.5: 4 + 0.5*(8-4)
	assert.True(t, values[3].Value.Equal(decimal.NewFromInt(6)), "ema[3] = %s", values[3].Value)
}

func TestRSIBounds(t *testing.T) {
	up, err := Compute(barsFromCloses(1, 2, 3, 4, 5, 6), Config{Type: RSI, Period: 3})
	require.NoError(t, err)
	assert.False(t, up[2].Ready)
	assert.True(t, up[3].Ready)
	assert.True(t, up[5].Value.Equal(decimal.NewFromInt(100)))

	down, err := Compute(barsFromCloses(6, 5, 4, 3, 2, 1), Config{Type: RSI, Period: 3})
	require.NoError(t, err)
	assert.True(t, down[5].Value.IsZero(), "rsi = %s", down[5].Value)

	flat, err := Compute(barsFromCloses(3, 3, 3, 3), Config{Type: RSI, Period: 3})
	require.NoError(t, err)
	assert.True(t, flat[3].Value.Equal(decimal.NewFromInt(50)))
}

func TestInsufficientDataOnlyForShortSeries(t *testing.T) {
	_, err := Compute(barsFromCloses(1, 2, 3), Config{Type: SMA, Period: 5})
	var ide *tradeflow.InsufficientDataError
	require.True(t, errors.As(err, &ide), "got %v", err)
	assert.Equal(t, 5, ide.Required)
	assert.Equal(t, 3, ide.Got)

	_, err = Compute(barsFromCloses(1, 2, 3, 4, 5), Config{Type: RSI, Period: 5})
	require.Error(t, err, "rsi needs period+1 bars")

	_, err = Compute(barsFromCloses(1, 2, 3, 4, 5), Config{Type: SMA, Period: 5})
	require.NoError(t, err)
}

func TestConfigValidation(t *testing.T) {
	_, err := Compute(barsFromCloses(1, 2), Config{Type: "vwap", Period: 2})
	assert.Error(t, err)
	_, err = Compute(barsFromCloses(1, 2), Config{Type: SMA})
	assert.Error(t, err)
	_, err = Compute(barsFromCloses(1, 2), Config{Type: MACD, Fast: 5, Slow: 3})
	assert.Error(t, err)

	cfg := Config{Type: "MACD"}.Normalize()
	assert.Equal(t, MACD, cfg.Type)
	assert.Equal(t, 26, cfg.Window())
}

func TestComputeIsCausal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	closes := make([]float64, 80)
	price := 100.0
	for i := range closes {
		price += rng.Float64()*4 - 2
		closes[i] = float64(int(price*100)) / 100
	}
	series := barsFromCloses(closes...)

	configs := []Config{
		{Type: SMA, Period: 7},
		{Type: EMA, Period: 10},
		{Type: RSI, Period: 14},
		{Type: MACD, Fast: 5, Slow: 13},
	}
	for _, cfg := range configs {
		full, err := Compute(series, cfg)
		require.NoError(t, err)
		for k := range series {
			prefix, err := Compute(series[:k+1], cfg)
			if err != nil {
				require.False(t, full[k].Ready, "%s: full[%d] ready but prefix errored", cfg.Type, k)
				continue
			}
			got := prefix[k]
			assert.Equal(t, full[k].Ready, got.Ready, "%s ready at %d", cfg.Type, k)
			assert.True(t, full[k].Value.Equal(got.Value), "%s at %d: full %s prefix %s", cfg.Type, k, full[k].Value, got.Value)
		}
	}
}
