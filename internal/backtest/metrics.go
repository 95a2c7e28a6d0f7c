package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// computeMetrics summarises a replay. Win rate is over closed round trips;
// max drawdown is the largest peak-to-trough fall as a fraction of the peak.
// Sharpe is annualised from per-bar returns and is nil when it cannot be
// computed (fewer than two returns or no variance).
func computeMetrics(initial decimal.Decimal, curve []tradeflow.EquityPoint, trips []RoundTrip, interval tradeflow.Interval) tradeflow.Metrics {
	m := tradeflow.Metrics{RoundTrips: len(trips)}
	if len(curve) > 0 {
		m.NetPnL = curve[len(curve)-1].Equity.Sub(initial)
	}

	wins := 0
	for _, rt := range trips {
		if rt.PnL.IsPositive() {
			wins++
		}
	}
	if len(trips) > 0 {
		m.WinRate = float64(wins) / float64(len(trips))
	}

	m.MaxDrawdown = maxDrawdown(curve)
	m.Sharpe = sharpe(curve, interval.PeriodsPerYear())
	return m
}

func maxDrawdown(curve []tradeflow.EquityPoint) float64 {
	var peak, worst float64
	for i, p := range curve {
		e := p.Equity.InexactFloat64()
		if i == 0 || e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func sharpe(curve []tradeflow.EquityPoint, periodsPerYear float64) *float64 {
	if len(curve) < 3 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			return nil
		}
		returns = append(returns, curve[i].Equity.InexactFloat64()/prev-1)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 || math.IsNaN(std) {
		return nil
	}
	s := mean / std * math.Sqrt(periodsPerYear)
	return &s
}
