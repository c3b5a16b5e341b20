package market

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SymbolStats summarizes the recent price history of one symbol.
// Volatility is the standard deviation of per-tick log returns; the other
// fields describe the raw price series.
type SymbolStats struct {
	Symbol     string  `json:"symbol"`
	Samples    int     `json:"samples"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stdDev"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Volatility float64 `json:"volatility"`
}

// Stats computes summary statistics over up to n recent prices of a symbol.
// Returns false when the symbol is unknown.
func (f *Feed) Stats(symbol string, n int) (SymbolStats, bool) {
	history := f.History(symbol, n)
	if history == nil {
		return SymbolStats{}, false
	}

	s := SymbolStats{
		Symbol:  symbol,
		Samples: len(history),
	}

	s.Mean = stat.Mean(history, nil)
	if len(history) > 1 {
		s.StdDev = stat.StdDev(history, nil)
	}

	s.Min, s.Max = history[0], history[0]
	for _, p := range history[1:] {
		if p < s.Min {
			s.Min = p
		}
		if p > s.Max {
			s.Max = p
		}
	}

	if len(history) > 2 {
		returns := make([]float64, 0, len(history)-1)
		for i := 1; i < len(history); i++ {
			if history[i-1] > 0 && history[i] > 0 {
				returns = append(returns, math.Log(history[i]/history[i-1]))
			}
		}
		if len(returns) > 1 {
			s.Volatility = stat.StdDev(returns, nil)
		}
	}

	return s, true
}
