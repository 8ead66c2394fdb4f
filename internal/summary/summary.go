// Package summary computes posterior summaries from a model's draws.
package summary

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/minipdb/minipdb/pkg/types"
)

// Quantiles reported for every parameter.
var Quantiles = []float64{0.05, 0.5, 0.95}

// Stat summarizes one parameter.
type Stat struct {
	Parameter string  `json:"parameter"`
	N         int     `json:"n"`
	Mean      float64 `json:"mean"`
	SD        float64 `json:"sd"`
	Q05       float64 `json:"q05"`
	Q50       float64 `json:"q50"`
	Q95       float64 `json:"q95"`
}

// IsDiagnostic reports whether a draws column is sampler bookkeeping, such as
// lp__ or chain__, rather than a model quantity.
func IsDiagnostic(column string) bool {
	return strings.HasSuffix(column, "__")
}

// Summarize returns one Stat per model quantity in column order. NaN values
// are ignored.
func Summarize(draws *types.Table) ([]Stat, error) {
	if err := draws.Validate(); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	var out []Stat
	for _, col := range draws.Columns {
		if IsDiagnostic(col) {
			continue
		}
		values, _ := draws.Column(col)
		out = append(out, Describe(col, values))
	}
	return out, nil
}

// Describe summarizes values. With fewer than two values SD is NaN; with none
// every statistic is NaN.
func Describe(name string, values []float64) Stat {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			xs = append(xs, v)
		}
	}
	sort.Float64s(xs)

	s := Stat{Parameter: name, N: len(xs)}
	s.Mean = mean(xs)
	s.SD = stddev(xs, s.Mean)
	s.Q05 = Quantile(xs, Quantiles[0])
	s.Q50 = Quantile(xs, Quantiles[1])
	s.Q95 = Quantile(xs, Quantiles[2])
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Quantile returns the q-th quantile of sorted using linear interpolation
// between closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 || q < 0 || q > 1 {
		return math.NaN()
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	v := sorted[lo] + frac*(sorted[hi]-sorted[lo])
	return math.Min(math.Max(v, sorted[lo]), sorted[hi])
}
