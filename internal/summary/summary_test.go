package summary

import (
	"math"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/minipdb/minipdb/pkg/types"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDescribe_KnownValues(t *testing.T) {
	s := Describe("mu", []float64{1, 2, 3, 4, 5})

	if s.N != 5 || !approx(s.Mean, 3) {
		t.Errorf("N=%d mean=%v", s.N, s.Mean)
	}
	if !approx(s.SD, math.Sqrt(2.5)) {
		t.Errorf("SD = %v, want %v", s.SD, math.Sqrt(2.5))
	}
	if !approx(s.Q05, 1.2) || !approx(s.Q50, 3) || !approx(s.Q95, 4.8) {
		t.Errorf("quantiles = %v %v %v", s.Q05, s.Q50, s.Q95)
	}
}

func TestDescribe_SkipsNaNAndHandlesSmallInputs(t *testing.T) {
	s := Describe("x", []float64{math.NaN(), 7})
	if s.N != 1 || s.Mean != 7 || s.Q50 != 7 {
		t.Errorf("unexpected stat: %+v", s)
	}
	if !math.IsNaN(s.SD) {
		t.Errorf("SD of one value should be NaN, got %v", s.SD)
	}

	empty := Describe("x", nil)
	if !math.IsNaN(empty.Mean) || !math.IsNaN(empty.Q95) {
		t.Errorf("empty input should give NaN, got %+v", empty)
	}
}

func TestSummarize_SkipsDiagnostics(t *testing.T) {
	draws := &types.Table{
		Columns: []string{"chain__", "iter__", "draw__", "lp__", "accept_stat__", "mu", "theta[1]"},
		Rows: [][]float64{
			{1, 1, 1, -1, 0.9, 0.0, 10},
			{1, 2, 2, -2, 0.8, 1.0, 20},
		},
	}

	stats, err := Summarize(draws)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(stats) != 2 || stats[0].Parameter != "mu" || stats[1].Parameter != "theta[1]" {
		t.Fatalf("unexpected parameters: %+v", stats)
	}
	if !approx(stats[1].Mean, 15) {
		t.Errorf("theta[1] mean = %v", stats[1].Mean)
	}

	if _, err := Summarize(&types.Table{}); err == nil {
		t.Error("expected error for an empty table")
	}
}

func TestQuantile_Bounds(t *testing.T) {
	xs := []float64{-3, 0, 9}
	if Quantile(xs, 0) != -3 || Quantile(xs, 1) != 9 {
		t.Error("extreme quantiles should be min and max")
	}
	if !math.IsNaN(Quantile(xs, 1.5)) {
		t.Error("out of range q should be NaN")
	}
}

func TestProperty_QuantilesAreOrderedAndBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("min <= q05 <= q50 <= q95 <= max and mean within range", prop.ForAll(
		func(xs []float64) bool {
			if len(xs) == 0 {
				return true
			}
			s := Describe("p", xs)
			sorted := append([]float64(nil), xs...)
			sort.Float64s(sorted)
			lo, hi := sorted[0], sorted[len(sorted)-1]
			return lo <= s.Q05 && s.Q05 <= s.Q50 && s.Q50 <= s.Q95 && s.Q95 <= hi &&
				s.Mean >= lo-1e-6 && s.Mean <= hi+1e-6
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}
