// Package engine runs the external sampling engine and turns its output into
// draws and metric tables.
package engine

import (
	"context"
	"fmt"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/pkg/types"
)

// Sampler draws from the posterior of one Stan program.
type Sampler interface {
	Sample(ctx context.Context, req SampleRequest) (*Fit, error)
}

// SampleRequest is everything a sampler needs for one run.
type SampleRequest struct {
	// StanFile is the Stan program; the compiled executable lives next to it
	StanFile string

	// DataFile is the JSON input data
	DataFile string

	// OutputDir receives the per-chain CSV files
	OutputDir string

	// Settings are the sampler settings, with parallel_chains already clamped
	Settings types.RunConfiguration
}

// Fit is the result of a successful run.
type Fit struct {
	// Draws has one row per draw across all chains, led by chain__, iter__, draw__
	Draws *types.Table

	// Metric has one column per chain (chain_1..chain_N) and one row per
	// unconstrained parameter: the adapted diagonal inverse metric
	Metric *types.Table
}

// ChainOutput is the parsed output of a single chain.
type ChainOutput struct {
	Columns   []string
	Rows      [][]float64
	InvMetric []float64
}

// Draw bookkeeping columns prepended to every draws table.
const (
	ColChain = "chain__"
	ColIter  = "iter__"
	ColDraw  = "draw__"
)

// MetricColumn names the metric column of a 1-based chain id.
func MetricColumn(chain int) string {
	return fmt.Sprintf("chain_%d", chain)
}

// Assemble merges per-chain outputs, in chain order, into a Fit.
func Assemble(chains []*ChainOutput) (*Fit, error) {
	if len(chains) == 0 {
		return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, "no chains to assemble", nil)
	}
	first := chains[0]
	nParams := len(first.InvMetric)

	total := 0
	for i, c := range chains {
		if c == nil {
			return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid,
				fmt.Sprintf("chain %d produced no output", i+1), nil)
		}
		if !sameColumns(first.Columns, c.Columns) {
			return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid,
				fmt.Sprintf("chain %d columns differ from chain 1", i+1), nil)
		}
		if len(c.InvMetric) != nParams {
			return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid,
				fmt.Sprintf("chain %d metric has %d entries, want %d", i+1, len(c.InvMetric), nParams), nil)
		}
		total += len(c.Rows)
	}

	draws := &types.Table{
		Columns: append([]string{ColChain, ColIter, ColDraw}, first.Columns...),
		Rows:    make([][]float64, 0, total),
	}
	draw := 0
	for i, c := range chains {
		for j, r := range c.Rows {
			draw++
			row := make([]float64, 0, len(r)+3)
			row = append(row, float64(i+1), float64(j+1), float64(draw))
			draws.Rows = append(draws.Rows, append(row, r...))
		}
	}

	metric := &types.Table{Columns: make([]string, len(chains))}
	for i := range chains {
		metric.Columns[i] = MetricColumn(i + 1)
	}
	for p := 0; p < nParams; p++ {
		row := make([]float64, len(chains))
		for i, c := range chains {
			row[i] = c.InvMetric[p]
		}
		metric.Rows = append(metric.Rows, row)
	}

	return &Fit{Draws: draws, Metric: metric}, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
