package engine

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	regerrors "github.com/minipdb/minipdb/internal/errors"
)

// Synthetic is a Sampler that produces standard normal draws for a fixed set
// of parameters without running any external process. It is used for dry
// runs and in tests.
type Synthetic struct {
	// Params names the model parameters; defaults to a single "mu"
	Params []string

	// Fail, when set, decides per request whether the run should fail
	Fail func(req SampleRequest) bool

	calls atomic.Int64
	mu    sync.Mutex
	seen  []string
}

// Calls returns how many times Sample has been invoked.
func (s *Synthetic) Calls() int64 { return s.calls.Load() }

// Requested returns the Stan files of every request, in call order.
func (s *Synthetic) Requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// Sample returns iter_sampling/thin draws per chain.
func (s *Synthetic) Sample(ctx context.Context, req SampleRequest) (*Fit, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, req.StanFile)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, regerrors.NewEngineError(regerrors.CodeSamplingFailed, "canceled", err)
	}
	if s.Fail != nil && s.Fail(req) {
		return nil, regerrors.NewEngineError(regerrors.CodeSamplingFailed, "synthetic failure for "+req.StanFile, nil)
	}

	params := s.Params
	if len(params) == 0 {
		params = []string{"mu"}
	}
	st := req.Settings
	thin := st.Thin
	if thin < 1 {
		thin = 1
	}
	perChain := int(st.IterSampling / thin)

	cols := append([]string{"lp__", "accept_stat__"}, params...)
	chains := make([]*ChainOutput, st.Chains)
	for c := range chains {
		rng := rand.New(rand.NewPCG(uint64(st.Seed), uint64(c+1)))
		out := &ChainOutput{Columns: cols, Rows: make([][]float64, perChain)}
		for i := range out.Rows {
			row := make([]float64, len(cols))
			row[1] = rng.Float64()
			for p := range params {
				x := rng.NormFloat64()
				row[2+p] = x
				row[0] -= 0.5 * x * x
			}
			out.Rows[i] = row
		}
		out.InvMetric = make([]float64, len(params))
		for p := range out.InvMetric {
			out.InvMetric[p] = 1 + 0.1*rng.NormFloat64()
		}
		chains[c] = out
	}
	return Assemble(chains)
}
