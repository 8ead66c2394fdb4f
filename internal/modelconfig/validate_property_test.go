package modelconfig

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ValidateIdempotent checks that validating already-normalized
// settings returns exactly the same settings.
func TestProperty_ValidateIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ValidateMeta(MetaMap(s)) == s", prop.ForAll(
		func(iter, warmup, chains, seed, treedepth, sigFigs int64, delta float64) bool {
			meta := map[string]interface{}{
				"iter_sampling": iter,
				"iter_warmup":   warmup,
				"chains":        chains,
				"seed":          seed,
				"adapt_delta":   delta,
				"max_treedepth": treedepth,
				"sig_figs":      sigFigs,
			}
			first, err := ValidateMeta(meta, "prop.yml")
			if err != nil {
				return false
			}
			second, err := ValidateMeta(MetaMap(first), "prop.yml")
			if err != nil {
				return false
			}
			return first == second
		},
		gen.Int64Range(MinIter, MaxIter),
		gen.Int64Range(MinIter, MaxIter),
		gen.Int64Range(1, 64),
		gen.Int64Range(0, MaxSeed),
		gen.Int64Range(1, MaxMaxTreedepth),
		gen.Int64Range(1, MaxSigFigs),
		gen.Float64Range(0.01, 0.99),
	))

	properties.TestingRun(t)
}

// TestProperty_IterSamplingBounds checks that iter_sampling is accepted and
// preserved inside [2000, 1e6] and rejected outside it.
func TestProperty_IterSamplingBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("in-range iter_sampling is preserved", prop.ForAll(
		func(iter int64) bool {
			s, err := ValidateMeta(map[string]interface{}{"iter_sampling": iter, "seed": int64(1)}, "prop.yml")
			return err == nil && s.IterSampling == iter
		},
		gen.Int64Range(MinIter, MaxIter),
	))

	properties.Property("out-of-range iter_sampling fails with a bounds error", prop.ForAll(
		func(iter int64) bool {
			_, err := ValidateMeta(map[string]interface{}{"iter_sampling": iter, "seed": int64(1)}, "prop.yml")
			ce, ok := err.(*ConfigError)
			return ok && ce.Field == "iter_sampling" && ce.Code == "OUT_OF_BOUNDS"
		},
		gen.OneGenOf(
			gen.Int64Range(-1_000_000_000, MinIter-1),
			gen.Int64Range(MaxIter+1, 1_000_000_000_000),
		),
	))

	properties.TestingRun(t)
}

// TestProperty_ParallelChains checks the parallel_chains default and upper bound.
func TestProperty_ParallelChains(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parallel_chains defaults to chains", prop.ForAll(
		func(chains int64) bool {
			s, err := ValidateMeta(map[string]interface{}{"chains": chains, "seed": int64(1)}, "prop.yml")
			return err == nil && s.ParallelChains == chains
		},
		gen.Int64Range(1, 1000),
	))

	properties.Property("parallel_chains above chains always fails", prop.ForAll(
		func(chains, extra int64) bool {
			_, err := ValidateMeta(map[string]interface{}{
				"chains":          chains,
				"parallel_chains": chains + extra,
			}, "prop.yml")
			ce, ok := err.(*ConfigError)
			return ok && ce.Field == "parallel_chains"
		},
		gen.Int64Range(1, 1000),
		gen.Int64Range(1, 1000),
	))

	properties.TestingRun(t)
}
