package registry

import (
	"strconv"
	"time"

	"github.com/minipdb/minipdb/pkg/types"
)

// timestampFormats are the layouts SQLite TIMESTAMP text may take when the
// driver hands it back unparsed.
var timestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func asFloat64(v interface{}) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	case string:
		x, _ := strconv.ParseFloat(f, 64)
		return x
	}
	return 0
}

func asTime(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		for _, layout := range timestampFormats {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func definitionFromRow(row types.Row) types.ModelDefinition {
	return types.ModelDefinition{
		ModelName:   asString(row["model_name"]),
		Code:        asString(row["code"]),
		Data:        asString(row["data"]),
		ProgramHash: asString(row["program_hash"]),
		LastRun:     asTime(row["last_run"]),
	}
}

func settingsFromRow(row types.Row) types.RunConfiguration {
	return types.RunConfiguration{
		ModelName:      asString(row["model_name"]),
		IterWarmup:     asInt64(row["iter_warmup"]),
		IterSampling:   asInt64(row["iter_sampling"]),
		Chains:         asInt64(row["chains"]),
		ParallelChains: asInt64(row["parallel_chains"]),
		Thin:           asInt64(row["thin"]),
		Seed:           asInt64(row["seed"]),
		AdaptDelta:     asFloat64(row["adapt_delta"]),
		MaxTreedepth:   asInt64(row["max_treedepth"]),
		SigFigs:        asInt64(row["sig_figs"]),
	}
}
