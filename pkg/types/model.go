package types

import "time"

// Control table names.
const (
	ProgramTable = "Program"
	MetaTable    = "Meta"
)

// MetricSuffix is appended to a model name to form its metric table name.
const MetricSuffix = "_metric"

// Table name limits shared by the store and the model name validator.
const (
	MaxIdentifierLength = 128
	MaxModelNameLength  = MaxIdentifierLength - len(MetricSuffix)

	// ReservedTablePrefix is reserved by SQLite, compared case-insensitively.
	ReservedTablePrefix = "sqlite_"
)

// MetricTableName returns the name of the per-chain metric table for a model.
func MetricTableName(modelName string) string {
	return modelName + MetricSuffix
}

// ModelDefinition is a registered program: Stan code plus its input data.
type ModelDefinition struct {
	// ModelName is the primary key
	ModelName string `json:"model_name"`

	// Code is the Stan source code
	Code string `json:"code"`

	// Data is the serialized JSON input data
	Data string `json:"data"`

	// ProgramHash is the digest of Code and Data used to reject duplicate programs
	ProgramHash string `json:"program_hash"`

	// LastRun is the time the last sampling run completed; nil if never run
	LastRun *time.Time `json:"last_run,omitempty"`
}

// RunConfiguration holds the sampler settings for one model.
type RunConfiguration struct {
	ModelName      string  `json:"model_name" yaml:"model_name"`
	IterWarmup     int64   `json:"iter_warmup" yaml:"iter_warmup"`
	IterSampling   int64   `json:"iter_sampling" yaml:"iter_sampling"`
	Chains         int64   `json:"chains" yaml:"chains"`
	ParallelChains int64   `json:"parallel_chains" yaml:"parallel_chains"`
	Thin           int64   `json:"thin" yaml:"thin"`
	Seed           int64   `json:"seed" yaml:"seed"`
	AdaptDelta     float64 `json:"adapt_delta" yaml:"adapt_delta"`
	MaxTreedepth   int64   `json:"max_treedepth" yaml:"max_treedepth"`
	SigFigs        int64   `json:"sig_figs" yaml:"sig_figs"`
}

// MetaColumns lists the columns of the Meta table in storage order. It doubles
// as the allowlist for configuration updates.
var MetaColumns = []string{
	"model_name",
	"iter_warmup",
	"iter_sampling",
	"chains",
	"parallel_chains",
	"thin",
	"seed",
	"adapt_delta",
	"max_treedepth",
	"sig_figs",
}

// ProgramColumns lists the columns of the Program table in storage order.
var ProgramColumns = []string{"model_name", "code", "data", "program_hash", "last_run"}

// Row converts the configuration into a Meta table row.
func (c RunConfiguration) Row() Row {
	return Row{
		"model_name":      c.ModelName,
		"iter_warmup":     c.IterWarmup,
		"iter_sampling":   c.IterSampling,
		"chains":          c.Chains,
		"parallel_chains": c.ParallelChains,
		"thin":            c.Thin,
		"seed":            c.Seed,
		"adapt_delta":     c.AdaptDelta,
		"max_treedepth":   c.MaxTreedepth,
		"sig_figs":        c.SigFigs,
	}
}

// Row converts the definition into a Program table row.
func (d ModelDefinition) Row() Row {
	row := Row{
		"model_name":   d.ModelName,
		"code":         d.Code,
		"data":         d.Data,
		"program_hash": d.ProgramHash,
		"last_run":     nil,
	}
	if d.LastRun != nil {
		row["last_run"] = *d.LastRun
	}
	return row
}
