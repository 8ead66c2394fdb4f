// Package modelconfig loads, normalizes and validates the per-model
// configuration files that describe a Stan program and its sampler settings.
package modelconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/pkg/types"
)

// Sampler setting bounds and defaults.
const (
	MinIter = 2_000
	MaxIter = 1_000_000

	DefaultIterSampling = 10_000
	DefaultChains       = 10
	DefaultThin         = 1
	DefaultAdaptDelta   = 0.8
	DefaultMaxTreedepth = 10
	DefaultSigFigs      = 16

	MaxSeed         = 4_294_967_295
	MaxMaxTreedepth = 20
	MaxSigFigs      = 18
)

// Recognized top-level and meta keys.
const (
	KeyModelName = "model_name"
	KeyStanFile  = "stan_file"
	KeyJSONData  = "json_data"
	KeyMeta      = "meta"
)

// randomSeed draws the default seed. Tests replace it for determinism.
var randomSeed = func() int64 {
	return rand.Int64N(MaxSeed + 1)
}

// reservedNames collide with the control tables (SQLite names are case-insensitive).
var reservedNames = map[string]struct{}{
	strings.ToLower(types.ProgramTable): {},
	strings.ToLower(types.MetaTable):    {},
}

// Config is a validated, fully defaulted model configuration.
type Config struct {
	// ModelName is the unique registry key
	ModelName string

	// StanFile and JSONData are the paths as written in the source file
	StanFile string
	JSONData string

	// Source labels where the configuration came from, usually its file path
	Source string

	// Settings holds the normalized sampler settings
	Settings types.RunConfiguration
}

// baseDir is the directory relative paths are resolved against.
func baseDir(source string) string {
	if source == "" {
		return "."
	}
	return filepath.Dir(source)
}

func resolve(source, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir(source), p)
}

// StanPath returns the Stan source path resolved against the config file's directory.
func (c *Config) StanPath() string { return resolve(c.Source, c.StanFile) }

// DataPath returns the JSON data path resolved against the config file's directory.
func (c *Config) DataPath() string { return resolve(c.Source, c.JSONData) }

// Raw renders the normalized configuration back into the raw form accepted by Validate.
func (c *Config) Raw() map[string]interface{} {
	return map[string]interface{}{
		KeyModelName: c.ModelName,
		KeyStanFile:  c.StanFile,
		KeyJSONData:  c.JSONData,
		KeyMeta:      MetaMap(c.Settings),
	}
}

// MetaMap renders sampler settings as a raw meta map.
func MetaMap(s types.RunConfiguration) map[string]interface{} {
	return map[string]interface{}{
		"iter_sampling":   s.IterSampling,
		"iter_warmup":     s.IterWarmup,
		"chains":          s.Chains,
		"parallel_chains": s.ParallelChains,
		"thin":            s.Thin,
		"seed":            s.Seed,
		"adapt_delta":     s.AdaptDelta,
		"max_treedepth":   s.MaxTreedepth,
		"sig_figs":        s.SigFigs,
	}
}

// Merge overlays partial meta values on top of current settings. Keys that are
// not sampler settings are dropped.
func Merge(current types.RunConfiguration, partial map[string]interface{}) map[string]interface{} {
	merged := MetaMap(current)
	for k, v := range partial {
		if _, ok := merged[k]; ok {
			merged[k] = v
		}
	}
	return merged
}

// Validate checks a raw configuration read from source and returns the
// normalized form. Required fields are checked first, then the model name,
// then the referenced files, then each sampler setting. The first failure wins.
func Validate(raw map[string]interface{}, source string) (*Config, error) {
	for _, key := range []string{KeyModelName, KeyStanFile, KeyJSONData} {
		if _, ok := raw[key]; !ok {
			return nil, missing(key, source)
		}
	}

	name, err := ValidateModelName(raw[KeyModelName], source)
	if err != nil {
		return nil, err
	}

	stanFile, err := validateFile(KeyStanFile, raw[KeyStanFile], source)
	if err != nil {
		return nil, err
	}
	jsonData, err := validateFile(KeyJSONData, raw[KeyJSONData], source)
	if err != nil {
		return nil, err
	}

	meta, err := metaOf(raw, source)
	if err != nil {
		return nil, err
	}

	settings, err := ValidateMeta(meta, source)
	if err != nil {
		return nil, err
	}
	settings.ModelName = name

	return &Config{
		ModelName: name,
		StanFile:  stanFile,
		JSONData:  jsonData,
		Source:    source,
		Settings:  settings,
	}, nil
}

// ModelNameOf extracts and validates only the model name of a raw configuration.
func ModelNameOf(raw map[string]interface{}, source string) (string, error) {
	v, ok := raw[KeyModelName]
	if !ok {
		return "", missing(KeyModelName, source)
	}
	return ValidateModelName(v, source)
}

// MetaOf returns the raw meta section of a configuration; absent means empty.
func MetaOf(raw map[string]interface{}, source string) (map[string]interface{}, error) {
	return metaOf(raw, source)
}

func metaOf(raw map[string]interface{}, source string) (map[string]interface{}, error) {
	v, ok := raw[KeyMeta]
	if !ok || v == nil {
		return map[string]interface{}{}, nil
	}
	meta, ok := v.(map[string]interface{})
	if !ok {
		return nil, invalid(KeyMeta, source, regerrors.CodeInvalidType, "be a table of sampler settings.")
	}
	return meta, nil
}

// ValidateModelName checks the naming rule: an uppercase ASCII letter followed
// by ASCII letters, digits, '-' or '_'.
func ValidateModelName(v interface{}, source string) (string, error) {
	name, ok := v.(string)
	if !ok {
		return "", invalid(KeyModelName, source, regerrors.CodeInvalidType, "be a string.")
	}
	if name == "" || name[0] < 'A' || name[0] > 'Z' {
		return "", invalid(KeyModelName, source, regerrors.CodeInvalidName, "begin with an upper case ASCII character.")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", invalid(KeyModelName, source, regerrors.CodeInvalidName, "contain only ASCII characters, digits, _-.")
		}
	}
	if len(name) > types.MaxModelNameLength {
		return "", invalid(KeyModelName, source, regerrors.CodeInvalidName,
			fmt.Sprintf("be at most %d characters.", types.MaxModelNameLength))
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, types.ReservedTablePrefix) {
		return "", invalid(KeyModelName, source, regerrors.CodeInvalidName,
			fmt.Sprintf("not begin with %s.", types.ReservedTablePrefix))
	}
	if _, ok := reservedNames[lower]; ok || strings.HasSuffix(lower, types.MetricSuffix) {
		return "", invalid(KeyModelName, source, regerrors.CodeInvalidName,
			fmt.Sprintf("not be %s, %s, or end in %s.", types.ProgramTable, types.MetaTable, types.MetricSuffix))
	}
	return name, nil
}

func validateFile(key string, v interface{}, source string) (string, error) {
	p, ok := v.(string)
	if !ok {
		return "", invalid(key, source, regerrors.CodeInvalidType, "be a string.")
	}
	info, err := os.Stat(resolve(source, p))
	if err != nil || !info.Mode().IsRegular() {
		return "", invalid(key, source, regerrors.CodeFileNotFound, "exist.")
	}
	return p, nil
}

// ValidateMeta applies defaults and bound checks to the sampler settings.
// Settings are checked in dependency order: parallel_chains is bounded by the
// normalized chains, thin by the normalized iter_sampling.
func ValidateMeta(meta map[string]interface{}, source string) (types.RunConfiguration, error) {
	var s types.RunConfiguration
	var err error

	if s.IterSampling, err = intField(meta, "iter_sampling", source, DefaultIterSampling, MinIter, MaxIter,
		"be an integer in 2_000:1_000_000."); err != nil {
		return s, err
	}
	if s.IterWarmup, err = intField(meta, "iter_warmup", source, s.IterSampling, MinIter, MaxIter,
		"be an integer in 2_000:1_000_000."); err != nil {
		return s, err
	}
	if s.Chains, err = intField(meta, "chains", source, DefaultChains, 1, math.MaxInt64,
		"be an integer greater than zero."); err != nil {
		return s, err
	}
	if s.ParallelChains, err = intField(meta, "parallel_chains", source, s.Chains, 1, s.Chains,
		fmt.Sprintf("be an integer in 1:%d.", s.Chains)); err != nil {
		return s, err
	}
	if s.Thin, err = intField(meta, "thin", source, DefaultThin, 1, s.IterSampling,
		fmt.Sprintf("be an integer between 1 and %d.", s.IterSampling)); err != nil {
		return s, err
	}

	seedDefault := int64(-1)
	if _, ok := meta["seed"]; !ok {
		seedDefault = randomSeed()
	}
	if s.Seed, err = intField(meta, "seed", source, seedDefault, 0, MaxSeed,
		"be an integer in 0:4_294_967_295."); err != nil {
		return s, err
	}

	if s.AdaptDelta, err = adaptDelta(meta, source); err != nil {
		return s, err
	}
	if s.MaxTreedepth, err = intField(meta, "max_treedepth", source, DefaultMaxTreedepth, 1, MaxMaxTreedepth,
		"be an integer in 1:20."); err != nil {
		return s, err
	}
	if s.SigFigs, err = intField(meta, "sig_figs", source, DefaultSigFigs, 1, MaxSigFigs,
		"be an integer in 1:18."); err != nil {
		return s, err
	}
	return s, nil
}

func intField(meta map[string]interface{}, key, source string, def, lo, hi int64, bounds string) (int64, error) {
	v, ok := meta[key]
	if !ok {
		return def, nil
	}
	n, ok := asInt(v)
	if !ok {
		return 0, invalid(key, source, regerrors.CodeInvalidType, "be an integer.")
	}
	if n < lo || n > hi {
		return 0, invalid(key, source, regerrors.CodeOutOfBounds, bounds)
	}
	return n, nil
}

func adaptDelta(meta map[string]interface{}, source string) (float64, error) {
	v, ok := meta["adapt_delta"]
	if !ok {
		return DefaultAdaptDelta, nil
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, invalid("adapt_delta", source, regerrors.CodeInvalidType, "be a float.")
	}
	if !(f > 0 && f < 1) {
		return 0, invalid("adapt_delta", source, regerrors.CodeOutOfBounds, "be a float in (0, 1).")
	}
	return f, nil
}

// asInt accepts the integer representations produced by the YAML, TOML and
// JSON decoders. Booleans and floats are not integers.
func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clampUint(n), true
	case json.Number:
		if strings.ContainsAny(string(n), ".eE") {
			return 0, false
		}
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func clampUint(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func asFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case json.Number:
		if !strings.ContainsAny(string(f), ".eE") {
			return 0, false
		}
		x, err := f.Float64()
		if err != nil {
			return 0, false
		}
		return x, true
	}
	return 0, false
}
