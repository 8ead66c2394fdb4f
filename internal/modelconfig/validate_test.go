package modelconfig

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	regerrors "github.com/minipdb/minipdb/internal/errors"
)

// writeProgram creates a config directory holding a Stan file and its data.
func writeProgram(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fake.stan"), []byte("parameters { real mu; } model { mu ~ normal(0, 1); }"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fake.json"), []byte(`{"N": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "fake01.yml")
}

func baseRaw(meta map[string]interface{}) map[string]interface{} {
	raw := map[string]interface{}{
		"model_name": "Fake01",
		"stan_file":  "fake.stan",
		"json_data":  "fake.json",
	}
	if meta != nil {
		raw["meta"] = meta
	}
	return raw
}

func asConfigError(t *testing.T, err error) *ConfigError {
	t.Helper()
	var ce *ConfigError
	if !stderrors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	return ce
}

func TestValidate_Defaults(t *testing.T) {
	source := writeProgram(t)
	restore := randomSeed
	randomSeed = func() int64 { return 1234 }
	defer func() { randomSeed = restore }()

	cfg, err := Validate(baseRaw(nil), source)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	s := cfg.Settings
	if s.ModelName != "Fake01" {
		t.Errorf("ModelName = %q", s.ModelName)
	}
	if s.IterSampling != DefaultIterSampling || s.IterWarmup != DefaultIterSampling {
		t.Errorf("iter defaults = %d/%d", s.IterSampling, s.IterWarmup)
	}
	if s.Chains != DefaultChains || s.ParallelChains != DefaultChains {
		t.Errorf("chains defaults = %d/%d", s.Chains, s.ParallelChains)
	}
	if s.Thin != 1 || s.Seed != 1234 || s.AdaptDelta != 0.8 || s.MaxTreedepth != 10 || s.SigFigs != 16 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if cfg.StanPath() != filepath.Join(filepath.Dir(source), "fake.stan") {
		t.Errorf("StanPath = %q", cfg.StanPath())
	}
}

func TestValidate_WarmupDefaultsToSampling(t *testing.T) {
	source := writeProgram(t)
	cfg, err := Validate(baseRaw(map[string]interface{}{"iter_sampling": 4000, "chains": 4}), source)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Settings.IterWarmup != 4000 {
		t.Errorf("iter_warmup = %d, want 4000", cfg.Settings.IterWarmup)
	}
	if cfg.Settings.ParallelChains != 4 {
		t.Errorf("parallel_chains = %d, want 4", cfg.Settings.ParallelChains)
	}
}

func TestValidate_RequiredFieldsFirst(t *testing.T) {
	source := writeProgram(t)
	for _, key := range []string{"model_name", "stan_file", "json_data"} {
		t.Run(key, func(t *testing.T) {
			raw := baseRaw(map[string]interface{}{"iter_sampling": 1})
			delete(raw, key)
			_, err := Validate(raw, source)
			ce := asConfigError(t, err)
			if !ce.Missing || ce.Field != key {
				t.Errorf("got %+v, want missing %s", ce, key)
			}
			if !regerrors.IsValidation(err) {
				t.Error("missing field should be a validation error")
			}
		})
	}
}

func TestValidate_ModelName(t *testing.T) {
	source := writeProgram(t)
	tests := []struct {
		name  interface{}
		valid bool
	}{
		{"Fake01", true},
		{"A", true},
		{"Eight_schools-noncentered", true},
		{"fake01", false},
		{"1Fake", false},
		{"", false},
		{"Fake 01", false},
		{"Fake.01", false},
		{"Fakë", false},
		{"Program", false},
		{"META", false},
		{"Fake_metric", false},
		{"A" + strings.Repeat("b", 120), true},
		{"A" + strings.Repeat("b", 121), false},
		{"A" + strings.Repeat("b", 124), false},
		{"Sqlite_model", false},
		{"SQLITE_master", false},
		{"Sqlite-model", true},
		{42, false},
	}
	for _, tt := range tests {
		raw := baseRaw(nil)
		raw["model_name"] = tt.name
		_, err := Validate(raw, source)
		if tt.valid && err != nil {
			t.Errorf("%v: unexpected error %v", tt.name, err)
		}
		if !tt.valid {
			ce := asConfigError(t, err)
			if ce.Field != "model_name" {
				t.Errorf("%v: error on field %q", tt.name, ce.Field)
			}
		}
	}
}

func TestValidate_FilesMustExist(t *testing.T) {
	source := writeProgram(t)
	raw := baseRaw(nil)
	raw["json_data"] = "missing.json"
	_, err := Validate(raw, source)
	ce := asConfigError(t, err)
	if ce.Field != "json_data" || ce.Code != regerrors.CodeFileNotFound {
		t.Errorf("got %+v", ce)
	}
	if ce.Error() != "Variable json_data in "+source+" must exist." {
		t.Errorf("message = %q", ce.Error())
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	source := writeProgram(t)
	tests := []struct {
		name  string
		meta  map[string]interface{}
		field string
		code  string
	}{
		{"sampling low", map[string]interface{}{"iter_sampling": 1999}, "iter_sampling", regerrors.CodeOutOfBounds},
		{"sampling high", map[string]interface{}{"iter_sampling": 1_000_001}, "iter_sampling", regerrors.CodeOutOfBounds},
		{"sampling float", map[string]interface{}{"iter_sampling": 2000.0}, "iter_sampling", regerrors.CodeInvalidType},
		{"warmup low", map[string]interface{}{"iter_warmup": 10}, "iter_warmup", regerrors.CodeOutOfBounds},
		{"chains zero", map[string]interface{}{"chains": 0}, "chains", regerrors.CodeOutOfBounds},
		{"chains string", map[string]interface{}{"chains": "4"}, "chains", regerrors.CodeInvalidType},
		{"chains bool", map[string]interface{}{"chains": true}, "chains", regerrors.CodeInvalidType},
		{"parallel above chains", map[string]interface{}{"chains": 4, "parallel_chains": 5}, "parallel_chains", regerrors.CodeOutOfBounds},
		{"parallel zero", map[string]interface{}{"parallel_chains": 0}, "parallel_chains", regerrors.CodeOutOfBounds},
		{"thin above sampling", map[string]interface{}{"iter_sampling": 2000, "thin": 2001}, "thin", regerrors.CodeOutOfBounds},
		{"seed negative", map[string]interface{}{"seed": -1}, "seed", regerrors.CodeOutOfBounds},
		{"seed too big", map[string]interface{}{"seed": int64(4_294_967_296)}, "seed", regerrors.CodeOutOfBounds},
		{"adapt_delta int", map[string]interface{}{"adapt_delta": 1}, "adapt_delta", regerrors.CodeInvalidType},
		{"adapt_delta one", map[string]interface{}{"adapt_delta": 1.0}, "adapt_delta", regerrors.CodeOutOfBounds},
		{"adapt_delta zero", map[string]interface{}{"adapt_delta": 0.0}, "adapt_delta", regerrors.CodeOutOfBounds},
		{"treedepth", map[string]interface{}{"max_treedepth": 21}, "max_treedepth", regerrors.CodeOutOfBounds},
		{"sig_figs", map[string]interface{}{"sig_figs": 19}, "sig_figs", regerrors.CodeOutOfBounds},
		{"json float literal", map[string]interface{}{"chains": json.Number("4.0")}, "chains", regerrors.CodeInvalidType},
		{"json int for float", map[string]interface{}{"adapt_delta": json.Number("1")}, "adapt_delta", regerrors.CodeInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(baseRaw(tt.meta), source)
			ce := asConfigError(t, err)
			if ce.Field != tt.field || ce.Code != tt.code {
				t.Errorf("got field=%s code=%s, want field=%s code=%s", ce.Field, ce.Code, tt.field, tt.code)
			}
		})
	}
}

func TestValidate_MetaMustBeTable(t *testing.T) {
	source := writeProgram(t)
	raw := baseRaw(nil)
	raw["meta"] = []interface{}{1, 2}
	_, err := Validate(raw, source)
	if ce := asConfigError(t, err); ce.Field != "meta" {
		t.Errorf("got field %q", ce.Field)
	}
}

func TestValidate_JSONNumbers(t *testing.T) {
	source := writeProgram(t)
	cfg, err := Validate(baseRaw(map[string]interface{}{
		"iter_sampling": json.Number("4000"),
		"adapt_delta":   json.Number("0.95"),
		"seed":          json.Number("4294967295"),
	}), source)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Settings.IterSampling != 4000 || cfg.Settings.AdaptDelta != 0.95 || cfg.Settings.Seed != MaxSeed {
		t.Errorf("unexpected settings %+v", cfg.Settings)
	}
}

func TestMerge_OverlaysOnlySettings(t *testing.T) {
	source := writeProgram(t)
	cfg, err := Validate(baseRaw(map[string]interface{}{"iter_sampling": 4000, "chains": 4, "seed": 7}), source)
	if err != nil {
		t.Fatal(err)
	}

	merged := Merge(cfg.Settings, map[string]interface{}{"iter_sampling": 2000, "thin": 1, "bogus": 3})
	if _, ok := merged["bogus"]; ok {
		t.Error("unknown keys should be dropped")
	}
	s, err := ValidateMeta(merged, source)
	if err != nil {
		t.Fatalf("ValidateMeta: %v", err)
	}
	if s.IterSampling != 2000 || s.IterWarmup != 4000 || s.Chains != 4 || s.Seed != 7 {
		t.Errorf("merged settings = %+v", s)
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.yml":  "model_name: Fake01\nstan_file: fake.stan\njson_data: fake.json\nmeta:\n  iter_sampling: 4000\n  adapt_delta: 0.9\n",
		"b.toml": "model_name = \"Fake01\"\nstan_file = \"fake.stan\"\njson_data = \"fake.json\"\n[meta]\niter_sampling = 4000\nadapt_delta = 0.9\n",
		"c.json": `{"model_name": "Fake01", "stan_file": "fake.stan", "json_data": "fake.json", "meta": {"iter_sampling": 4000, "adapt_delta": 0.9}}`,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		raw, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s): %v", name, err)
		}
		meta, err := MetaOf(raw, path)
		if err != nil {
			t.Fatalf("MetaOf(%s): %v", name, err)
		}
		s, err := ValidateMeta(meta, path)
		if err != nil {
			t.Fatalf("ValidateMeta(%s): %v", name, err)
		}
		if s.IterSampling != 4000 || s.AdaptDelta != 0.9 {
			t.Errorf("%s: settings = %+v", name, s)
		}
	}

	if _, err := LoadFile(filepath.Join(dir, "d.ini")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}
