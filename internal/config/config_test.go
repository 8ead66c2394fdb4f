package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Run.CPUs < 1 {
		t.Errorf("default cpus = %d, want >= 1", cfg.Run.CPUs)
	}
}

func TestResolve_DerivesPathsFromDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = filepath.Join("var", "lib", "minipdb.sqlite")
	cfg.Resolve()

	if want := filepath.Join("var", "lib", "models"); cfg.ModelsDir != want {
		t.Errorf("ModelsDir = %q, want %q", cfg.ModelsDir, want)
	}
	if want := filepath.Join("var", "lib", "snapshots"); cfg.Storage.Path != want {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, want)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database", func(c *Config) { c.Database = "" }},
		{"zero cpus", func(c *Config) { c.Run.CPUs = 0 }},
		{"bad log mode", func(c *Config) { c.LogMode = "verbose" }},
		{"bad engine kind", func(c *Config) { c.Engine.Kind = "pymc" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "minipdb.yaml")
	yamlBody := "database: /tmp/reg.sqlite\nrun:\n  cpus: 3\nstorage:\n  type: s3\n  s3:\n    bucket: draws\n"
	if err := os.WriteFile(yamlPath, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadFromFile yaml: %v", err)
	}
	if cfg.Database != "/tmp/reg.sqlite" || cfg.Run.CPUs != 3 || cfg.Storage.S3.Bucket != "draws" {
		t.Errorf("unexpected yaml config: %+v", cfg)
	}
	if cfg.LogMode != "dev" {
		t.Errorf("defaults should survive partial files, log_mode = %q", cfg.LogMode)
	}

	jsonPath := filepath.Join(dir, "minipdb.json")
	if err := os.WriteFile(jsonPath, []byte(`{"models_dir": "/tmp/models"}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadFromFile json: %v", err)
	}
	if cfg.ModelsDir != "/tmp/models" {
		t.Errorf("ModelsDir = %q", cfg.ModelsDir)
	}

	if _, err := LoadFromFile(filepath.Join(dir, "minipdb.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MINIPDB_DATABASE", "/data/pdb.sqlite")
	t.Setenv("MINIPDB_CPUS", "7")
	t.Setenv("MINIPDB_S3_PATH_STYLE", "1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Database != "/data/pdb.sqlite" {
		t.Errorf("Database = %q", cfg.Database)
	}
	if cfg.Run.CPUs != 7 {
		t.Errorf("CPUs = %d", cfg.Run.CPUs)
	}
	if !cfg.Storage.S3.UsePathStyle {
		t.Error("UsePathStyle should be true")
	}
}
