// Package config provides the tool-level configuration for minipdb.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by every minipdb command.
type Config struct {
	// Database is the path to the registry SQLite file
	Database string `json:"database" yaml:"database"`

	// ModelsDir is where run inputs and sampler outputs are materialized
	ModelsDir string `json:"models_dir" yaml:"models_dir"`

	// ProgramsDir is the default target of the write command
	ProgramsDir string `json:"programs_dir" yaml:"programs_dir"`

	// LogMode selects the log encoder: dev, prod, quiet
	LogMode string `json:"log_mode" yaml:"log_mode"`

	// Run configuration
	Run RunConfig `json:"run" yaml:"run"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Snapshot storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	// CPUs is the number of models sampled concurrently by run-all
	CPUs int `json:"cpus" yaml:"cpus"`
}

// EngineConfig holds sampling engine settings.
type EngineConfig struct {
	// Kind selects the sampler: cmdstan, synthetic
	Kind string `json:"kind" yaml:"kind"`

	// CmdStanDir is the CmdStan installation used to compile and run models
	CmdStanDir string `json:"cmdstan_dir" yaml:"cmdstan_dir"`

	// Make is the make executable used to build models
	Make string `json:"make" yaml:"make"`
}

// StorageConfig holds snapshot storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is the object prefix under which snapshots are published
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultCPUs is one less than the number of available CPUs, and at least one.
func DefaultCPUs() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database:    "minipdb.sqlite",
		ModelsDir:   "",
		ProgramsDir: "programs",
		LogMode:     "dev",
		Run: RunConfig{
			CPUs: DefaultCPUs(),
		},
		Engine: EngineConfig{
			Kind:       "cmdstan",
			CmdStanDir: "",
			Make:       "make",
		},
		Storage: StorageConfig{
			Type:   "local",
			Path:   "",
			Prefix: "minipdb",
		},
	}
}

// Resolve fills paths derived from the database location and the environment.
func (c *Config) Resolve() {
	if c.Database == "" {
		c.Database = "minipdb.sqlite"
	}

	if c.ModelsDir == "" {
		c.ModelsDir = filepath.Join(filepath.Dir(c.Database), "models")
	}

	if c.Engine.CmdStanDir == "" {
		c.Engine.CmdStanDir = os.Getenv("CMDSTAN")
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = "cmdstan"
	}
	if c.Engine.Make == "" {
		c.Engine.Make = "make"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(filepath.Dir(c.Database), "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}

	if c.Run.CPUs < 1 {
		return fmt.Errorf("run.cpus must be at least 1, got %d", c.Run.CPUs)
	}

	switch strings.ToLower(c.LogMode) {
	case "dev", "prod", "production", "quiet":
	default:
		return fmt.Errorf("invalid log_mode: %s (must be dev, prod, or quiet)", c.LogMode)
	}

	if c.Engine.Kind != "cmdstan" && c.Engine.Kind != "synthetic" {
		return fmt.Errorf("invalid engine kind: %s (must be cmdstan or synthetic)", c.Engine.Kind)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MINIPDB_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MINIPDB_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("MINIPDB_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("MINIPDB_PROGRAMS_DIR"); v != "" {
		cfg.ProgramsDir = v
	}
	if v := os.Getenv("MINIPDB_LOG_MODE"); v != "" {
		cfg.LogMode = v
	}

	if v := os.Getenv("MINIPDB_CPUS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.CPUs)
	}

	if v := os.Getenv("MINIPDB_ENGINE"); v != "" {
		cfg.Engine.Kind = v
	}
	if v := os.Getenv("MINIPDB_CMDSTAN_DIR"); v != "" {
		cfg.Engine.CmdStanDir = v
	}

	// Storage configuration
	if v := os.Getenv("MINIPDB_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("MINIPDB_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MINIPDB_STORAGE_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v := os.Getenv("MINIPDB_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("MINIPDB_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("MINIPDB_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("MINIPDB_S3_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
}

// EnsureDirectories creates the directories the registry writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database),
		c.ModelsDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
