// Package app wires the minipdb components from a resolved configuration.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/minipdb/minipdb/internal/config"
	"github.com/minipdb/minipdb/internal/engine"
	"github.com/minipdb/minipdb/internal/logging"
	"github.com/minipdb/minipdb/internal/orchestrator"
	"github.com/minipdb/minipdb/internal/registry"
	"github.com/minipdb/minipdb/internal/snapshot"
	"github.com/minipdb/minipdb/internal/storage"
	"github.com/minipdb/minipdb/internal/store"
)

// App holds the configuration and builds components on demand. Nothing is
// opened until a command asks for it.
type App struct {
	cfg *config.Config
	log *logging.Logger

	// sampler overrides the configured engine when set
	sampler engine.Sampler
}

// New resolves and validates cfg and creates the directories it names.
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg, log: logging.OrNop(log)}, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Log returns the application logger.
func (a *App) Log() *logging.Logger { return a.log }

// DatabaseExists reports whether the registry file is present.
func (a *App) DatabaseExists() bool {
	_, err := os.Stat(a.cfg.Database)
	return err == nil
}

// OpenStore opens the registry database, creating the control tables if needed.
func (a *App) OpenStore() (*store.SQLiteStore, error) {
	return store.Open(a.cfg.Database)
}

// WithRegistry runs fn against a registry over a fresh store handle.
func (a *App) WithRegistry(fn func(r *registry.Registry) error) error {
	st, err := a.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(registry.New(st, a.log))
}

// SetSampler replaces the configured engine.
func (a *App) SetSampler(s engine.Sampler) { a.sampler = s }

// Sampler returns the engine selected by engine.kind.
func (a *App) Sampler() (engine.Sampler, error) {
	if a.sampler != nil {
		return a.sampler, nil
	}
	switch a.cfg.Engine.Kind {
	case "synthetic":
		return &engine.Synthetic{}, nil
	case "", "cmdstan":
		if a.cfg.Engine.CmdStanDir == "" {
			return nil, fmt.Errorf("CmdStan directory is not set (use engine.cmdstan_dir or CMDSTAN)")
		}
		return engine.NewCmdStan(a.cfg.Engine.CmdStanDir, a.cfg.Engine.Make, a.log), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", a.cfg.Engine.Kind)
	}
}

// Orchestrator builds an orchestrator running at most cpus models at once.
// Zero uses run.cpus.
func (a *App) Orchestrator(cpus int) (*orchestrator.Orchestrator, error) {
	sampler, err := a.Sampler()
	if err != nil {
		return nil, err
	}
	if cpus < 1 {
		cpus = a.cfg.Run.CPUs
	}
	open := func() (store.Store, error) {
		st, err := a.OpenStore()
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return orchestrator.New(open, sampler, orchestrator.Config{
		ModelsDir:         a.cfg.ModelsDir,
		Concurrency:       cpus,
		MaxParallelChains: config.DefaultCPUs(),
	}, a.log), nil
}

// Snapshots connects to the configured snapshot storage.
func (a *App) Snapshots(ctx context.Context) (*snapshot.Snapshots, error) {
	objects, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	return snapshot.New(objects, a.cfg.Storage.Prefix, a.log), nil
}
