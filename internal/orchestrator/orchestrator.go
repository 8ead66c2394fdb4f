// Package orchestrator drives sampling runs for one model or for every
// registered model across a bounded worker pool.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/minipdb/minipdb/internal/config"
	"github.com/minipdb/minipdb/internal/engine"
	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/internal/logging"
	"github.com/minipdb/minipdb/internal/observability"
	"github.com/minipdb/minipdb/internal/registry"
	"github.com/minipdb/minipdb/internal/store"
)

// Opener opens a fresh store handle. Every run gets its own handle, so
// workers never share a connection.
type Opener func() (store.Store, error)

// Config holds orchestration settings.
type Config struct {
	// ModelsDir receives <name>/<name>.stan, <name>.json and sampler output
	ModelsDir string

	// Concurrency bounds how many models RunAll samples at once
	Concurrency int

	// MaxParallelChains caps each model's parallel_chains at run time
	MaxParallelChains int
}

// Orchestrator runs models through a Sampler and records the results.
type Orchestrator struct {
	open    Opener
	sampler engine.Sampler
	cfg     Config
	log     *logging.Logger
	stats   *observability.RunStats
	now     func() time.Time
}

// New creates an orchestrator. Zero limits default to one less than the CPU count.
func New(open Opener, sampler engine.Sampler, cfg Config, log *logging.Logger) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = config.DefaultCPUs()
	}
	if cfg.MaxParallelChains < 1 {
		cfg.MaxParallelChains = config.DefaultCPUs()
	}
	return &Orchestrator{
		open:    open,
		sampler: sampler,
		cfg:     cfg,
		log:     logging.OrNop(log),
		stats:   observability.NewRunStats(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Stats returns the run statistics collected so far.
func (o *Orchestrator) Stats() *observability.RunStats { return o.stats }

// Result describes one completed run.
type Result struct {
	Model         string        `json:"model_name"`
	RunID         string        `json:"run_id"`
	Rows          int           `json:"rows"`
	MetricColumns int           `json:"metric_columns"`
	LastRun       time.Time     `json:"last_run"`
	Took          time.Duration `json:"took"`
	Replaced      bool          `json:"replaced"`
}

// RunOne samples name and records its draws. An explicit request always runs,
// whether or not draws already exist; overwrite only marks that the caller
// agreed to replace them.
func (o *Orchestrator) RunOne(ctx context.Context, name string, overwrite bool) (*Result, error) {
	st, err := o.open()
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeReadFailed, "open registry", err)
	}
	defer st.Close()

	start := time.Now()
	res, err := o.run(ctx, registry.New(st, o.log), name, overwrite)
	o.stats.RecordRun(name, time.Since(start), err)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, reg *registry.Registry, name string, overwrite bool) (*Result, error) {
	p, err := reg.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !p.InProgram && !p.InConfig {
		return nil, regerrors.NewNotFoundError(regerrors.CodeModelNotFound,
			fmt.Sprintf("program %s does not exist in the registry; insert it first", name))
	}
	model, err := reg.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	log := o.log.With("model", name)
	if p.HasRun() {
		log.Info("replacing existing draws", "overwrite", overwrite)
	}

	dir := filepath.Join(o.cfg.ModelsDir, name)
	stanFile := filepath.Join(dir, name+".stan")
	dataFile := filepath.Join(dir, name+".json")
	if err := writeIfChanged(stanFile, model.Definition.Code); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "write "+stanFile, err)
	}
	if err := writeIfChanged(dataFile, model.Definition.Data); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "write "+dataFile, err)
	}

	settings := model.Settings
	if settings.ParallelChains > int64(o.cfg.MaxParallelChains) {
		settings.ParallelChains = int64(o.cfg.MaxParallelChains)
	}

	runID := uuid.NewString()
	outputDir := filepath.Join(dir, "output", runID)
	log.Info("sampling", "run_id", runID, "chains", settings.Chains, "parallel_chains", settings.ParallelChains)

	start := time.Now()
	fit, err := o.sampler.Sample(ctx, engine.SampleRequest{
		StanFile:  stanFile,
		DataFile:  dataFile,
		OutputDir: outputDir,
		Settings:  settings,
	})
	if err != nil {
		return nil, err
	}

	at := o.now()
	if err := reg.RecordRunCompletion(ctx, name, at, fit.Draws, fit.Metric); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(outputDir); err != nil {
		log.Warn("failed to remove sampler output", "dir", outputDir, "error", err)
	}

	res := &Result{
		Model:         name,
		RunID:         runID,
		Rows:          fit.Draws.NumRows(),
		MetricColumns: len(fit.Metric.Columns),
		LastRun:       at,
		Took:          time.Since(start),
		Replaced:      p.HasRun(),
	}
	log.Info("draws stored", "rows", res.Rows, "took", res.Took.Round(time.Millisecond))
	return res, nil
}

// writeIfChanged leaves files with identical content untouched so a compiled
// executable stays newer than its source.
func writeIfChanged(path, content string) error {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, []byte(content)) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// BatchReport is the outcome of RunAll.
type BatchReport struct {
	// Candidates are the models dispatched to workers, sorted
	Candidates []string

	// Skipped are registered models left alone because their draws exist
	Skipped []string

	// Results holds successful runs, sorted by model
	Results []*Result

	// Failures maps a model to the error that stopped its run
	Failures map[string]error
}

// Failed returns the models that failed, sorted.
func (b *BatchReport) Failed() []string {
	names := make([]string, 0, len(b.Failures))
	for n := range b.Failures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OK reports whether every dispatched model succeeded.
func (b *BatchReport) OK() bool { return len(b.Failures) == 0 }

// RunAll samples every registered model. Without overwrite, models whose draws
// table already exists are skipped. One model's failure never stops the
// others; it is recorded in the report. The returned error covers only
// failures before any model is dispatched.
func (o *Orchestrator) RunAll(ctx context.Context, overwrite bool) (*BatchReport, error) {
	candidates, skipped, err := o.candidates(ctx, overwrite)
	if err != nil {
		return nil, err
	}
	for _, name := range skipped {
		o.stats.RecordSkip(name)
	}

	report := &BatchReport{
		Candidates: candidates,
		Skipped:    skipped,
		Failures:   make(map[string]error),
	}
	o.log.Info("dispatching models", "candidates", len(candidates), "skipped", len(skipped), "workers", o.cfg.Concurrency)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, name := range candidates {
		g.Go(func() error {
			res, err := o.RunOne(ctx, name, overwrite)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.log.Error("model run failed", "model", name, "error", err)
				report.Failures[name] = err
				return nil
			}
			report.Results = append(report.Results, res)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Model < report.Results[j].Model })
	return report, nil
}

// candidates splits the registered models into those to run and those to skip.
func (o *Orchestrator) candidates(ctx context.Context, overwrite bool) ([]string, []string, error) {
	st, err := o.open()
	if err != nil {
		return nil, nil, regerrors.NewStorageError(regerrors.CodeReadFailed, "open registry", err)
	}
	defer st.Close()

	names, err := registry.New(st, o.log).List(ctx)
	if err != nil {
		return nil, nil, err
	}
	if overwrite {
		return dedupe(names), nil, nil
	}

	tables, err := st.ListTables(ctx)
	if err != nil {
		return nil, nil, err
	}
	existing := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		existing[strings.ToLower(t)] = struct{}{}
	}

	var run, skip []string
	for _, name := range dedupe(names) {
		if _, ok := existing[strings.ToLower(name)]; ok {
			skip = append(skip, name)
		} else {
			run = append(run, name)
		}
	}
	return run, skip, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
