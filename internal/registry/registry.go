// Package registry keeps a model's program, run configuration, draws and
// metric consistent across the registry tables.
package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/internal/logging"
	"github.com/minipdb/minipdb/internal/modelconfig"
	"github.com/minipdb/minipdb/internal/store"
	"github.com/minipdb/minipdb/pkg/types"
	"github.com/spaolacci/murmur3"
)

// Registry enforces the cross-table invariants on top of a Store.
type Registry struct {
	store store.Store
	log   *logging.Logger
}

// New creates a registry over s.
func New(s store.Store, log *logging.Logger) *Registry {
	return &Registry{store: s, log: logging.OrNop(log)}
}

// Store returns the underlying store.
func (r *Registry) Store() store.Store { return r.store }

// Model is a registered model with its configuration.
type Model struct {
	Definition types.ModelDefinition
	Settings   types.RunConfiguration
}

// InsertResult describes the outcome of an insert that passed the consistency checks.
type InsertResult struct {
	ModelName   string
	ProgramHash string

	// Inserted is true when both control rows were written
	Inserted bool

	// Conflicts holds uniqueness violations that stopped the insert
	Conflicts []error
}

// ProgramHash returns the digest that identifies a (code, data) pair.
func ProgramHash(code, data string) string {
	h := murmur3.New128()
	h.Write([]byte(code))
	h.Write([]byte{0})
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// Insert registers the program and run configuration described by cfg.
//
// Exactly one existing artifact means an earlier write was interrupted and is
// a consistency error. All four existing is a duplicate registration. A
// uniqueness violation on either control table is reported in the result.
func (r *Registry) Insert(ctx context.Context, cfg *modelconfig.Config) (*InsertResult, error) {
	name := cfg.ModelName

	code, err := os.ReadFile(cfg.StanPath())
	if err != nil {
		return nil, regerrors.NewValidationError(regerrors.CodeFileNotFound, cfg.StanFile)
	}
	data, err := os.ReadFile(cfg.DataPath())
	if err != nil {
		return nil, regerrors.NewValidationError(regerrors.CodeFileNotFound, cfg.JSONData)
	}

	p, err := r.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	switch p.Count() {
	case 1:
		return nil, regerrors.NewConsistencyError(fmt.Sprintf(
			"%s is partially registered; repair the registry by hand or delete %s before inserting it again", name, name)).
			WithDetails(presenceDetails(p))
	case 4:
		return nil, regerrors.NewConflictError(regerrors.CodeDuplicateModel, fmt.Sprintf(
			"%s is already registered and sampled; choose a different model_name", name), nil)
	}

	result := &InsertResult{
		ModelName:   name,
		ProgramHash: ProgramHash(string(code), string(data)),
	}

	if other, err := r.caseCollision(ctx, name); err != nil {
		return nil, err
	} else if other != "" {
		conflict := regerrors.NewConflictError(regerrors.CodeDuplicateModel,
			fmt.Sprintf("%s differs from registered model %s only by case", name, other), nil)
		r.log.Warn("model name collides with a registered model", "model", name, "registered", other)
		result.Conflicts = append(result.Conflicts, conflict)
		return result, nil
	}

	def := types.ModelDefinition{
		ModelName:   name,
		Code:        string(code),
		Data:        string(data),
		ProgramHash: result.ProgramHash,
	}
	if err := r.store.Insert(ctx, types.ProgramTable, def.Row()); err != nil {
		if !regerrors.IsConflict(err) {
			return nil, fmt.Errorf("registry: insert program %s: %w", name, err)
		}
		r.log.Warn("program not inserted", "model", name, "reason", regerrors.GetCode(err))
		result.Conflicts = append(result.Conflicts, err)
		return result, nil
	}

	settings := cfg.Settings
	settings.ModelName = name
	if err := r.store.Insert(ctx, types.MetaTable, settings.Row()); err != nil {
		if !regerrors.IsConflict(err) {
			return nil, fmt.Errorf("registry: insert configuration %s: %w", name, err)
		}
		r.log.Warn("run configuration not inserted", "model", name, "reason", regerrors.GetCode(err))
		result.Conflicts = append(result.Conflicts, err)
		if _, derr := r.store.DeleteRows(ctx, types.ProgramTable, store.Where{"model_name": name}); derr != nil {
			return result, fmt.Errorf("registry: roll back program %s: %w", name, derr)
		}
		return result, nil
	}

	result.Inserted = true
	r.log.Info("model registered", "model", name, "program_hash", result.ProgramHash)
	return result, nil
}

// caseCollision returns a registered name equal to name ignoring case but not
// identical to it. Table names in SQLite are case-insensitive, so such a
// model could not get its own draws table.
func (r *Registry) caseCollision(ctx context.Context, name string) (string, error) {
	names, err := r.controlNames(ctx)
	if err != nil {
		return "", err
	}
	for _, other := range names {
		if other != name && strings.EqualFold(other, name) {
			return other, nil
		}
	}
	return "", nil
}

// Delete removes every artifact of name that exists and returns what was removed.
func (r *Registry) Delete(ctx context.Context, name string) (Presence, error) {
	p, err := r.Exists(ctx, name)
	if err != nil {
		return p, err
	}

	where := store.Where{"model_name": name}
	if p.InProgram {
		if _, err := r.store.DeleteRows(ctx, types.ProgramTable, where); err != nil {
			return p, fmt.Errorf("registry: delete program %s: %w", name, err)
		}
	}
	if p.InConfig {
		if _, err := r.store.DeleteRows(ctx, types.MetaTable, where); err != nil {
			return p, fmt.Errorf("registry: delete configuration %s: %w", name, err)
		}
	}
	if p.HasDraws {
		if err := r.store.DropTable(ctx, name); err != nil {
			return p, fmt.Errorf("registry: drop draws %s: %w", name, err)
		}
	}
	if p.HasMetric {
		if err := r.store.DropTable(ctx, types.MetricTableName(name)); err != nil {
			return p, fmt.Errorf("registry: drop metric %s: %w", name, err)
		}
	}

	r.log.Info("model deleted", "model", name, "artifacts", p.Count())
	return p, nil
}

// UpdateConfiguration merges partial sampler settings into the stored
// configuration of name, re-validates the result and writes back only the
// supplied settings.
func (r *Registry) UpdateConfiguration(ctx context.Context, name string, partial map[string]interface{}, source string) (types.RunConfiguration, error) {
	current, err := r.settings(ctx, name)
	if err != nil {
		return types.RunConfiguration{}, err
	}

	updated, err := modelconfig.ValidateMeta(modelconfig.Merge(current, partial), source)
	if err != nil {
		return types.RunConfiguration{}, err
	}
	updated.ModelName = name

	full := updated.Row()
	set := types.Row{}
	for _, col := range types.MetaColumns {
		if col == "model_name" {
			continue
		}
		if _, ok := partial[col]; ok {
			set[col] = full[col]
		}
	}
	if len(set) == 0 {
		return updated, nil
	}

	n, err := r.store.Update(ctx, types.MetaTable, set, store.Where{"model_name": name})
	if err != nil {
		return types.RunConfiguration{}, fmt.Errorf("registry: update configuration %s: %w", name, err)
	}
	if n != 1 {
		return types.RunConfiguration{}, regerrors.NewNotFoundError(regerrors.CodeModelNotFound, name)
	}

	r.log.Info("run configuration updated", "model", name, "fields", set.Columns(types.MetaColumns))
	return updated, nil
}

// RecordRunCompletion replaces the draws and metric tables of name and then
// stamps last_run. The stamp is written last so last_run never runs ahead of
// the draws on disk. If the metric cannot be written the new draws are
// dropped again, leaving the model unrun rather than half-written.
func (r *Registry) RecordRunCompletion(ctx context.Context, name string, at time.Time, draws, metric *types.Table) error {
	if err := r.store.ReplaceTable(ctx, name, draws); err != nil {
		return regerrors.NewStorageError(regerrors.CodeWriteFailed, "write draws of "+name, err)
	}
	if err := r.store.ReplaceTable(ctx, types.MetricTableName(name), metric); err != nil {
		if dropErr := r.store.DropTable(ctx, name); dropErr != nil {
			r.log.Warn("draws left without metric", "model", name, "error", dropErr)
		}
		return regerrors.NewStorageError(regerrors.CodeWriteFailed, "write metric of "+name, err)
	}

	n, err := r.store.Update(ctx, types.ProgramTable, types.Row{"last_run": at.UTC()}, store.Where{"model_name": name})
	if err != nil {
		return regerrors.NewStorageError(regerrors.CodeWriteFailed, "stamp last_run of "+name, err)
	}
	if n != 1 {
		return regerrors.NewNotFoundError(regerrors.CodeModelNotFound, name)
	}
	return nil
}

// Get returns the registered program and configuration of name.
func (r *Registry) Get(ctx context.Context, name string) (*Model, error) {
	p, err := r.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := requireRegistered(name, p); err != nil {
		return nil, err
	}

	progRows, err := r.store.Query(ctx, types.ProgramTable, store.Where{"model_name": name})
	if err != nil {
		return nil, fmt.Errorf("registry: read program %s: %w", name, err)
	}
	metaRows, err := r.store.Query(ctx, types.MetaTable, store.Where{"model_name": name})
	if err != nil {
		return nil, fmt.Errorf("registry: read configuration %s: %w", name, err)
	}
	if len(progRows) == 0 || len(metaRows) == 0 {
		return nil, regerrors.NewNotFoundError(regerrors.CodeModelNotFound, name)
	}

	return &Model{
		Definition: definitionFromRow(progRows[0]),
		Settings:   settingsFromRow(metaRows[0]),
	}, nil
}

func (r *Registry) settings(ctx context.Context, name string) (types.RunConfiguration, error) {
	m, err := r.Get(ctx, name)
	if err != nil {
		return types.RunConfiguration{}, err
	}
	return m.Settings, nil
}

func requireRegistered(name string, p Presence) error {
	switch {
	case p.Registered():
		return nil
	case p.InProgram || p.InConfig:
		return regerrors.NewConsistencyError(name + " has only one of its control rows; repair the registry by hand").
			WithDetails(presenceDetails(p))
	default:
		return regerrors.NewNotFoundError(regerrors.CodeModelNotFound, name+" is not registered")
	}
}

func presenceDetails(p Presence) map[string]interface{} {
	return map[string]interface{}{
		"program": p.InProgram,
		"meta":    p.InConfig,
		"draws":   p.HasDraws,
		"metric":  p.HasMetric,
	}
}

// List returns the names with a Program row, sorted.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	rows, err := r.store.Query(ctx, types.ProgramTable, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: list programs: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, asString(row["model_name"]))
	}
	sort.Strings(names)
	return names, nil
}

// controlNames returns the names found in either control table, sorted.
func (r *Registry) controlNames(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for _, table := range []string{types.ProgramTable, types.MetaTable} {
		rows, err := r.store.Query(ctx, table, nil)
		if err != nil {
			return nil, fmt.Errorf("registry: list %s: %w", table, err)
		}
		for _, row := range rows {
			seen[asString(row["model_name"])] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ModelStatus is one line of the list command.
type ModelStatus struct {
	Name     string     `json:"model_name"`
	Presence Presence   `json:"presence"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

// ListModels returns the status of every model with at least one control row.
func (r *Registry) ListModels(ctx context.Context) ([]ModelStatus, error) {
	names, err := r.controlNames(ctx)
	if err != nil {
		return nil, err
	}

	programs, err := r.store.Query(ctx, types.ProgramTable, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: list programs: %w", err)
	}
	lastRun := make(map[string]*time.Time, len(programs))
	for _, row := range programs {
		lastRun[asString(row["model_name"])] = asTime(row["last_run"])
	}

	out := make([]ModelStatus, 0, len(names))
	for _, name := range names {
		p, err := r.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, ModelStatus{Name: name, Presence: p, LastRun: lastRun[name]})
	}
	return out, nil
}
