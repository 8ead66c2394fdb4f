package registry

import (
	"context"
	"fmt"

	"github.com/minipdb/minipdb/internal/store"
	"github.com/minipdb/minipdb/pkg/types"
)

// Presence records which of a model's four artifacts exist.
type Presence struct {
	InProgram bool `json:"in_program"`
	InConfig  bool `json:"in_config"`
	HasDraws  bool `json:"has_draws"`
	HasMetric bool `json:"has_metric"`
}

// Registered reports whether both control rows exist.
func (p Presence) Registered() bool { return p.InProgram && p.InConfig }

// HasRun reports whether the draws table exists. The metric table is written
// alongside it, so a missing metric table shows up in Count instead.
func (p Presence) HasRun() bool { return p.HasDraws }

// Count returns how many of the four artifacts exist.
func (p Presence) Count() int {
	n := 0
	for _, b := range []bool{p.InProgram, p.InConfig, p.HasDraws, p.HasMetric} {
		if b {
			n++
		}
	}
	return n
}

// Any reports whether at least one artifact exists.
func (p Presence) Any() bool { return p.Count() > 0 }

// Exists probes all four artifacts for name.
func (r *Registry) Exists(ctx context.Context, name string) (Presence, error) {
	var p Presence
	var err error

	if p.InProgram, err = r.hasRow(ctx, types.ProgramTable, name); err != nil {
		return p, err
	}
	if p.InConfig, err = r.hasRow(ctx, types.MetaTable, name); err != nil {
		return p, err
	}
	if p.HasDraws, err = r.store.TableExists(ctx, name); err != nil {
		return p, fmt.Errorf("registry: probe draws of %s: %w", name, err)
	}
	if p.HasMetric, err = r.store.TableExists(ctx, types.MetricTableName(name)); err != nil {
		return p, fmt.Errorf("registry: probe metric of %s: %w", name, err)
	}
	return p, nil
}

func (r *Registry) hasRow(ctx context.Context, table, name string) (bool, error) {
	rows, err := r.store.Query(ctx, table, store.Where{"model_name": name})
	if err != nil {
		return false, fmt.Errorf("registry: probe %s for %s: %w", table, name, err)
	}
	return len(rows) > 0, nil
}
