// Package store provides the tabular store behind the model registry.
package store

import (
	"fmt"
	"strings"

	"github.com/minipdb/minipdb/pkg/types"
)

// ProgramSchema is the schema of the Program control table. program_hash is
// the digest of (code, data) and enforces that a program is registered once.
var ProgramSchema = types.Schema{
	Columns: []types.ColumnDef{
		{Name: "model_name", Type: "TEXT", PrimaryKey: true},
		{Name: "code", Type: "TEXT"},
		{Name: "data", Type: "TEXT"},
		{Name: "program_hash", Type: "TEXT", Unique: true},
		{Name: "last_run", Type: "TIMESTAMP", Nullable: true},
	},
}

// MetaSchema is the schema of the Meta control table.
var MetaSchema = types.Schema{
	Columns: []types.ColumnDef{
		{Name: "model_name", Type: "TEXT", PrimaryKey: true},
		{Name: "iter_warmup", Type: "INTEGER"},
		{Name: "iter_sampling", Type: "INTEGER"},
		{Name: "chains", Type: "INTEGER"},
		{Name: "parallel_chains", Type: "INTEGER"},
		{Name: "thin", Type: "INTEGER"},
		{Name: "seed", Type: "INTEGER"},
		{Name: "adapt_delta", Type: "REAL"},
		{Name: "max_treedepth", Type: "INTEGER"},
		{Name: "sig_figs", Type: "INTEGER"},
	},
}

// controlTable pairs a control table name with its schema.
type controlTable struct {
	name   string
	schema types.Schema
}

// controlTables lists the tables created by initSchema, in creation order.
var controlTables = []controlTable{
	{types.ProgramTable, ProgramSchema},
	{types.MetaTable, MetaSchema},
}

// validIdentifier reports whether name can be used as a table or column name.
// Model names additionally allow '-', so every identifier is quoted.
func validIdentifier(name string) bool {
	if name == "" || len(name) > types.MaxIdentifierLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case (c >= '0' && c <= '9') || c == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return !strings.HasPrefix(strings.ToLower(name), types.ReservedTablePrefix)
}

// validColumn reports whether name can be used as a quoted column name.
// Sampler outputs name columns like theta[1], so columns are looser than tables.
func validColumn(name string) bool {
	if name == "" || len(name) > 256 {
		return false
	}
	for _, c := range name {
		if c == '"' || c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func checkColumns(names ...string) error {
	for _, n := range names {
		if !validColumn(n) {
			return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}

func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if !validIdentifier(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

// createTableSQL renders the DDL for a table and its indexes.
func createTableSQL(name string, schema types.Schema) ([]string, error) {
	if err := checkIdentifiers(name); err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 {
		return nil, types.ErrEmptyTable
	}

	defs := make([]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		if err := checkColumns(col.Name); err != nil {
			return nil, err
		}
		def := quote(col.Name) + " " + col.Type
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if !col.Nullable && !col.PrimaryKey {
			def += " NOT NULL"
		}
		if col.Unique {
			def += " UNIQUE"
		}
		if col.References != "" {
			if err := checkIdentifiers(col.References); err != nil {
				return nil, err
			}
			def += " REFERENCES " + quote(col.References)
		}
		defs = append(defs, def)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(name), strings.Join(defs, ", ")),
	}

	for _, idx := range schema.Indexes {
		if err := checkIdentifiers(idx.Name); err != nil {
			return nil, err
		}
		if err := checkColumns(idx.Columns...); err != nil {
			return nil, err
		}
		cols := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			cols[i] = quote(c)
		}
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, quote(idx.Name), quote(name), strings.Join(cols, ", ")))
	}

	return stmts, nil
}
