package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/pkg/types"
	"github.com/mattn/go-sqlite3"
)

// ErrInvalidIdentifier is returned for table or column names that cannot be quoted safely.
var ErrInvalidIdentifier = errors.New("store: invalid identifier")

// Where is an equality filter; all entries must match.
type Where map[string]interface{}

// Store is the tabular store behind the registry. Every call is atomic on its own.
type Store interface {
	// TableExists reports whether a table exists. Names compare case-insensitively.
	TableExists(ctx context.Context, name string) (bool, error)

	// ListTables returns every user table, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// Query returns the rows of table matching where; a nil where selects every row.
	Query(ctx context.Context, table string, where Where) ([]types.Row, error)

	// Insert adds one row. Unique or primary key violations return a conflict error.
	Insert(ctx context.Context, table string, row types.Row) error

	// Update sets columns on the rows matching where and returns the number changed.
	Update(ctx context.Context, table string, set types.Row, where Where) (int64, error)

	// DeleteRows removes the rows matching where and returns the number removed.
	DeleteRows(ctx context.Context, table string, where Where) (int64, error)

	// DropTable removes a table; dropping a missing table is not an error.
	DropTable(ctx context.Context, name string) error

	// CreateTable creates a table if it does not exist.
	CreateTable(ctx context.Context, name string, schema types.Schema) error

	// ReplaceTable drops, recreates and fills a numeric table in one transaction.
	ReplaceTable(ctx context.Context, name string, table *types.Table) error

	// ReadTable reads a whole numeric table.
	ReadTable(ctx context.Context, name string) (*types.Table, error)

	// Count returns the number of rows in a table.
	Count(ctx context.Context, name string) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes writers within this handle
}

// Open opens (creating if needed) the SQLite file at path and ensures the
// control tables exist. Each handle holds a single connection; several handles
// on the same file coordinate through SQLite's own locking.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	for _, ct := range controlTables {
		if err := s.CreateTable(ctx, ct.name, ct.schema); err != nil {
			return fmt.Errorf("store: failed to initialize schema: %w", err)
		}
	}
	return nil
}

// TableExists reports whether a table exists.
func (s *SQLiteStore) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// ListTables returns every user table, sorted.
func (s *SQLiteStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// whereClause renders where as a conjunction of equalities over sorted keys.
func whereClause(where Where) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := checkColumns(keys...); err != nil {
		return "", nil, err
	}

	conds := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		conds[i] = quote(k) + " = ?"
		args[i] = where[k]
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (s *SQLiteStore) requireTable(ctx context.Context, table string) error {
	if err := checkIdentifiers(table); err != nil {
		return err
	}
	ok, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return regerrors.NewNotFoundError(regerrors.CodeTableNotFound, "table "+table+" does not exist")
	}
	return nil
}

// Query returns the rows of table matching where.
func (s *SQLiteStore) Query(ctx context.Context, table string, where Where) ([]types.Row, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return nil, fmt.Errorf("store: query %s: %w", table, err)
	}
	clause, args, err := whereClause(where)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quote(table)+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read columns of %s: %w", table, err)
	}

	var out []types.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("store: failed to scan %s: %w", table, err)
		}
		row := make(types.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert adds one row to table.
func (s *SQLiteStore) Insert(ctx context.Context, table string, row types.Row) error {
	if len(row) == 0 {
		return fmt.Errorf("store: insert into %s: empty row", table)
	}
	cols := row.Columns(nil)
	sort.Strings(cols)
	if err := checkIdentifiers(table); err != nil {
		return err
	}
	if err := checkColumns(cols...); err != nil {
		return err
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		marks[i] = "?"
		args[i] = row[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		if conflict := asConflict(table, err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("store: failed to insert into %s: %w", table, err)
	}
	return nil
}

// asConflict maps SQLite constraint violations to conflict errors.
func asConflict(table string, err error) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) || serr.Code != sqlite3.ErrConstraint {
		return nil
	}
	var code string
	switch {
	case serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
		serr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(serr.Error(), ".model_name"):
		code = regerrors.CodeDuplicateModel
	case serr.ExtendedCode == sqlite3.ErrConstraintUnique:
		code = regerrors.CodeDuplicateProgram
	default:
		return nil
	}
	return regerrors.NewConflictError(code, "duplicate row in "+table, err)
}

// Update sets columns on the rows matching where.
func (s *SQLiteStore) Update(ctx context.Context, table string, set types.Row, where Where) (int64, error) {
	if len(set) == 0 {
		return 0, nil
	}
	cols := set.Columns(nil)
	sort.Strings(cols)
	if err := checkIdentifiers(table); err != nil {
		return 0, err
	}
	if err := checkColumns(cols...); err != nil {
		return 0, err
	}
	clause, whereArgs, err := whereClause(where)
	if err != nil {
		return 0, err
	}

	assigns := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+len(whereArgs))
	for i, c := range cols {
		assigns[i] = quote(c) + " = ?"
		args = append(args, set[c])
	}
	args = append(args, whereArgs...)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE "+quote(table)+" SET "+strings.Join(assigns, ", ")+clause, args...)
	if err != nil {
		if conflict := asConflict(table, err); conflict != nil {
			return 0, conflict
		}
		return 0, fmt.Errorf("store: failed to update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// DeleteRows removes the rows matching where.
func (s *SQLiteStore) DeleteRows(ctx context.Context, table string, where Where) (int64, error) {
	if err := checkIdentifiers(table); err != nil {
		return 0, err
	}
	clause, args, err := whereClause(where)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+quote(table)+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("store: failed to delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// DropTable removes a table if it exists.
func (s *SQLiteStore) DropTable(ctx context.Context, name string) error {
	if err := checkIdentifiers(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
		return fmt.Errorf("store: failed to drop %s: %w", name, err)
	}
	return nil
}

// CreateTable creates a table and its indexes if they do not exist.
func (s *SQLiteStore) CreateTable(ctx context.Context, name string, schema types.Schema) error {
	stmts, err := createTableSQL(name, schema)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: failed to create %s: %w", name, err)
		}
	}
	return nil
}

// ReplaceTable drops, recreates and fills a numeric table in one transaction,
// so readers never observe a half-written table.
func (s *SQLiteStore) ReplaceTable(ctx context.Context, name string, table *types.Table) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("store: replace %s: %w", name, err)
	}
	stmts, err := createTableSQL(name, table.Schema())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
		return fmt.Errorf("store: failed to drop %s: %w", name, err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: failed to create %s: %w", name, err)
		}
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(table.Columns)), ", ")
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quote(name), marks))
	if err != nil {
		return fmt.Errorf("store: failed to prepare insert into %s: %w", name, err)
	}
	defer insert.Close()

	args := make([]interface{}, len(table.Columns))
	for _, row := range table.Rows {
		for i, v := range row {
			if math.IsNaN(v) {
				args[i] = nil
			} else {
				args[i] = v
			}
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("store: failed to insert into %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit %s: %w", name, err)
	}
	return nil
}

// ReadTable reads a whole numeric table. NULL values read back as NaN.
func (s *SQLiteStore) ReadTable(ctx context.Context, name string) (*types.Table, error) {
	if err := s.requireTable(ctx, name); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quote(name))
	if err != nil {
		return nil, fmt.Errorf("store: failed to read %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read columns of %s: %w", name, err)
	}

	out := &types.Table{Columns: cols}
	vals := make([]sql.NullFloat64, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("store: failed to scan %s: %w", name, err)
		}
		row := make([]float64, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.Float64
			} else {
				row[i] = math.NaN()
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

// Count returns the number of rows in a table.
func (s *SQLiteStore) Count(ctx context.Context, name string) (int64, error) {
	if err := s.requireTable(ctx, name); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", name, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: failed to count %s: %w", name, err)
	}
	return n, nil
}

// BackupTo writes a consistent copy of the database to dest, which must not exist.
func (s *SQLiteStore) BackupTo(ctx context.Context, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("store: failed to back up to %s: %w", dest, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
