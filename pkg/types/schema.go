package types

// Schema defines the structure of a registry table.
type Schema struct {
	// Columns defines the columns in the schema
	Columns []ColumnDef `json:"columns"`

	// Indexes defines the indexes to create on the table
	Indexes []IndexDef `json:"indexes"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the SQLite type: TEXT, INTEGER, REAL, TIMESTAMP
	Type string `json:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`

	// PrimaryKey indicates whether this column is the primary key
	PrimaryKey bool `json:"primary_key"`

	// Unique indicates whether the column carries a UNIQUE constraint
	Unique bool `json:"unique"`

	// References names a table whose primary key this column refers to
	References string `json:"references,omitempty"`
}

// IndexDef defines an index on a table.
type IndexDef struct {
	// Name is the index name
	Name string `json:"name"`

	// Columns lists the columns included in the index
	Columns []string `json:"columns"`

	// Unique indicates whether the index enforces uniqueness
	Unique bool `json:"unique"`
}

// ColumnNames returns the names of the schema's columns, in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
