package types

import "errors"

// Table-related errors
var (
	// ErrEmptyTable is returned when a table has no columns
	ErrEmptyTable = errors.New("table has no columns")

	// ErrRaggedRow is returned when a row's width does not match the table's columns
	ErrRaggedRow = errors.New("row width does not match columns")
)
