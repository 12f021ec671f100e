// Package catalog maintains the bootstrap system tables of the master
// database: databases, tables, columns and indexes. Rows live in slotted
// Data pages of the master primary file, reached through the page cache.
package catalog

import "errors"

// First page of each system table in the master primary file. Overflow
// pages are chained through the page header's next-page field.
const (
	DatabasesFirstPage uint32 = 2
	TablesFirstPage    uint32 = 3
	ColumnsFirstPage   uint32 = 4
	IndexesFirstPage   uint32 = 5
)

const (
	DatabasesTable = "databases"
	TablesTable    = "tables"
	ColumnsTable   = "columns"
	IndexesTable   = "indexes"
)

var (
	ErrConstraint    = errors.New("catalog: constraint violation")
	ErrUnknownTable  = errors.New("catalog: unknown table")
	ErrUnknownDB     = errors.New("catalog: unknown database")
	ErrBadRow        = errors.New("catalog: malformed row")
	ErrNameTooLong   = errors.New("catalog: name exceeds 128 bytes")
	ErrNoSystemPages = errors.New("catalog: master file missing system table pages")
)

// Database is a row of the databases system table.
type Database struct {
	ID          uint16
	Name        string
	CreatedDate uint16
	Version     uint8
}

// Table is a row of the tables system table.
type Table struct {
	ID          uint16
	DatabaseID  uint16
	Name        string
	CreatedDate uint16
}

// Column is a row of the columns system table. Position values of a
// table form a contiguous, unique, zero-based ordering.
type Column struct {
	ID           uint16
	TableID      uint16
	Name         string
	Position     uint16
	IsNullable   bool
	DefaultValue string
	DataType     string
	MaxStrLength uint16
	NumPrecision uint8
	CreatedDate  uint16
}

// Index is a row of the indexes system table. Only id/name bookkeeping;
// index storage itself is a page-backed structure outside the catalog.
type Index struct {
	ID          uint16
	TableID     uint16
	Name        string
	CreatedDate uint16
}

// ColumnSpec describes one column of a table being created.
type ColumnSpec struct {
	Name         string
	Position     uint16
	IsNullable   bool
	DefaultValue string
	DataType     string
	MaxStrLength uint16
	NumPrecision uint8
}
