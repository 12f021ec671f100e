package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wakdb/internal/cache"
	"wakdb/internal/storage"
	"wakdb/internal/wal"
)

// Catalog operates on the master database's primary file. All page
// access goes through the page cache; every mutation is logged to the
// master WAL before its page can reach disk.
type Catalog struct {
	file  *storage.PageFile
	cache *cache.Cache
	log   *wal.Manager
	now   func() time.Time
}

func New(file *storage.PageFile, c *cache.Cache, log *wal.Manager, now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{file: file, cache: c, log: log, now: now}
}

func (c *Catalog) created() uint16 {
	return uint16(c.now().Unix())
}

// ---- page chain primitives ----

// insertRow appends an encoded row into the chain starting at firstPage,
// allocating an overflow page when every page in the chain is full. Each
// mutated page's image is logged under txn before the pin is released.
func (c *Catalog) insertRow(txn uuid.UUID, firstPage uint32, rec []byte) error {
	pageNo := firstPage
	for {
		h, err := c.cache.Fetch(c.file, pageNo)
		if err != nil {
			return err
		}

		if _, err := h.Page.Insert(rec); err == nil {
			lsn, aerr := c.log.Append(txn, wal.OpInsert, pageNo, h.Page.Buf)
			if aerr != nil {
				c.cache.Unpin(h, false, 0)
				return aerr
			}
			return c.cache.Unpin(h, true, lsn)
		} else if !errors.Is(err, storage.ErrPageFull) {
			c.cache.Unpin(h, false, 0)
			return err
		}

		if next := h.Page.NextPage(); next != 0 {
			if err := c.cache.Unpin(h, false, 0); err != nil {
				return err
			}
			pageNo = next
			continue
		}

		// Chain exhausted: grow it.
		newID, err := c.file.AllocatePage(storage.DataPage)
		if err != nil {
			c.cache.Unpin(h, false, 0)
			return err
		}
		h.Page.SetNextPage(newID)
		lsn, aerr := c.log.Append(txn, wal.OpUpdate, pageNo, h.Page.Buf)
		if aerr != nil {
			c.cache.Unpin(h, false, 0)
			return aerr
		}
		if err := c.cache.Unpin(h, true, lsn); err != nil {
			return err
		}
		pageNo = newID
	}
}

// scanRows walks a system table's page chain, calling fn for every live
// row. fn returning stop=true ends the scan early.
func (c *Catalog) scanRows(firstPage uint32, fn func(rec []byte) (stop bool, err error)) error {
	pageNo := firstPage
	for pageNo != 0 {
		h, err := c.cache.Fetch(c.file, pageNo)
		if err != nil {
			return err
		}
		for _, slot := range h.Page.LiveSlots() {
			rec, err := h.Page.Read(slot)
			if err != nil {
				c.cache.Unpin(h, false, 0)
				return err
			}
			stop, err := fn(rec)
			if err != nil || stop {
				c.cache.Unpin(h, false, 0)
				return err
			}
		}
		next := h.Page.NextPage()
		if err := c.cache.Unpin(h, false, 0); err != nil {
			return err
		}
		pageNo = next
	}
	return nil
}

// deleteRows removes every row in the chain for which match returns
// true, compacting pages whose fragmentation crossed the threshold.
func (c *Catalog) deleteRows(txn uuid.UUID, firstPage uint32, match func(rec []byte) bool) (int, error) {
	removed := 0
	pageNo := firstPage
	for pageNo != 0 {
		h, err := c.cache.Fetch(c.file, pageNo)
		if err != nil {
			return removed, err
		}
		touched := false
		for _, slot := range h.Page.LiveSlots() {
			rec, err := h.Page.Read(slot)
			if err != nil {
				c.cache.Unpin(h, false, 0)
				return removed, err
			}
			if !match(rec) {
				continue
			}
			if err := h.Page.Delete(slot); err != nil {
				c.cache.Unpin(h, false, 0)
				return removed, err
			}
			removed++
			touched = true
		}
		if touched && h.Page.CanCompact() {
			if err := h.Page.Compact(); err != nil {
				c.cache.Unpin(h, false, 0)
				return removed, err
			}
		}
		next := h.Page.NextPage()
		if touched {
			lsn, aerr := c.log.Append(txn, wal.OpDelete, pageNo, h.Page.Buf)
			if aerr != nil {
				c.cache.Unpin(h, false, 0)
				return removed, aerr
			}
			if err := c.cache.Unpin(h, true, lsn); err != nil {
				return removed, err
			}
		} else if err := c.cache.Unpin(h, false, 0); err != nil {
			return removed, err
		}
		pageNo = next
	}
	return removed, nil
}

// ---- bootstrap ----

// Bootstrap brings the master file's system tables into existence. It is
// idempotent: missing pages are allocated, and the self-describing rows
// are inserted only when the master database row is absent, so a crash
// mid-bootstrap is repaired on the next startup.
func (c *Catalog) Bootstrap(masterID uint16, masterName string) error {
	for c.file.PageCount() <= IndexesFirstPage {
		if _, err := c.file.AllocatePage(storage.DataPage); err != nil {
			return err
		}
	}

	existing, err := c.GetDatabase(masterName)
	if err == nil && existing.ID == masterID {
		return nil
	}

	txn := uuid.New()
	date := c.created()

	if err := c.insertRow(txn, DatabasesFirstPage, encodeDatabase(Database{
		ID:          masterID,
		Name:        masterName,
		CreatedDate: date,
		Version:     storage.CurrentDatabaseVersion,
	})); err != nil {
		return err
	}

	systemTables := []string{DatabasesTable, TablesTable, ColumnsTable, IndexesTable}
	for i, name := range systemTables {
		if err := c.insertRow(txn, TablesFirstPage, encodeTable(Table{
			ID:          uint16(i + 1),
			DatabaseID:  masterID,
			Name:        name,
			CreatedDate: date,
		})); err != nil {
			return err
		}
	}

	colID := uint16(1)
	for i, cols := range systemTableColumns() {
		tableID := uint16(i + 1)
		for pos, spec := range cols {
			if err := c.insertRow(txn, ColumnsFirstPage, encodeColumn(Column{
				ID:          colID,
				TableID:     tableID,
				Name:        spec.Name,
				Position:    uint16(pos),
				IsNullable:  spec.IsNullable,
				DataType:    spec.DataType,
				CreatedDate: date,
			})); err != nil {
				return err
			}
			colID++
		}
	}

	if _, err := c.log.AppendCommit(txn); err != nil {
		return err
	}
	slog.Info("bootstrapped master catalog", "tables", len(systemTables))
	return nil
}

// systemTableColumns describes the system tables in terms of themselves,
// in first-page order.
func systemTableColumns() [][]ColumnSpec {
	return [][]ColumnSpec{
		{
			{Name: "id", DataType: "int"},
			{Name: "name", DataType: "string"},
			{Name: "created_date", DataType: "int"},
			{Name: "database_version", DataType: "int"},
		},
		{
			{Name: "id", DataType: "int"},
			{Name: "database_id", DataType: "int"},
			{Name: "name", DataType: "string"},
			{Name: "created_date", DataType: "int"},
		},
		{
			{Name: "id", DataType: "int"},
			{Name: "table_id", DataType: "int"},
			{Name: "name", DataType: "string"},
			{Name: "position", DataType: "int"},
			{Name: "is_nullable", DataType: "bool"},
			{Name: "default_value", DataType: "string", IsNullable: true},
			{Name: "data_type", DataType: "string"},
			{Name: "max_str_length", DataType: "int"},
			{Name: "num_precision", DataType: "int"},
			{Name: "created_date", DataType: "int"},
		},
		{
			{Name: "id", DataType: "int"},
			{Name: "table_id", DataType: "int"},
			{Name: "name", DataType: "string"},
			{Name: "created_date", DataType: "int"},
		},
	}
}

// ---- databases ----

func (c *Catalog) ListDatabases() ([]Database, error) {
	var out []Database
	err := c.scanRows(DatabasesFirstPage, func(rec []byte) (bool, error) {
		d, err := decodeDatabase(rec)
		if err != nil {
			return false, err
		}
		out = append(out, d)
		return false, nil
	})
	return out, err
}

func (c *Catalog) GetDatabase(name string) (Database, error) {
	var found *Database
	err := c.scanRows(DatabasesFirstPage, func(rec []byte) (bool, error) {
		d, err := decodeDatabase(rec)
		if err != nil {
			return false, err
		}
		if d.Name == name {
			found = &d
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Database{}, err
	}
	if found == nil {
		return Database{}, ErrUnknownDB
	}
	return *found, nil
}

// NextDatabaseID returns one past the highest id in the databases table.
func (c *Catalog) NextDatabaseID() (uint16, error) {
	var max uint16
	err := c.scanRows(DatabasesFirstPage, func(rec []byte) (bool, error) {
		d, err := decodeDatabase(rec)
		if err != nil {
			return false, err
		}
		if d.ID > max {
			max = d.ID
		}
		return false, nil
	})
	return max + 1, err
}

// AddDatabase inserts a databases row. Name and id must be unique; no
// state is mutated when validation fails.
func (c *Catalog) AddDatabase(d Database) error {
	if len(d.Name) > storage.MaxDatabaseNameLen {
		return fmt.Errorf("%w: %s", ErrNameTooLong, d.Name)
	}
	var clash error
	if err := c.scanRows(DatabasesFirstPage, func(rec []byte) (bool, error) {
		row, err := decodeDatabase(rec)
		if err != nil {
			return false, err
		}
		if row.Name == d.Name {
			clash = fmt.Errorf("%w: database %q already exists", ErrConstraint, d.Name)
			return true, nil
		}
		if row.ID == d.ID {
			clash = fmt.Errorf("%w: database id %d already in use", ErrConstraint, d.ID)
			return true, nil
		}
		return false, nil
	}); err != nil {
		return err
	}
	if clash != nil {
		return clash
	}

	txn := uuid.New()
	if err := c.insertRow(txn, DatabasesFirstPage, encodeDatabase(d)); err != nil {
		return err
	}
	_, err := c.log.AppendCommit(txn)
	return err
}

// RemoveDatabase deletes the databases row and every tables/columns/
// indexes row belonging to it.
func (c *Catalog) RemoveDatabase(name string) error {
	db, err := c.GetDatabase(name)
	if err != nil {
		return err
	}
	tables, err := c.ListTables(db.ID)
	if err != nil {
		return err
	}
	tableIDs := make(map[uint16]bool, len(tables))
	for _, t := range tables {
		tableIDs[t.ID] = true
	}

	txn := uuid.New()
	if _, err := c.deleteRows(txn, DatabasesFirstPage, func(rec []byte) bool {
		d, err := decodeDatabase(rec)
		return err == nil && d.ID == db.ID
	}); err != nil {
		return err
	}
	if _, err := c.deleteRows(txn, TablesFirstPage, func(rec []byte) bool {
		t, err := decodeTable(rec)
		return err == nil && t.DatabaseID == db.ID
	}); err != nil {
		return err
	}
	if _, err := c.deleteRows(txn, ColumnsFirstPage, func(rec []byte) bool {
		col, err := decodeColumn(rec)
		return err == nil && tableIDs[col.TableID]
	}); err != nil {
		return err
	}
	if _, err := c.deleteRows(txn, IndexesFirstPage, func(rec []byte) bool {
		idx, err := decodeIndex(rec)
		return err == nil && tableIDs[idx.TableID]
	}); err != nil {
		return err
	}
	_, err = c.log.AppendCommit(txn)
	return err
}

// ---- tables ----

func (c *Catalog) ListTables(databaseID uint16) ([]Table, error) {
	var out []Table
	err := c.scanRows(TablesFirstPage, func(rec []byte) (bool, error) {
		t, err := decodeTable(rec)
		if err != nil {
			return false, err
		}
		if t.DatabaseID == databaseID {
			out = append(out, t)
		}
		return false, nil
	})
	return out, err
}

func (c *Catalog) GetTable(databaseID uint16, name string) (Table, error) {
	tables, err := c.ListTables(databaseID)
	if err != nil {
		return Table{}, err
	}
	for _, t := range tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, ErrUnknownTable
}

func (c *Catalog) nextTableID() (uint16, error) {
	var max uint16
	err := c.scanRows(TablesFirstPage, func(rec []byte) (bool, error) {
		t, err := decodeTable(rec)
		if err != nil {
			return false, err
		}
		if t.ID > max {
			max = t.ID
		}
		return false, nil
	})
	return max + 1, err
}

func (c *Catalog) nextColumnID() (uint16, error) {
	var max uint16
	err := c.scanRows(ColumnsFirstPage, func(rec []byte) (bool, error) {
		col, err := decodeColumn(rec)
		if err != nil {
			return false, err
		}
		if col.ID > max {
			max = col.ID
		}
		return false, nil
	})
	return max + 1, err
}

// validatePositions checks the contiguous, unique, zero-based ordering
// invariant of column positions.
func validatePositions(cols []ColumnSpec) error {
	seen := make(map[uint16]bool, len(cols))
	for _, col := range cols {
		if col.Position >= uint16(len(cols)) {
			return fmt.Errorf("%w: column %q position %d out of range", ErrConstraint, col.Name, col.Position)
		}
		if seen[col.Position] {
			return fmt.Errorf("%w: duplicate column position %d", ErrConstraint, col.Position)
		}
		seen[col.Position] = true
	}
	return nil
}

// CreateTable validates and inserts the tables row and one columns row
// per column. Nothing is mutated when validation fails.
func (c *Catalog) CreateTable(databaseID uint16, name string, cols []ColumnSpec) (Table, error) {
	if len(name) > storage.MaxDatabaseNameLen {
		return Table{}, fmt.Errorf("%w: %s", ErrNameTooLong, name)
	}
	if len(cols) == 0 {
		return Table{}, fmt.Errorf("%w: table %q has no columns", ErrConstraint, name)
	}
	if err := validatePositions(cols); err != nil {
		return Table{}, err
	}
	names := make(map[string]bool, len(cols))
	for _, col := range cols {
		if names[col.Name] {
			return Table{}, fmt.Errorf("%w: duplicate column name %q", ErrConstraint, col.Name)
		}
		names[col.Name] = true
	}
	if _, err := c.GetTable(databaseID, name); err == nil {
		return Table{}, fmt.Errorf("%w: table %q already exists", ErrConstraint, name)
	} else if !errors.Is(err, ErrUnknownTable) {
		return Table{}, err
	}

	tableID, err := c.nextTableID()
	if err != nil {
		return Table{}, err
	}
	colID, err := c.nextColumnID()
	if err != nil {
		return Table{}, err
	}

	date := c.created()
	t := Table{ID: tableID, DatabaseID: databaseID, Name: name, CreatedDate: date}

	txn := uuid.New()
	if err := c.insertRow(txn, TablesFirstPage, encodeTable(t)); err != nil {
		return Table{}, err
	}
	for _, spec := range cols {
		if err := c.insertRow(txn, ColumnsFirstPage, encodeColumn(Column{
			ID:           colID,
			TableID:      tableID,
			Name:         spec.Name,
			Position:     spec.Position,
			IsNullable:   spec.IsNullable,
			DefaultValue: spec.DefaultValue,
			DataType:     spec.DataType,
			MaxStrLength: spec.MaxStrLength,
			NumPrecision: spec.NumPrecision,
			CreatedDate:  date,
		})); err != nil {
			return Table{}, err
		}
		colID++
	}
	if _, err := c.log.AppendCommit(txn); err != nil {
		return Table{}, err
	}
	return t, nil
}

// ---- columns ----

func (c *Catalog) ListColumns(tableID uint16) ([]Column, error) {
	var out []Column
	err := c.scanRows(ColumnsFirstPage, func(rec []byte) (bool, error) {
		col, err := decodeColumn(rec)
		if err != nil {
			return false, err
		}
		if col.TableID == tableID {
			out = append(out, col)
		}
		return false, nil
	})
	return out, err
}

// ---- indexes ----

func (c *Catalog) ListIndexes(tableID uint16) ([]Index, error) {
	var out []Index
	err := c.scanRows(IndexesFirstPage, func(rec []byte) (bool, error) {
		idx, err := decodeIndex(rec)
		if err != nil {
			return false, err
		}
		if idx.TableID == tableID {
			out = append(out, idx)
		}
		return false, nil
	})
	return out, err
}

func (c *Catalog) nextIndexID() (uint16, error) {
	var max uint16
	err := c.scanRows(IndexesFirstPage, func(rec []byte) (bool, error) {
		idx, err := decodeIndex(rec)
		if err != nil {
			return false, err
		}
		if idx.ID > max {
			max = idx.ID
		}
		return false, nil
	})
	return max + 1, err
}

// CreateIndex records id/name bookkeeping for an index. The index's own
// page-backed storage lives elsewhere.
func (c *Catalog) CreateIndex(tableID uint16, name string) (Index, error) {
	if len(name) > storage.MaxDatabaseNameLen {
		return Index{}, fmt.Errorf("%w: %s", ErrNameTooLong, name)
	}
	tableExists := false
	if err := c.scanRows(TablesFirstPage, func(rec []byte) (bool, error) {
		t, err := decodeTable(rec)
		if err != nil {
			return false, err
		}
		if t.ID == tableID {
			tableExists = true
			return true, nil
		}
		return false, nil
	}); err != nil {
		return Index{}, err
	}
	if !tableExists {
		return Index{}, fmt.Errorf("%w: table id %d", ErrUnknownTable, tableID)
	}
	existing, err := c.ListIndexes(tableID)
	if err != nil {
		return Index{}, err
	}
	for _, idx := range existing {
		if idx.Name == name {
			return Index{}, fmt.Errorf("%w: index %q already exists", ErrConstraint, name)
		}
	}

	id, err := c.nextIndexID()
	if err != nil {
		return Index{}, err
	}
	idx := Index{ID: id, TableID: tableID, Name: name, CreatedDate: c.created()}

	txn := uuid.New()
	if err := c.insertRow(txn, IndexesFirstPage, encodeIndex(idx)); err != nil {
		return Index{}, err
	}
	if _, err := c.log.AppendCommit(txn); err != nil {
		return Index{}, err
	}
	return idx, nil
}
