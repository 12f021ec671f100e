package catalog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wakdb/internal/cache"
	"wakdb/internal/storage"
	"wakdb/internal/wal"
)

// newTestCatalog builds a bootstrapped catalog over a fresh master file
// pair in a temp dir.
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	dir := t.TempDir()
	now := time.Unix(1700000000, 0)

	pf, err := storage.CreatePageFile(filepath.Join(dir, "master.wak"), storage.FileTypePrimary, now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pf.Close() })

	info, err := storage.NewPage(make([]byte, storage.PageSize), storage.DatabaseInfoPageIndex, storage.DatabaseInfoPage)
	require.NoError(t, err)
	require.NoError(t, pf.WritePage(storage.DatabaseInfoPageIndex, info))

	log, err := wal.Create(filepath.Join(dir, "master.wal"), now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	c := New(pf, cache.New(16, nil), log, func() time.Time { return now })
	require.NoError(t, c.Bootstrap(0, "master"))
	return c
}

func TestCatalog_Bootstrap_SystemRows(t *testing.T) {
	c := newTestCatalog(t)

	dbs, err := c.ListDatabases()
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	require.Equal(t, uint16(0), dbs[0].ID)
	require.Equal(t, "master", dbs[0].Name)

	tables, err := c.ListTables(0)
	require.NoError(t, err)
	require.Len(t, tables, 4)

	names := map[string]uint16{}
	for _, tbl := range tables {
		names[tbl.Name] = tbl.ID
	}
	require.Equal(t, uint16(1), names[DatabasesTable])
	require.Equal(t, uint16(2), names[TablesTable])
	require.Equal(t, uint16(3), names[ColumnsTable])
	require.Equal(t, uint16(4), names[IndexesTable])

	// The columns table describes itself.
	cols, err := c.ListColumns(names[ColumnsTable])
	require.NoError(t, err)
	require.Len(t, cols, 10)
}

func TestCatalog_Bootstrap_Idempotent(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.Bootstrap(0, "master"))
	require.NoError(t, c.Bootstrap(0, "master"))

	dbs, err := c.ListDatabases()
	require.NoError(t, err)
	require.Len(t, dbs, 1)

	tables, err := c.ListTables(0)
	require.NoError(t, err)
	require.Len(t, tables, 4)
}

func TestCatalog_AddDatabase_Uniqueness(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.AddDatabase(Database{ID: 1, Name: "sales", Version: 1}))

	err := c.AddDatabase(Database{ID: 2, Name: "sales", Version: 1})
	require.ErrorIs(t, err, ErrConstraint)

	err = c.AddDatabase(Database{ID: 1, Name: "other", Version: 1})
	require.ErrorIs(t, err, ErrConstraint)

	// Failed inserts leave no partial row behind.
	dbs, err := c.ListDatabases()
	require.NoError(t, err)
	require.Len(t, dbs, 2)
}

func TestCatalog_NextDatabaseID(t *testing.T) {
	c := newTestCatalog(t)

	id, err := c.NextDatabaseID()
	require.NoError(t, err)
	require.Equal(t, uint16(1), id)

	require.NoError(t, c.AddDatabase(Database{ID: id, Name: "sales", Version: 1}))

	id, err = c.NextDatabaseID()
	require.NoError(t, err)
	require.Equal(t, uint16(2), id)
}

func TestCatalog_CreateTable_PositionValidation(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.AddDatabase(Database{ID: 1, Name: "sales", Version: 1}))

	// Contiguous zero-based positions are accepted.
	tbl, err := c.CreateTable(1, "orders", []ColumnSpec{
		{Name: "id", Position: 0, DataType: "int"},
		{Name: "total", Position: 1, DataType: "int"},
		{Name: "note", Position: 2, DataType: "string", IsNullable: true},
	})
	require.NoError(t, err)

	cols, err := c.ListColumns(tbl.ID)
	require.NoError(t, err)
	require.Len(t, cols, 3)

	// A gap in the ordering is rejected.
	_, err = c.CreateTable(1, "gapped", []ColumnSpec{
		{Name: "a", Position: 0, DataType: "int"},
		{Name: "b", Position: 2, DataType: "int"},
		{Name: "c", Position: 3, DataType: "int"},
	})
	require.ErrorIs(t, err, ErrConstraint)

	// So is a duplicate position.
	_, err = c.CreateTable(1, "duped", []ColumnSpec{
		{Name: "a", Position: 0, DataType: "int"},
		{Name: "b", Position: 0, DataType: "int"},
	})
	require.ErrorIs(t, err, ErrConstraint)

	// Rejected tables leave no rows behind.
	tables, err := c.ListTables(1)
	require.NoError(t, err)
	require.Len(t, tables, 1)
}

func TestCatalog_CreateTable_DuplicateNames(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.AddDatabase(Database{ID: 1, Name: "sales", Version: 1}))

	spec := []ColumnSpec{{Name: "id", Position: 0, DataType: "int"}}
	_, err := c.CreateTable(1, "orders", spec)
	require.NoError(t, err)

	_, err = c.CreateTable(1, "orders", spec)
	require.ErrorIs(t, err, ErrConstraint)

	_, err = c.CreateTable(1, "twice", []ColumnSpec{
		{Name: "id", Position: 0, DataType: "int"},
		{Name: "id", Position: 1, DataType: "int"},
	})
	require.ErrorIs(t, err, ErrConstraint)

	// The same table name under a different database is fine.
	require.NoError(t, c.AddDatabase(Database{ID: 2, Name: "hr", Version: 1}))
	_, err = c.CreateTable(2, "orders", spec)
	require.NoError(t, err)
}

func TestCatalog_RemoveDatabase_Cascades(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.AddDatabase(Database{ID: 1, Name: "sales", Version: 1}))

	tbl, err := c.CreateTable(1, "orders", []ColumnSpec{
		{Name: "id", Position: 0, DataType: "int"},
	})
	require.NoError(t, err)
	_, err = c.CreateIndex(tbl.ID, "orders_pk")
	require.NoError(t, err)

	require.NoError(t, c.RemoveDatabase("sales"))

	_, err = c.GetDatabase("sales")
	require.ErrorIs(t, err, ErrUnknownDB)

	tables, err := c.ListTables(1)
	require.NoError(t, err)
	require.Empty(t, tables)

	cols, err := c.ListColumns(tbl.ID)
	require.NoError(t, err)
	require.Empty(t, cols)

	idxs, err := c.ListIndexes(tbl.ID)
	require.NoError(t, err)
	require.Empty(t, idxs)

	// Master's own rows are untouched.
	dbs, err := c.ListDatabases()
	require.NoError(t, err)
	require.Len(t, dbs, 1)
}

func TestCatalog_CreateIndex_UnknownTable(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.CreateIndex(999, "ghost_idx")
	require.ErrorIs(t, err, ErrUnknownTable)
}

// Enough rows to overflow the 8KB first page of a system table chains a
// second page, and scans walk the whole chain.
func TestCatalog_SystemTableOverflow(t *testing.T) {
	c := newTestCatalog(t)

	const n = 600
	for i := 1; i <= n; i++ {
		require.NoError(t, c.AddDatabase(Database{
			ID:      uint16(i),
			Name:    fmt.Sprintf("tenant_%04d", i),
			Version: 1,
		}))
	}

	dbs, err := c.ListDatabases()
	require.NoError(t, err)
	require.Len(t, dbs, n+1)

	got, err := c.GetDatabase(fmt.Sprintf("tenant_%04d", n))
	require.NoError(t, err)
	require.Equal(t, uint16(n), got.ID)
}
