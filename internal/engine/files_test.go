package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wakdb/internal/storage"
)

func TestPathResolver_Extensions(t *testing.T) {
	r := PathResolver{Dir: "/data"}

	require.Equal(t, filepath.Join("/data", "sales.wak"), r.DataPath("sales"))
	require.Equal(t, filepath.Join("/data", "sales.wal"), r.LogPath("sales"))
}

func TestFileManager_AddGetRemove(t *testing.T) {
	fm := NewFileManager()

	pf, err := storage.CreatePageFile(filepath.Join(t.TempDir(), "x.wak"), storage.FileTypePrimary, time.Unix(1700000000, 0))
	require.NoError(t, err)
	defer pf.Close()

	fm.Add(3, "sales", storage.FileTypePrimary, pf)

	got, ok := fm.GetByName("sales", storage.FileTypePrimary)
	require.True(t, ok)
	require.Same(t, pf, got)

	got, ok = fm.GetByID(3, storage.FileTypePrimary)
	require.True(t, ok)
	require.Same(t, pf, got)

	_, ok = fm.GetByName("sales", storage.FileTypeLog)
	require.False(t, ok)

	require.Len(t, fm.All(), 1)

	fm.Remove("sales")
	_, ok = fm.GetByName("sales", storage.FileTypePrimary)
	require.False(t, ok)
	_, ok = fm.GetByID(3, storage.FileTypePrimary)
	require.False(t, ok)
	require.Empty(t, fm.All())
}

func TestValidateName(t *testing.T) {
	require.NoError(t, validateName("sales_2024"))
	require.NoError(t, validateName("Tenant-7"))

	require.Error(t, validateName(""))
	require.Error(t, validateName("has space"))
	require.Error(t, validateName("dot.name"))
	require.Error(t, validateName("../escape"))
}
