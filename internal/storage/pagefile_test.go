package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestPageFile creates a primary file in a temp dir.
func newTestPageFile(t *testing.T) *PageFile {
	t.Helper()

	path := filepath.Join(t.TempDir(), "db.wak")
	pf, err := CreatePageFile(path, FileTypePrimary, time.Unix(1700000000, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pf.Close() })
	return pf
}

func TestCreatePageFile_WritesFileInfo(t *testing.T) {
	pf := newTestPageFile(t)
	require.Equal(t, uint32(1), pf.PageCount())

	page, err := pf.ReadPage(FileInfoPageIndex)
	require.NoError(t, err)
	require.Equal(t, FileInfoPage, page.Type())

	body, err := page.Read(0)
	require.NoError(t, err)
	fi, err := DecodeFileInfo(body)
	require.NoError(t, err)
	require.Equal(t, FileTypePrimary, fi.Type)
}

func TestCreatePageFile_RefusesExisting(t *testing.T) {
	pf := newTestPageFile(t)

	_, err := CreatePageFile(pf.Path(), FileTypePrimary, time.Now())
	require.Error(t, err)
}

func TestPageFile_WriteReadRoundTrip(t *testing.T) {
	pf := newTestPageFile(t)

	page, err := NewPage(make([]byte, PageSize), 2, DataPage)
	require.NoError(t, err)
	_, err = page.Insert([]byte("round trip"))
	require.NoError(t, err)

	require.NoError(t, pf.WritePage(2, page))
	require.Equal(t, uint32(3), pf.PageCount())

	got, err := pf.ReadPage(2)
	require.NoError(t, err)
	require.Equal(t, page.Buf, got.Buf)

	rec, err := got.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("round trip"), rec)
}

func TestPageFile_ReadPage_BeyondEnd(t *testing.T) {
	pf := newTestPageFile(t)

	_, err := pf.ReadPage(5)
	require.Error(t, err)
}

func TestPageFile_ReadPage_DetectsCorruption(t *testing.T) {
	pf := newTestPageFile(t)

	page, err := NewPage(make([]byte, PageSize), 2, DataPage)
	require.NoError(t, err)
	_, err = page.Insert([]byte("precious"))
	require.NoError(t, err)
	require.NoError(t, pf.WritePage(2, page))
	require.NoError(t, pf.Sync())

	// Flip one content byte on disk behind the PageFile's back.
	f, err := os.OpenFile(pf.Path(), os.O_RDWR, FileMode0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(2)*PageSize+PageSize-1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = pf.ReadPage(2)
	require.ErrorIs(t, err, ErrCorruptPage)
}

func TestOpenPageFile_ValidRoundTrip(t *testing.T) {
	pf := newTestPageFile(t)
	path := pf.Path()
	require.NoError(t, pf.Close())

	reopened, err := OpenPageFile(path, FileTypePrimary)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint32(1), reopened.PageCount())
}

func TestOpenPageFile_WrongType(t *testing.T) {
	pf := newTestPageFile(t)
	path := pf.Path()
	require.NoError(t, pf.Close())

	_, err := OpenPageFile(path, FileTypeLog)
	require.ErrorIs(t, err, ErrInvalidFile)
}

func TestOpenPageFile_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wak")
	require.NoError(t, os.WriteFile(path, make([]byte, PageSize), FileMode0644))

	_, err := OpenPageFile(path, FileTypePrimary)
	require.ErrorIs(t, err, ErrInvalidFile)
}

func TestPageFile_AllocatePage(t *testing.T) {
	pf := newTestPageFile(t)

	// Page 1 is reserved for DatabaseInfo and must be written explicitly,
	// never handed out by allocation.
	_, err := pf.AllocatePage(DataPage)
	require.ErrorIs(t, err, ErrReservedPage)

	info, err := NewPage(make([]byte, PageSize), DatabaseInfoPageIndex, DatabaseInfoPage)
	require.NoError(t, err)
	require.NoError(t, pf.WritePage(DatabaseInfoPageIndex, info))

	id, err := pf.AllocatePage(DataPage)
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)

	page, err := pf.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, DataPage, page.Type())
}
