package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileInfo_EncodeDecode(t *testing.T) {
	now := time.Unix(1700000000, 0)
	fi := NewFileInfo(FileTypeLog, now)

	got, err := DecodeFileInfo(fi.Encode())
	require.NoError(t, err)
	require.Equal(t, MagicString, got.Magic)
	require.Equal(t, FileTypeLog, got.Type)
	require.Equal(t, uint16(now.Unix()), got.CreatedDate)
}

func TestDecodeFileInfo_BadMagic(t *testing.T) {
	b := NewFileInfo(FileTypePrimary, time.Now()).Encode()
	b[0] = 0xFF

	_, err := DecodeFileInfo(b)
	require.ErrorIs(t, err, ErrInvalidFile)
}

func TestDecodeFileInfo_Truncated(t *testing.T) {
	_, err := DecodeFileInfo([]byte{0, 1})
	require.ErrorIs(t, err, ErrInvalidFile)
}

func TestDatabaseInfo_EncodeDecode(t *testing.T) {
	di, err := NewDatabaseInfo("sales", 3)
	require.NoError(t, err)

	got, err := DecodeDatabaseInfo(di.Encode())
	require.NoError(t, err)
	require.Equal(t, "sales", got.Name)
	require.Equal(t, uint16(3), got.ID)
	require.Equal(t, uint8(CurrentDatabaseVersion), got.Version)
}

func TestNewDatabaseInfo_NameLimit(t *testing.T) {
	_, err := NewDatabaseInfo(strings.Repeat("x", MaxDatabaseNameLen+1), 1)
	require.ErrorIs(t, err, ErrNameTooLong)

	di, err := NewDatabaseInfo(strings.Repeat("x", MaxDatabaseNameLen), 1)
	require.NoError(t, err)

	got, err := DecodeDatabaseInfo(di.Encode())
	require.NoError(t, err)
	require.Len(t, got.Name, MaxDatabaseNameLen)
}
