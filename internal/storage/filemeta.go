package storage

import (
	"bytes"
	"errors"
	"time"

	"wakdb/internal/bx"
)

// Every wakdb file opens with a FileInfo page whose first slot carries
// this signature.
var MagicString = [4]byte{0, 1, 6, 1}

type FileType uint8

const (
	FileTypePrimary FileType = 0
	FileTypeLog     FileType = 1
)

const (
	// Primary data file / write-ahead log file extensions.
	DataFileExt = "wak"
	LogFileExt  = "wal"

	MaxDatabaseNameLen = 128
)

var ErrNameTooLong = errors.New("storage: database name exceeds 128 bytes")

// FileInfo is the record stored in slot 0 of page 0 of every file.
type FileInfo struct {
	Magic      [4]byte
	Type       FileType
	SectorSize uint16
	// Seconds since the unix epoch, truncated. Informational only.
	CreatedDate uint16
}

func NewFileInfo(ft FileType, now time.Time) FileInfo {
	return FileInfo{
		Magic:       MagicString,
		Type:        ft,
		SectorSize:  0,
		CreatedDate: uint16(now.Unix()),
	}
}

const fileInfoLen = 4 + 1 + 2 + 2

func (fi FileInfo) Encode() []byte {
	b := make([]byte, fileInfoLen)
	copy(b[0:4], fi.Magic[:])
	b[4] = byte(fi.Type)
	bx.PutU16At(b, 5, fi.SectorSize)
	bx.PutU16At(b, 7, fi.CreatedDate)
	return b
}

func DecodeFileInfo(b []byte) (FileInfo, error) {
	if len(b) < fileInfoLen {
		return FileInfo{}, ErrInvalidFile
	}
	var fi FileInfo
	copy(fi.Magic[:], b[0:4])
	fi.Type = FileType(b[4])
	fi.SectorSize = bx.U16At(b, 5)
	fi.CreatedDate = bx.U16At(b, 7)
	if !bytes.Equal(fi.Magic[:], MagicString[:]) {
		return FileInfo{}, ErrInvalidFile
	}
	return fi, nil
}

// DatabaseInfo is the record stored in slot 0 of page 1 of a primary
// file. Exactly one per file.
type DatabaseInfo struct {
	Name    string // <= 128 bytes
	Version uint8
	ID      uint16
}

func NewDatabaseInfo(name string, id uint16) (DatabaseInfo, error) {
	if len(name) > MaxDatabaseNameLen {
		return DatabaseInfo{}, ErrNameTooLong
	}
	return DatabaseInfo{Name: name, Version: CurrentDatabaseVersion, ID: id}, nil
}

func (di DatabaseInfo) Encode() []byte {
	n := len(di.Name)
	b := make([]byte, 1+n+1+2)
	b[0] = byte(n)
	copy(b[1:], di.Name)
	b[1+n] = di.Version
	bx.PutU16At(b, 2+n, di.ID)
	return b
}

func DecodeDatabaseInfo(b []byte) (DatabaseInfo, error) {
	if len(b) < 1 {
		return DatabaseInfo{}, ErrInvalidFile
	}
	n := int(b[0])
	if n > MaxDatabaseNameLen || len(b) < 1+n+1+2 {
		return DatabaseInfo{}, ErrInvalidFile
	}
	return DatabaseInfo{
		Name:    string(b[1 : 1+n]),
		Version: b[1+n],
		ID:      bx.U16At(b, 2+n),
	}, nil
}
