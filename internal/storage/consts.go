package storage

import (
	"errors"

	"github.com/sigurn/crc16"
)

const (
	OneKB = 1 << 10
	OneMB = 1 << 20

	// 8KB page size, fixed for the whole file format
	PageSize   = OneKB * 8
	HeaderSize = 32
	SlotSize   = 6 // 3 * uint16: offset, length, flags

	// The largest record a single page can hold inline.
	MaxRecordSize = PageSize - HeaderSize - SlotSize

	CurrentHeaderVersion   = 1
	CurrentDatabaseVersion = 1
)

const (
	FileMode0644 = 0o644 // rw-r--r--
	FileMode0755 = 0o755 // rwxr-xr-x
)

// Header field offsets. Multibyte fields are big-endian.
const (
	offPageID     = 0  // u32
	offVersion    = 4  // u8
	offType       = 5  // u8
	offChecksum   = 6  // u16, over bytes [HeaderSize, PageSize)
	offFlags      = 8  // u16
	offSlotCount  = 10 // u16
	offFreeSpace  = 12 // u16
	offFreeStart  = 14 // u16, end of the slot directory
	offFreeEnd    = 16 // u16, start of the record area
	offTotalAlloc = 18 // u16, header + slot directory + live records
	offNextPage   = 20 // u32, next page in a chain (0 = none)
	// bytes [24, 32) reserved
)

// Page flags
const (
	FlagCanCompact uint16 = 1 << 0
)

// PageType enum
type PageType uint8

const (
	FileInfoPage PageType = iota
	DatabaseInfoPage
	SchemaInfoPage
	DataPage
	IndexPage
)

// Slot flags
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1 << 0
)

// Reserved page indexes at the start of every primary file.
const (
	FileInfoPageIndex     uint32 = 0
	DatabaseInfoPageIndex uint32 = 1
	ReservedPageCount     uint32 = 2
)

// Fragmentation threshold: delete sets FlagCanCompact once dead record
// bytes exceed a quarter of the allocated bytes.
const compactNum, compactDen = 1, 4

// Common errors
var (
	ErrWrongSize      = errors.New("page: buffer size != PageSize")
	ErrRecordTooLarge = errors.New("page: record too large for a single page")
	ErrPageFull       = errors.New("page: not enough free space")
	ErrBadSlot        = errors.New("page: invalid slot")
	ErrCorruption     = errors.New("page: corrupt slot or record bounds")
	ErrCorruptPage    = errors.New("storage: page checksum mismatch")
	ErrInvalidFile    = errors.New("storage: bad magic string or file type")
	ErrReservedPage   = errors.New("storage: page id is reserved")
)

// Page content is checksummed with CRC-16/X.25 (aka CRC_16_IBM_SDLC).
var crcTable = crc16.MakeTable(crc16.CRC16_X_25)

// Checksum computes the content checksum of a full page buffer.
// Only bytes past the header participate, so stamping the checksum
// into the header does not invalidate it.
func Checksum(buf []byte) uint16 {
	return crc16.Checksum(buf[HeaderSize:PageSize], crcTable)
}
