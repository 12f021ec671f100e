package wal

import (
	"bufio"
	"errors"
	"hash/crc32"
	"io"

	"github.com/google/uuid"

	"wakdb/internal/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrNoLogFile = errors.New("wal: log file not found")
)

const (
	recMagic   uint32 = 0x57414B4C // "WAKL"
	recVersion uint16 = 1
)

// Operation identifies what a log record describes. Every mutating
// operation carries the full resulting page image so that replay
// reconstructs state instead of toggling it.
type Operation uint8

const (
	OpInsert Operation = iota + 1
	OpUpdate
	OpDelete
	OpPageImage
	OpCommit
)

func (op Operation) mutating() bool {
	return op >= OpInsert && op <= OpPageImage
}

// fixed prefix: magic(4) ver(2) op(1) rsv(1) totalLen(4) crc(4)
// fixed body:   lsn(8) txn(16) pageID(4)
const (
	prefixLen = 4 + 2 + 1 + 1 + 4 + 4
	bodyFixed = 8 + 16 + 4
	minRecLen = prefixLen + bodyFixed
)

type Record struct {
	LSN     uint64
	Txn     uuid.UUID
	PageID  uint32
	Op      Operation
	Payload []byte
}

func encodeRecord(r Record) []byte {
	totalLen := minRecLen + len(r.Payload)
	buf := make([]byte, totalLen)

	bx.PutU32At(buf, 0, recMagic)
	bx.PutU16At(buf, 4, recVersion)
	buf[6] = byte(r.Op)
	buf[7] = 0
	bx.PutU32At(buf, 8, uint32(totalLen))
	// crc at [12:16), computed over everything after it
	bx.PutU64At(buf, prefixLen, r.LSN)
	copy(buf[prefixLen+8:], r.Txn[:])
	bx.PutU32At(buf, prefixLen+24, r.PageID)
	copy(buf[minRecLen:], r.Payload)

	crc := crc32.ChecksumIEEE(buf[prefixLen:])
	bx.PutU32At(buf, 12, crc)
	return buf
}

// readRecord decodes one record from the stream. io.EOF means a clean
// end; ErrShortRead, ErrBadCRC and ErrBadRecord mean a torn or garbage
// tail beginning at the record's start offset.
func readRecord(r *bufio.Reader) (*Record, error) {
	var prefix [prefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	if bx.U32At(prefix[:], 0) != recMagic {
		return nil, ErrBadMagic
	}
	if bx.U16At(prefix[:], 4) != recVersion {
		return nil, ErrBadRecord
	}
	op := Operation(prefix[6])
	totalLen := bx.U32At(prefix[:], 8)
	if totalLen < minRecLen || totalLen > minRecLen+maxPayload {
		return nil, ErrBadRecord
	}
	wantCRC := bx.U32At(prefix[:], 12)

	rest := make([]byte, int(totalLen)-prefixLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return nil, ErrBadCRC
	}

	rec := &Record{
		LSN:    bx.U64At(rest, 0),
		PageID: bx.U32At(rest, 24),
		Op:     op,
	}
	copy(rec.Txn[:], rest[8:24])
	if len(rest) > bodyFixed {
		rec.Payload = rest[bodyFixed:]
	}
	return rec, nil
}
