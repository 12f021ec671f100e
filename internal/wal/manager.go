// Package wal implements the append-only write-ahead log that fronts
// every primary file. Mutations reach the log before their dirty pages
// may reach disk; on startup the log is replayed to redo committed work.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"wakdb/internal/storage"
)

const (
	// Records start after the FileInfo page.
	headerOffset = storage.PageSize

	// One full page image plus slack; anything claiming more is garbage.
	maxPayload = storage.PageSize + 1024
)

// PageWriter applies redo images during recovery.
type PageWriter interface {
	WritePageBytes(pageID uint32, pageBytes []byte) error
}

type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     uint64
	flushed uint64
	size    int64 // current end-of-log offset
}

// Create makes a fresh log file: a FileInfo page of type Log, then an
// empty record stream.
func Create(path string, now time.Time) (*Manager, error) {
	pf, err := storage.CreatePageFile(path, storage.FileTypeLog, now)
	if err != nil {
		return nil, err
	}
	if err := pf.Close(); err != nil {
		return nil, err
	}
	return Open(path)
}

// Open validates the log's FileInfo page and scans the record stream to
// find the last LSN and the end of the last fully-written record. A torn
// tail is truncated here, so appends always start at a clean boundary.
func Open(path string) (*Manager, error) {
	pf, err := storage.OpenPageFile(path, storage.FileTypeLog)
	if err != nil {
		return nil, err
	}
	if err := pf.Close(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, storage.FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	m := &Manager{f: f, path: path, size: headerOffset}
	if err := m.scanTail(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// scanTail walks the record stream, recording the highest LSN and the
// offset just past the last valid record. Anything after that offset is
// a partial append from a crash and is discarded without error.
func (m *Manager) scanTail() error {
	if _, err := m.f.Seek(headerOffset, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReaderSize(m.f, 1<<20)

	valid := int64(headerOffset)
	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, ErrShortRead) || errors.Is(err, ErrBadCRC) ||
				errors.Is(err, ErrBadMagic) || errors.Is(err, ErrBadRecord) {
				slog.Warn("truncating torn wal tail", "path", m.path, "offset", valid)
				if err := m.f.Truncate(valid); err != nil {
					return fmt.Errorf("truncate wal: %w", err)
				}
				break
			}
			return err
		}
		valid += int64(minRecLen + len(rec.Payload))
		if rec.LSN > m.lsn {
			m.lsn = rec.LSN
		}
	}

	m.size = valid
	m.flushed = m.lsn
	return nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// Append writes one mutation record carrying the full resulting page
// image. Returns the record's LSN; the record is buffered by the OS
// until Flush.
func (m *Manager) Append(txn uuid.UUID, op Operation, pageID uint32, pageBytes []byte) (uint64, error) {
	if !op.mutating() {
		return 0, ErrBadRecord
	}
	if len(pageBytes) != storage.PageSize {
		return 0, ErrBadRecord
	}
	return m.append(Record{Txn: txn, PageID: pageID, Op: op, Payload: pageBytes})
}

// AppendCommit writes the transaction's commit marker and forces the log
// to stable storage. After it returns the transaction is durable.
func (m *Manager) AppendCommit(txn uuid.UUID) (uint64, error) {
	lsn, err := m.append(Record{Txn: txn, Op: OpCommit})
	if err != nil {
		return 0, err
	}
	return lsn, m.Flush(lsn)
}

func (m *Manager) append(rec Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrNoLogFile
	}

	m.lsn++
	rec.LSN = m.lsn

	buf := encodeRecord(rec)
	if _, err := m.f.WriteAt(buf, m.size); err != nil {
		m.lsn--
		return 0, fmt.Errorf("wal append: %w", err)
	}
	m.size += int64(len(buf))
	return rec.LSN, nil
}

// Flush makes all records up to lsn durable. No-op when already flushed.
func (m *Manager) Flush(upto uint64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	if upto == 0 || upto <= m.flushed {
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	m.flushed = m.lsn
	return nil
}

// LastLSN returns the LSN of the most recently appended record.
func (m *Manager) LastLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lsn
}

// Recover replays the log against the primary file. Pass one collects
// the set of committed transactions; pass two redoes their page images
// in LSN order. Records of uncommitted transactions are ignored.
// Replay is idempotent: images reconstruct the page, they do not toggle it.
func (m *Manager) Recover(w PageWriter) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrNoLogFile
	}

	committed := make(map[uuid.UUID]struct{})
	if err := m.scan(func(rec *Record) error {
		if rec.Op == OpCommit {
			committed[rec.Txn] = struct{}{}
		}
		return nil
	}); err != nil {
		return err
	}

	replayed := 0
	if err := m.scan(func(rec *Record) error {
		if !rec.Op.mutating() {
			return nil
		}
		if _, ok := committed[rec.Txn]; !ok {
			return nil
		}
		replayed++
		return w.WritePageBytes(rec.PageID, rec.Payload)
	}); err != nil {
		return err
	}

	if replayed > 0 {
		slog.Info("wal recovery complete", "path", m.path, "records", replayed, "txns", len(committed))
	}
	return nil
}

// scan iterates every valid record from the start of the stream.
// The tail was already cleaned by scanTail, so decode errors here are
// real corruption, not a torn append.
func (m *Manager) scan(fn func(*Record) error) error {
	if _, err := m.f.Seek(headerOffset, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReaderSize(io.LimitReader(m.f, m.size-headerOffset), 1<<20)

	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrShortRead) {
				return nil
			}
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
