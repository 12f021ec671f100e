package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"wakdb/internal/bx"
	"wakdb/internal/storage"
	"wakdb/internal/wal"
)

var (
	ErrTxnDone        = errors.New("engine: transaction already finished")
	ErrRecordNotFound = errors.New("engine: record not found")
)

// Database is a handle on one open database. Handles are cheap; all of
// them share the engine's cache and file set.
type Database struct {
	eng    *Engine
	id     uint16
	name   string
	data   *storage.PageFile
	log    *wal.Manager
	writer *sync.Mutex
}

func (db *Database) Name() string { return db.name }
func (db *Database) ID() uint16   { return db.id }

// Begin starts a write transaction. One writer per database: Begin
// blocks until the previous transaction commits or aborts.
func (db *Database) Begin() *Txn {
	db.writer.Lock()
	return &Txn{db: db, id: uuid.New()}
}

// RecordID locates a record inside a database.
type RecordID struct {
	PageID uint32
	Slot   int
}

// Txn is a single-writer redo-only transaction. Mutations go to pages
// through the cache with their images appended to the WAL; Commit makes
// them durable, Abort leaves them uncommitted so recovery ignores them.
type Txn struct {
	db   *Database
	id   uuid.UUID
	done bool
}

func (t *Txn) ID() uuid.UUID { return t.id }

// firstDataPage returns the head of the database's data page chain,
// allocating it on first use.
func (t *Txn) firstDataPage() (uint32, error) {
	if t.db.data.PageCount() <= storage.ReservedPageCount {
		return t.db.data.AllocatePage(storage.DataPage)
	}
	return storage.ReservedPageCount, nil
}

// ReadPage returns a copy of a page's raw bytes. The pin is released
// before returning, so the copy is a snapshot.
func (t *Txn) ReadPage(pageNo uint32) ([]byte, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	h, err := t.db.eng.cache.Fetch(t.db.data, pageNo)
	if err != nil {
		return nil, err
	}
	out := make([]byte, storage.PageSize)
	copy(out, h.Page.Buf)
	if err := t.db.eng.cache.Unpin(h, false, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRecord stores a record under a table of this database. Records
// carry their table id so scans can filter by table.
func (t *Txn) WriteRecord(table string, record []byte) (RecordID, error) {
	if t.done {
		return RecordID{}, ErrTxnDone
	}
	tbl, err := t.db.eng.cat.GetTable(t.db.id, table)
	if err != nil {
		return RecordID{}, err
	}

	rec := make([]byte, 2+len(record))
	bx.PutU16(rec, tbl.ID)
	copy(rec[2:], record)

	pageNo, err := t.firstDataPage()
	if err != nil {
		return RecordID{}, err
	}
	for {
		h, err := t.db.eng.cache.Fetch(t.db.data, pageNo)
		if err != nil {
			return RecordID{}, err
		}

		if slot, err := h.Page.Insert(rec); err == nil {
			lsn, aerr := t.db.log.Append(t.id, wal.OpInsert, pageNo, h.Page.Buf)
			if aerr != nil {
				t.db.eng.cache.Unpin(h, false, 0)
				return RecordID{}, aerr
			}
			if err := t.db.eng.cache.Unpin(h, true, lsn); err != nil {
				return RecordID{}, err
			}
			return RecordID{PageID: pageNo, Slot: slot}, nil
		} else if !errors.Is(err, storage.ErrPageFull) {
			t.db.eng.cache.Unpin(h, false, 0)
			return RecordID{}, err
		}

		if next := h.Page.NextPage(); next != 0 {
			if err := t.db.eng.cache.Unpin(h, false, 0); err != nil {
				return RecordID{}, err
			}
			pageNo = next
			continue
		}

		newID, err := t.db.data.AllocatePage(storage.DataPage)
		if err != nil {
			t.db.eng.cache.Unpin(h, false, 0)
			return RecordID{}, err
		}
		h.Page.SetNextPage(newID)
		lsn, aerr := t.db.log.Append(t.id, wal.OpUpdate, pageNo, h.Page.Buf)
		if aerr != nil {
			t.db.eng.cache.Unpin(h, false, 0)
			return RecordID{}, aerr
		}
		if err := t.db.eng.cache.Unpin(h, true, lsn); err != nil {
			return RecordID{}, err
		}
		pageNo = newID
	}
}

// ReadRecord returns a record previously written under table, stripped
// of its table id prefix.
func (t *Txn) ReadRecord(table string, rid RecordID) ([]byte, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	tbl, err := t.db.eng.cat.GetTable(t.db.id, table)
	if err != nil {
		return nil, err
	}
	h, err := t.db.eng.cache.Fetch(t.db.data, rid.PageID)
	if err != nil {
		return nil, err
	}
	rec, err := h.Page.Read(rid.Slot)
	if err != nil {
		t.db.eng.cache.Unpin(h, false, 0)
		if errors.Is(err, storage.ErrBadSlot) {
			return nil, fmt.Errorf("%w: %s page=%d slot=%d", ErrRecordNotFound, table, rid.PageID, rid.Slot)
		}
		return nil, err
	}
	if len(rec) < 2 || bx.U16(rec) != tbl.ID {
		t.db.eng.cache.Unpin(h, false, 0)
		return nil, fmt.Errorf("%w: %s page=%d slot=%d", ErrRecordNotFound, table, rid.PageID, rid.Slot)
	}
	out := make([]byte, len(rec)-2)
	copy(out, rec[2:])
	if err := t.db.eng.cache.Unpin(h, false, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRecord removes a record, compacting the page if its dead space
// crossed the threshold.
func (t *Txn) DeleteRecord(rid RecordID) error {
	if t.done {
		return ErrTxnDone
	}
	h, err := t.db.eng.cache.Fetch(t.db.data, rid.PageID)
	if err != nil {
		return err
	}
	if err := h.Page.Delete(rid.Slot); err != nil {
		t.db.eng.cache.Unpin(h, false, 0)
		if errors.Is(err, storage.ErrBadSlot) {
			return fmt.Errorf("%w: page=%d slot=%d", ErrRecordNotFound, rid.PageID, rid.Slot)
		}
		return err
	}
	if h.Page.CanCompact() {
		if err := h.Page.Compact(); err != nil {
			t.db.eng.cache.Unpin(h, false, 0)
			return err
		}
	}
	lsn, aerr := t.db.log.Append(t.id, wal.OpDelete, rid.PageID, h.Page.Buf)
	if aerr != nil {
		t.db.eng.cache.Unpin(h, false, 0)
		return aerr
	}
	return t.db.eng.cache.Unpin(h, true, lsn)
}

// ScanTable calls fn with every live record of a table, in page chain
// order.
func (t *Txn) ScanTable(table string, fn func(rid RecordID, rec []byte) (stop bool, err error)) error {
	if t.done {
		return ErrTxnDone
	}
	tbl, err := t.db.eng.cat.GetTable(t.db.id, table)
	if err != nil {
		return err
	}
	if t.db.data.PageCount() <= storage.ReservedPageCount {
		return nil
	}
	pageNo := storage.ReservedPageCount
	for pageNo != 0 {
		h, err := t.db.eng.cache.Fetch(t.db.data, pageNo)
		if err != nil {
			return err
		}
		for _, slot := range h.Page.LiveSlots() {
			rec, err := h.Page.Read(slot)
			if err != nil {
				t.db.eng.cache.Unpin(h, false, 0)
				return err
			}
			if len(rec) < 2 || bx.U16(rec) != tbl.ID {
				continue
			}
			stop, err := fn(RecordID{PageID: pageNo, Slot: slot}, rec[2:])
			if err != nil || stop {
				t.db.eng.cache.Unpin(h, false, 0)
				return err
			}
		}
		next := h.Page.NextPage()
		if err := t.db.eng.cache.Unpin(h, false, 0); err != nil {
			return err
		}
		pageNo = next
	}
	return nil
}

// Commit appends the commit marker and forces the log to disk. Dirty
// pages stay in the cache; write-back happens on eviction or shutdown.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	_, err := t.db.log.AppendCommit(t.id)
	t.db.writer.Unlock()
	return err
}

// Abort abandons the transaction. Its WAL records carry no commit
// marker, so recovery never replays them. Logging is redo-only: there
// is no undo of changes already written back.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.db.writer.Unlock()
}
