// Package cache implements the fixed-capacity page cache sitting between
// the engine and its PageFiles. Frames are pinned while in use, recency
// follows strict LRU, and dirty frames are written back only after their
// WAL records are durable.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"wakdb/internal/storage"
)

const DefaultCapacity = 128

var (
	ErrClosed      = errors.New("cache: cache is closed")
	ErrNotResident = errors.New("cache: page not resident")
)

// LogFlusher makes a file's WAL records up to an LSN durable. The cache
// calls it before any dirty write-back so the write-ahead invariant
// holds. The engine routes the call to the WAL paired with the file.
type LogFlusher interface {
	FlushLog(file *storage.PageFile, upto uint64) error
}

// noopFlusher backs caches for files with no log attached (tooling,
// tests of the cache itself).
type noopFlusher struct{}

func (noopFlusher) FlushLog(*storage.PageFile, uint64) error { return nil }

type frameKey struct {
	file   *storage.PageFile
	pageNo uint32
}

type frame struct {
	key   frameKey
	page  *storage.Page
	pin   int
	dirty bool
	// highest WAL LSN recorded against this page; must be durable
	// before write-back
	recLSN uint64
	elem   *list.Element // position in lru, nil while pinned
}

// Handle is a pinned reference to a resident page. It must be returned
// via Unpin on every exit path; a leaked pin starves eviction.
type Handle struct {
	Page *storage.Page
	f    *frame
}

type Cache struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	capacity int
	frames   map[frameKey]*frame
	lru      *list.List // unpinned frames, front = most recent
	wal      LogFlusher
	closed   bool
}

// New constructs a cache holding at most capacity resident pages.
// wal may be nil when no log ordering applies.
func New(capacity int, wal LogFlusher) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if wal == nil {
		wal = noopFlusher{}
	}
	c := &Cache{
		capacity: capacity,
		frames:   make(map[frameKey]*frame),
		lru:      list.New(),
		wal:      wal,
	}
	c.notFull = sync.NewCond(&c.mu)
	return c
}

// Fetch returns a pinned handle on the requested page, loading it from
// the file on a miss. When the cache is at capacity and every frame is
// pinned, Fetch blocks until a pin is released; there is no timeout.
func (c *Cache) Fetch(file *storage.PageFile, pageNo uint32) (*Handle, error) {
	key := frameKey{file: file, pageNo: pageNo}

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.closed {
			return nil, ErrClosed
		}

		// HIT: bump recency on every fetch, not just on insert.
		if f, ok := c.frames[key]; ok {
			if f.pin == 0 && f.elem != nil {
				c.lru.Remove(f.elem)
				f.elem = nil
			}
			f.pin++
			return &Handle{Page: f.page, f: f}, nil
		}

		if len(c.frames) < c.capacity {
			break
		}
		if victim := c.lru.Back(); victim != nil {
			if err := c.evictLocked(victim.Value.(*frame)); err != nil {
				return nil, err
			}
			break
		}
		// Every resident frame is pinned: the only backpressure the
		// engine has. Wait for an Unpin.
		c.notFull.Wait()
	}

	// MISS with room available. The load happens under the cache lock;
	// only the hit path is guaranteed not to span disk I/O.
	page, err := file.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}
	f := &frame{key: key, page: page, pin: 1}
	c.frames[key] = f
	return &Handle{Page: f.page, f: f}, nil
}

// Unpin releases one pin. dirty marks the frame for write-back; lsn is
// the WAL record covering the mutation (0 for clean reads).
func (c *Cache) Unpin(h *Handle, dirty bool, lsn uint64) error {
	if h == nil || h.f == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f := h.f
	h.f = nil // double-unpin of the same handle is a no-op

	if dirty {
		f.dirty = true
		if lsn > f.recLSN {
			f.recLSN = lsn
		}
	}
	if f.pin > 0 {
		f.pin--
		if f.pin == 0 {
			f.elem = c.lru.PushFront(f)
			c.notFull.Signal()
		}
	}
	return nil
}

// evictLocked drops an unpinned frame, writing it back first when dirty.
func (c *Cache) evictLocked(f *frame) error {
	if err := c.writeBackLocked(f); err != nil {
		return err
	}
	if f.elem != nil {
		c.lru.Remove(f.elem)
		f.elem = nil
	}
	delete(c.frames, f.key)
	return nil
}

func (c *Cache) writeBackLocked(f *frame) error {
	if !f.dirty {
		return nil
	}
	if err := c.wal.FlushLog(f.key.file, f.recLSN); err != nil {
		return fmt.Errorf("cache: wal flush before write-back: %w", err)
	}
	if err := f.key.file.WritePage(f.key.pageNo, f.page); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Flush writes one resident page back without evicting it.
func (c *Cache) Flush(file *storage.PageFile, pageNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.frames[frameKey{file: file, pageNo: pageNo}]
	if !ok {
		return ErrNotResident
	}
	return c.writeBackLocked(f)
}

// FlushAll writes every dirty resident page back, keeping residency and
// pins intact. Used at commit boundaries.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.frames {
		if err := c.writeBackLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// DropFile flushes and forgets every resident page of one file, e.g.
// before closing it.
func (c *Cache) DropFile(file *storage.PageFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, f := range c.frames {
		if key.file != file {
			continue
		}
		if err := c.writeBackLocked(f); err != nil {
			return err
		}
		if f.elem != nil {
			c.lru.Remove(f.elem)
			f.elem = nil
		}
		delete(c.frames, key)
	}
	return nil
}

// Resident reports whether (file, pageNo) currently occupies a frame.
func (c *Cache) Resident(file *storage.PageFile, pageNo uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.frames[frameKey{file: file, pageNo: pageNo}]
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Close flushes all dirty frames and rejects further fetches. Waiters
// blocked in Fetch are released with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.frames {
		if err := c.writeBackLocked(f); err != nil {
			return err
		}
	}
	c.closed = true
	c.notFull.Broadcast()
	return nil
}
