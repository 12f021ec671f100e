package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// PageFile provides raw fixed-size page I/O over a single on-disk file.
// It knows nothing about the WAL or the page cache; reads and writes are
// always whole-page and page-aligned.
type PageFile struct {
	mu        sync.RWMutex
	f         *os.File
	path      string
	fileType  FileType
	pageCount uint32
}

// CreatePageFile creates a fresh file and writes its FileInfo page.
// The caller is responsible for the DatabaseInfo page of primary files.
func CreatePageFile(path string, ft FileType, now time.Time) (*PageFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("create page file: %w", err)
	}

	pf := &PageFile{f: f, path: path, fileType: ft}

	page, err := NewPage(make([]byte, PageSize), FileInfoPageIndex, FileInfoPage)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := page.Insert(NewFileInfo(ft, now).Encode()); err != nil {
		f.Close()
		return nil, err
	}
	if err := pf.writeAt(FileInfoPageIndex, page); err != nil {
		f.Close()
		return nil, err
	}
	pf.pageCount = 1
	return pf, nil
}

// OpenPageFile opens an existing file and validates its FileInfo page:
// checksum, magic string and file type. A mismatch refuses the file
// with ErrInvalidFile.
func OpenPageFile(path string, want FileType) (*PageFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat page file: %w", err)
	}

	pf := &PageFile{
		f:         f,
		path:      path,
		fileType:  want,
		pageCount: uint32(info.Size() / PageSize),
	}

	page, err := pf.ReadPage(FileInfoPageIndex)
	if err != nil {
		f.Close()
		if errors.Is(err, ErrCorruptPage) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
		}
		return nil, err
	}
	body, err := page.Read(0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	fi, err := DecodeFileInfo(body)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	if fi.Type != want {
		f.Close()
		slog.Warn("file type mismatch", "path", path, "want", uint8(want), "got", uint8(fi.Type))
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	return pf, nil
}

func (pf *PageFile) Path() string       { return pf.path }
func (pf *PageFile) FileType() FileType { return pf.fileType }

// PageCount returns the number of allocated pages.
func (pf *PageFile) PageCount() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.pageCount
}

// ReadPage reads one whole page and verifies its content checksum.
// A mismatch surfaces ErrCorruptPage; corrupted bytes are never served.
func (pf *PageFile) ReadPage(id uint32) (*Page, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	if id >= pf.pageCount {
		return nil, fmt.Errorf("read page %d: beyond end of %s", id, pf.path)
	}

	buf := make([]byte, PageSize)
	if _, err := pf.f.ReadAt(buf, int64(id)*PageSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}

	page, err := LoadPage(buf)
	if err != nil {
		return nil, err
	}
	// Freshly allocated pages have never been written; there is nothing
	// to verify yet.
	if page.IsUninitialized() {
		return page, nil
	}
	if err := page.VerifyChecksum(); err != nil {
		return nil, fmt.Errorf("%w: page %d of %s", ErrCorruptPage, id, pf.path)
	}
	return page, nil
}

// WritePage stamps the page checksum and writes it at its id.
func (pf *PageFile) WritePage(id uint32, page *Page) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.writeAt(id, page)
}

func (pf *PageFile) writeAt(id uint32, page *Page) error {
	if len(page.Buf) != PageSize {
		return ErrWrongSize
	}
	page.StampChecksum()
	if _, err := pf.f.WriteAt(page.Buf, int64(id)*PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	if id >= pf.pageCount {
		pf.pageCount = id + 1
	}
	return nil
}

// AllocatePage appends a zero-initialized page of the given type at the
// end of the file and returns its id. Page ids 0 and 1 never come out
// of generic allocation; they are written only at file creation.
func (pf *PageFile) AllocatePage(pageType PageType) (uint32, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	id := pf.pageCount
	if pf.fileType == FileTypePrimary && id < ReservedPageCount {
		return 0, ErrReservedPage
	}
	page, err := NewPage(make([]byte, PageSize), id, pageType)
	if err != nil {
		return 0, err
	}
	if err := pf.writeAt(id, page); err != nil {
		return 0, err
	}
	return id, nil
}

// Sync flushes file contents to stable storage.
func (pf *PageFile) Sync() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.f.Sync()
}

func (pf *PageFile) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.f == nil {
		return nil
	}
	err := pf.f.Close()
	pf.f = nil
	return err
}
