// Package engine ties the storage pieces together: one page cache, one
// file manager, a WAL per database, and the master catalog. It owns
// startup recovery and the createDatabase/openDatabase surface.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wakdb/internal/cache"
	"wakdb/internal/catalog"
	"wakdb/internal/config"
	"wakdb/internal/storage"
	"wakdb/internal/wal"
)

const (
	MasterName = "master"
	MasterID   = uint16(0)
)

var (
	ErrClosed          = errors.New("engine: engine is closed")
	ErrUnknownDatabase = errors.New("engine: unknown database")
	ErrDatabaseExists  = errors.New("engine: database already exists")
	ErrBadDatabaseName = errors.New("engine: invalid database name")
	ErrMasterImmutable = errors.New("engine: master database cannot be dropped")
)

type Engine struct {
	cfg   *config.Config
	paths PathResolver
	cache *cache.Cache
	files *FileManager
	cat   *catalog.Catalog
	now   func() time.Time

	mu      sync.Mutex
	logs    map[*storage.PageFile]*wal.Manager // primary -> paired wal
	writers map[uint16]*sync.Mutex             // database id -> writer lock
	closed  bool
}

// FlushLog implements cache.LogFlusher: a dirty page may not reach its
// primary file before the WAL covering it is durable.
func (e *Engine) FlushLog(file *storage.PageFile, upto uint64) error {
	e.mu.Lock()
	lm := e.logs[file]
	e.mu.Unlock()
	if lm == nil {
		return nil
	}
	return lm.Flush(upto)
}

// Open starts the engine: open-or-create the master database, replay
// every WAL, bootstrap the catalog, load user databases and quarantine
// orphaned files.
func Open(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	dir := cfg.Storage.DataDir
	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		paths:   PathResolver{Dir: dir},
		files:   NewFileManager(),
		now:     time.Now,
		logs:    make(map[*storage.PageFile]*wal.Manager),
		writers: make(map[uint16]*sync.Mutex),
	}
	e.cache = cache.New(cfg.Storage.PageCacheCapacity, e)

	pf, lm, err := e.openOrCreateDatabaseFiles(MasterName, MasterID)
	if err != nil {
		return nil, err
	}
	e.register(MasterID, MasterName, pf, lm)

	e.cat = catalog.New(pf, e.cache, lm, e.now)
	if err := e.cat.Bootstrap(MasterID, MasterName); err != nil {
		return nil, err
	}

	if err := e.loadUserDatabases(); err != nil {
		return nil, err
	}
	if err := e.quarantineOrphans(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) register(id uint16, name string, pf *storage.PageFile, lm *wal.Manager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files.Add(id, name, storage.FileTypePrimary, pf)
	e.logs[pf] = lm
	e.writers[id] = &sync.Mutex{}
}

// redoWriter applies WAL page images to a primary file during recovery.
type redoWriter struct {
	pf *storage.PageFile
}

func (w redoWriter) WritePageBytes(pageID uint32, b []byte) error {
	buf := make([]byte, len(b))
	copy(buf, b)
	page, err := storage.LoadPage(buf)
	if err != nil {
		return err
	}
	return w.pf.WritePage(pageID, page)
}

// openOrCreateDatabaseFiles opens an existing primary+log pair, replaying
// the log first, or creates a fresh pair.
func (e *Engine) openOrCreateDatabaseFiles(name string, id uint16) (*storage.PageFile, *wal.Manager, error) {
	dataPath := e.paths.DataPath(name)

	if _, err := os.Stat(dataPath); errors.Is(err, os.ErrNotExist) {
		return e.createDatabaseFiles(name, id)
	}

	pf, err := storage.OpenPageFile(dataPath, storage.FileTypePrimary)
	if err != nil {
		return nil, nil, err
	}
	lm, err := wal.Open(e.paths.LogPath(name))
	if err != nil {
		pf.Close()
		return nil, nil, err
	}
	// Redo committed work before any reads are served.
	if err := lm.Recover(redoWriter{pf: pf}); err != nil {
		pf.Close()
		lm.Close()
		return nil, nil, err
	}
	return pf, lm, nil
}

// createDatabaseFiles writes the FileInfo pages of both files and the
// primary's DatabaseInfo page.
func (e *Engine) createDatabaseFiles(name string, id uint16) (*storage.PageFile, *wal.Manager, error) {
	now := e.now()

	pf, err := storage.CreatePageFile(e.paths.DataPath(name), storage.FileTypePrimary, now)
	if err != nil {
		return nil, nil, err
	}

	di, err := storage.NewDatabaseInfo(name, id)
	if err != nil {
		pf.Close()
		return nil, nil, err
	}
	page, err := storage.NewPage(make([]byte, storage.PageSize), storage.DatabaseInfoPageIndex, storage.DatabaseInfoPage)
	if err != nil {
		pf.Close()
		return nil, nil, err
	}
	if _, err := page.Insert(di.Encode()); err != nil {
		pf.Close()
		return nil, nil, err
	}
	if err := pf.WritePage(storage.DatabaseInfoPageIndex, page); err != nil {
		pf.Close()
		return nil, nil, err
	}
	if err := pf.Sync(); err != nil {
		pf.Close()
		return nil, nil, err
	}

	lm, err := wal.Create(e.paths.LogPath(name), now)
	if err != nil {
		pf.Close()
		return nil, nil, err
	}
	slog.Info("created database files", "name", name, "id", id)
	return pf, lm, nil
}

// loadUserDatabases opens every database the master catalog knows about.
// A catalog row whose files have vanished is an interrupted drop; the
// row is removed to complete it.
func (e *Engine) loadUserDatabases() error {
	dbs, err := e.cat.ListDatabases()
	if err != nil {
		return err
	}
	for _, db := range dbs {
		if db.ID == MasterID {
			continue
		}
		dataPath := e.paths.DataPath(db.Name)
		if _, err := os.Stat(dataPath); errors.Is(err, os.ErrNotExist) {
			slog.Warn("catalog row without files, completing drop", "name", db.Name)
			if err := e.cat.RemoveDatabase(db.Name); err != nil {
				return err
			}
			continue
		}

		pf, lm, err := e.openOrCreateDatabaseFiles(db.Name, db.ID)
		if err != nil {
			return fmt.Errorf("engine: load database %q: %w", db.Name, err)
		}
		e.register(db.ID, db.Name, pf, lm)
		slog.Info("database loaded", "name", db.Name, "id", db.ID, "pages", pf.PageCount())
	}
	return nil
}

// quarantineOrphans renames any primary file that has no master catalog
// row. A crash between file creation and the catalog insert leaves such
// files behind; they must never be served as valid databases.
func (e *Engine) quarantineOrphans() error {
	matches, err := filepath.Glob(filepath.Join(e.paths.Dir, "*."+storage.DataFileExt))
	if err != nil {
		return err
	}
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), "."+storage.DataFileExt)
		if name == MasterName {
			continue
		}
		if _, err := e.cat.GetDatabase(name); err == nil {
			continue
		} else if !errors.Is(err, catalog.ErrUnknownDB) {
			return err
		}

		slog.Warn("quarantining orphaned database files", "name", name)
		if err := os.Rename(path, path+".orphan"); err != nil {
			return fmt.Errorf("engine: quarantine %q: %w", name, err)
		}
		logPath := e.paths.LogPath(name)
		if _, err := os.Stat(logPath); err == nil {
			if err := os.Rename(logPath, logPath+".orphan"); err != nil {
				return fmt.Errorf("engine: quarantine %q: %w", name, err)
			}
		}
	}
	return nil
}

// validateName keeps database names filesystem-safe: they become file
// names directly.
func validateName(name string) error {
	if name == "" || len(name) > storage.MaxDatabaseNameLen {
		return ErrBadDatabaseName
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrBadDatabaseName, name)
		}
	}
	return nil
}

// Catalog exposes the master catalog for read paths and tooling.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// masterWriter returns the master database's writer lock; all catalog
// mutations serialize on it.
func (e *Engine) masterWriter() *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writers[MasterID]
}

// CreateDatabase creates the primary and log file pair and the catalog
// row describing it. The catalog insert is the durable point: files
// existing without it are quarantined at the next startup.
func (e *Engine) CreateDatabase(name string) (*Database, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	mw := e.masterWriter()
	mw.Lock()
	defer mw.Unlock()

	if _, err := e.cat.GetDatabase(name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	} else if !errors.Is(err, catalog.ErrUnknownDB) {
		return nil, err
	}
	if _, err := os.Stat(e.paths.DataPath(name)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	}

	id, err := e.cat.NextDatabaseID()
	if err != nil {
		return nil, err
	}

	pf, lm, err := e.createDatabaseFiles(name, id)
	if err != nil {
		return nil, err
	}

	if err := e.cat.AddDatabase(catalog.Database{
		ID:          id,
		Name:        name,
		CreatedDate: uint16(e.now().Unix()),
		Version:     storage.CurrentDatabaseVersion,
	}); err != nil {
		pf.Close()
		lm.Close()
		return nil, err
	}

	e.register(id, name, pf, lm)
	return e.handle(id, name, pf, lm), nil
}

// OpenDatabase returns a handle on a database loaded at startup or
// created since.
func (e *Engine) OpenDatabase(name string) (*Database, error) {
	db, err := e.cat.GetDatabase(name)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDB) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
		}
		return nil, err
	}
	pf, ok := e.files.GetByName(name, storage.FileTypePrimary)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}
	e.mu.Lock()
	lm := e.logs[pf]
	e.mu.Unlock()
	return e.handle(db.ID, name, pf, lm), nil
}

// DropDatabase removes the catalog rows first (the durable point of the
// drop), then deletes both files. A crash in between leaves files that
// the next startup quarantines.
func (e *Engine) DropDatabase(name string) error {
	if name == MasterName {
		return ErrMasterImmutable
	}

	mw := e.masterWriter()
	mw.Lock()
	defer mw.Unlock()

	db, err := e.cat.GetDatabase(name)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDB) {
			return fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
		}
		return err
	}

	pf, ok := e.files.GetByName(name, storage.FileTypePrimary)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}

	e.mu.Lock()
	w := e.writers[db.ID]
	e.mu.Unlock()
	w.Lock()
	defer w.Unlock()

	if err := e.cat.RemoveDatabase(name); err != nil {
		return err
	}

	if err := e.cache.DropFile(pf); err != nil {
		return err
	}

	e.mu.Lock()
	lm := e.logs[pf]
	delete(e.logs, pf)
	delete(e.writers, db.ID)
	e.mu.Unlock()
	e.files.Remove(name)

	if lm != nil {
		lm.Close()
	}
	pf.Close()
	if err := os.Remove(e.paths.DataPath(name)); err != nil {
		return err
	}
	return os.Remove(e.paths.LogPath(name))
}

func (e *Engine) handle(id uint16, name string, pf *storage.PageFile, lm *wal.Manager) *Database {
	e.mu.Lock()
	w := e.writers[id]
	e.mu.Unlock()
	return &Database{
		eng:    e,
		id:     id,
		name:   name,
		data:   pf,
		log:    lm,
		writer: w,
	}
}

// ListDatabases returns every database row in the master catalog.
func (e *Engine) ListDatabases() ([]catalog.Database, error) {
	return e.cat.ListDatabases()
}

// CreateTable registers a table and its columns under a database.
func (e *Engine) CreateTable(database, table string, cols []catalog.ColumnSpec) (catalog.Table, error) {
	mw := e.masterWriter()
	mw.Lock()
	defer mw.Unlock()

	db, err := e.cat.GetDatabase(database)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDB) {
			return catalog.Table{}, fmt.Errorf("%w: %s", ErrUnknownDatabase, database)
		}
		return catalog.Table{}, err
	}
	return e.cat.CreateTable(db.ID, table, cols)
}

// ListTables returns a database's table rows.
func (e *Engine) ListTables(database string) ([]catalog.Table, error) {
	db, err := e.cat.GetDatabase(database)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDB) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, database)
		}
		return nil, err
	}
	return e.cat.ListTables(db.ID)
}

// ListColumns returns a table's column rows in position order.
func (e *Engine) ListColumns(database, table string) ([]catalog.Column, error) {
	db, err := e.cat.GetDatabase(database)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDB) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, database)
		}
		return nil, err
	}
	tbl, err := e.cat.GetTable(db.ID, table)
	if err != nil {
		return nil, err
	}
	return e.cat.ListColumns(tbl.ID)
}

// CreateIndex registers an index row for a table.
func (e *Engine) CreateIndex(database, table, index string) (catalog.Index, error) {
	mw := e.masterWriter()
	mw.Lock()
	defer mw.Unlock()

	db, err := e.cat.GetDatabase(database)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDB) {
			return catalog.Index{}, fmt.Errorf("%w: %s", ErrUnknownDatabase, database)
		}
		return catalog.Index{}, err
	}
	tbl, err := e.cat.GetTable(db.ID, table)
	if err != nil {
		return catalog.Index{}, err
	}
	return e.cat.CreateIndex(tbl.ID, index)
}

// Close flushes the cache and closes every file. Safe to call once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.cache.Close(); err != nil {
		return err
	}

	var firstErr error
	for _, f := range e.files.All() {
		e.mu.Lock()
		lm := e.logs[f.File]
		e.mu.Unlock()
		if lm != nil {
			if err := lm.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := f.File.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
