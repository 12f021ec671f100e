package engine

import (
	"path/filepath"
	"sync"

	"wakdb/internal/storage"
)

// PathResolver maps a database name to its primary and log file paths.
// Currently a fixed directory.
type PathResolver struct {
	Dir string
}

func (r PathResolver) DataPath(name string) string {
	return filepath.Join(r.Dir, name+"."+storage.DataFileExt)
}

func (r PathResolver) LogPath(name string) string {
	return filepath.Join(r.Dir, name+"."+storage.LogFileExt)
}

type fileKey struct {
	name string
	ft   storage.FileType
}

type idKey struct {
	id uint16
	ft storage.FileType
}

// IdentifiedFile pairs an open PageFile with its identity.
type IdentifiedFile struct {
	ID   uint16
	Name string
	Type storage.FileType
	File *storage.PageFile
}

// FileManager tracks every open primary and log file by database name
// and id.
type FileManager struct {
	mu     sync.Mutex
	byName map[fileKey]*IdentifiedFile
	byID   map[idKey]*IdentifiedFile
}

func NewFileManager() *FileManager {
	return &FileManager{
		byName: make(map[fileKey]*IdentifiedFile),
		byID:   make(map[idKey]*IdentifiedFile),
	}
}

func (fm *FileManager) Add(id uint16, name string, ft storage.FileType, pf *storage.PageFile) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	f := &IdentifiedFile{ID: id, Name: name, Type: ft, File: pf}
	fm.byName[fileKey{name: name, ft: ft}] = f
	fm.byID[idKey{id: id, ft: ft}] = f
}

func (fm *FileManager) GetByName(name string, ft storage.FileType) (*storage.PageFile, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	f, ok := fm.byName[fileKey{name: name, ft: ft}]
	if !ok {
		return nil, false
	}
	return f.File, true
}

func (fm *FileManager) GetByID(id uint16, ft storage.FileType) (*storage.PageFile, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	f, ok := fm.byID[idKey{id: id, ft: ft}]
	if !ok {
		return nil, false
	}
	return f.File, true
}

// Remove forgets both files of a database without closing them.
func (fm *FileManager) Remove(name string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for _, ft := range []storage.FileType{storage.FileTypePrimary, storage.FileTypeLog} {
		if f, ok := fm.byName[fileKey{name: name, ft: ft}]; ok {
			delete(fm.byName, fileKey{name: name, ft: ft})
			delete(fm.byID, idKey{id: f.ID, ft: ft})
		}
	}
}

// All returns every tracked file, primaries and logs alike.
func (fm *FileManager) All() []*IdentifiedFile {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	out := make([]*IdentifiedFile, 0, len(fm.byName))
	for _, f := range fm.byName {
		out = append(out, f)
	}
	return out
}
