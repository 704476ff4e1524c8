// Package fsutil abstracts the read side of the filesystem so loaders can be
// tested against in-memory files.
package fsutil

import (
	"io/fs"
	"os"
	"path"
	"sync"
	"testing/fstest"
	"time"
)

// FileSystem is what configuration and recording loaders read through.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	Open(name string) (fs.File, error)
}

// OSFileSystem reads the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (OSFileSystem) Open(name string) (fs.File, error)     { return os.Open(name) }

// MemoryFileSystem holds files in memory. Paths are cleaned with path.Clean,
// so "./a.json" and "a.json" name the same file.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files fstest.MapFS
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(fstest.MapFS)}
}

// WriteFile stores data under name, replacing any previous content.
func (m *MemoryFileSystem) WriteFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[m.key(name)] = &fstest.MapFile{Data: append([]byte(nil), data...), Mode: 0o644, ModTime: time.Time{}}
}

func (m *MemoryFileSystem) key(name string) string {
	k := path.Clean(name)
	if len(k) > 0 && k[0] == '/' {
		k = k[1:]
	}
	return k
}

func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.Stat(m.files, m.key(name))
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.ReadFile(m.files, m.key(name))
}

func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files.Open(m.key(name))
}
