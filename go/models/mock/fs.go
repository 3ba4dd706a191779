package mock

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// FileSystem is an in-memory models.FileSystem used by tests and the cli.
type FileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewFileSystem() *FileSystem {
	return &FileSystem{files: make(map[string][]byte)}
}

func (m *FileSystem) WriteFile(path string, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), p...)
}

func (m *FileSystem) Open(path string, flags int) (models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		if flags&models.O_CREAT == 0 {
			return nil, errors.Wrap(models.StatusNotFound, path)
		}
		m.files[path] = nil
	}
	return &file{fs: m, path: path}, nil
}

func (m *FileSystem) Stat(path string) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.files[path]
	if !ok {
		return nil, errors.Wrap(models.StatusNotFound, path)
	}
	return &models.FileInfo{Name: path, Size: uint64(len(p))}, nil
}

type file struct {
	fs     *FileSystem
	path   string
	closed bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, errors.WithStack(models.StatusInvalid)
	}
	data := f.fs.files[f.path]
	if off >= int64(len(data)) {
		return 0, nil
	}
	return copy(p, data[off:]), nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, errors.WithStack(models.StatusInvalid)
	}
	data := f.fs.files[f.path]
	if need := off + int64(len(p)); need > int64(len(data)) {
		grown := make([]byte, need)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], p)
	f.fs.files[f.path] = data
	return len(p), nil
}

func (f *file) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.closed = true
	return nil
}
