package models

import "os"

const (
	O_RDONLY = os.O_RDONLY
	O_WRONLY = os.O_WRONLY
	O_RDWR   = os.O_RDWR
	O_CREAT  = os.O_CREATE
	O_TRUNC  = os.O_TRUNC
)

type FileInfo struct {
	Name string
	Size uint64
}

// File is an open object handed out by a FileSystem. Process file
// descriptors are thin ref-counted wrappers (handle + offset) over this.
type File interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

// FileSystem is the VFS collaborator. The core never implements one; the
// mock package provides an in-memory version for tests and the cli.
type FileSystem interface {
	Open(path string, flags int) (File, error)
	Stat(path string) (*FileInfo, error)
}

// ReadFile slurps a whole file through the FileSystem interface.
func ReadFile(fs FileSystem, path string) ([]byte, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(path, O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p := make([]byte, info.Size)
	n, err := f.ReadAt(p, 0)
	if err != nil && uint64(n) != info.Size {
		return nil, err
	}
	return p[:n], nil
}
