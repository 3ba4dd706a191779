package task

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// File is the shared open-file object behind one or more descriptors:
// a VFS handle plus an offset, ref-counted so dup and fork share it and
// the underlying handle closes only when the last reference drops.
type File struct {
	mu    sync.Mutex
	f     models.File
	path  string
	flags int
	off   int64
	refs  int
}

func (f *File) ref() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

func (f *File) unref() {
	f.mu.Lock()
	f.refs--
	closeNow := f.refs == 0
	f.mu.Unlock()
	if closeNow {
		f.f.Close()
	}
}

func (p *Process) file(fd int) (*File, error) {
	if fd < 0 || fd >= MaxFiles {
		return nil, errors.Wrapf(models.StatusInvalid, "task: fd %d", fd)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.files[fd]
	if f == nil {
		return nil, errors.Wrapf(models.StatusNotFound, "task: pid %d fd %d", p.Pid, fd)
	}
	return f, nil
}

func (p *Process) installFile(f *File) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd, v := range p.files {
		if v == nil {
			p.files[fd] = f
			return fd, nil
		}
	}
	return -1, errors.Wrapf(models.StatusNoMem, "task: pid %d fd table full", p.Pid)
}

// Open opens a path through the VFS collaborator and installs it in the
// lowest free descriptor slot.
func (m *Manager) Open(p *Process, path string, flags int) (int, error) {
	if p == nil || path == "" {
		return -1, errors.Wrap(models.StatusInvalid, "task: bad open")
	}
	h, err := m.fs.Open(path, flags)
	if err != nil {
		return -1, err
	}
	f := &File{f: h, path: path, flags: flags, refs: 1}
	fd, err := p.installFile(f)
	if err != nil {
		h.Close()
		return -1, err
	}
	return fd, nil
}

func (m *Manager) Read(p *Process, fd int, buf []byte) (int, error) {
	f, err := p.file(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.f.ReadAt(buf, f.off)
	f.off += int64(n)
	if err != nil {
		return n, errors.Wrapf(err, "task: read %s", f.path)
	}
	return n, nil
}

func (m *Manager) Write(p *Process, fd int, buf []byte) (int, error) {
	f, err := p.file(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.f.WriteAt(buf, f.off)
	f.off += int64(n)
	if err != nil {
		return n, errors.Wrapf(err, "task: write %s", f.path)
	}
	return n, nil
}

// Dup shares the underlying file object into a new descriptor; both fds
// then move one offset together, closing only at refs==0.
func (m *Manager) Dup(p *Process, fd int) (int, error) {
	f, err := p.file(fd)
	if err != nil {
		return -1, err
	}
	newfd, err := p.installFile(f)
	if err != nil {
		return -1, err
	}
	f.ref()
	return newfd, nil
}

func (m *Manager) Close(p *Process, fd int) error {
	f, err := p.file(fd)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.files[fd] = nil
	p.mu.Unlock()
	f.unref()
	return nil
}

// closeAll drops every descriptor; called from exit.
func (p *Process) closeAll() {
	p.mu.Lock()
	files := p.files
	for i := range p.files {
		p.files[i] = nil
	}
	p.mu.Unlock()
	for _, f := range files {
		if f != nil {
			f.unref()
		}
	}
}
