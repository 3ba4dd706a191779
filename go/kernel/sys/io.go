package sys

import (
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// transfers are bounced through a kernel buffer; cap keeps one bad
// length argument from allocating gigabytes
const maxIO = 1 << 20

func (k *Kernel) Open(path string, flags int) uint64 {
	fd, err := k.Tasks.Open(k.Proc, path, flags)
	if err != nil {
		return models.Errno(err)
	}
	return uint64(fd)
}

func (k *Kernel) Close(fd Fd) uint64 {
	return models.Errno(k.Tasks.Close(k.Proc, int(fd)))
}

func (k *Kernel) Read(fd Fd, buf Obuf, size Len) uint64 {
	if size > maxIO {
		size = maxIO
	}
	tmp := make([]byte, size)
	n, err := k.Tasks.Read(k.Proc, int(fd), tmp)
	if err != nil {
		return models.Errno(err)
	}
	if err := buf.Write(tmp[:n]); err != nil {
		return models.Errno(err)
	}
	return uint64(n)
}

func (k *Kernel) Write(fd Fd, buf Buf, size Len) uint64 {
	if size > maxIO {
		return models.Errno(models.StatusInvalid)
	}
	tmp := make([]byte, size)
	if err := buf.Read(tmp); err != nil {
		return models.Errno(err)
	}
	n, err := k.Tasks.Write(k.Proc, int(fd), tmp)
	if err != nil {
		return models.Errno(err)
	}
	return uint64(n)
}

func (k *Kernel) Dup(fd Fd) uint64 {
	newfd, err := k.Tasks.Dup(k.Proc, int(fd))
	if err != nil {
		return models.Errno(err)
	}
	return uint64(newfd)
}
