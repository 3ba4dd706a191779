package sys

import (
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/ipc"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

func (k *Kernel) EpCreate(capacity int) uint64 {
	id, err := k.IPC.Create(capacity)
	if err != nil {
		return models.Errno(err)
	}
	return id
}

func (k *Kernel) EpDestroy(id uint64) uint64 {
	return models.Errno(k.IPC.Destroy(id))
}

func (k *Kernel) EpSend(id uint64, buf Buf, size Len, flags int) uint64 {
	if size > ipc.MaxInline {
		return models.Errno(models.StatusInvalid)
	}
	payload := make([]byte, size)
	if err := buf.Read(payload); err != nil {
		return models.Errno(err)
	}
	msgID, err := k.IPC.Send(id, k.Proc.Pid, uint32(flags), payload)
	if err != nil {
		return models.Errno(err)
	}
	return msgID
}

// EpRecv copies the head message's payload into buf, truncating to size,
// and returns the byte count. Empty queues are TIMEOUT immediately.
func (k *Kernel) EpRecv(id uint64, buf Obuf, size Len) uint64 {
	msg, err := k.IPC.Receive(id)
	if err != nil {
		return models.Errno(err)
	}
	payload := msg.Payload()
	if uint64(len(payload)) > uint64(size) {
		payload = payload[:size]
	}
	if len(payload) > 0 {
		if err := buf.Write(payload); err != nil {
			return models.Errno(err)
		}
	}
	return uint64(len(payload))
}

func (k *Kernel) EpReply(id uint64, orig uint64, buf Buf, size Len) uint64 {
	if size > ipc.MaxInline {
		return models.Errno(models.StatusInvalid)
	}
	payload := make([]byte, size)
	if err := buf.Read(payload); err != nil {
		return models.Errno(err)
	}
	msgID, err := k.IPC.Reply(id, k.Proc.Pid, orig, payload)
	if err != nil {
		return models.Errno(err)
	}
	return msgID
}
