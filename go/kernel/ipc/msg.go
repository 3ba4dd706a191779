package ipc

import "encoding/binary"

const (
	// inline payload bytes per message
	MaxInline = 64
	// on-ring record size: 24 byte header + payload, padded to a power
	// of two so a record never straddles a frame boundary
	msgSize = 128

	// message flags
	MsgAsync = 1 << 0
	MsgReply = 1 << 1
)

// Message is a fixed-size value record. It is copied whole into and out
// of an endpoint's ring; nothing on the ring is heap-allocated.
type Message struct {
	ID     uint64 `struc:"uint64"`
	Sender int32  `struc:"int32"`
	Size   uint32 `struc:"uint32"`
	Flags  uint32 `struc:"uint32"`
	// ReplyTo carries the original message id on MsgReply messages
	ReplyTo uint32          `struc:"uint32"`
	Data    [MaxInline]byte `struc:"[64]byte"`
}

func (m *Message) Payload() []byte {
	n := m.Size
	if n > MaxInline {
		n = MaxInline
	}
	return m.Data[:n]
}

// encode packs the record into one ring slot.
func (m *Message) encode(p []byte) {
	binary.LittleEndian.PutUint64(p[0:], m.ID)
	binary.LittleEndian.PutUint32(p[8:], uint32(m.Sender))
	binary.LittleEndian.PutUint32(p[12:], m.Size)
	binary.LittleEndian.PutUint32(p[16:], m.Flags)
	binary.LittleEndian.PutUint32(p[20:], m.ReplyTo)
	copy(p[24:msgSize], m.Data[:])
}

func (m *Message) decode(p []byte) {
	m.ID = binary.LittleEndian.Uint64(p[0:])
	m.Sender = int32(binary.LittleEndian.Uint32(p[8:]))
	m.Size = binary.LittleEndian.Uint32(p[12:])
	m.Flags = binary.LittleEndian.Uint32(p[16:])
	m.ReplyTo = binary.LittleEndian.Uint32(p[20:])
	copy(m.Data[:], p[24:msgSize])
}
