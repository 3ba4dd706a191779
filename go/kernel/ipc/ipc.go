// Package ipc provides message endpoints: bounded FIFO queues of
// fixed-size messages with poll-only receive semantics. Queue storage
// comes from the physical page allocator, not the Go heap.
//
// Receive on an empty queue returns TIMEOUT immediately and send on a
// full synchronous queue returns BUSY; there is no true block-and-
// reschedule. The park lists and the Waker hook are the integration
// point a blocking implementation would use.
package ipc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

const (
	MaxEndpoints    = 4096
	DefaultCapacity = 64
	MaxCapacity     = 1024
)

// Waker is how the registry hands a parked thread back to the scheduler.
// Actually making it run again is the scheduler's business.
type Waker interface {
	Wake(tid int)
}

type endpoint struct {
	mu sync.Mutex

	id    uint64
	cap   int
	ring  uint64 // physical base of the ring storage
	pages int

	head, tail, count int
	nextMsgID         uint64
	drops             uint64

	// parked thread ids; populated by Park*, popped on the opposite event
	sendWait []int
	recvWait []int
}

// Registry is the endpoint table: 4096 slots with a free list, ids made
// of slot index plus a generation so stale ids fail NOTFOUND after
// destroy instead of aliasing a new endpoint.
type Registry struct {
	mu     sync.Mutex
	phys   *pmm.Allocator
	waker  Waker
	tracer models.Tracer

	slots [MaxEndpoints]*endpoint
	gen   [MaxEndpoints]uint32
	free  []int
}

func NewRegistry(phys *pmm.Allocator, waker Waker) *Registry {
	r := &Registry{phys: phys, waker: waker}
	r.free = make([]int, 0, MaxEndpoints)
	for i := MaxEndpoints - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	return r
}

// SetWaker installs the scheduler-side wake hook. The registry is built
// before the process manager during boot, so this arrives late.
func (r *Registry) SetWaker(w Waker) {
	r.mu.Lock()
	r.waker = w
	r.mu.Unlock()
}

func (r *Registry) SetTracer(t models.Tracer) {
	r.mu.Lock()
	r.tracer = t
	r.mu.Unlock()
}

func endpointID(slot int, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(slot)
}

// Create allocates an endpoint with the given queue capacity (0 means
// the default) and returns its opaque id.
func (r *Registry) Create(capacity int) (uint64, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 || capacity > MaxCapacity {
		return 0, errors.Wrapf(models.StatusInvalid, "ipc: capacity %d", capacity)
	}
	r.mu.Lock()
	if len(r.free) == 0 {
		r.mu.Unlock()
		return 0, errors.Wrap(models.StatusNoMem, "ipc: endpoint table full")
	}
	slot := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.gen[slot]++
	id := endpointID(slot, r.gen[slot])
	r.mu.Unlock()

	pages := (capacity*msgSize + pmm.PageSize - 1) / pmm.PageSize
	ring, err := r.phys.AllocPages(pages)
	if err != nil {
		r.mu.Lock()
		r.free = append(r.free, slot)
		r.mu.Unlock()
		return 0, errors.Wrap(err, "ipc: ring storage")
	}
	ep := &endpoint{id: id, cap: capacity, ring: ring, pages: pages}

	r.mu.Lock()
	r.slots[slot] = ep
	r.mu.Unlock()
	return id, nil
}

// Destroy frees the endpoint's ring pages and invalidates its id.
// Queued messages are discarded; parked waiters are woken so they can
// observe NOTFOUND on retry.
func (r *Registry) Destroy(id uint64) error {
	r.mu.Lock()
	slot := int(id & 0xffffffff)
	ep, err := r.lookupLocked(id, slot)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.slots[slot] = nil
	r.gen[slot]++
	r.free = append(r.free, slot)
	waker := r.waker
	r.mu.Unlock()

	ep.mu.Lock()
	waiters := append(append([]int(nil), ep.sendWait...), ep.recvWait...)
	ep.sendWait, ep.recvWait = nil, nil
	ep.count = 0
	ep.mu.Unlock()

	r.phys.FreePages(ep.ring, ep.pages)
	if waker != nil {
		for _, tid := range waiters {
			waker.Wake(tid)
		}
	}
	return nil
}

func (r *Registry) lookupLocked(id uint64, slot int) (*endpoint, error) {
	if slot < 0 || slot >= MaxEndpoints {
		return nil, errors.Wrapf(models.StatusInvalid, "ipc: bad endpoint id %#x", id)
	}
	ep := r.slots[slot]
	if ep == nil || ep.id != id {
		return nil, errors.Wrapf(models.StatusNotFound, "ipc: endpoint %#x", id)
	}
	return ep, nil
}

func (r *Registry) lookup(id uint64) (*endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(id, int(id&0xffffffff))
}

func (r *Registry) hooks() (Waker, models.Tracer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waker, r.tracer
}

func (ep *endpoint) slotBytes(phys *pmm.Allocator, i int) []byte {
	off := uint64(i * msgSize)
	frame, err := phys.Frame(ep.ring + off/pmm.PageSize*pmm.PageSize)
	if err != nil {
		panic(errors.Wrap(err, "ipc: ring frame gone"))
	}
	o := off % pmm.PageSize
	return frame[o : o+msgSize]
}

// Send copies the message by value into the ring tail. A full queue is
// BUSY; async sends additionally count the drop and never park. On
// success a parked receiver, if any, is unparked and handed to the waker.
func (r *Registry) Send(id uint64, sender int, flags uint32, payload []byte) (uint64, error) {
	return r.send(id, sender, flags, 0, payload)
}

// Reply is an async send tagged with the id of the message it answers.
func (r *Registry) Reply(id uint64, sender int, origMsgID uint64, payload []byte) (uint64, error) {
	return r.send(id, sender, MsgAsync|MsgReply, uint32(origMsgID), payload)
}

func (r *Registry) send(id uint64, sender int, flags uint32, replyTo uint32, payload []byte) (uint64, error) {
	if len(payload) > MaxInline {
		return 0, errors.Wrapf(models.StatusInvalid, "ipc: payload %d exceeds %d", len(payload), MaxInline)
	}
	ep, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	ep.mu.Lock()
	if ep.count == ep.cap {
		if flags&MsgAsync != 0 {
			ep.drops++
		}
		ep.mu.Unlock()
		return 0, errors.Wrapf(models.StatusBusy, "ipc: endpoint %#x queue full", id)
	}
	ep.nextMsgID++
	msg := Message{ID: ep.nextMsgID, Sender: int32(sender), Size: uint32(len(payload)), Flags: flags, ReplyTo: replyTo}
	copy(msg.Data[:], payload)
	msg.encode(ep.slotBytes(r.phys, ep.tail))
	ep.tail = (ep.tail + 1) % ep.cap
	ep.count++
	var wake int
	woke := false
	if len(ep.recvWait) > 0 {
		wake = ep.recvWait[0]
		ep.recvWait = ep.recvWait[1:]
		woke = true
	}
	msgID := msg.ID
	ep.mu.Unlock()

	waker, tracer := r.hooks()
	if woke && waker != nil {
		waker.Wake(wake)
	}
	if tracer != nil {
		tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceSend), Pid: int32(sender), A: id, B: msgID, C: uint64(len(payload))})
	}
	return msgID, nil
}

// Receive pops the ring head. An empty queue returns TIMEOUT immediately:
// callers poll, there is no block-and-reschedule today.
func (r *Registry) Receive(id uint64) (*Message, error) {
	ep, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	ep.mu.Lock()
	if ep.count == 0 {
		ep.mu.Unlock()
		return nil, errors.Wrapf(models.StatusTimeout, "ipc: endpoint %#x empty", id)
	}
	var msg Message
	msg.decode(ep.slotBytes(r.phys, ep.head))
	ep.head = (ep.head + 1) % ep.cap
	ep.count--
	var wake int
	woke := false
	if len(ep.sendWait) > 0 {
		wake = ep.sendWait[0]
		ep.sendWait = ep.sendWait[1:]
		woke = true
	}
	ep.mu.Unlock()

	waker, tracer := r.hooks()
	if woke && waker != nil {
		waker.Wake(wake)
	}
	if tracer != nil {
		tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceRecv), Pid: int32(msg.Sender), A: id, B: msg.ID, C: uint64(msg.Size)})
	}
	return &msg, nil
}

// ParkReceiver records a thread waiting for a message. It does not block;
// the scheduler owns making tid sleep and the waker hands it back.
func (r *Registry) ParkReceiver(id uint64, tid int) error {
	ep, err := r.lookup(id)
	if err != nil {
		return err
	}
	ep.mu.Lock()
	ep.recvWait = append(ep.recvWait, tid)
	ep.mu.Unlock()
	return nil
}

// ParkSender records a thread waiting for ring space.
func (r *Registry) ParkSender(id uint64, tid int) error {
	ep, err := r.lookup(id)
	if err != nil {
		return err
	}
	ep.mu.Lock()
	ep.sendWait = append(ep.sendWait, tid)
	ep.mu.Unlock()
	return nil
}

// Stats reports (queued, capacity, drops) for an endpoint.
func (r *Registry) Stats(id uint64) (int, int, uint64, error) {
	ep, err := r.lookup(id)
	if err != nil {
		return 0, 0, 0, err
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.count, ep.cap, ep.drops, nil
}

// Endpoints lists live endpoint ids.
func (r *Registry) Endpoints() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for _, ep := range r.slots {
		if ep != nil {
			ids = append(ids, ep.id)
		}
	}
	return ids
}
