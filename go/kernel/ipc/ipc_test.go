package ipc

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

type recordWaker struct {
	woken []int
}

func (w *recordWaker) Wake(tid int) {
	w.woken = append(w.woken, tid)
}

func testRegistry(t testing.TB) (*Registry, *recordWaker) {
	phys, err := pmm.New(0x100000, 8*1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	w := &recordWaker{}
	return NewRegistry(phys, w), w
}

func TestSendReceiveFIFO(t *testing.T) {
	r, _ := testRegistry(t)
	id, err := r.Create(0)
	if err != nil {
		t.Fatal(err)
	}
	var sent [][]byte
	for i := 0; i < 5; i++ {
		p := []byte(fmt.Sprintf("payload-%d", i))
		sent = append(sent, p)
		if _, err := r.Send(id, 7, 0, p); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		msg, err := r.Receive(id)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(msg.Payload(), sent[i]) {
			t.Fatalf("message %d out of order: %q", i, msg.Payload())
		}
		if msg.Sender != 7 {
			t.Fatalf("sender pid lost: %d", msg.Sender)
		}
	}
	if _, err := r.Receive(id); models.StatusOf(err) != models.StatusTimeout {
		t.Fatalf("empty receive: got %v, want TIMEOUT", err)
	}
}

func TestFullQueueBusy(t *testing.T) {
	r, _ := testRegistry(t)
	id, _ := r.Create(4)
	for i := 0; i < 4; i++ {
		if _, err := r.Send(id, 1, 0, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Send(id, 1, 0, []byte{9}); models.StatusOf(err) != models.StatusBusy {
		t.Fatalf("full send: got %v, want BUSY", err)
	}
	// sync sends never count as drops
	if _, _, drops, _ := r.Stats(id); drops != 0 {
		t.Fatalf("sync BUSY counted as drop: %d", drops)
	}
	// async sends drop and count
	if _, err := r.Send(id, 1, MsgAsync, []byte{9}); models.StatusOf(err) != models.StatusBusy {
		t.Fatalf("full async send: got %v, want BUSY", err)
	}
	queued, capacity, drops, _ := r.Stats(id)
	if queued != 4 || capacity != 4 {
		t.Fatalf("queue length %d exceeds capacity %d", queued, capacity)
	}
	if drops != 1 {
		t.Fatalf("drop counter: got %d, want 1", drops)
	}
}

func TestReply(t *testing.T) {
	r, _ := testRegistry(t)
	id, _ := r.Create(0)
	msgID, err := r.Send(id, 2, 0, []byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	req, _ := r.Receive(id)
	if req.ID != msgID {
		t.Fatal("message id changed in transit")
	}
	if _, err := r.Reply(id, 3, req.ID, []byte("pong")); err != nil {
		t.Fatal(err)
	}
	rep, err := r.Receive(id)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Flags&MsgReply == 0 || rep.Flags&MsgAsync == 0 {
		t.Fatalf("reply flags wrong: %#x", rep.Flags)
	}
	if uint64(rep.ReplyTo) != msgID {
		t.Fatalf("reply tagged %d, want %d", rep.ReplyTo, msgID)
	}
	if !bytes.Equal(rep.Payload(), []byte("pong")) {
		t.Fatal("reply payload corrupt")
	}
}

func TestDestroyInvalidatesID(t *testing.T) {
	r, _ := testRegistry(t)
	id, _ := r.Create(0)
	r.Send(id, 1, 0, []byte("doomed"))
	if err := r.Destroy(id); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(id); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("stale receive: got %v, want NOTFOUND", err)
	}
	if _, err := r.Send(id, 1, 0, nil); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("stale send: got %v, want NOTFOUND", err)
	}
	if err := r.Destroy(id); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("double destroy: got %v, want NOTFOUND", err)
	}
	// the slot can be reused but the old id must stay dead
	id2, err := r.Create(0)
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id {
		t.Fatal("destroyed id was reissued")
	}
}

func TestDestroyReturnsRingPages(t *testing.T) {
	phys, _ := pmm.New(0x100000, 8*1024*1024)
	r := NewRegistry(phys, nil)
	used := phys.UsedMemory()
	id, _ := r.Create(256)
	if phys.UsedMemory() == used {
		t.Fatal("ring storage did not come from the page allocator")
	}
	r.Destroy(id)
	if phys.UsedMemory() != used {
		t.Fatal("destroy leaked ring pages")
	}
}

func TestWakeParkedReceiver(t *testing.T) {
	r, w := testRegistry(t)
	id, _ := r.Create(0)
	if err := r.ParkReceiver(id, 42); err != nil {
		t.Fatal(err)
	}
	r.Send(id, 1, 0, []byte("wake up"))
	if len(w.woken) != 1 || w.woken[0] != 42 {
		t.Fatalf("parked receiver not woken: %v", w.woken)
	}
	// only one wake per send
	r.Send(id, 1, 0, []byte("again"))
	if len(w.woken) != 1 {
		t.Fatalf("send with empty park list woke someone: %v", w.woken)
	}
}

func TestDestroyWakesWaiters(t *testing.T) {
	r, w := testRegistry(t)
	id, _ := r.Create(0)
	r.ParkReceiver(id, 5)
	r.ParkSender(id, 6)
	r.Destroy(id)
	if len(w.woken) != 2 {
		t.Fatalf("destroy left waiters parked: %v", w.woken)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	r, _ := testRegistry(t)
	id, _ := r.Create(0)
	big := make([]byte, MaxInline+1)
	if _, err := r.Send(id, 1, 0, big); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("oversized payload: got %v, want INVALID", err)
	}
}

func BenchmarkSendReceive(b *testing.B) {
	r, _ := testRegistry(b)
	id, _ := r.Create(0)
	p := []byte("benchmark payload")
	for i := 0; i < b.N; i++ {
		r.Send(id, 1, 0, p)
		r.Receive(id)
	}
}
