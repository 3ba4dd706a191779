package task

import (
	"bytes"
	"testing"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/loader"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
	"github.com/nuzDop/LimitlessOS-sub000/go/models/mock"
)

func testManager(t testing.TB) (*Manager, *mock.FileSystem) {
	phys, err := pmm.New(0x100000, 32*1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	vm, err := vmm.New(phys, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := mock.NewFileSystem()
	m := NewManager(phys, vm, sched.New(), fs, loader.New(), nil)
	return m, fs
}

func writeImage(t testing.TB, fs *mock.FileSystem, path string, code []byte) {
	img, err := loader.NewImage(0x401000).
		AddSegment(0x401000, models.PROT_READ|models.PROT_EXEC, code, 0).
		Bytes()
	if err != nil {
		t.Fatal(err)
	}
	fs.WriteFile(path, img)
}

func TestCreate(t *testing.T) {
	m, _ := testManager(t)
	p1, err := m.Create("init")
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := m.Create("other")
	if p1.Pid != InitPid || p2.Pid != p1.Pid+1 {
		t.Fatalf("pids not monotonic: %d, %d", p1.Pid, p2.Pid)
	}
	if p1.State != StateEmbryo || p1.Cwd != "/" {
		t.Fatalf("bad initial process: %s %q", p1.State, p1.Cwd)
	}
	if p1.AS == nil {
		t.Fatal("process has no address space")
	}
	if got, _ := m.Lookup(p1.Pid); got != p1 {
		t.Fatal("lookup mismatch")
	}
	if _, err := m.Lookup(999); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("bogus lookup: got %v", err)
	}
}

func TestExec(t *testing.T) {
	m, fs := testManager(t)
	code := []byte{0x48, 0x31, 0xc0, 0xc3}
	writeImage(t, fs, "/bin/init", code)

	p, _ := m.Create("init")
	if err := m.Exec(p, "/bin/init", []string{"init", "-x"}, []string{"TERM=dumb"}); err != nil {
		t.Fatal(err)
	}
	if p.State != StateReady {
		t.Fatalf("state after exec: %s", p.State)
	}
	// first bytes of the code mapping equal the image's first segment
	got := make([]byte, len(code))
	if err := p.AS.Read(0x401000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, code) {
		t.Fatal("code mapping differs from image")
	}
	threads := p.Threads()
	if len(threads) != 1 {
		t.Fatalf("want 1 main thread, got %d", len(threads))
	}
	main := threads[0]
	if main.Entry != 0x401000 {
		t.Fatalf("main thread entry %#x", main.Entry)
	}
	if main.StackTop == 0 || main.StackTop%8 != 0 {
		t.Fatalf("bad stack pointer %#x", main.StackTop)
	}
	// argc sits at the stack pointer
	var word [8]byte
	if err := p.AS.Read(main.StackTop, word[:]); err != nil {
		t.Fatal(err)
	}
	if argc := uint64(word[0]); argc != 2 {
		t.Fatalf("argc on stack: %d", argc)
	}
	// heap begins after the image
	if p.heapStart < 0x401000+uint64(len(code)) {
		t.Fatalf("heap start %#x inside image", p.heapStart)
	}
	// stack region mapped below the fixed top
	r := p.AS.FindRegion(UserStackTop - 8)
	if r == nil || r.Kind != models.RegionStack {
		t.Fatal("stack region missing")
	}
	if r.End-r.Start != UserStackSize {
		t.Fatalf("stack size %#x", r.End-r.Start)
	}
}

func TestExecMissingImage(t *testing.T) {
	m, _ := testManager(t)
	p, _ := m.Create("doomed")
	err := m.Exec(p, "/no/such", nil, nil)
	if models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("exec missing file: got %v", err)
	}
	// failed first exec drives the process toward exit, and with no
	// parent it is reclaimed immediately
	if _, err := m.Lookup(p.Pid); models.StatusOf(err) != models.StatusNotFound {
		t.Fatal("half-initialized embryo left behind")
	}
}

func TestForkDeepCopy(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	parent, _ := m.Create("init")
	if err := m.Exec(parent, "/bin/init", nil, nil); err != nil {
		t.Fatal(err)
	}
	// three known-pattern pages
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER
	if err := parent.AS.Map(0x600000, 3*vmm.PageSize, prot, models.RegionData, "pattern"); err != nil {
		t.Fatal(err)
	}
	want := bytes.Repeat([]byte{0xa5, 0x5a, 0x00, 0xff}, 3*vmm.PageSize/4)
	parent.AS.Write(0x600000, want)

	child, err := m.Fork(parent)
	if err != nil {
		t.Fatal(err)
	}
	if child.ParentPid != parent.Pid {
		t.Fatal("child not linked to parent")
	}
	if child.Cwd != parent.Cwd || child.Cred != parent.Cred {
		t.Fatal("credentials/cwd not copied")
	}
	// overwrite the child's copy; parent's pages stay unchanged
	child.AS.Write(0x600000, bytes.Repeat([]byte{0xee}, 3*vmm.PageSize))
	got := make([]byte, len(want))
	parent.AS.Read(0x600000, got)
	if !bytes.Equal(want, got) {
		t.Fatal("child write leaked into parent")
	}
	if len(child.Threads()) != 1 {
		t.Fatal("fork did not duplicate the main thread")
	}
}

func TestForkSharesFiles(t *testing.T) {
	m, fs := testManager(t)
	fs.WriteFile("/etc/data", []byte("0123456789"))
	parent, _ := m.Create("p")
	fd, err := m.Open(parent, "/etc/data", models.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	m.Read(parent, fd, buf)

	child, err := m.Fork(parent)
	if err != nil {
		t.Fatal(err)
	}
	// shared file object: child reads continue at the parent's offset
	n, err := m.Read(child, fd, buf)
	if err != nil || n != 4 {
		t.Fatal(err)
	}
	if string(buf) != "4567" {
		t.Fatalf("child read %q, offset not shared", buf)
	}
	// closing in the child leaves the parent's descriptor alive
	if err := m.Close(child, fd); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Read(parent, fd, buf); err != nil {
		t.Fatalf("parent fd died with child close: %v", err)
	}
}

func TestExitWait(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	parent, _ := m.Create("init")
	m.Exec(parent, "/bin/init", nil, nil)
	child, err := m.Fork(parent)
	if err != nil {
		t.Fatal(err)
	}
	cpid := child.Pid

	// waiting before exit is BUSY, not blocking
	if _, _, err := m.Wait(parent, cpid); models.StatusOf(err) != models.StatusBusy {
		t.Fatalf("wait on live child: got %v", err)
	}

	if err := m.Exit(child, 42); err != nil {
		t.Fatal(err)
	}
	if child.State != StateZombie {
		t.Fatalf("state after exit: %s", child.State)
	}
	used := m.phys.UsedMemory()
	pid, code, err := m.Wait(parent, cpid)
	if err != nil {
		t.Fatal(err)
	}
	if pid != cpid || code != 42 {
		t.Fatalf("wait returned (%d, %d), want (%d, 42)", pid, code, cpid)
	}
	if m.phys.UsedMemory() >= used {
		t.Fatal("wait did not reclaim the child's address space")
	}
	// a second wait on the same pid finds nothing
	if _, _, err := m.Wait(parent, cpid); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("double wait: got %v", err)
	}
	if _, err := m.Lookup(cpid); models.StatusOf(err) != models.StatusNotFound {
		t.Fatal("reaped child still in table")
	}
}

func TestWaitAny(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	parent, _ := m.Create("init")
	m.Exec(parent, "/bin/init", nil, nil)
	c1, _ := m.Fork(parent)
	c2, _ := m.Fork(parent)
	m.Exit(c2, 7)
	pid, code, err := m.Wait(parent, 0)
	if err != nil {
		t.Fatal(err)
	}
	if pid != c2.Pid || code != 7 {
		t.Fatalf("wait any returned (%d, %d)", pid, code)
	}
	m.Exit(c1, 9)
	pid, code, _ = m.Wait(parent, 0)
	if pid != c1.Pid || code != 9 {
		t.Fatalf("wait any returned (%d, %d)", pid, code)
	}
	if _, _, err := m.Wait(parent, 0); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("wait with no children: got %v", err)
	}
}

func TestExitReparentsToInit(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	init, _ := m.Create("init")
	m.Exec(init, "/bin/init", nil, nil)
	middle, _ := m.Fork(init)
	leaf, _ := m.Fork(middle)

	m.Exit(middle, 0)
	if leaf.ParentPid != InitPid {
		t.Fatalf("orphan parent pid %d, want %d", leaf.ParentPid, InitPid)
	}
	m.Exit(leaf, 3)
	pid, code, err := m.Wait(init, leaf.Pid)
	if err != nil {
		t.Fatal(err)
	}
	if pid != leaf.Pid || code != 3 {
		t.Fatalf("init reaped (%d, %d)", pid, code)
	}
}

func TestKill(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	parent, _ := m.Create("init")
	m.Exec(parent, "/bin/init", nil, nil)
	child, _ := m.Fork(parent)
	if err := m.Kill(child.Pid, 9); err != nil {
		t.Fatal(err)
	}
	_, code, err := m.Wait(parent, child.Pid)
	if err != nil {
		t.Fatal(err)
	}
	if code != 128+9 {
		t.Fatalf("killed exit code %d", code)
	}
	if err := m.Kill(9999, 9); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("kill unknown pid: got %v", err)
	}
}

func TestDupRefCount(t *testing.T) {
	m, fs := testManager(t)
	fs.WriteFile("/etc/data", []byte("abcdef"))
	p, _ := m.Create("p")
	fd, _ := m.Open(p, "/etc/data", models.O_RDONLY)
	dup, err := m.Dup(p, fd)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	m.Read(p, fd, buf)
	// dup shares the offset
	m.Read(p, dup, buf)
	if string(buf) != "cd" {
		t.Fatalf("dup offset not shared: %q", buf)
	}
	m.Close(p, fd)
	// object survives until the last descriptor closes
	if _, err := m.Read(p, dup, buf); err != nil {
		t.Fatal("file object closed while dup alive")
	}
	m.Close(p, dup)
	if _, err := m.Read(p, dup, buf); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("closed fd: got %v", err)
	}
}

func TestThreadSlotsExhaust(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	p, _ := m.Create("init")
	m.Exec(p, "/bin/init", nil, nil)
	// main thread occupies one slot
	for i := 0; i < MaxThreads-1; i++ {
		if _, err := m.ThreadCreate(p, 0x401000, 0, sched.PriorityNormal); err != nil {
			t.Fatalf("thread %d: %v", i, err)
		}
	}
	if _, err := m.ThreadCreate(p, 0x401000, 0, sched.PriorityNormal); models.StatusOf(err) != models.StatusNoMem {
		t.Fatalf("slot 65: got %v", err)
	}
}

func TestLastThreadExitZombifies(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	init, _ := m.Create("init")
	m.Exec(init, "/bin/init", nil, nil)
	p, _ := m.Fork(init)
	threads := p.Threads()
	if len(threads) != 1 {
		t.Fatal("expected single main thread")
	}
	if err := m.ThreadExit(p, threads[0], 5); err != nil {
		t.Fatal(err)
	}
	if p.State != StateZombie {
		t.Fatalf("process %s after last thread exit", p.State)
	}
	if _, code, _ := m.Wait(init, p.Pid); code != 5 {
		t.Fatalf("exit code %d", code)
	}
}

func TestBrk(t *testing.T) {
	m, fs := testManager(t)
	writeImage(t, fs, "/bin/init", []byte{0xc3})
	p, _ := m.Create("init")
	m.Exec(p, "/bin/init", nil, nil)
	start, err := m.Brk(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	end, err := m.Brk(p, start+3*vmm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if end != start+3*vmm.PageSize {
		t.Fatalf("brk returned %#x", end)
	}
	// the grown heap is writable
	if err := p.AS.Write(start, []byte("heap bytes")); err != nil {
		t.Fatal(err)
	}
	// shrink back
	if _, err := m.Brk(p, start); err != nil {
		t.Fatal(err)
	}
	if err := p.AS.Write(start, []byte{1}); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("write after shrink: got %v", err)
	}
}
