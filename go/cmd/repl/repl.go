package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/shibukawa/configdir"

	"github.com/nuzDop/LimitlessOS-sub000/go/cmd"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
	"github.com/nuzDop/LimitlessOS-sub000/go/trace"
)

func historyFile() string {
	configDirs := configdir.New("limitlessos", "repl")
	folders := configDirs.QueryFolders(configdir.Global)
	if len(folders) == 0 {
		return ""
	}
	folders[0].MkdirAll()
	return filepath.Join(folders[0].Path, "history")
}

func Main(args []string) {
	c := cmd.NewKernelCmd()
	if _, err := c.ParseFlags(args); err != nil {
		c.PrintError(err)
		os.Exit(1)
	}
	if err := c.Boot(); err != nil {
		c.PrintError(err)
		os.Exit(1)
	}
	defer c.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "kernel> ",
		HistoryFile: historyFile(),
	})
	if err != nil {
		c.PrintError(err)
		os.Exit(1)
	}
	defer rl.Close()

	r := &repl{c: c, k: c.Kernel}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		if r.dispatch(strings.Fields(line)) {
			break
		}
	}
}

type repl struct {
	c *cmd.KernelCmd
	k *kernel.Kernel
}

// dispatch runs one command line; true means quit.
func (r *repl) dispatch(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	var err error
	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		r.help()
	case "ps":
		r.ps()
	case "mem":
		r.mem()
	case "map":
		err = r.regions(fields[1:])
	case "load":
		err = r.load(fields[1:])
	case "spawn":
		err = r.spawn(fields[1:])
	case "sys":
		err = r.sys(fields[1:])
	case "tick":
		err = r.tick(fields[1:])
	case "ep":
		err = r.ep(fields[1:])
	case "save":
		err = r.save(fields[1:])
	case "restore":
		err = r.restore(fields[1:])
	default:
		fmt.Printf("unknown command %q, try help\n", fields[0])
	}
	if err != nil {
		fmt.Printf("error: %s\n", err)
	}
	return false
}

func (r *repl) help() {
	fmt.Print(`ps                          list processes
mem                         physical memory stats
map <pid>                   list a process's mappings
load <host path> <path>     copy a host file into the kernel fs
spawn <path> [args...]      create a process and exec an image
sys <pid> <name> [args...]  invoke a syscall (args are numbers)
tick [n]                    run scheduler quanta
ep <create|ls|stats> ...    endpoint operations
save <pid> <host file>      snapshot a process's memory
restore <pid> <host file>   restore a snapshot
quit                        leave
`)
}

func (r *repl) ps() {
	for _, p := range r.k.Tasks.Processes() {
		fmt.Printf("%5d %5d %-8s %2d thr  %s\n",
			p.Pid, p.ParentPid, p.State, len(p.Threads()), p.Name)
	}
}

func (r *repl) mem() {
	phys := r.k.Phys
	fmt.Printf("phys: %d/%d KiB used, %d KiB free\n",
		phys.UsedMemory()/1024, phys.TotalMemory()/1024, phys.FreeMemory()/1024)
	if n := phys.BadFrees(); n > 0 {
		fmt.Printf("bad frees: %d\n", n)
	}
}

func (r *repl) proc(arg string) (pid int, err error) {
	pid, err = strconv.Atoi(arg)
	return pid, err
}

func (r *repl) regions(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: map <pid>")
	}
	pid, err := r.proc(args[0])
	if err != nil {
		return err
	}
	p, err := r.k.Tasks.Lookup(pid)
	if err != nil {
		return err
	}
	for _, region := range p.AS.Regions() {
		fmt.Printf("  %s\n", region)
	}
	return nil
}

func (r *repl) load(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: load <host path> <path>")
	}
	return r.c.Seed(args[0], args[1])
}

func (r *repl) spawn(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: spawn <path> [args...]")
	}
	p, err := r.k.Tasks.Create(args[0])
	if err != nil {
		return err
	}
	if err := r.k.Tasks.Exec(p, args[0], args, nil); err != nil {
		return err
	}
	fmt.Printf("pid %d\n", p.Pid)
	return nil
}

func (r *repl) sys(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: sys <pid> <name> [args...]")
	}
	pid, err := r.proc(args[0])
	if err != nil {
		return err
	}
	p, err := r.k.Tasks.Lookup(pid)
	if err != nil {
		return err
	}
	var regs []uint64
	for _, a := range args[2:] {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return err
		}
		regs = append(regs, v)
	}
	ret := r.k.Sys.Invoke(p, 0, args[1], regs)
	if s := models.StatusFromErrno(ret); ret >= 1<<63 {
		fmt.Printf("= %s\n", s)
	} else {
		fmt.Printf("= 0x%x\n", ret)
	}
	return nil
}

func (r *repl) tick(args []string) error {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		t := r.k.Tick()
		if t == nil {
			fmt.Println("idle")
			return nil
		}
		if i == n-1 {
			fmt.Printf("running tid %d (pid %d)\n", t.ID, t.Pid)
		}
	}
	return nil
}

func (r *repl) ep(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ep <create|ls|stats> ...")
	}
	switch args[0] {
	case "create":
		capacity := 0
		if len(args) > 1 {
			var err error
			if capacity, err = strconv.Atoi(args[1]); err != nil {
				return err
			}
		}
		id, err := r.k.IPC.Create(capacity)
		if err != nil {
			return err
		}
		fmt.Printf("endpoint 0x%x\n", id)
	case "ls":
		for _, id := range r.k.IPC.Endpoints() {
			queued, capacity, drops, err := r.k.IPC.Stats(id)
			if err != nil {
				continue
			}
			fmt.Printf("0x%x: %d/%d queued, %d dropped\n", id, queued, capacity, drops)
		}
	case "stats":
		if len(args) != 2 {
			return fmt.Errorf("usage: ep stats <id>")
		}
		id, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return err
		}
		queued, capacity, drops, err := r.k.IPC.Stats(id)
		if err != nil {
			return err
		}
		fmt.Printf("%d/%d queued, %d dropped\n", queued, capacity, drops)
	default:
		return fmt.Errorf("unknown ep command %q", args[0])
	}
	return nil
}

func (r *repl) save(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: save <pid> <host file>")
	}
	pid, err := r.proc(args[0])
	if err != nil {
		return err
	}
	p, err := r.k.Tasks.Lookup(pid)
	if err != nil {
		return err
	}
	snap, err := trace.Save(p.AS)
	if err != nil {
		return err
	}
	return os.WriteFile(args[1], snap, 0644)
}

func (r *repl) restore(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: restore <pid> <host file>")
	}
	pid, err := r.proc(args[0])
	if err != nil {
		return err
	}
	p, err := r.k.Tasks.Lookup(pid)
	if err != nil {
		return err
	}
	snap, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	return trace.Restore(p.AS, snap)
}

func init() { cmd.Register("repl", "interactive kernel console", Main) }
