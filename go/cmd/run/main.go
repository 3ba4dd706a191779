package run

import (
	"fmt"
	"os"

	"github.com/nuzDop/LimitlessOS-sub000/go/cmd"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/task"
	"github.com/nuzDop/LimitlessOS-sub000/go/trace"
)

func Main(args []string) {
	c := cmd.NewKernelCmd()
	var ticks *int
	var savepost *string
	c.SetupFlags = func() error {
		ticks = c.Flags.Int("ticks", 1000, "scheduler quanta to run before giving up")
		savepost = c.Flags.String("savepost", "", "save init's address space to file after the run")
		return nil
	}
	rest, err := c.ParseFlags(args)
	if err != nil {
		c.PrintError(err)
		os.Exit(1)
	}
	if len(rest) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <image> [args...]\n", args[0])
		c.Flags.PrintDefaults()
		os.Exit(1)
	}
	os.Exit(run(c, rest, ticks, savepost))
}

func run(c *cmd.KernelCmd, args []string, ticks *int, savepost *string) int {
	if err := c.Boot(); err != nil {
		c.PrintError(err)
		return 1
	}
	defer c.Close()
	k := c.Kernel

	if err := c.Seed(args[0], "/boot/init"); err != nil {
		c.PrintError(err)
		return 1
	}
	init, err := k.Tasks.Create("init")
	if err != nil {
		c.PrintError(err)
		return 1
	}
	argv := append([]string{"/boot/init"}, args[1:]...)
	if err := k.Tasks.Exec(init, "/boot/init", argv, os.Environ()); err != nil {
		c.PrintError(err)
		return 1
	}

	for i := 0; i < *ticks; i++ {
		if k.Tick() == nil {
			break
		}
		if init.State == task.StateZombie || init.State == task.StateDead {
			break
		}
	}

	if *savepost != "" && init.AS != nil {
		snap, err := trace.Save(init.AS)
		if err != nil {
			c.PrintError(err)
		} else if err := os.WriteFile(*savepost, snap, 0644); err != nil {
			c.PrintError(err)
		}
	}

	k.Log.Infof("mem: %d/%d KiB used, switches: %d",
		k.Phys.UsedMemory()/1024, k.Phys.TotalMemory()/1024, k.Sched.Switches())
	if init.State == task.StateZombie || init.State == task.StateDead {
		return init.ExitCode
	}
	return 0
}

func init() { cmd.Register("run", "boot the kernel and run an init image", Main) }
