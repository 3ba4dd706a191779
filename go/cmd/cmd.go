package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel"
	"github.com/nuzDop/LimitlessOS-sub000/go/loader"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
	"github.com/nuzDop/LimitlessOS-sub000/go/models/mock"
	"github.com/nuzDop/LimitlessOS-sub000/go/trace"
)

// KernelCmd is the shared scaffolding for subcommands: common flags,
// config, boot, and trace file plumbing.
type KernelCmd struct {
	Config *models.Config
	Flags  *flag.FlagSet

	FS     *mock.FileSystem
	Kernel *kernel.Kernel
	Trace  *trace.Writer

	SetupFlags func() error
}

func NewKernelCmd() *KernelCmd {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	return &KernelCmd{Flags: fs, Config: &models.Config{}}
}

// ParseFlags registers the common flag set plus the subcommand's own,
// parses, and returns the positional arguments.
func (c *KernelCmd) ParseFlags(args []string) ([]string, error) {
	fs := c.Flags
	mem := fs.Uint64("mem", 64, "physical memory size (MiB)")
	base := fs.Uint64("base", 0x100000, "physical memory base address")
	verbose := fs.Bool("v", false, "verbose output")
	strace := fs.Bool("strace", false, "trace syscalls")
	mtrace := fs.Bool("mtrace", false, "trace memory mapping")
	ctrace := fs.Bool("ctrace", false, "trace context switches")
	tracefile := fs.String("to", "", "binary trace output file")
	outfile := fs.String("o", "", "redirect debugging output to file (default stderr)")
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			return nil, err
		}
	}
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	c.Config.MemBase = *base
	c.Config.MemSize = *mem * 1024 * 1024
	c.Config.Verbose = *verbose || *strace
	c.Config.TraceSys = *strace
	c.Config.TraceMem = *mtrace
	c.Config.TraceSwitch = *ctrace
	c.Config.TracePath = *tracefile
	if *outfile != "" {
		out, err := os.Create(*outfile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create output file '%s'", *outfile)
		}
		c.Config.Output = out
	}
	return fs.Args(), nil
}

// Boot brings the kernel up against an in-memory filesystem and attaches
// the trace file when one was requested.
func (c *KernelCmd) Boot() error {
	c.FS = mock.NewFileSystem()
	k, err := kernel.Boot(c.Config, c.FS, loader.New())
	if err != nil {
		return err
	}
	c.Kernel = k
	if c.Config.TracePath != "" {
		f, err := os.Create(c.Config.TracePath)
		if err != nil {
			return errors.Wrapf(err, "failed to create trace file '%s'", c.Config.TracePath)
		}
		tw, err := trace.NewWriter(f)
		if err != nil {
			return err
		}
		c.Trace = tw
		k.SetTracer(tw)
	}
	return nil
}

func (c *KernelCmd) Close() {
	if c.Trace != nil {
		if err := c.Trace.Close(); err != nil {
			c.PrintError(err)
		}
		c.Trace = nil
	}
}

// Seed copies a host file into the kernel's filesystem.
func (c *KernelCmd) Seed(hostPath, kernelPath string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read '%s'", hostPath)
	}
	c.FS.WriteFile(kernelPath, data)
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error, and a stack trace if the error carries one.
func (c *KernelCmd) PrintError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	st, ok := err.(stackTracer)
	if !ok {
		return
	}
	for _, f := range st.StackTrace() {
		fmt.Fprintf(os.Stderr, "  at %n (%s:%d)\n", f, f, f)
		if fmt.Sprintf("%n", f) == "main" {
			break
		}
	}
}
