package models

import (
	"io"
	"os"
)

type Config struct {
	// physical memory handed to the page allocator
	MemBase uint64
	MemSize uint64

	Color       bool
	Verbose     bool
	TraceSys    bool
	TraceMem    bool
	TraceSwitch bool
	TracePath   string

	Output io.Writer
}

// Init fills zero fields with defaults and returns c for chaining.
func (c *Config) Init() *Config {
	if c.MemBase == 0 {
		c.MemBase = 0x100000
	}
	if c.MemSize == 0 {
		c.MemSize = 64 * 1024 * 1024
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
	return c
}

func (c *Config) Logger() *Logger {
	return NewLogger(c.Output, c.Verbose)
}
