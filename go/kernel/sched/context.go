package sched

import "sync/atomic"

// SimContext is the hosted stand-in for real CPU state: a register file
// with save/restore counters where a real port would copy machine
// registers. Which context was dispatched last is per-scheduler state;
// see Scheduler.Restored.
type SimContext struct {
	PC, SP uint64
	Regs   [16]uint64

	saves, restores uint64
}

func NewSimContext(pc, sp uint64) *SimContext {
	return &SimContext{PC: pc, SP: sp}
}

func (c *SimContext) Save() error {
	atomic.AddUint64(&c.saves, 1)
	return nil
}

func (c *SimContext) Restore() error {
	atomic.AddUint64(&c.restores, 1)
	return nil
}

// Clone copies the register file, for fork-style thread duplication.
func (c *SimContext) Clone() *SimContext {
	dup := &SimContext{PC: c.PC, SP: c.SP, Regs: c.Regs}
	return dup
}
