// Package proc maintains the fixed-capacity process table and tracks the
// process that owns the CPU.
package proc

import "nolaos/kernel/gdt"

// MaxProcesses is the capacity of the process table.
const MaxProcesses = 64

// PID identifies a process. PIDs are handed out in increasing order and are
// never reused.
type PID uint64

// State describes the lifecycle stage of a process table slot.
type State uint8

const (
	// StateFree marks an unused slot.
	StateFree State = iota

	// StateRunning marks the process that currently owns the CPU or one
	// that is ready to.
	StateRunning

	// StateZombie marks a process that exited but still holds its slot.
	StateZombie
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateRunning:
		return "running"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Process is a process table entry.
type Process struct {
	PID PID

	// KernelSP is the top of the stack used when the process traps into
	// the kernel. A zero value selects the boot kernel stack.
	KernelSP uintptr

	State State
}

var (
	table   [MaxProcesses]Process
	current *Process
	lastPID PID

	// setKernelStackFn is mocked by tests.
	setKernelStackFn = gdt.SetKernelStack
)

// Init marks every slot free and installs the initial process (pid 1) as
// the current process.
func Init() {
	for i := range table {
		table[i] = Process{}
	}
	lastPID = 0

	table[0] = Process{PID: NextPID(), State: StateRunning}
	current = &table[0]
}

// NextPID returns a fresh process identifier.
func NextPID() PID {
	lastPID++
	return lastPID
}

// Current returns the process that owns the CPU or nil before Init.
func Current() *Process {
	return current
}

// Activate makes p the current process and points the TSS at its kernel
// stack, or at the boot kernel stack if p has none, so that the next trap
// from user mode never lands on the previous owner's stack.
func Activate(p *Process) {
	if p == nil {
		return
	}

	sp := p.KernelSP
	if sp == 0 {
		sp = gdt.KernelStack()
	}
	setKernelStackFn(sp)
	current = p
}

// Visit invokes visitor for every slot in use. Returning false from the
// visitor aborts the scan.
func Visit(visitor func(*Process) bool) {
	for i := range table {
		if table[i].State == StateFree {
			continue
		}
		if !visitor(&table[i]) {
			return
		}
	}
}
