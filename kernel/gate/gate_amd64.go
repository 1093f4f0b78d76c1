// Package gate installs the interrupt descriptor table and implements the
// kernel's fault policy: every CPU exception is reported and the processor
// is halted. There is no recovery path.
package gate

import (
	"io"
	"nolaos/kernel/hal"
	"nolaos/kernel/kfmt"
)

// Registers is the frame built on the kernel stack by the trap entry stubs.
// Its layout must match gate_amd64.s.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the exception number pushed by the entry stub.
	Vector uint64

	// ErrorCode is supplied by the CPU for some exceptions; the entry
	// stub pushes 0 for the others.
	ErrorCode uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// ExceptionCount is the number of vectors reserved for CPU exceptions.
const ExceptionCount = 32

const (
	// DoubleFault occurs when an exception is raised while the CPU is
	// trying to deliver a previous one.
	DoubleFault = 8

	// GPFException occurs when a general protection fault occurs.
	GPFException = 13

	// PageFaultException occurs when a page is not present or when a
	// privilege and/or RW protection check fails. CR2 holds the faulting
	// address.
	PageFaultException = 14
)

var exceptionNames = [ExceptionCount]string{
	"Divide by zero",
	"Debug",
	"NMI",
	"Breakpoint",
	"Overflow",
	"Bounds",
	"Invalid opcode",
	"Device not available",
	"Double fault",
	"Coprocessor segment overrun",
	"Invalid TSS",
	"Segment not present",
	"Stack fault",
	"General protection",
	"Page fault",
	"Reserved",
	"x87 FPU",
	"Alignment check",
	"Machine check",
	"SIMD exception",
	"Virtualization",
	"Control protection",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Hypervisor injection",
	"VMM communication",
	"Security",
	"Reserved",
}

// ExceptionName returns the name of a CPU exception vector, or an empty
// string for vectors outside the exception range.
func ExceptionName(vector uint64) string {
	if vector >= ExceptionCount {
		return ""
	}
	return exceptionNames[vector]
}

// HasErrorCode returns true if the CPU pushes an error code when raising the
// exception.
func HasErrorCode(vector uint64) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17, 21, 29, 30:
		return true
	default:
		return false
	}
}

// Init clears the interrupt descriptor table, installs the entry stubs for
// the CPU exception vectors and loads IDTR.
func Init() {
	installIDT()
}

// HandleTrap reports a trap and halts the processor.
func HandleTrap(vector, errorCode uint64) {
	handleTrap(vector, errorCode, nil)
}

// dispatchTrap is invoked by the common entry stub with the saved frame.
func dispatchTrap(regs *Registers) {
	handleTrap(regs.Vector, regs.ErrorCode, regs)
}

func handleTrap(vector, errorCode uint64, regs *Registers) {
	cpu := hal.ActiveCPU()

	if vector < ExceptionCount {
		kfmt.Printf("Exception %d: %s\n", vector, exceptionNames[vector])
		if vector == PageFaultException {
			kfmt.Printf("  CR2=0x%16x error=0x%16x\n", cpu.ReadCR2(), errorCode)
		}
	} else {
		kfmt.Printf("Unexpected interrupt %d\n", vector)
	}

	if regs != nil {
		regs.DumpTo(kfmt.GetOutputSink())
	}

	cpu.Halt()
}
