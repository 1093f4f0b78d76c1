// Package gdt owns the global descriptor table, the task state segment and
// the model-specific registers that configure the SYSCALL/SYSRET path.
//
// The selectors match the table installed by the boot stub so CS and SS stay
// valid across the reload.
package gdt

import (
	"nolaos/kernel/hal"
	"unsafe"
)

// Segment selectors. SYSCALL and SYSRET derive SS from CS by adding 8 so
// each data selector must directly follow its code selector.
const (
	KernelCodeSelector = uint16(0x08)
	KernelDataSelector = uint16(0x10)
	UserCodeSelector   = uint16(0x18)
	UserDataSelector   = uint16(0x20)
	TSSSelector        = uint16(0x28)
)

// Model-specific registers programmed by Init.
const (
	MsrEFER  = uint32(0xc0000080)
	MsrSTAR  = uint32(0xc0000081)
	MsrLSTAR = uint32(0xc0000082)
	MsrFMASK = uint32(0xc0000084)

	// EferSCE enables the SYSCALL/SYSRET instructions.
	EferSCE = uint64(1 << 0)

	// FlagMask lists the RFLAGS bits cleared on SYSCALL entry: IF and DF.
	FlagMask = uint64(0x600)

	// StarValue holds the user code selector in bits 63:48 and the kernel
	// code selector in bits 47:32.
	StarValue = uint64(UserCodeSelector)<<48 | uint64(KernelCodeSelector)<<32
)

const (
	// KernelStackSize is the size of the static stack used on ring 3 to
	// ring 0 transitions.
	KernelStackSize = 16 * 1024

	// tssSize is the size of a 64-bit task state segment.
	tssSize = 104

	// tssRSP0Offset is the byte offset of the RSP0 field in the TSS.
	tssRSP0Offset = 4

	// tssIOMapOffset is the byte offset of the I/O map base field.
	tssIOMapOffset = 102
)

// descriptorTable mirrors the in-memory layout of the GDT: five flat 8-byte
// descriptors followed by the 16-byte TSS descriptor at selector 0x28.
type descriptorTable struct {
	entries [5]uint64
	tss     [16]byte
}

var (
	table = descriptorTable{
		entries: [5]uint64{
			0,                  // null
			0x00af9a000000ffff, // kernel code, 64-bit, DPL 0
			0x00cf92000000ffff, // kernel data, DPL 0
			0x00affa000000ffff, // user code, 64-bit, DPL 3
			0x00cff2000000ffff, // user data, DPL 3
		},
		// limit = tssSize-1, present 64-bit available TSS; the base
		// fields are patched by Init.
		tss: [16]byte{tssSize - 1, 0, 0, 0, 0, 0x89, 0, 0},
	}

	// tss is backed by uint64 words to keep it 8-byte aligned.
	tss [tssSize / 8]uint64

	kernelStack [KernelStackSize / 8]uint64
)

// Init points the TSS descriptor at the static TSS, sets RSP0 to the top of
// the static kernel stack, loads GDTR and TR, and configures the SYSCALL
// MSRs so that SYSCALL enters the kernel at syscallEntry.
func Init(syscallEntry uintptr) {
	setTSSBase(tssAddr())

	tssIOMapBase := (*uint16)(unsafe.Pointer(tssAddr() + tssIOMapOffset))
	*tssIOMapBase = tssSize

	SetKernelStack(KernelStack())

	cpu := hal.ActiveCPU()
	cpu.LoadGDT(uintptr(unsafe.Pointer(&table)), uint16(unsafe.Sizeof(table)-1))
	cpu.LoadTaskRegister(TSSSelector)

	cpu.WriteMSR(MsrEFER, cpu.ReadMSR(MsrEFER)|EferSCE)
	cpu.WriteMSR(MsrSTAR, StarValue)
	cpu.WriteMSR(MsrLSTAR, uint64(syscallEntry))
	cpu.WriteMSR(MsrFMASK, FlagMask)
}

// SetKernelStack sets the stack the CPU switches to on the next transition
// from ring 3 to ring 0. It must be called before resuming a process that
// owns a different kernel stack.
func SetKernelStack(top uintptr) {
	*(*uint64)(unsafe.Pointer(RSP0Slot())) = uint64(top)
}

// KernelStack returns the 16-byte aligned top of the static kernel stack.
func KernelStack() uintptr {
	return (uintptr(unsafe.Pointer(&kernelStack[0])) + KernelStackSize) &^ 15
}

// RSP0 returns the current value of the TSS RSP0 field.
func RSP0() uintptr {
	return uintptr(*(*uint64)(unsafe.Pointer(RSP0Slot())))
}

// RSP0Slot returns the address of the TSS RSP0 field.
func RSP0Slot() uintptr {
	return tssAddr() + tssRSP0Offset
}

// TSSBase reassembles the base address stored in the TSS descriptor.
func TSSBase() uintptr {
	d := &table.tss
	return uintptr(d[2]) |
		uintptr(d[3])<<8 |
		uintptr(d[4])<<16 |
		uintptr(d[7])<<24 |
		uintptr(d[8])<<32 |
		uintptr(d[9])<<40 |
		uintptr(d[10])<<48 |
		uintptr(d[11])<<56
}

func tssAddr() uintptr {
	return uintptr(unsafe.Pointer(&tss[0]))
}

// setTSSBase splits base across bytes 2-4, 7 and 8-11 of the TSS descriptor.
func setTSSBase(base uintptr) {
	d := &table.tss
	d[2] = byte(base)
	d[3] = byte(base >> 8)
	d[4] = byte(base >> 16)
	d[7] = byte(base >> 24)
	d[8] = byte(base >> 32)
	d[9] = byte(base >> 40)
	d[10] = byte(base >> 48)
	d[11] = byte(base >> 56)
}
