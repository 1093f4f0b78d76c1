package hal

import (
	"nolaos/kernel/cpu"
	"nolaos/kernel/kfmt"
)

// CPU is implemented by objects that can execute the privileged operations
// the kernel depends on. The kernel talks to the processor exclusively through
// the active CPU so that allocator, trap and syscall logic can be exercised
// off real hardware.
type CPU interface {
	// Halt stops the processor. The native implementation never returns.
	Halt()

	// Reboot resets the machine through the keyboard controller.
	Reboot()

	// ReadCR2 returns the faulting linear address of the last page fault.
	ReadCR2() uint64

	// ReadMSR and WriteMSR access model-specific registers.
	ReadMSR(msr uint32) uint64
	WriteMSR(msr uint32, value uint64)

	// LoadGDT, LoadIDT and LoadTaskRegister load the descriptor table
	// registers.
	LoadGDT(base uintptr, limit uint16)
	LoadIDT(base uintptr, limit uint16)
	LoadTaskRegister(selector uint16)

	// PortReadByte and PortWriteByte perform port I/O.
	PortReadByte(port uint16) uint8
	PortWriteByte(port uint16, value uint8)
}

const (
	kbdControllerPort  = 0x64
	kbdInputBufferFull = 0x02
	kbdPulseResetLine  = 0xfe
)

// nativeCPU issues real privileged instructions.
type nativeCPU struct{}

func (nativeCPU) Halt()                              { cpu.Halt() }
func (nativeCPU) ReadCR2() uint64                    { return cpu.ReadCR2() }
func (nativeCPU) ReadMSR(msr uint32) uint64          { return cpu.ReadMSR(msr) }
func (nativeCPU) WriteMSR(msr uint32, value uint64)  { cpu.WriteMSR(msr, value) }
func (nativeCPU) LoadGDT(base uintptr, limit uint16) { cpu.LoadGDT(base, limit) }
func (nativeCPU) LoadIDT(base uintptr, limit uint16) { cpu.LoadIDT(base, limit) }
func (nativeCPU) LoadTaskRegister(selector uint16)   { cpu.LoadTaskRegister(selector) }
func (nativeCPU) PortReadByte(port uint16) uint8     { return cpu.PortReadByte(port) }
func (nativeCPU) PortWriteByte(port uint16, v uint8) { cpu.PortWriteByte(port, v) }

// Reboot waits for the keyboard controller input buffer to drain and then
// pulses the CPU reset line.
func (c nativeCPU) Reboot() {
	cpu.DisableInterrupts()
	for c.PortReadByte(kbdControllerPort)&kbdInputBufferFull != 0 {
	}
	c.PortWriteByte(kbdControllerPort, kbdPulseResetLine)
	cpu.Halt()
}

var activeCPU CPU = nativeCPU{}

// ActiveCPU returns the CPU implementation used by the kernel.
func ActiveCPU() CPU { return activeCPU }

// SetCPU replaces the active CPU implementation and routes kernel panics to
// its Halt method. Passing nil restores the native implementation.
func SetCPU(c CPU) {
	if c == nil {
		activeCPU = nativeCPU{}
		kfmt.SetHaltFunc(nil)
		return
	}
	activeCPU = c
	kfmt.SetHaltFunc(c.Halt)
}
