// Package cpu exposes the privileged x86-64 instructions used by the kernel.
// Every function without a body is implemented in cpu_amd64.s.
package cpu

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution. Halt never
// returns.
func Halt()

// ReadCR2 returns the value stored in the CR2 register, i.e. the linear
// address that caused the last page fault.
func ReadCR2() uint64

// ReadMSR returns the contents of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value into the model-specific register msr.
func WriteMSR(msr uint32, value uint64)

// LoadGDT loads the GDTR register with the table at base whose size in bytes
// minus one is limit.
func LoadGDT(base uintptr, limit uint16)

// LoadIDT loads the IDTR register with the table at base whose size in bytes
// minus one is limit.
func LoadIDT(base uintptr, limit uint16)

// LoadTaskRegister loads TR with the supplied TSS selector.
func LoadTaskRegister(selector uint16)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
