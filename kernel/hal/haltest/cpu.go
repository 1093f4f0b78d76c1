// Package haltest provides a hal.CPU implementation that records every
// privileged operation instead of executing it.
package haltest

import "fmt"

// DescriptorTableLoad captures the arguments of a LoadGDT/LoadIDT call.
type DescriptorTableLoad struct {
	Base  uintptr
	Limit uint16
}

// CPU is a recording hal.CPU. The zero value is ready for use.
type CPU struct {
	// CR2 is returned by ReadCR2.
	CR2 uint64

	// MSR holds model-specific register values. Reads of unset registers
	// return 0.
	MSR map[uint32]uint64

	// PortInput holds the values returned by successive PortReadByte calls
	// per port. Once a queue is drained the last value repeats; ports
	// without a queue read as 0.
	PortInput map[uint16][]uint8

	// PortOutput records the values written to each port.
	PortOutput map[uint16][]uint8

	GDT, IDT     DescriptorTableLoad
	TaskRegister uint16

	HaltCount   int
	RebootCount int

	// Calls logs every operation in invocation order.
	Calls []string
}

func (c *CPU) record(format string, args ...interface{}) {
	c.Calls = append(c.Calls, fmt.Sprintf(format, args...))
}

// Halt records the call and returns.
func (c *CPU) Halt() {
	c.HaltCount++
	c.record("hlt")
}

// Reboot records the call and returns.
func (c *CPU) Reboot() {
	c.RebootCount++
	c.record("reboot")
}

// ReadCR2 returns c.CR2.
func (c *CPU) ReadCR2() uint64 {
	c.record("read cr2")
	return c.CR2
}

// ReadMSR returns the recorded value for msr.
func (c *CPU) ReadMSR(msr uint32) uint64 {
	c.record("rdmsr 0x%x", msr)
	return c.MSR[msr]
}

// WriteMSR records value as the contents of msr.
func (c *CPU) WriteMSR(msr uint32, value uint64) {
	if c.MSR == nil {
		c.MSR = make(map[uint32]uint64)
	}
	c.MSR[msr] = value
	c.record("wrmsr 0x%x 0x%x", msr, value)
}

// LoadGDT records the GDTR contents.
func (c *CPU) LoadGDT(base uintptr, limit uint16) {
	c.GDT = DescriptorTableLoad{Base: base, Limit: limit}
	c.record("lgdt 0x%x %d", base, limit)
}

// LoadIDT records the IDTR contents.
func (c *CPU) LoadIDT(base uintptr, limit uint16) {
	c.IDT = DescriptorTableLoad{Base: base, Limit: limit}
	c.record("lidt 0x%x %d", base, limit)
}

// LoadTaskRegister records the TR selector.
func (c *CPU) LoadTaskRegister(selector uint16) {
	c.TaskRegister = selector
	c.record("ltr 0x%x", selector)
}

// PortReadByte pops the next queued value for port.
func (c *CPU) PortReadByte(port uint16) uint8 {
	queue := c.PortInput[port]
	if len(queue) == 0 {
		return 0
	}

	v := queue[0]
	if len(queue) > 1 {
		c.PortInput[port] = queue[1:]
	}
	return v
}

// PortWriteByte records value as written to port.
func (c *CPU) PortWriteByte(port uint16, value uint8) {
	if c.PortOutput == nil {
		c.PortOutput = make(map[uint16][]uint8)
	}
	c.PortOutput[port] = append(c.PortOutput[port], value)
	c.record("out 0x%x 0x%x", port, value)
}
