package main

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"nolaos/device/keyboard"
	"nolaos/kernel/hal"
	"nolaos/kernel/kfmt"
	"nolaos/kernel/mm"
	"nolaos/multiboot"
	"nolaos/multiboot/multiboottest"
)

const enterScanCode = 0x1c

// simCPU is a hal.CPU that logs privileged operations and emulates the
// PS/2 controller with scripted input.
type simCPU struct {
	log *logrus.Entry

	msr map[uint32]uint64
	cr2 uint64

	halts   int
	reboots int

	// Keyboard emulation. Scancodes are only delivered once armed so that
	// the driver's init-time drain does not swallow input.
	armed     bool
	scanCodes []uint8
	exhausted bool
}

func newSimCPU(log *logrus.Entry, input string) *simCPU {
	c := &simCPU{log: log, msr: make(map[uint32]uint64)}
	for _, ch := range []byte(input) {
		if code, ok := keyboard.ScanCode(ch); ok {
			c.scanCodes = append(c.scanCodes, code)
		}
	}
	return c
}

func (c *simCPU) Halt() {
	c.halts++
	c.log.Info("hlt")
}

func (c *simCPU) Reboot() {
	c.reboots++
	c.log.Warn("reboot requested")
}

func (c *simCPU) ReadCR2() uint64 {
	c.log.Debug("read cr2")
	return c.cr2
}

func (c *simCPU) ReadMSR(msr uint32) uint64 {
	value := c.msr[msr]
	c.log.WithFields(logrus.Fields{"msr": hex(uint64(msr)), "value": hex(value)}).Debug("rdmsr")
	return value
}

func (c *simCPU) WriteMSR(msr uint32, value uint64) {
	c.msr[msr] = value
	c.log.WithFields(logrus.Fields{"msr": hex(uint64(msr)), "value": hex(value)}).Debug("wrmsr")
}

func (c *simCPU) LoadGDT(base uintptr, limit uint16) {
	c.log.WithFields(logrus.Fields{"base": hex(uint64(base)), "limit": limit}).Debug("lgdt")
}

func (c *simCPU) LoadIDT(base uintptr, limit uint16) {
	c.log.WithFields(logrus.Fields{"base": hex(uint64(base)), "limit": limit}).Debug("lidt")
}

func (c *simCPU) LoadTaskRegister(selector uint16) {
	c.log.WithField("selector", hex(uint64(selector))).Debug("ltr")
}

func (c *simCPU) PortReadByte(port uint16) uint8 {
	if !c.armed {
		return 0
	}

	switch port {
	case keyboard.StatusPort:
		return 1
	case keyboard.DataPort:
		if len(c.scanCodes) == 0 {
			if !c.exhausted {
				c.log.Warn("keyboard input exhausted; feeding enter")
				c.exhausted = true
			}
			return enterScanCode
		}

		code := c.scanCodes[0]
		c.scanCodes = c.scanCodes[1:]
		return code
	}
	return 0
}

func (c *simCPU) PortWriteByte(port uint16, value uint8) {
	c.log.WithFields(logrus.Fields{"port": hex(uint64(port)), "value": hex(uint64(value))}).Debug("out")
}

// Machine is simulated hardware: host memory standing in for physical
// memory, the boot information blob and the CPU.
type Machine struct {
	profile *Profile
	log     *logrus.Entry

	arena []byte
	info  *multiboottest.Blob
	cpu   *simCPU
}

// NewMachine maps host memory for p and installs the simulated CPU. Close
// must be called to undo the installation.
func NewMachine(p *Profile, log *logrus.Entry) (*Machine, error) {
	size := p.ArenaSize()
	arena, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %d bytes of simulated physical memory", size)
	}

	m := &Machine{
		profile: p,
		log:     log,
		arena:   arena,
		info:    p.BootInfo(),
		cpu:     newSimCPU(log.WithField("component", "cpu"), p.Keyboard),
	}

	mm.SetDirectMapOffset(uintptr(unsafe.Pointer(&arena[0])))
	hal.SetCPU(m.cpu)

	log.WithFields(logrus.Fields{
		"arena":     hex(size),
		"info_size": m.info.Size,
	}).Debug("machine ready")
	return m, nil
}

// Phys returns the arena bytes backing [addr, addr+n).
func (m *Machine) Phys(addr, n uint64) ([]byte, error) {
	if addr+n < addr || addr+n > uint64(len(m.arena)) {
		return nil, errors.Errorf("physical range 0x%x+0x%x is outside the arena", addr, n)
	}
	return m.arena[addr : addr+n], nil
}

// InfoAddr returns the address of the boot information blob.
func (m *Machine) InfoAddr() uintptr { return m.info.Addr() }

// Close detaches the kernel from the machine and releases host memory.
func (m *Machine) Close() error {
	kfmt.SetOutputSink(io.Discard)
	kfmt.SetOutputSink(nil)
	multiboot.Init(0, 0)
	hal.SetCPU(nil)
	mm.SetDirectMapOffset(0)

	if err := unix.Munmap(m.arena); err != nil {
		return errors.Wrap(err, "unmapping simulated physical memory")
	}
	m.arena = nil
	return nil
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }
