package gate

import (
	"nolaos/kernel/hal"
	"unsafe"
)

const (
	// VectorCount is the number of slots in the IDT.
	VectorCount = 256

	// codeSelector is the kernel code segment the gates jump through.
	codeSelector = 0x08

	// interruptGateAttr marks a present, DPL 0, 64-bit interrupt gate.
	interruptGateAttr = 0x8e
)

// gateDescriptor is a 16-byte 64-bit IDT entry.
type gateDescriptor struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

var idt [VectorCount]gateDescriptor

// setGate points the gate for vector at handler.
func setGate(vector int, handler uintptr) {
	idt[vector] = gateDescriptor{
		offsetLow:  uint16(handler),
		selector:   codeSelector,
		typeAttr:   interruptGateAttr,
		offsetMid:  uint16(handler >> 16),
		offsetHigh: uint32(handler >> 32),
	}
}

// handler reassembles the handler address stored in a gate.
func (g *gateDescriptor) handler() uintptr {
	return uintptr(g.offsetLow) | uintptr(g.offsetMid)<<16 | uintptr(g.offsetHigh)<<32
}

func installIDT() {
	for i := range idt {
		idt[i] = gateDescriptor{}
	}

	for vector := 0; vector < ExceptionCount; vector++ {
		setGate(vector, trapStubAddr(uint64(vector)))
	}

	hal.ActiveCPU().LoadIDT(uintptr(unsafe.Pointer(&idt[0])), uint16(unsafe.Sizeof(idt)-1))
}

// trapStubAddr returns the address of the entry stub for an exception
// vector. It is implemented in gate_amd64.s.
func trapStubAddr(vector uint64) uintptr
