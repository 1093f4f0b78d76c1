// Package mm defines the address and frame types shared by the memory
// management code together with the hook through which consumers obtain
// physical frames.
package mm

import (
	"math"
	"nolaos/kernel"
)

// PhysAddr is a physical memory address.
type PhysAddr uintptr

// VirtAddr is an address the kernel can dereference.
type VirtAddr uintptr

// Frame is a physical page index: address >> PageShift.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve a frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// directMapOffset is added to physical addresses when converting them to
// kernel addresses. Physical memory is identity mapped so it stays 0 when
// running on hardware.
var directMapOffset uintptr

// SetDirectMapOffset sets the offset between physical addresses and the
// kernel addresses backing them. It is only used when physical memory is
// simulated by a host buffer.
func SetDirectMapOffset(offset uintptr) { directMapOffset = offset }

// Virt returns the kernel address through which a is reachable.
func (a PhysAddr) Virt() VirtAddr { return VirtAddr(uintptr(a) + directMapOffset) }

// AlignUp rounds a up to the next page boundary.
func (a PhysAddr) AlignUp() PhysAddr {
	return PhysAddr((uintptr(a) + PageSize - 1) &^ (PageSize - 1))
}

// AlignDown rounds a down to the page boundary that contains it.
func (a PhysAddr) AlignDown() PhysAddr { return PhysAddr(uintptr(a) &^ (PageSize - 1)) }

// IsPageAligned returns true if a lies on a page boundary.
func (a PhysAddr) IsPageAligned() bool { return uintptr(a)&(PageSize-1) == 0 }

// Phys returns the physical address backing a kernel address.
func (a VirtAddr) Phys() PhysAddr { return PhysAddr(uintptr(a) - directMapOffset) }

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in the frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << PageShift)
}

// FrameFromAddress returns the frame that contains physAddr. Addresses that
// are not page aligned are rounded down.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return Frame(physAddr.AlignDown() >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

var frameAllocator FrameAllocatorFn

// SetFrameAllocator registers the function used by AllocFrame.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the registered frame
// allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

var errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
