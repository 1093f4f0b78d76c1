// Package pmm implements the physical frame allocator.
package pmm

import (
	"nolaos/kernel"
	"nolaos/kernel/mm"
)

// frameAllocator is the allocator used by the kernel for all frame
// reservations.
var frameAllocator BitmapAllocator

// Init sets up the physical memory allocator from the loader's memory map
// and registers it with mm.SetFrameAllocator. Init never fails; use Degraded
// to check whether frames are available.
func Init(kernelStart, kernelEnd uintptr) {
	frameAllocator.init(kernelStart, kernelEnd)
	frameAllocator.printMemoryMap()
	mm.SetFrameAllocator(allocFrame)
}

// allocFrame is registered with mm instead of frameAllocator.AllocFrame; a
// method value would make the compiler move frameAllocator to the heap.
func allocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// AllocFrame reserves the lowest free physical frame.
func AllocFrame() (mm.Frame, *kernel.Error) { return frameAllocator.AllocFrame() }

// NextFree returns the frame the next AllocFrame call would return.
func NextFree() (mm.Frame, bool) { return frameAllocator.NextFree() }

// Degraded returns true if no usable memory was found at boot.
func Degraded() bool { return frameAllocator.Degraded() }

// Stats returns the number of tracked frames and how many of them are free.
func Stats() (total, free uint64) { return frameAllocator.Stats() }

// PrintMemoryMap prints the loader's memory map and the allocator state.
func PrintMemoryMap() { frameAllocator.printMemoryMap() }
