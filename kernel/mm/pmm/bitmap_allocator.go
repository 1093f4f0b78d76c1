package pmm

import (
	"nolaos/kernel"
	"nolaos/kernel/kfmt"
	"nolaos/kernel/mm"
	"nolaos/multiboot"
	"unsafe"
)

const (
	// MaxPhysAddr caps the physical address range tracked by the bitmap.
	MaxPhysAddr = uint64(4 * mm.Gb)

	// MaxFrames caps the number of frames tracked by the bitmap.
	MaxFrames = uint64(0x100000)

	// MaxBitmapBytes caps the size of the bitmap itself.
	MaxBitmapBytes = uint64(1 * mm.Mb)

	// SearchWindow bounds the number of frames inspected by AllocFrame.
	SearchWindow = uint64(0x10000)

	// KernelPhysBase is the physical address the kernel image is loaded at.
	KernelPhysBase = uint64(0x100000)

	// IdentityMapEnd is the end of the early memory that the bitmap must
	// fit in.
	IdentityMapEnd = KernelPhysBase + uint64(2*mm.Mb)
)

var (
	errOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// BitmapAllocator tracks physical frames with one bit per frame; a set bit
// marks the frame as used. The bitmap itself lives in physical memory right
// after the kernel image.
//
// Frames are never returned to the allocator.
type BitmapAllocator struct {
	bitmap []byte

	frameCount uint64
	freeCount  uint64
	degraded   bool

	bitmapStart, bitmapEnd mm.PhysAddr
	kernelStart, kernelEnd mm.PhysAddr
}

// init builds the bitmap from the loader's memory map. If no usable memory
// is reported, or the bitmap cannot be placed in early memory, the allocator
// enters degraded mode where every allocation fails.
func (alloc *BitmapAllocator) init(kernelStart, kernelEnd uintptr) {
	*alloc = BitmapAllocator{
		kernelStart: mm.PhysAddr(kernelStart),
		kernelEnd:   mm.PhysAddr(kernelEnd),
	}

	var maxPhys uint64
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		end := region.PhysAddress + region.Length
		if end < region.PhysAddress || end > MaxPhysAddr {
			end = MaxPhysAddr
		}
		if end > maxPhys {
			maxPhys = end
		}
		return true
	})

	frameCount := maxPhys >> mm.PageShift
	if frameCount == 0 {
		alloc.degrade("no usable memory map; frame allocation disabled")
		return
	}
	if frameCount > MaxFrames {
		frameCount = MaxFrames
	}

	alloc.bitmapStart = mm.PhysAddr((uint64(kernelEnd) + 7) &^ 7)
	if uint64(alloc.bitmapStart) >= IdentityMapEnd {
		alloc.degrade("kernel image too large; bitmap outside early memory")
		return
	}

	limitBytes := IdentityMapEnd - uint64(alloc.bitmapStart)
	if limitBytes > MaxBitmapBytes {
		limitBytes = MaxBitmapBytes
	}
	if (frameCount+7)>>3 > limitBytes {
		frameCount = limitBytes << 3
		kfmt.Printf("[pmm] limiting to %d frames due to memory constraints\n", frameCount)
	}

	bitmapBytes := (frameCount + 7) >> 3
	alloc.frameCount = frameCount
	alloc.bitmapEnd = alloc.bitmapStart + mm.PhysAddr(bitmapBytes)
	alloc.bitmap = unsafe.Slice((*byte)(unsafe.Pointer(alloc.bitmapStart.Virt())), bitmapBytes)

	kernel.Memset(uintptr(alloc.bitmapStart.Virt()), 0xff, uintptr(bitmapBytes))

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		end := region.PhysAddress + region.Length
		if end < region.PhysAddress || end > MaxPhysAddr {
			end = MaxPhysAddr
		}

		alloc.markRange(
			mm.FrameFromAddress(mm.PhysAddr(region.PhysAddress).AlignUp()),
			mm.FrameFromAddress(mm.PhysAddr(end).AlignDown()),
			false,
		)
		return true
	})

	alloc.reserve(mm.PhysAddr(KernelPhysBase), alloc.bitmapEnd)
	alloc.reserve(alloc.kernelStart, alloc.kernelEnd)

	// Frame 0 is never handed out; address 0 terminates the heap free list.
	alloc.reserve(0, mm.PhysAddr(mm.PageSize))
}

func (alloc *BitmapAllocator) degrade(reason string) {
	alloc.degraded = true
	kfmt.Printf("[pmm] %s\n", reason)
}

// reserve marks every frame overlapping [start, end) as used.
func (alloc *BitmapAllocator) reserve(start, end mm.PhysAddr) {
	if end <= start {
		return
	}
	alloc.markRange(mm.FrameFromAddress(start), mm.FrameFromAddress(end.AlignUp()), true)
}

// markRange updates the frames in [start, end), ignoring frames beyond the
// tracked range.
func (alloc *BitmapAllocator) markRange(start, end mm.Frame, used bool) {
	if uint64(end) > alloc.frameCount {
		end = mm.Frame(alloc.frameCount)
	}

	for frame := start; frame < end; frame++ {
		alloc.mark(frame, used)
	}
}

func (alloc *BitmapAllocator) mark(frame mm.Frame, used bool) {
	index, mask := frame>>3, byte(1)<<(frame&7)
	wasUsed := alloc.bitmap[index]&mask != 0

	switch {
	case used && !wasUsed:
		alloc.bitmap[index] |= mask
		alloc.freeCount--
	case !used && wasUsed:
		alloc.bitmap[index] &^= mask
		alloc.freeCount++
	}
}

// searchLimit returns the number of frames AllocFrame and NextFree inspect.
func (alloc *BitmapAllocator) searchLimit() mm.Frame {
	if alloc.frameCount < SearchWindow {
		return mm.Frame(alloc.frameCount)
	}
	return mm.Frame(SearchWindow)
}

// NextFree returns the lowest free frame within the search window without
// reserving it.
func (alloc *BitmapAllocator) NextFree() (mm.Frame, bool) {
	if alloc.degraded {
		return mm.InvalidFrame, false
	}

	limit := alloc.searchLimit()
	for frame := mm.Frame(0); frame < limit; frame++ {
		// Skip fully used bytes.
		if frame&7 == 0 && alloc.bitmap[frame>>3] == 0xff {
			frame += 7
			continue
		}

		if alloc.bitmap[frame>>3]&(byte(1)<<(frame&7)) == 0 {
			return frame, true
		}
	}

	return mm.InvalidFrame, false
}

// AllocFrame reserves the lowest free frame within the search window.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	frame, ok := alloc.NextFree()
	if !ok {
		return mm.InvalidFrame, errOutOfMemory
	}

	alloc.mark(frame, true)
	return frame, nil
}

// Degraded returns true if the allocator could not be set up and refuses all
// allocations.
func (alloc *BitmapAllocator) Degraded() bool { return alloc.degraded }

// Stats returns the number of tracked frames and how many of them are free.
func (alloc *BitmapAllocator) Stats() (total, free uint64) {
	return alloc.frameCount, alloc.freeCount
}

// printMemoryMap prints the loader's memory map and the allocator state.
func (alloc *BitmapAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x\n", uintptr(alloc.kernelStart), uintptr(alloc.kernelEnd))

	if alloc.degraded {
		kfmt.Printf("[pmm] degraded: no frames available\n")
		return
	}

	total, free := alloc.Stats()
	kfmt.Printf("[pmm] bitmap at 0x%x - 0x%x, frames: %d, free: %d\n", uintptr(alloc.bitmapStart), uintptr(alloc.bitmapEnd), total, free)
}
