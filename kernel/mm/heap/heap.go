// Package heap implements the kernel's general purpose allocator on top of
// the physical frame allocator.
//
// Every block starts with a header recording its full size. Free blocks are
// linked in ascending address order and are merged with their neighbors as
// soon as they are released, so no two free blocks are ever adjacent. The
// first-fit search is linear in the number of free blocks.
package heap

import (
	"nolaos/kernel"
	"nolaos/kernel/mm"
	"unsafe"
)

const (
	// Alignment is the granularity of every request.
	Alignment = uintptr(8)

	// HeaderSize is the size of the header preceding each block.
	HeaderSize = uintptr(unsafe.Sizeof(blockHeader{}))

	// MinBlockSize is the smallest block the allocator hands out,
	// header included.
	MinBlockSize = uintptr(32)

	// SplitThreshold is the smallest remainder that is split off a free
	// block into a block of its own.
	SplitThreshold = uintptr(64)

	// maxRequest is the largest request whose block size does not
	// overflow.
	maxRequest = ^uintptr(0) - HeaderSize - (Alignment - 1)
)

// blockHeader precedes every block. next is only meaningful while the block
// is on the free list. Links are stored as plain addresses since heap memory
// is not managed by the Go runtime.
type blockHeader struct {
	size uintptr
	next uintptr
}

func header(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// Allocator is a first-fit free list allocator that grows one frame at a
// time.
type Allocator struct {
	freeList    uintptr
	framesDrawn uint64

	allocFrameFn mm.FrameAllocatorFn
}

// Init resets the allocator and formats a single frame drawn from
// allocFrameFn as its only free block.
func (a *Allocator) Init(allocFrameFn mm.FrameAllocatorFn) *kernel.Error {
	*a = Allocator{allocFrameFn: allocFrameFn}
	return a.grow()
}

// grow draws one frame and adds it to the free list.
func (a *Allocator) grow() *kernel.Error {
	frame, err := a.allocFrameFn()
	if err != nil {
		return err
	}

	a.framesDrawn++
	block := uintptr(frame.Address().Virt())
	header(block).size = mm.PageSize
	a.insert(block)
	return nil
}

// Alloc returns the address of a block able to hold n bytes, or 0 if n is 0
// or no memory is left.
func (a *Allocator) Alloc(n uintptr) uintptr {
	if n == 0 || n > maxRequest {
		return 0
	}

	total := (n+Alignment-1)&^(Alignment-1) + HeaderSize
	if total < MinBlockSize {
		total = MinBlockSize
	}

	for {
		var prev uintptr
		for cur := a.freeList; cur != 0; prev, cur = cur, header(cur).next {
			hdr := header(cur)
			if hdr.size < total {
				continue
			}

			next := hdr.next
			if rem := hdr.size - total; rem >= SplitThreshold {
				// The tail stays free and takes over the list position.
				tail := cur + total
				header(tail).size = rem
				header(tail).next = next
				hdr.size = total
				next = tail
			}

			a.link(prev, next)
			hdr.next = 0
			return cur + HeaderSize
		}

		if a.allocFrameFn == nil || a.grow() != nil {
			return 0
		}
	}
}

// Free returns the block at p to the allocator. Freeing 0 is a no-op.
func (a *Allocator) Free(p uintptr) {
	if p == 0 {
		return
	}

	a.insert(p - HeaderSize)
}

// insert merges block with any adjacent free blocks until none remain and
// links the result in address order.
func (a *Allocator) insert(block uintptr) {
	for merged := true; merged; {
		merged = false

		var prev uintptr
		for cur := a.freeList; cur != 0; prev, cur = cur, header(cur).next {
			switch {
			case cur == block+header(block).size:
				a.link(prev, header(cur).next)
				header(block).size += header(cur).size
				merged = true
			case cur+header(cur).size == block:
				a.link(prev, header(cur).next)
				header(cur).size += header(block).size
				block = cur
				merged = true
			default:
				continue
			}
			break
		}
	}

	var prev uintptr
	cur := a.freeList
	for cur != 0 && cur < block {
		prev, cur = cur, header(cur).next
	}
	header(block).next = cur
	a.link(prev, block)
}

// link points the successor of prev (or the list head if prev is 0) to next.
func (a *Allocator) link(prev, next uintptr) {
	if prev == 0 {
		a.freeList = next
		return
	}
	header(prev).next = next
}

// FreeBytes returns the total size of all free blocks, headers included.
func (a *Allocator) FreeBytes() uintptr {
	var total uintptr
	for cur := a.freeList; cur != 0; cur = header(cur).next {
		total += header(cur).size
	}
	return total
}

// FreeBlocks returns the number of blocks on the free list.
func (a *Allocator) FreeBlocks() int {
	var count int
	for cur := a.freeList; cur != 0; cur = header(cur).next {
		count++
	}
	return count
}

// FramesDrawn returns the number of frames obtained from the frame
// allocator.
func (a *Allocator) FramesDrawn() uint64 { return a.framesDrawn }

// BlockSize returns the size, header included, of the allocated block at p.
func (a *Allocator) BlockSize(p uintptr) uintptr {
	if p == 0 {
		return 0
	}
	return header(p - HeaderSize).size
}

var kernelHeap Allocator

// Init sets up the kernel heap with a single frame obtained through
// mm.AllocFrame.
func Init() *kernel.Error {
	return kernelHeap.Init(mm.AllocFrame)
}

// Alloc reserves n bytes on the kernel heap.
func Alloc(n uintptr) uintptr { return kernelHeap.Alloc(n) }

// Free releases a block obtained from Alloc.
func Free(p uintptr) { kernelHeap.Free(p) }

// FreeBytes returns the number of free bytes on the kernel heap.
func FreeBytes() uintptr { return kernelHeap.FreeBytes() }

// FreeBlocks returns the number of free blocks on the kernel heap.
func FreeBlocks() int { return kernelHeap.FreeBlocks() }

// FramesDrawn returns the number of frames backing the kernel heap.
func FramesDrawn() uint64 { return kernelHeap.FramesDrawn() }

// BlockSize returns the size of an allocated block on the kernel heap.
func BlockSize(p uintptr) uintptr { return kernelHeap.BlockSize(p) }

