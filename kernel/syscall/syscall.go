// Package syscall implements the system call gateway: the SYSCALL entry
// stub and the dispatcher that maps call numbers to kernel operations.
//
// Results are returned as signed values where negative numbers are negated
// errno codes. The numbering is part of the user-mode ABI.
package syscall

import (
	"nolaos/kernel/gdt"
	"nolaos/kernel/hal"
	"nolaos/kernel/kfmt"
	"nolaos/kernel/proc"
	"unsafe"
)

// Call numbers.
const (
	SysRead   = 63
	SysWrite  = 64
	SysGetPID = 39
	SysExit   = 60
)

// Error codes; call results carry them negated.
const (
	EBADF  = 9
	EINVAL = 22
)

// MaxIOLen caps the number of bytes transferred by a single read or write.
const MaxIOLen = 4096

const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

var (
	// putCharFn and readCharFn are the console and keyboard primitives.
	// readCharFn stays nil while no keyboard is attached. Tests replace
	// both.
	putCharFn  = kfmt.PutChar
	readCharFn func() byte

	// rsp0Slot and userStack are read and written by the entry stub.
	rsp0Slot  uintptr
	userStack uintptr
)

// Init wires the entry stub to the kernel stack recorded in the TSS and
// connects read to the active keyboard. gdt.Init must run first.
func Init() {
	rsp0Slot = gdt.RSP0Slot()
	readCharFn = nil
	if kbd := hal.ActiveKeyboard(); kbd != nil {
		readCharFn = kbd.ReadChar
	}
}

// EntryAddr returns the address of the SYSCALL entry stub, to be stored in
// LSTAR. It is implemented in entry_amd64.s.
func EntryAddr() uintptr

// Dispatch executes system call num with up to five arguments.
func Dispatch(num, a1, a2, a3, a4, a5 uint64) int64 {
	switch num {
	case SysGetPID:
		if p := proc.Current(); p != nil {
			return int64(p.PID)
		}
		return 0
	case SysWrite:
		return write(a1, uintptr(a2), a3)
	case SysRead:
		return read(a1, uintptr(a2), a3)
	case SysExit:
		hal.ActiveCPU().Halt()
		return 0
	default:
		return -EINVAL
	}
}

// write sends n bytes at buf to the console. The length is validated before
// the descriptor.
func write(fd uint64, buf uintptr, n uint64) int64 {
	if n > MaxIOLen {
		return -EINVAL
	}

	if fd != fdStdout && fd != fdStderr {
		return -EBADF
	}

	if n == 0 {
		return 0
	}

	for _, ch := range unsafe.Slice((*byte)(unsafe.Pointer(buf)), n) {
		putCharFn(ch)
	}
	return int64(n)
}

// read blocks until a newline has been read or count bytes have been stored
// in buf. The newline is included in the result. Without a keyboard stdin is
// not open.
func read(fd uint64, buf uintptr, count uint64) int64 {
	if fd != fdStdin || readCharFn == nil {
		return -EBADF
	}

	if count == 0 {
		return 0
	}

	if count > MaxIOLen {
		count = MaxIOLen
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), count)
	var n int
	for n < len(dst) {
		ch := readCharFn()
		dst[n] = ch
		n++
		if ch == '\n' {
			break
		}
	}
	return int64(n)
}
