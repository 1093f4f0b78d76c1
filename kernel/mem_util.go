package kernel

import "unsafe"

// Memset sets size bytes starting at addr to value. After seeding the first
// byte the region is filled with log2(size) doubling copies instead of a
// byte loop.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	target[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}
