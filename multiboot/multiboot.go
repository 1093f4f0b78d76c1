// Package multiboot parses the boot information blob that a multiboot2
// compliant loader hands to the kernel.
package multiboot

import (
	"nolaos/kernel"
	"nolaos/kernel/kfmt"
	"unsafe"
)

// Magic is the value a multiboot2 loader stores in EAX before jumping to the
// kernel entry point.
const Magic = 0x36d76289

var (
	infoData uintptr

	errBadMagic = &kernel.Error{Module: "multiboot", Message: "invalid magic; boot information ignored"}
	errNoInfo   = &kernel.Error{Module: "multiboot", Message: "boot information pointer is nil"}
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section including this header.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the precedes each tag.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at a 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

type basicMemInfo struct {
	lowerKb, upperKb uint32
}

type moduleHeader struct {
	modStart, modEnd uint32
}

// FramebufferType defines the type of the initialized framebuffer.
type FramebufferType uint8

const (
	// FramebufferTypeIndexed specifies a 256-color palette.
	FramebufferTypeIndexed FramebufferType = iota

	// FramebufferTypeRGB specifies direct RGB mode.
	FramebufferTypeRGB

	// FramebufferTypeEGA specifies EGA text mode.
	FramebufferTypeEGA
)

// FramebufferInfo provides information about the initialized framebuffer.
type FramebufferInfo struct {
	// The framebuffer physical address.
	PhysAddr uint64

	// Row pitch in bytes.
	Pitch uint32

	// Width and height in pixels (or characters if Type = FramebufferTypeEGA)
	Width, Height uint32

	// Bits per pixel (non EGA modes only).
	Bpp uint8

	// Framebuffer type.
	Type FramebufferType

	reserved uint16

	// colorInfo marks the start of the type specific color information.
	colorInfo [0]byte
}

// fbInfoSize is the size of the fixed part of a framebuffer tag payload.
const fbInfoSize = uint32(unsafe.Offsetof(FramebufferInfo{}.colorInfo))

// RGBColorInfo returns the channel layout of a RGB framebuffer, or nil for
// any other framebuffer type.
func (i *FramebufferInfo) RGBColorInfo() *FramebufferRGBColorInfo {
	if i.Type != FramebufferTypeRGB {
		return nil
	}

	return (*FramebufferRGBColorInfo)(unsafe.Pointer(&i.colorInfo))
}

// FramebufferRGBColorInfo describes the order and width of each color component
// for a 15-, 16-, 24- or 32-bit framebuffer.
type FramebufferRGBColorInfo struct {
	// The position and width (in bits) of the red component.
	RedPosition uint8
	RedMaskSize uint8

	// The position and width (in bits) of the green component.
	GreenPosition uint8
	GreenMaskSize uint8

	// The position and width (in bits) of the blue component.
	BluePosition uint8
	BlueMaskSize uint8
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType

	reserved uint32
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// reported by the loader. Returning false aborts the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// ModuleVisitor is invoked by VisitModules for each boot module. start and
// end are physical addresses; cmdLine is the string the loader associated
// with the module. Returning false aborts the scan.
type ModuleVisitor func(start, end uintptr, cmdLine string) bool

// Init validates the loader magic and records the address of the boot
// information blob. On failure no tags are visible to the other functions in
// this package.
func Init(magic uint32, infoPtr uintptr) *kernel.Error {
	infoData = 0

	switch {
	case magic != Magic:
		return errBadMagic
	case infoPtr == 0:
		return errNoInfo
	}

	infoData = infoPtr
	return nil
}

// VisitMemRegions invokes visitor for each memory region in the loader's
// memory map. Unknown entry types are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size < uint32(unsafe.Sizeof(mmapHeader{})) {
		return
	}

	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	if ptrMapHeader.entrySize == 0 {
		return
	}

	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(mmapHeader{})

	var entry *MemoryMapEntry
	for curPtr+uintptr(ptrMapHeader.entrySize) <= endPtr {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// BasicMemoryInfo returns the amount of lower and upper memory in KB, as
// reported by the loader. ok is false if the tag is missing.
func BasicMemoryInfo() (lowerKb, upperKb uint32, ok bool) {
	curPtr, size := findTagByType(tagBasicMemoryInfo)
	if size < uint32(unsafe.Sizeof(basicMemInfo{})) {
		return 0, 0, false
	}

	memInfo := (*basicMemInfo)(unsafe.Pointer(curPtr))
	return memInfo.lowerKb, memInfo.upperKb, true
}

// GetFramebufferInfo returns information about the framebuffer initialized by the
// bootloader. This function returns nil if no framebuffer info is available or
// the tag is too short to hold it.
func GetFramebufferInfo() *FramebufferInfo {
	curPtr, size := findTagByType(tagFramebufferInfo)
	if size < fbInfoSize {
		return nil
	}

	fbInfo := (*FramebufferInfo)(unsafe.Pointer(curPtr))
	if fbInfo.Type == FramebufferTypeRGB && size < fbInfoSize+uint32(unsafe.Sizeof(FramebufferRGBColorInfo{})) {
		return nil
	}
	return fbInfo
}

// GetBootCmdLine returns the raw kernel command line or an empty string if
// the loader did not supply one. The returned string aliases the boot
// information blob.
func GetBootCmdLine() string {
	curPtr, size := findTagByType(tagBootCmdLine)
	return cString(curPtr, size)
}

// GetBootLoaderName returns the name of the loader that booted the kernel.
func GetBootLoaderName() string {
	curPtr, size := findTagByType(tagBootLoaderName)
	return cString(curPtr, size)
}

// CmdLineValue looks up key in the kernel command line. Tokens are separated
// by spaces and have the form key=value; a bare token key is treated as
// key=key. The lookup does not allocate.
func CmdLineValue(key string) (string, bool) {
	cmdLine := GetBootCmdLine()

	for start := 0; start < len(cmdLine); {
		for start < len(cmdLine) && cmdLine[start] == ' ' {
			start++
		}

		end := start
		for end < len(cmdLine) && cmdLine[end] != ' ' {
			end++
		}

		token := cmdLine[start:end]
		start = end

		sep := 0
		for sep < len(token) && token[sep] != '=' {
			sep++
		}

		if token[:sep] != key || len(token) == 0 {
			continue
		}

		if sep == len(token) {
			return token, true
		}
		return token[sep+1:], true
	}

	return "", false
}

// VisitModules invokes visitor for every boot module tag.
func VisitModules(visitor ModuleVisitor) {
	visitTags(func(tag *tagHeader, payload uintptr) bool {
		if tag.tagType != tagModules || tag.size < 8+uint32(unsafe.Sizeof(moduleHeader{})) {
			return true
		}

		mod := (*moduleHeader)(unsafe.Pointer(payload))
		hdrSize := uint32(unsafe.Sizeof(moduleHeader{}))
		cmdLine := cString(payload+uintptr(hdrSize), tag.size-8-hdrSize)
		return visitor(uintptr(mod.modStart), uintptr(mod.modEnd), cmdLine)
	})
}

// PrintInfo dumps the boot information the kernel understands.
func PrintInfo() {
	if infoData == 0 {
		kfmt.Printf("[multiboot] no boot information available\n")
		return
	}

	kfmt.Printf("[multiboot] total size: %d\n", (*info)(unsafe.Pointer(infoData)).totalSize)
	if name := GetBootLoaderName(); name != "" {
		kfmt.Printf("[multiboot] boot loader: %s\n", name)
	}
	kfmt.Printf("[multiboot] cmdline: %s\n", GetBootCmdLine())
	if lower, upper, ok := BasicMemoryInfo(); ok {
		kfmt.Printf("[multiboot] mem lower: %dKb, mem upper: %dKb\n", lower, upper)
	}
}

// visitTags walks the tag list, stopping at the end tag, at the total size
// recorded in the info header, or when visitor returns false.
func visitTags(visitor func(tag *tagHeader, payload uintptr) bool) {
	if infoData == 0 {
		return
	}

	var (
		hdrSize = uintptr(unsafe.Sizeof(tagHeader{}))
		endPtr  = infoData + uintptr((*info)(unsafe.Pointer(infoData)).totalSize)
		curPtr  = infoData + unsafe.Sizeof(info{})
	)

	for curPtr+hdrSize <= endPtr {
		tag := (*tagHeader)(unsafe.Pointer(curPtr))
		if tag.tagType == tagMbSectionEnd || tag.size < uint32(hdrSize) || curPtr+uintptr(tag.size) > endPtr {
			return
		}

		if !visitor(tag, curPtr+hdrSize) {
			return
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += (uintptr(tag.size) + 7) &^ 7
	}
}

// findTagByType returns a pointer to the payload of the first tag of the
// requested type and the payload length. It returns (0, 0) if the tag is not
// present.
func findTagByType(tagType tagType) (uintptr, uint32) {
	var (
		ptr  uintptr
		size uint32
	)

	visitTags(func(tag *tagHeader, payload uintptr) bool {
		if tag.tagType != tagType {
			return true
		}
		ptr, size = payload, tag.size-uint32(unsafe.Sizeof(tagHeader{}))
		return false
	})

	return ptr, size
}

// cString returns the NULL-terminated string stored in the maxLen bytes at
// ptr.
func cString(ptr uintptr, maxLen uint32) string {
	if ptr == 0 || maxLen == 0 {
		return ""
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), maxLen)
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}

	return unsafe.String((*byte)(unsafe.Pointer(ptr)), n)
}
