// Package multiboottest encodes multiboot2 boot information blobs so that
// code consuming package multiboot can be exercised without a boot loader.
package multiboottest

import (
	"encoding/binary"
	"unsafe"
)

// Tag type values understood by package multiboot.
const (
	TagEnd            = 0
	TagCmdLine        = 1
	TagBootLoaderName = 2
	TagModule         = 3
	TagBasicMemInfo   = 4
	TagMemoryMap      = 6
	TagFramebuffer    = 8
)

// MemRegion is a single memory map entry.
type MemRegion struct {
	Addr, Length uint64
	Type         uint32
}

// Framebuffer describes a framebuffer tag. The RGB fields are only encoded
// when Type is 1.
type Framebuffer struct {
	Addr                 uint64
	Pitch, Width, Height uint32
	Bpp, Type            uint8
	RedPos, RedSize      uint8
	GreenPos, GreenSize  uint8
	BluePos, BlueSize    uint8
}

// Builder accumulates tags and produces the encoded blob.
type Builder struct {
	tags []byte
}

// CmdLine adds a command line tag.
func (b *Builder) CmdLine(s string) *Builder {
	return b.Raw(TagCmdLine, append([]byte(s), 0))
}

// BootLoaderName adds a boot loader name tag.
func (b *Builder) BootLoaderName(s string) *Builder {
	return b.Raw(TagBootLoaderName, append([]byte(s), 0))
}

// BasicMemInfo adds a basic memory information tag.
func (b *Builder) BasicMemInfo(lowerKb, upperKb uint32) *Builder {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:], lowerKb)
	binary.LittleEndian.PutUint32(payload[4:], upperKb)
	return b.Raw(TagBasicMemInfo, payload)
}

// MemoryMap adds a memory map tag with 24-byte entries.
func (b *Builder) MemoryMap(regions ...MemRegion) *Builder {
	payload := make([]byte, 8+24*len(regions))
	binary.LittleEndian.PutUint32(payload[0:], 24)
	for i, r := range regions {
		entry := payload[8+24*i:]
		binary.LittleEndian.PutUint64(entry[0:], r.Addr)
		binary.LittleEndian.PutUint64(entry[8:], r.Length)
		binary.LittleEndian.PutUint32(entry[16:], r.Type)
	}
	return b.Raw(TagMemoryMap, payload)
}

// Module adds a boot module tag.
func (b *Builder) Module(start, end uint32, cmdLine string) *Builder {
	payload := make([]byte, 8, 8+len(cmdLine)+1)
	binary.LittleEndian.PutUint32(payload[0:], start)
	binary.LittleEndian.PutUint32(payload[4:], end)
	payload = append(append(payload, cmdLine...), 0)
	return b.Raw(TagModule, payload)
}

// Framebuffer adds a framebuffer tag.
func (b *Builder) Framebuffer(fb Framebuffer) *Builder {
	payload := make([]byte, 24, 30)
	binary.LittleEndian.PutUint64(payload[0:], fb.Addr)
	binary.LittleEndian.PutUint32(payload[8:], fb.Pitch)
	binary.LittleEndian.PutUint32(payload[12:], fb.Width)
	binary.LittleEndian.PutUint32(payload[16:], fb.Height)
	payload[20] = fb.Bpp
	payload[21] = fb.Type
	if fb.Type == 1 {
		payload = append(payload, fb.RedPos, fb.RedSize, fb.GreenPos, fb.GreenSize, fb.BluePos, fb.BlueSize)
	}
	return b.Raw(TagFramebuffer, payload)
}

// Raw adds a tag with an arbitrary type and payload. The tag is padded to
// the next 8-byte boundary.
func (b *Builder) Raw(tagType uint32, payload []byte) *Builder {
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:], tagType)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(8+len(payload)))
	b.tags = append(b.tags, hdr...)
	b.tags = append(b.tags, payload...)
	for len(b.tags)%8 != 0 {
		b.tags = append(b.tags, 0)
	}
	return b
}

// Bytes returns the encoded blob including the info header and end tag.
func (b *Builder) Bytes() []byte {
	out := make([]byte, 8, 8+len(b.tags)+8)
	out = append(out, b.tags...)
	out = append(out, 0, 0, 0, 0, 8, 0, 0, 0)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(out)))
	return out
}

// Blob is an encoded boot information blob held in 8-byte aligned memory.
type Blob struct {
	words []uint64
	Size  int
}

// Build encodes the blob into 8-byte aligned storage.
func (b *Builder) Build() *Blob {
	raw := b.Bytes()
	blob := &Blob{words: make([]uint64, (len(raw)+7)/8), Size: len(raw)}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&blob.words[0])), len(blob.words)*8), raw)
	return blob
}

// Addr returns the address of the blob, suitable for multiboot.Init. The
// Blob must be kept alive while the address is in use.
func (blob *Blob) Addr() uintptr {
	return uintptr(unsafe.Pointer(&blob.words[0]))
}
