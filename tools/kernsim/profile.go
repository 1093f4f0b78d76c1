package main

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"nolaos/device/keyboard"
	"nolaos/kernel/mm/pmm"
	"nolaos/multiboot"
	"nolaos/multiboot/multiboottest"
)

const (
	defaultKernelStart = pmm.KernelPhysBase
	defaultKernelEnd   = pmm.KernelPhysBase + 0x80000
	defaultBootLoader  = "kernsim"

	// minArenaSize covers the early identity mapped region, which holds
	// the kernel image, the frame bitmap and the VGA text buffer.
	minArenaSize = pmm.IdentityMapEnd
)

// Region is a memory map entry of a machine profile.
type Region struct {
	Addr   uint64 `toml:"addr"`
	Length uint64 `toml:"length"`
	Type   uint32 `toml:"type"`
}

// Framebuffer describes the framebuffer the simulated loader reports. A zero
// Width means no framebuffer tag is emitted.
type Framebuffer struct {
	Addr   uint64 `toml:"addr"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`

	// Type is "ega" or "rgb".
	Type string `toml:"type"`
}

// Step is a single workload operation executed once the kernel is up.
type Step struct {
	// Op is one of alloc, free, write, read, getpid, exit or syscall.
	Op string `toml:"op"`

	// Size is the alloc request size.
	Size uint64 `toml:"size"`

	// Ref is the index of the alloc step whose block free releases.
	Ref int `toml:"ref"`

	FD    uint64 `toml:"fd"`
	Data  string `toml:"data"`
	Count uint64 `toml:"count"`

	// Num is the raw call number used by the syscall op.
	Num uint64 `toml:"num"`
}

// Profile describes a simulated machine and the workload to run on it.
type Profile struct {
	Name        string      `toml:"name"`
	CmdLine     string      `toml:"cmdline"`
	BootLoader  string      `toml:"boot_loader"`
	KernelStart uint64      `toml:"kernel_start"`
	KernelEnd   uint64      `toml:"kernel_end"`
	Memory      []Region    `toml:"memory"`
	Framebuffer Framebuffer `toml:"framebuffer"`

	// Keyboard is the text typed on the simulated keyboard.
	Keyboard string `toml:"keyboard"`

	Steps []Step `toml:"step"`
}

// LoadProfile reads and validates the TOML profile at path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading profile %s", path)
	}

	p, err := ParseProfile(data)
	if err != nil {
		return nil, errors.Wrapf(err, "profile %s", path)
	}
	return p, nil
}

// ParseProfile decodes a TOML profile, fills in defaults and validates it.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "decoding toml")
	}

	if p.KernelStart == 0 && p.KernelEnd == 0 {
		p.KernelStart, p.KernelEnd = defaultKernelStart, defaultKernelEnd
	}
	if p.BootLoader == "" {
		p.BootLoader = defaultBootLoader
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that the profile describes a machine the simulator can
// back with host memory.
func (p *Profile) Validate() error {
	if p.KernelEnd <= p.KernelStart {
		return errors.Errorf("kernel image end 0x%x must be above its start 0x%x", p.KernelEnd, p.KernelStart)
	}

	if p.KernelEnd > pmm.IdentityMapEnd {
		return errors.Errorf("kernel image end 0x%x is outside early memory (0x%x)", p.KernelEnd, uint64(pmm.IdentityMapEnd))
	}

	for i, r := range p.Memory {
		if r.Addr+r.Length < r.Addr {
			return errors.Errorf("memory region %d overflows the address space", i)
		}
	}

	switch p.Framebuffer.Type {
	case "", "ega", "rgb":
	default:
		return errors.Errorf("unsupported framebuffer type %q", p.Framebuffer.Type)
	}

	for i, ch := range []byte(p.Keyboard) {
		if _, ok := keyboard.ScanCode(ch); !ok {
			return errors.Errorf("keyboard input byte %d (%q) has no scancode", i, ch)
		}
	}

	allocs := 0
	for i, s := range p.Steps {
		switch s.Op {
		case "alloc":
			allocs++
		case "free":
			if s.Ref < 0 || s.Ref >= i || p.Steps[s.Ref].Op != "alloc" {
				return errors.Errorf("step %d: ref %d does not name an earlier alloc step", i, s.Ref)
			}
		case "write", "read", "getpid", "exit", "syscall":
		default:
			return errors.Errorf("step %d: unknown op %q", i, s.Op)
		}
	}

	return nil
}

// ArenaSize returns the amount of host memory needed to back every usable
// physical address the kernel can reach.
func (p *Profile) ArenaSize() uint64 {
	size := uint64(minArenaSize)
	for _, r := range p.Memory {
		if r.Type != uint32(multiboot.MemAvailable) {
			continue
		}

		end := r.Addr + r.Length
		if end > pmm.MaxPhysAddr {
			end = pmm.MaxPhysAddr
		}
		if end > size {
			size = end
		}
	}

	return (size + 0xfff) &^ 0xfff
}

// BootInfo encodes the boot information blob a multiboot2 loader would hand
// to the kernel for this machine.
func (p *Profile) BootInfo() *multiboottest.Blob {
	b := new(multiboottest.Builder).
		CmdLine(p.CmdLine).
		BootLoaderName(p.BootLoader)

	var lowerKb, upperKb uint32
	regions := make([]multiboottest.MemRegion, 0, len(p.Memory))
	for _, r := range p.Memory {
		regions = append(regions, multiboottest.MemRegion{Addr: r.Addr, Length: r.Length, Type: r.Type})

		if r.Type != uint32(multiboot.MemAvailable) {
			continue
		}
		switch {
		case r.Addr == 0:
			lowerKb = uint32(r.Length >> 10)
		case r.Addr == pmm.KernelPhysBase:
			upperKb = uint32(r.Length >> 10)
		}
	}
	b.BasicMemInfo(lowerKb, upperKb)

	if len(regions) != 0 {
		b.MemoryMap(regions...)
	}

	if fb := p.Framebuffer; fb.Width != 0 {
		switch fb.Type {
		case "rgb":
			b.Framebuffer(multiboottest.Framebuffer{
				Addr: fb.Addr, Pitch: fb.Width * 4, Width: fb.Width, Height: fb.Height,
				Bpp: 32, Type: uint8(multiboot.FramebufferTypeRGB),
				RedPos: 16, RedSize: 8, GreenPos: 8, GreenSize: 8, BluePos: 0, BlueSize: 8,
			})
		default:
			b.Framebuffer(multiboottest.Framebuffer{
				Addr: fb.Addr, Pitch: fb.Width * 2, Width: fb.Width, Height: fb.Height,
				Bpp: 16, Type: uint8(multiboot.FramebufferTypeEGA),
			})
		}
	}

	return b.Build()
}
