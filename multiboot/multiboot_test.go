package multiboot

import (
	"bytes"
	"nolaos/kernel/kfmt"
	"nolaos/multiboot/multiboottest"
	"strings"
	"testing"
	"unsafe"
)

func testBlob() *multiboottest.Blob {
	return new(multiboottest.Builder).
		CmdLine("hostname=ada quiet root=/dev/ram0").
		BootLoaderName("GRUB 2.06").
		BasicMemInfo(639, 129920).
		MemoryMap(
			multiboottest.MemRegion{Addr: 0, Length: 0x9fc00, Type: 1},
			multiboottest.MemRegion{Addr: 0x9fc00, Length: 0x400, Type: 2},
			multiboottest.MemRegion{Addr: 0x100000, Length: 0x7ee0000, Type: 1},
			multiboottest.MemRegion{Addr: 0xfffc0000, Length: 0x40000, Type: 42},
		).
		Module(0x200000, 0x201000, "initrd").
		Framebuffer(multiboottest.Framebuffer{
			Addr: 0xfd000000, Pitch: 4096, Width: 1024, Height: 768, Bpp: 32, Type: 1,
			RedPos: 16, RedSize: 8, GreenPos: 8, GreenSize: 8, BluePos: 0, BlueSize: 8,
		}).
		Build()
}

func TestInit(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()

	if err := Init(0xbadf00d, blob.Addr()); err != errBadMagic {
		t.Fatalf("expected errBadMagic; got %v", err)
	}
	if got := GetBootCmdLine(); got != "" {
		t.Fatalf("expected no tags to be visible after a bad magic; got cmdline %q", got)
	}

	if err := Init(Magic, 0); err != errNoInfo {
		t.Fatalf("expected errNoInfo; got %v", err)
	}

	if err := Init(Magic, blob.Addr()); err != nil {
		t.Fatal(err)
	}
}

func TestVisitMemRegions(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()
	useBlob(blob)

	specs := []struct {
		expPhys uint64
		expLen  uint64
		expType MemoryEntryType
	}{
		{0, 0x9fc00, MemAvailable},
		{0x9fc00, 0x400, MemReserved},
		{0x100000, 0x7ee0000, MemAvailable},
		// unknown types are reported as reserved
		{0xfffc0000, 0x40000, MemReserved},
	}

	var visitCount int
	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if visitCount >= len(specs) {
			t.Fatalf("unexpected memory region %+v", *entry)
		}
		spec := specs[visitCount]
		if entry.PhysAddress != spec.expPhys || entry.Length != spec.expLen || entry.Type != spec.expType {
			t.Errorf("[entry %d] expected {0x%x 0x%x %s}; got {0x%x 0x%x %s}", visitCount,
				spec.expPhys, spec.expLen, spec.expType, entry.PhysAddress, entry.Length, entry.Type)
		}
		visitCount++
		return true
	})

	if visitCount != len(specs) {
		t.Fatalf("expected visitor to be invoked %d times; got %d", len(specs), visitCount)
	}

	// Aborting the scan
	visitCount = 0
	VisitMemRegions(func(_ *MemoryMapEntry) bool {
		visitCount++
		return false
	})
	if visitCount != 1 {
		t.Fatalf("expected the scan to stop after the first entry; visited %d", visitCount)
	}
}

func TestMemoryEntryTypeString(t *testing.T) {
	specs := []struct {
		input MemoryEntryType
		exp   string
	}{
		{MemAvailable, "available"},
		{MemReserved, "reserved"},
		{MemAcpiReclaimable, "ACPI (reclaimable)"},
		{MemNvs, "NVS"},
		{MemoryEntryType(123), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.input.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestStringTags(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()
	useBlob(blob)

	if exp, got := "hostname=ada quiet root=/dev/ram0", GetBootCmdLine(); got != exp {
		t.Errorf("expected cmdline %q; got %q", exp, got)
	}

	if exp, got := "GRUB 2.06", GetBootLoaderName(); got != exp {
		t.Errorf("expected boot loader name %q; got %q", exp, got)
	}
}

func TestCmdLineValue(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()
	useBlob(blob)

	specs := []struct {
		key      string
		expValue string
		expOK    bool
	}{
		{"hostname", "ada", true},
		{"quiet", "quiet", true},
		{"root", "/dev/ram0", true},
		{"host", "", false},
		{"missing", "", false},
		{"", "", false},
	}

	for specIndex, spec := range specs {
		value, ok := CmdLineValue(spec.key)
		if value != spec.expValue || ok != spec.expOK {
			t.Errorf("[spec %d] expected CmdLineValue(%q) to return (%q, %t); got (%q, %t)",
				specIndex, spec.key, spec.expValue, spec.expOK, value, ok)
		}
	}
}

func TestBasicMemoryInfo(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()
	useBlob(blob)

	lower, upper, ok := BasicMemoryInfo()
	if !ok || lower != 639 || upper != 129920 {
		t.Fatalf("expected (639, 129920, true); got (%d, %d, %t)", lower, upper, ok)
	}

	blob = new(multiboottest.Builder).Build()
	useBlob(blob)
	if _, _, ok = BasicMemoryInfo(); ok {
		t.Fatal("expected BasicMemoryInfo to report a missing tag")
	}
}

func TestGetFramebufferInfo(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()
	useBlob(blob)

	fbInfo := GetFramebufferInfo()
	if fbInfo == nil {
		t.Fatal("expected framebuffer info to be available")
	}

	if fbInfo.PhysAddr != 0xfd000000 || fbInfo.Pitch != 4096 || fbInfo.Width != 1024 || fbInfo.Height != 768 || fbInfo.Bpp != 32 {
		t.Fatalf("unexpected framebuffer info: %+v", *fbInfo)
	}

	colorInfo := fbInfo.RGBColorInfo()
	if colorInfo == nil {
		t.Fatal("expected RGB color info for a RGB framebuffer")
	}

	exp := FramebufferRGBColorInfo{RedPosition: 16, RedMaskSize: 8, GreenPosition: 8, GreenMaskSize: 8, BluePosition: 0, BlueMaskSize: 8}
	if *colorInfo != exp {
		t.Fatalf("expected color info %+v; got %+v", exp, *colorInfo)
	}

	blob = new(multiboottest.Builder).
		Framebuffer(multiboottest.Framebuffer{Addr: 0xb8000, Pitch: 160, Width: 80, Height: 25, Bpp: 16, Type: 2}).
		Build()
	useBlob(blob)

	if fbInfo = GetFramebufferInfo(); fbInfo == nil || fbInfo.Type != FramebufferTypeEGA {
		t.Fatal("expected an EGA framebuffer")
	}
	if fbInfo.RGBColorInfo() != nil {
		t.Fatal("expected RGBColorInfo to return nil for an EGA framebuffer")
	}

	t.Run("truncated tag", func(t *testing.T) {
		rgb := make([]byte, 26)
		rgb[21] = byte(FramebufferTypeRGB)

		specs := [][]byte{
			make([]byte, 4),
			make([]byte, 23),
			// A RGB tag without its full color layout.
			rgb,
		}

		for specIndex, payload := range specs {
			useBlob(new(multiboottest.Builder).Raw(multiboottest.TagFramebuffer, payload).Build())

			if got := GetFramebufferInfo(); got != nil {
				t.Errorf("[spec %d] expected a %d byte framebuffer tag to be rejected; got %+v", specIndex, len(payload), *got)
			}
		}
	})
}

func TestVisitModules(t *testing.T) {
	defer func() { infoData = 0 }()
	blob := testBlob()
	useBlob(blob)

	var count int
	VisitModules(func(start, end uintptr, cmdLine string) bool {
		count++
		if start != 0x200000 || end != 0x201000 || cmdLine != "initrd" {
			t.Errorf("unexpected module: start 0x%x end 0x%x cmdline %q", start, end, cmdLine)
		}
		return true
	})

	if count != 1 {
		t.Fatalf("expected 1 module; got %d", count)
	}
}

func TestTagWalkIsBoundedByTotalSize(t *testing.T) {
	defer func() { infoData = 0 }()

	// Truncate the total size so that the command line tag lies outside
	// the blob.
	blob := new(multiboottest.Builder).BootLoaderName("x").CmdLine("hostname=ada").Build()
	useBlob(blob)
	(*info)(ptrOf(blob.Addr())).totalSize = 8 + 16

	if got := GetBootLoaderName(); got != "x" {
		t.Fatalf("expected the first tag to be visible; got %q", got)
	}
	if got := GetBootCmdLine(); got != "" {
		t.Fatalf("expected tags past the total size to be ignored; got %q", got)
	}
}

func TestPrintInfo(t *testing.T) {
	defer func() {
		infoData = 0
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	PrintInfo()
	if !strings.Contains(buf.String(), "no boot information") {
		t.Fatalf("expected a diagnostic for missing boot info; got %q", buf.String())
	}

	blob := testBlob()
	useBlob(blob)
	buf.Reset()
	PrintInfo()

	for _, exp := range []string{"boot loader: GRUB 2.06", "cmdline: hostname=ada", "mem lower: 639Kb, mem upper: 129920Kb"} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

// liveBlob keeps the blob passed to Init reachable while tests use it.
var liveBlob *multiboottest.Blob

func useBlob(blob *multiboottest.Blob) {
	liveBlob = blob
	if err := Init(Magic, blob.Addr()); err != nil {
		panic(err)
	}
}

func ptrOf(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
