package kmain

import (
	"nolaos/kernel"
	"nolaos/kernel/gdt"
	"nolaos/kernel/hal"
	"nolaos/kernel/hal/haltest"
	"nolaos/kernel/kfmt"
	"nolaos/kernel/mm"
	"nolaos/kernel/mm/heap"
	"nolaos/kernel/mm/pmm"
	"nolaos/kernel/proc"
	"nolaos/kernel/syscall"
	"nolaos/multiboot"
	"nolaos/multiboot/multiboottest"
	"strings"
	"testing"
	"unsafe"
)

var (
	// physMem backs the low 4 MiB of simulated physical memory.
	physMem []byte

	liveBlob *multiboottest.Blob
)

const (
	testKernelStart = 0x100000
	testKernelEnd   = 0x180000
	vgaText         = 0xb8000
)

// screenText returns the rows of the VGA text buffer with trailing blanks
// removed.
func screenText() []string {
	rows := make([]string, 25)
	for y := range rows {
		var row strings.Builder
		for x := 0; x < 80; x++ {
			row.WriteByte(physMem[vgaText+2*(y*80+x)])
		}
		rows[y] = strings.TrimRight(row.String(), " ")
	}
	return rows
}

func TestKmain(t *testing.T) {
	physMem = make([]byte, 4*mm.Mb)
	mm.SetDirectMapOffset(uintptr(unsafe.Pointer(&physMem[0])))

	liveBlob = new(multiboottest.Builder).
		CmdLine("hostname=box fg=lightgreen").
		BootLoaderName("test-loader").
		MemoryMap(
			multiboottest.MemRegion{Addr: 0, Length: 0x9fc00, Type: 1},
			multiboottest.MemRegion{Addr: 0x100000, Length: 0x300000, Type: 1},
		).
		Build()

	cpu := &haltest.CPU{}
	hal.SetCPU(cpu)

	defer func(origPanic func(interface{})) {
		panicFn = origPanic
		ShellMain = nil
		hal.SetCPU(nil)
		kfmt.SetOutputSink(nil)
		multiboot.Init(0, 0)
		mm.SetDirectMapOffset(0)
		liveBlob = nil
	}(panicFn)

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	var shellPID int64
	ShellMain = func() {
		msg := []byte("shell says hi\n")
		syscall.Dispatch(syscall.SysWrite, 1, uint64(uintptr(unsafe.Pointer(&msg[0]))), uint64(len(msg)), 0, 0)
		shellPID = syscall.Dispatch(syscall.SysGetPID, 0, 0, 0, 0, 0)
	}

	Kmain(multiboot.Magic, liveBlob.Addr(), testKernelStart, testKernelEnd)

	t.Run("kernel panics when the shell returns", func(t *testing.T) {
		if err, ok := panicErr.(*kernel.Error); !ok || err != errKmainReturned {
			t.Fatalf("expected Kmain to panic with errKmainReturned; got %v", panicErr)
		}
	})

	t.Run("memory", func(t *testing.T) {
		if pmm.Degraded() {
			t.Fatal("expected frame allocator not to be degraded")
		}

		if got := heap.FramesDrawn(); got != 1 {
			t.Fatalf("expected heap to draw a single frame at init; got %d", got)
		}
	})

	t.Run("descriptor tables", func(t *testing.T) {
		if cpu.GDT.Limit != 55 || cpu.TaskRegister != gdt.TSSSelector {
			t.Fatalf("unexpected GDTR/TR state: %+v, 0x%x", cpu.GDT, cpu.TaskRegister)
		}

		if cpu.IDT.Limit != 4095 {
			t.Fatalf("expected IDTR limit 4095; got %d", cpu.IDT.Limit)
		}

		if got := cpu.MSR[gdt.MsrLSTAR]; got != uint64(syscall.EntryAddr()) {
			t.Fatalf("expected LSTAR to point to the syscall entry stub; got 0x%x", got)
		}
	})

	t.Run("processes", func(t *testing.T) {
		if cur := proc.Current(); cur == nil || cur.PID != 1 {
			t.Fatalf("expected pid 1 to be current; got %+v", cur)
		}

		if shellPID != 1 {
			t.Fatalf("expected getpid from the shell to return 1; got %d", shellPID)
		}
	})

	t.Run("console output", func(t *testing.T) {
		screen := strings.Join(screenText(), "\n")

		for _, exp := range []string{
			"[hal] vga_text_console(0.1.0): framebuffer at 0xb8000 (80x25)",
			"[hal] ps2_keyboard(0.1.0): initialized",
			"[multiboot] boot loader: test-loader",
			"[pmm] system memory map:",
			"nolaos on box: kernel ready, pid 1 running",
			"shell says hi",
		} {
			if !strings.Contains(screen, exp) {
				t.Errorf("expected screen to contain %q; got:\n%s", exp, screen)
			}
		}

		// fg=lightgreen on black
		if attr := physMem[vgaText+1]; attr != 0x0a {
			t.Errorf("expected console attribute 0x0a; got 0x%x", attr)
		}
	})
}

func TestHostname(t *testing.T) {
	defer func() {
		multiboot.Init(0, 0)
		liveBlob = nil
	}()

	specs := []struct {
		cmdLine string
		exp     string
	}{
		{"", DefaultHostname},
		{"quiet hostname=lab", "lab"},
		{"hostname=", DefaultHostname},
	}

	for _, spec := range specs {
		liveBlob = new(multiboottest.Builder).CmdLine(spec.cmdLine).Build()
		multiboot.Init(multiboot.Magic, liveBlob.Addr())

		if got := Hostname(); got != spec.exp {
			t.Errorf("expected hostname for %q to be %q; got %q", spec.cmdLine, spec.exp, got)
		}
	}
}
