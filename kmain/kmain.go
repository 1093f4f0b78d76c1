// Package kmain contains the kernel entry point invoked by the boot stub
// once the CPU runs in long mode.
package kmain

import (
	"nolaos/kernel"
	"nolaos/kernel/gate"
	"nolaos/kernel/gdt"
	"nolaos/kernel/hal"
	"nolaos/kernel/kfmt"
	"nolaos/kernel/mm/heap"
	"nolaos/kernel/mm/pmm"
	"nolaos/kernel/proc"
	"nolaos/kernel/syscall"
	"nolaos/multiboot"

	// Drivers register themselves with the device package.
	_ "nolaos/device/keyboard"
	_ "nolaos/device/video/console"
)

// DefaultHostname is reported when the command line does not set one.
const DefaultHostname = "nola"

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// ShellMain is invoked once the kernel is fully initialized. The shell
	// is not part of the kernel; whoever links it in sets this hook.
	ShellMain func()

	panicFn = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked with the loader magic, the physical
// address of the multiboot information blob and the physical range occupied
// by the kernel image.
//
// Kmain is not expected to return. If it does, the kernel panics.
func Kmain(magic uint32, infoPtr, kernelStart, kernelEnd uintptr) {
	if err := multiboot.Init(magic, infoPtr); err != nil {
		reportError(err)
	}

	hal.DetectHardware()
	multiboot.PrintInfo()

	pmm.Init(kernelStart, kernelEnd)
	if err := heap.Init(); err != nil {
		reportError(err)
	}

	gdt.Init(syscall.EntryAddr())
	gate.Init()
	syscall.Init()
	proc.Init()

	kfmt.Printf("nolaos on %s: kernel ready, pid %d running\n", Hostname(), uint64(proc.Current().PID))

	if ShellMain != nil {
		ShellMain()
	}

	panicFn(errKmainReturned)
}

// Hostname returns the value of the hostname= command line option or
// DefaultHostname.
func Hostname() string {
	if name, ok := multiboot.CmdLineValue("hostname"); ok && name != "" {
		return name
	}
	return DefaultHostname
}

func reportError(err *kernel.Error) {
	kfmt.Printf("[%s] %s\n", err.Module, err.Message)
}
