package kfmt

import (
	"nolaos/kernel"
	"nolaos/kernel/cpu"
)

var (
	// haltFn stops the machine after a panic. The HAL points it at the
	// active CPU implementation.
	haltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFunc sets the function Panic uses to stop the processor. Passing nil
// restores the native halt instruction.
func SetHaltFunc(fn func()) {
	if fn == nil {
		fn = cpu.Halt
	}
	haltFn = fn
}

// Panic prints e (if not nil) and halts the CPU. On real hardware Panic never
// returns.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn()
}
