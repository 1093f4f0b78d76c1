// Package keyboard provides a polling driver for the PS/2 keyboard
// controller.
package keyboard

import (
	"io"
	"nolaos/device"
	"nolaos/kernel"
	"nolaos/kernel/hal"
	"nolaos/kernel/kfmt"
)

const (
	// StatusPort is the controller status register.
	StatusPort = 0x64

	// DataPort is the controller output buffer.
	DataPort = 0x60

	statusOutputFull = 1 << 0
	breakCodeBit     = 1 << 7
)

// keymap translates scancode set 1 make codes to ASCII. Keys without a
// printable mapping (modifiers, function keys) map to 0 and are skipped.
var keymap = [128]byte{
	0, 27, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
	'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n', 0,
	'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`', 0, '\\',
	'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0, 0, 0, ' ',
}

var (
	echoFn = kfmt.PutChar

	defaultKeyboard PS2
)

// ScanCode returns the scancode set 1 make code that produces ch.
func ScanCode(ch byte) (uint8, bool) {
	if ch == 0 {
		return 0, false
	}

	for code, mapped := range keymap {
		if mapped == ch {
			return uint8(code), true
		}
	}
	return 0, false
}

// PS2 reads characters from the PS/2 controller by busy-waiting on its
// status register. Shift and other modifiers are not tracked.
type PS2 struct{}

// ReadChar blocks until a key with a character mapping is pressed and
// returns its character. Key releases are ignored.
func (kbd *PS2) ReadChar() byte {
	cpu := hal.ActiveCPU()
	for {
		for cpu.PortReadByte(StatusPort)&statusOutputFull == 0 {
		}

		scanCode := cpu.PortReadByte(DataPort)
		if scanCode&breakCodeBit != 0 {
			continue
		}

		if ch := keymap[scanCode]; ch != 0 {
			return ch
		}
	}
}

// ReadLine reads characters into buf until a newline is entered and returns
// the number of bytes stored. Input is echoed to the console; backspace
// erases the last character and characters that do not fit in buf are
// dropped. The newline is echoed but not stored.
func (kbd *PS2) ReadLine(buf []byte) int {
	var n int
	for {
		switch ch := kbd.ReadChar(); ch {
		case '\n':
			echoFn(ch)
			return n
		case '\b':
			if n > 0 {
				n--
				echoFn(ch)
			}
		default:
			if n < len(buf) {
				buf[n] = ch
				n++
				echoFn(ch)
			}
		}
	}
}

// DriverName returns the name of this driver.
func (kbd *PS2) DriverName() string {
	return "ps2_keyboard"
}

// DriverVersion returns the version of this driver.
func (kbd *PS2) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit discards any byte left in the controller by the firmware.
func (kbd *PS2) DriverInit(_ io.Writer) *kernel.Error {
	cpu := hal.ActiveCPU()
	cpu.PortReadByte(StatusPort)
	cpu.PortReadByte(DataPort)
	return nil
}

func probeForPS2() device.Driver {
	return &defaultKeyboard
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForPS2,
	})
}
