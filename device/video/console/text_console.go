// Package console implements the kernel text console on top of an EGA
// compatible character framebuffer.
package console

import (
	"io"
	"nolaos/device"
	"nolaos/kernel"
	"nolaos/kernel/kfmt"
	"nolaos/kernel/mm"
	"nolaos/multiboot"
	"unsafe"
)

const (
	// DefaultFramebuffer is the physical address of the VGA text buffer.
	DefaultFramebuffer = mm.PhysAddr(0xb8000)

	// DefaultColumns and DefaultRows describe VGA mode 0x3.
	DefaultColumns = 80
	DefaultRows    = 25

	// DefaultTabWidth defines the number of spaces that tabs expand to.
	DefaultTabWidth = 4
)

// The 16 EGA colors.
const (
	ColorBlack uint8 = iota
	ColorBlue
	ColorGreen
	ColorCyan
	ColorRed
	ColorMagenta
	ColorBrown
	ColorLightGrey
	ColorDarkGrey
	ColorLightBlue
	ColorLightGreen
	ColorLightCyan
	ColorLightRed
	ColorLightMagenta
	ColorLightBrown
	ColorWhite
)

var colorNames = [...]string{
	"black", "blue", "green", "cyan", "red", "magenta", "brown", "lightgrey",
	"darkgrey", "lightblue", "lightgreen", "lightcyan", "lightred",
	"lightmagenta", "lightbrown", "white",
}

// ColorByName returns the EGA color index for name.
func ColorByName(name string) (uint8, bool) {
	for i, n := range colorNames {
		if n == name {
			return uint8(i), true
		}
	}
	return 0, false
}

var (
	getFramebufferInfoFn = multiboot.GetFramebufferInfo
	cmdLineValueFn       = multiboot.CmdLineValue

	// defaultConsole backs the console returned by the probe function so
	// that probing does not allocate.
	defaultConsole TextConsole
)

// TextConsole is a character console. Each cell of the framebuffer holds an
// ASCII code in its low byte and the colour attribute (background in the high
// nibble, foreground in the low nibble) in its high byte.
//
// The console interprets the following special characters:
//   - \r (carriage-return)
//   - \n (line-feed)
//   - \b (backspace; erases the previous cell, moving to the end of the
//     previous row when the cursor is at column 1)
//   - \t (tab; expanded to DefaultTabWidth spaces)
//
// Writing past the last column wraps to the next row; moving past the last
// row scrolls the contents up by one row.
type TextConsole struct {
	width  uint32
	height uint32

	fbPhysAddr mm.PhysAddr
	fb         []uint16

	fg, bg uint8

	// 0-based cursor coordinates
	cursorX, cursorY uint32
}

// NewTextConsole returns a console of the given dimensions whose
// framebuffer lives at fbPhysAddr. The console is unusable until
// DriverInit is invoked.
func NewTextConsole(columns, rows uint32, fbPhysAddr mm.PhysAddr) TextConsole {
	return TextConsole{
		width:      columns,
		height:     rows,
		fbPhysAddr: fbPhysAddr,
		fg:         ColorWhite,
		bg:         ColorBlack,
	}
}

// Dimensions returns the console width and height in characters.
func (cons *TextConsole) Dimensions() (uint32, uint32) {
	return cons.width, cons.height
}

// CursorPosition returns the cursor position. Both coordinates are 1-based
// (top-left corner has coordinates 1,1).
func (cons *TextConsole) CursorPosition() (uint32, uint32) {
	return cons.cursorX + 1, cons.cursorY + 1
}

// Colors returns the active foreground and background colors.
func (cons *TextConsole) Colors() (fg, bg uint8) {
	return cons.fg, cons.bg
}

// SetColors selects the colors used by subsequent writes. Values outside
// the EGA palette are ignored.
func (cons *TextConsole) SetColors(fg, bg uint8) {
	if fg <= ColorWhite {
		cons.fg = fg
	}
	if bg <= ColorWhite {
		cons.bg = bg
	}
}

// Clear blanks the console using the active colors and moves the cursor to
// the top-left corner.
func (cons *TextConsole) Clear() {
	blank := cons.cell(' ')
	for i := range cons.fb {
		cons.fb[i] = blank
	}
	cons.cursorX, cons.cursorY = 0, 0
}

// Write implements io.Writer.
func (cons *TextConsole) Write(data []byte) (int, error) {
	for count, b := range data {
		if err := cons.WriteByte(b); err != nil {
			return count, err
		}
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (cons *TextConsole) WriteByte(b byte) error {
	if cons.fb == nil {
		return io.ErrClosedPipe
	}

	switch b {
	case '\r':
		cons.cursorX = 0
	case '\n':
		cons.lf()
	case '\b':
		switch {
		case cons.cursorX > 0:
			cons.cursorX--
		case cons.cursorY > 0:
			cons.cursorY--
			cons.cursorX = cons.width - 1
		}
		cons.fb[cons.offset()] = cons.cell(' ')
	case '\t':
		for i := 0; i < DefaultTabWidth; i++ {
			cons.put(' ')
		}
	default:
		cons.put(b)
	}

	return nil
}

func (cons *TextConsole) cell(ch byte) uint16 {
	return uint16(cons.bg)<<12 | uint16(cons.fg)<<8 | uint16(ch)
}

func (cons *TextConsole) offset() uint32 {
	return cons.cursorY*cons.width + cons.cursorX
}

// put stores ch at the cursor and advances it, wrapping at the last column.
func (cons *TextConsole) put(ch byte) {
	cons.fb[cons.offset()] = cons.cell(ch)
	if cons.cursorX++; cons.cursorX >= cons.width {
		cons.lf()
	}
}

// lf moves the cursor to the start of the next row, scrolling when the
// cursor is on the last row.
func (cons *TextConsole) lf() {
	cons.cursorX = 0
	if cons.cursorY+1 < cons.height {
		cons.cursorY++
		return
	}

	copy(cons.fb, cons.fb[cons.width:])

	blank := cons.cell(' ')
	last := cons.fb[(cons.height-1)*cons.width:]
	for i := range last {
		last[i] = blank
	}
}

// DriverName returns the name of this driver.
func (cons *TextConsole) DriverName() string {
	return "vga_text_console"
}

// DriverVersion returns the version of this driver.
func (cons *TextConsole) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit attaches the console to its framebuffer, applies the colors
// requested on the command line (fg=<name>, bg=<name>) and clears it.
func (cons *TextConsole) DriverInit(w io.Writer) *kernel.Error {
	cons.fb = unsafe.Slice((*uint16)(unsafe.Pointer(uintptr(cons.fbPhysAddr.Virt()))), cons.width*cons.height)

	fg, bg := cons.fg, cons.bg
	if name, ok := cmdLineValueFn("fg"); ok {
		if c, ok := ColorByName(name); ok {
			fg = c
		}
	}
	if name, ok := cmdLineValueFn("bg"); ok {
		if c, ok := ColorByName(name); ok {
			bg = c
		}
	}
	cons.SetColors(fg, bg)
	cons.Clear()

	kfmt.Fprintf(w, "framebuffer at 0x%x (%dx%d)\n", uintptr(cons.fbPhysAddr), cons.width, cons.height)
	return nil
}

// probeForTextConsole returns the text console described by the loader's
// framebuffer tag, or the standard VGA console if the loader did not report
// one. Pixel framebuffers are not supported.
func probeForTextConsole() device.Driver {
	fbInfo := getFramebufferInfoFn()
	switch {
	case fbInfo == nil:
		defaultConsole = NewTextConsole(DefaultColumns, DefaultRows, DefaultFramebuffer)
	case fbInfo.Type == multiboot.FramebufferTypeEGA && fbInfo.Width != 0 && fbInfo.Height != 0:
		defaultConsole = NewTextConsole(fbInfo.Width, fbInfo.Height, mm.PhysAddr(fbInfo.PhysAddr))
	default:
		return nil
	}

	return &defaultConsole
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForTextConsole,
	})
}
