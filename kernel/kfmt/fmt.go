// Package kfmt provides formatted output for code that runs before (or
// without) the Go allocator: nothing in this package allocates memory.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize is the size of the scratch buffer used for formatting numbers.
// Widths larger than numBufSize-1 are clamped.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// oneByte is the shared buffer for single character writes. Slicing a
	// string into a []byte would allocate so strings are emitted through it.
	oneByte = []byte(" ")

	// earlyBuf captures output produced before a sink is attached.
	earlyBuf ringBuffer

	// sink receives all Printf output. While nil, output goes to earlyBuf.
	sink io.Writer
)

// SetOutputSink makes w the target of Printf and PutChar and flushes any
// output captured before a sink existed into it.
func SetOutputSink(w io.Writer) {
	sink = w
	if w != nil {
		io.Copy(w, &earlyBuf)
	}
}

// GetOutputSink returns the current output sink, or nil if output is still
// being buffered.
func GetOutputSink() io.Writer {
	return sink
}

// PutChar emits a single character to the output sink. It never fails.
func PutChar(ch byte) {
	oneByte[0] = ch
	doWrite(sink, oneByte)
}

// Printf formats according to a format specifier and writes to the output
// sink. It understands a subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer, space padded
//	%o  base 8 integer, zero padded
//	%x  base 16 integer (lower case), zero padded
//	%t  bool
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Strings shorter than the width are
// left-padded with spaces. Printf supports every built-in integer type but
// does not consult Stringer or error implementations.
func Printf(format string, args ...interface{}) {
	Fprintf(sink, format, args...)
}

// Fprintf behaves like Printf but writes to w. A nil w selects the early
// output buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		i        int
	)

	for i < len(format) {
		if format[i] != '%' {
			oneByte[0] = format[i]
			doWrite(w, oneByte)
			i++
			continue
		}

		width = 0
	verb:
		for i++; ; i++ {
			if i == len(format) {
				doWrite(w, errNoVerb)
				break
			}

			ch := format[i]
			switch {
			case ch >= '0' && ch <= '9':
				width = width*10 + int(ch-'0')
			case ch == '%':
				oneByte[0] = '%'
				doWrite(w, oneByte)
				break verb
			case ch == 'd' || ch == 'o' || ch == 'x' || ch == 's' || ch == 't':
				if argIndex >= len(args) {
					doWrite(w, errMissingArg)
					break verb
				}

				arg := args[argIndex]
				argIndex++
				switch ch {
				case 'd':
					fmtInt(w, arg, 10, width)
				case 'o':
					fmtInt(w, arg, 8, width)
				case 'x':
					fmtInt(w, arg, 16, width)
				case 's':
					fmtString(w, arg, width)
				case 't':
					fmtBool(w, arg)
				}
				break verb
			default:
				doWrite(w, errNoVerb)
				break verb
			}
		}
		i++
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			oneByte[0] = s[i]
			doWrite(w, oneByte)
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	oneByte[0] = ch
	for ; count > 0; count-- {
		doWrite(w, oneByte)
	}
}

// fmtInt writes v in the requested base. Base 10 is padded with spaces and
// the sign is placed right before the first digit; bases 8 and 16 are padded
// with zeroes.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		mag  uint64
		neg  bool
		pad  byte = '0'
		sval int64
	)

	switch t := v.(type) {
	case uint8:
		mag = uint64(t)
	case uint16:
		mag = uint64(t)
	case uint32:
		mag = uint64(t)
	case uint64:
		mag = t
	case uint:
		mag = uint64(t)
	case uintptr:
		mag = uint64(t)
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if sval < 0 {
		neg, mag = true, uint64(-sval)
	} else if sval > 0 {
		mag = uint64(sval)
	}

	if base == 10 {
		pad = ' '
	}
	if width >= numBufSize {
		width = numBufSize - 1
	}

	// Digits are produced right to left.
	pos := numBufSize
	for {
		pos--
		digit := byte(mag % base)
		if digit < 10 {
			numBuf[pos] = '0' + digit
		} else {
			numBuf[pos] = 'a' + digit - 10
		}
		mag /= base
		if mag == 0 {
			break
		}
	}

	if neg && pad == ' ' {
		pos--
		numBuf[pos] = '-'
	}

	for numBufSize-pos < width {
		pos--
		numBuf[pos] = pad
	}

	// Zero padding keeps the sign in front of the padding.
	if neg && pad == '0' {
		pos--
		numBuf[pos] = '-'
	}

	doWrite(w, numBuf[pos:])
}

// doWrite hides p from escape analysis. Because the sink is an interface the
// compiler would otherwise assume p escapes and box every Printf argument on
// the heap, which crashes the kernel before the allocator is up.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyBuf.Write(p)
	}
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
