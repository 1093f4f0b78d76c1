package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestFprintfVerbs(t *testing.T) {
	// Calls go through a variable so vet does not flag the malformed
	// formats below.
	fprintf := Fprintf

	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"plain text", nil, "plain text"},
		{"100%%", nil, "100%"},
		{"%d|%d|%d|%d|%d", []interface{}{int8(-128), int16(300), int32(-7), int64(0), 42}, "-128|300|-7|0|42"},
		{"%d|%d|%d|%d|%d|%d", []interface{}{uint8(255), uint16(65535), uint32(7), uint64(18446744073709551615), uint(9), uintptr(10)}, "255|65535|7|18446744073709551615|9|10"},
		{"%d", []interface{}{int64(-1 << 63)}, "-9223372036854775808"},
		{"%x %o", []interface{}{uint64(0xdeadbeefcafe), 8}, "deadbeefcafe 10"},
		// Decimal pads with spaces and keeps the sign next to the digits.
		{"[%6d]", []interface{}{-42}, "[   -42]"},
		// Hex and octal pad with zeroes and put the sign in front.
		{"[%6x]", []interface{}{-0x2a}, "[-00002a]"},
		{"[%4o]", []interface{}{8}, "[0010]"},
		{"[%2x]", []interface{}{0xabcd}, "[abcd]"},
		// Widths are clamped to the scratch buffer.
		{"%40x", []interface{}{0xab}, strings.Repeat("0", numBufSize-3) + "ab"},
		{"[%5s]", []interface{}{[]byte("ab")}, "[   ab]"},
		{"[%3s]", []interface{}{"long"}, "[long]"},
		{"%t %5t", []interface{}{true, false}, "true false"},
		{"%d", nil, "(MISSING)"},
		{"%s %d %t %x", []interface{}{1, "a", 3, true}, "%!(WRONGTYPE) %!(WRONGTYPE) %!(WRONGTYPE) %!(WRONGTYPE)"},
		{"x", []interface{}{1, 2}, "x%!(EXTRA)%!(EXTRA)"},
		{"trailing %", nil, "trailing %!(NOVERB)"},
		{"%12", nil, "%!(NOVERB)"},
		// An unknown verb does not consume its argument.
		{"%q", []interface{}{1}, "%!(NOVERB)%!(EXTRA)"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		fprintf(&buf, spec.format, spec.args...)

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] Fprintf(%q): expected %q; got %q", specIndex, spec.format, spec.exp, got)
		}
	}
}

func TestOutputSinkRouting(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		earlyBuf = ringBuffer{}
	}()
	SetOutputSink(nil)
	earlyBuf = ringBuffer{}

	if GetOutputSink() != nil {
		t.Fatal("expected no output sink")
	}

	// Without a sink Printf, PutChar and Fprintf(nil) all buffer.
	Printf("[%s] ", "boot")
	PutChar('1')
	Fprintf(nil, "%d\n", 2)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	if exp, got := "[boot] 12\n", buf.String(); got != exp {
		t.Fatalf("expected the early output %q to be replayed; got %q", exp, got)
	}
	if GetOutputSink() != &buf {
		t.Fatal("expected GetOutputSink to return the active sink")
	}

	// The replay drained the buffer: attaching another sink gets nothing.
	buf.Reset()
	Printf("live")
	PutChar('!')

	var other bytes.Buffer
	SetOutputSink(&other)
	if other.Len() != 0 {
		t.Fatalf("expected the early buffer to be empty after a replay; got %q", other.String())
	}
	if exp, got := "live!", buf.String(); got != exp {
		t.Fatalf("expected sink output %q; got %q", exp, got)
	}
}

func TestFprintfDoesNotAllocate(t *testing.T) {
	var buf bytes.Buffer
	buf.Grow(256)

	allocs := testing.AllocsPerRun(10, func() {
		buf.Reset()
		Fprintf(&buf, "[%s] frame 0x%x of %d\n", "pmm", uintptr(0x1000), 42)
	})

	// Boxing the arguments may allocate on the host; the formatting itself
	// must not add to it.
	if allocs > 3 {
		t.Fatalf("expected Fprintf to avoid per-call allocations; got %f", allocs)
	}
}
