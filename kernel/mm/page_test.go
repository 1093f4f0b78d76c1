package mm

import (
	"nolaos/kernel"
	"testing"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := PhysAddr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    PhysAddr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestPhysAddrAlignment(t *testing.T) {
	specs := []struct {
		input      PhysAddr
		expUp      PhysAddr
		expDown    PhysAddr
		expAligned bool
	}{
		{0, 0, 0, true},
		{1, 0x1000, 0, false},
		{0xfff, 0x1000, 0, false},
		{0x1000, 0x1000, 0x1000, true},
		{0x9fc01, 0xa0000, 0x9f000, false},
	}

	for specIndex, spec := range specs {
		if got := spec.input.AlignUp(); got != spec.expUp {
			t.Errorf("[spec %d] expected AlignUp to return 0x%x; got 0x%x", specIndex, spec.expUp, got)
		}
		if got := spec.input.AlignDown(); got != spec.expDown {
			t.Errorf("[spec %d] expected AlignDown to return 0x%x; got 0x%x", specIndex, spec.expDown, got)
		}
		if got := spec.input.IsPageAligned(); got != spec.expAligned {
			t.Errorf("[spec %d] expected IsPageAligned to return %t; got %t", specIndex, spec.expAligned, got)
		}
	}
}

func TestDirectMapOffset(t *testing.T) {
	defer SetDirectMapOffset(0)

	if got := PhysAddr(0x1000).Virt(); got != VirtAddr(0x1000) {
		t.Fatalf("expected identity mapping; got 0x%x", got)
	}

	SetDirectMapOffset(0x7f0000000000)
	virt := PhysAddr(0x1000).Virt()
	if exp := VirtAddr(0x7f0000001000); virt != exp {
		t.Fatalf("expected Virt to return 0x%x; got 0x%x", exp, virt)
	}

	if got := virt.Phys(); got != PhysAddr(0x1000) {
		t.Fatalf("expected Phys to undo Virt; got 0x%x", got)
	}
}

func TestFrameAllocator(t *testing.T) {
	defer SetFrameAllocator(nil)

	if _, err := AllocFrame(); err != errNoFrameAllocator {
		t.Fatalf("expected errNoFrameAllocator; got %v", err)
	}

	var allocCalled bool
	SetFrameAllocator(func() (Frame, *kernel.Error) {
		allocCalled = true
		return FrameFromAddress(0xbadf00), nil
	})

	frame, err := AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if !allocCalled {
		t.Fatal("expected custom allocator to be invoked by AllocFrame")
	}

	if exp := Frame(0xbad); frame != exp {
		t.Fatalf("expected frame %d; got %d", exp, frame)
	}
}
