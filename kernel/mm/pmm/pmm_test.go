package pmm

import (
	"nolaos/kernel/mm"
	"testing"
)

func TestInit(t *testing.T) {
	_, restore := setupMachine(t, qemu128M()...)
	defer func() {
		restore()
		mm.SetFrameAllocator(nil)
	}()

	Init(testKernelStart, testKernelEnd)

	if Degraded() {
		t.Fatal("expected allocator not to be degraded")
	}

	next, ok := NextFree()
	if !ok {
		t.Fatal("expected a free frame")
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if frame != next {
		t.Fatalf("expected mm.AllocFrame to be served by the bitmap allocator (frame %d); got %d", next, frame)
	}

	if frame, err = AllocFrame(); err != nil || frame != next+1 {
		t.Fatalf("expected AllocFrame to return frame %d; got %d, %v", next+1, frame, err)
	}

	total, free := Stats()
	if total == 0 || free >= total {
		t.Fatalf("unexpected stats: total %d, free %d", total, free)
	}

	PrintMemoryMap()
}
