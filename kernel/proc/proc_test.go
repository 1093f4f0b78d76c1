package proc

import (
	"nolaos/kernel/gdt"
	"testing"
)

func TestInit(t *testing.T) {
	defer func() { current = nil }()

	// Leave some garbage behind from a previous run.
	table[5] = Process{PID: 99, State: StateZombie}
	Init()

	cur := Current()
	if cur == nil {
		t.Fatal("expected a current process after Init")
	}

	if cur.PID != 1 || cur.State != StateRunning || cur.KernelSP != 0 {
		t.Fatalf("unexpected initial process: %+v", *cur)
	}

	var count int
	Visit(func(p *Process) bool {
		count++
		return true
	})

	if count != 1 {
		t.Fatalf("expected 1 slot in use after Init; got %d", count)
	}
}

func TestNextPID(t *testing.T) {
	defer func() { current = nil }()
	Init()

	prev := Current().PID
	for i := 0; i < 2*MaxProcesses; i++ {
		pid := NextPID()
		if pid <= prev {
			t.Fatalf("expected pid > %d; got %d", prev, pid)
		}
		prev = pid
	}
}

func TestActivate(t *testing.T) {
	defer func(orig func(uintptr)) {
		setKernelStackFn = orig
		current = nil
	}(setKernelStackFn)

	var stackTops []uintptr
	setKernelStackFn = func(top uintptr) { stackTops = append(stackTops, top) }

	Init()

	specs := []struct {
		proc     *Process
		expStack uintptr
	}{
		{&table[1], gdt.KernelStack()},
		{&table[2], 0xbadf00d0},
		// Switching back from a process with its own stack must not leave
		// that stack in the TSS.
		{&table[0], gdt.KernelStack()},
		{nil, gdt.KernelStack()},
	}

	table[1] = Process{PID: NextPID(), State: StateRunning}
	table[2] = Process{PID: NextPID(), State: StateRunning, KernelSP: 0xbadf00d0}

	for specIndex, spec := range specs {
		prev := Current()
		Activate(spec.proc)

		exp := spec.proc
		if exp == nil {
			exp = prev
		}

		if Current() != exp {
			t.Errorf("[spec %d] expected current process to be %p; got %p", specIndex, exp, Current())
		}

		if len(stackTops) == 0 || stackTops[len(stackTops)-1] != spec.expStack {
			t.Errorf("[spec %d] expected kernel stack 0x%x; got updates %x", specIndex, spec.expStack, stackTops)
		}
	}

	// nil is ignored, so only three updates happen.
	if len(stackTops) != 3 {
		t.Fatalf("expected 3 kernel stack updates; got %d", len(stackTops))
	}
}

func TestActivateRestoresBootStack(t *testing.T) {
	defer func() { current = nil }()
	defer gdt.SetKernelStack(gdt.KernelStack())

	Init()
	table[1] = Process{PID: NextPID(), State: StateRunning, KernelSP: 0xdead0000}

	Activate(&table[1])
	if got := gdt.RSP0(); got != 0xdead0000 {
		t.Fatalf("expected RSP0 to be 0xdead0000; got 0x%x", got)
	}

	Activate(&table[0])
	if got, exp := gdt.RSP0(), gdt.KernelStack(); got != exp {
		t.Fatalf("expected RSP0 to point at the boot stack 0x%x after activating pid %d; got 0x%x", exp, table[0].PID, got)
	}
}

func TestVisit(t *testing.T) {
	defer func() { current = nil }()
	Init()

	table[3] = Process{PID: NextPID(), State: StateZombie}
	table[7] = Process{PID: NextPID(), State: StateRunning}

	var pids []PID
	Visit(func(p *Process) bool {
		pids = append(pids, p.PID)
		return true
	})

	if exp := []PID{1, 2, 3}; len(pids) != len(exp) || pids[0] != exp[0] || pids[1] != exp[1] || pids[2] != exp[2] {
		t.Fatalf("expected visited pids %v; got %v", exp, pids)
	}

	var visited int
	Visit(func(p *Process) bool {
		visited++
		return false
	})

	if visited != 1 {
		t.Fatalf("expected visit to stop after the first slot; visited %d", visited)
	}
}

func TestStateString(t *testing.T) {
	specs := []struct {
		state State
		exp   string
	}{
		{StateFree, "free"},
		{StateRunning, "running"},
		{StateZombie, "zombie"},
		{State(42), "unknown"},
	}

	for _, spec := range specs {
		if got := spec.state.String(); got != spec.exp {
			t.Errorf("expected state %d to be %q; got %q", spec.state, spec.exp, got)
		}
	}
}
