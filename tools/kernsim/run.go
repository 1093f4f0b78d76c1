package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"nolaos/device"
	"nolaos/device/video/console"
	"nolaos/kernel/hal"
	"nolaos/kernel/mm"
	"nolaos/kernel/mm/heap"
	"nolaos/kernel/mm/pmm"
	"nolaos/kernel/proc"
	"nolaos/kernel/syscall"
	"nolaos/kmain"
	"nolaos/multiboot"
)

// StepResult records the outcome of a workload step.
type StepResult struct {
	Op     string
	Result int64
	Detail string
}

// Report summarizes a simulated boot.
type Report struct {
	Profile  string
	Hostname string

	// Drivers lists the initialized drivers in probe order.
	Drivers []string

	FramesTotal, FramesFree uint64
	Degraded                bool

	HeapFrames     uint64
	HeapFreeBytes  uint64
	HeapFreeBlocks int

	PID   uint64
	Steps []StepResult

	// Halts counts halt instructions, including the one issued by the
	// panic that follows the shell hook.
	Halts int

	Screen []string
}

// allocation is a live heap block handed out by an alloc step.
type allocation struct {
	step int
	addr uintptr
	size uintptr
}

// Boot runs the kernel on m up to the shell hook, executes the profile's
// workload from it and collects a report.
func Boot(m *Machine) (*Report, error) {
	var (
		r = &Report{Profile: m.profile.Name}

		workloadRan bool
		workloadErr error
	)

	kmain.ShellMain = func() {
		workloadRan = true
		m.cpu.armed = true

		r.Hostname = kmain.Hostname()
		hal.VisitDrivers(func(drv device.Driver) {
			r.Drivers = append(r.Drivers, drv.DriverName())
		})
		if cur := proc.Current(); cur != nil {
			r.PID = uint64(cur.PID)
		}

		r.Steps, workloadErr = runWorkload(m.log, m.profile.Steps)
		r.FramesTotal, r.FramesFree = pmm.Stats()
		r.Degraded = pmm.Degraded()
		r.HeapFrames = heap.FramesDrawn()
		r.HeapFreeBytes = uint64(heap.FreeBytes())
		r.HeapFreeBlocks = heap.FreeBlocks()
	}
	defer func() { kmain.ShellMain = nil }()

	m.log.WithFields(logrus.Fields{
		"profile": m.profile.Name,
		"cmdline": m.profile.CmdLine,
	}).Info("booting")

	kmain.Kmain(multiboot.Magic, m.InfoAddr(), uintptr(m.profile.KernelStart), uintptr(m.profile.KernelEnd))

	if !workloadRan {
		return nil, errors.New("kernel returned before reaching the shell hook")
	}
	if workloadErr != nil {
		return nil, workloadErr
	}

	r.Halts = m.cpu.halts
	r.Screen = screen(m)
	return r, nil
}

// runWorkload executes steps against the live kernel and verifies the heap
// once they complete.
func runWorkload(log *logrus.Entry, steps []Step) ([]StepResult, error) {
	var (
		results = make([]StepResult, 0, len(steps))
		live    = make(map[int]allocation)
	)

	for i, s := range steps {
		res := StepResult{Op: s.Op}

		switch s.Op {
		case "alloc":
			addr := heap.Alloc(uintptr(s.Size))
			res.Result = int64(addr)
			if addr != 0 {
				live[i] = allocation{step: i, addr: addr, size: uintptr(s.Size)}
				res.Detail = fmt.Sprintf("block size %d", heap.BlockSize(addr))
			} else {
				res.Detail = "allocation failed"
			}
		case "free":
			a, ok := live[s.Ref]
			if !ok {
				res.Detail = fmt.Sprintf("step %d holds no block", s.Ref)
				break
			}
			heap.Free(a.addr)
			delete(live, s.Ref)
		case "write":
			data := []byte(s.Data)
			res.Result = syscall.Dispatch(syscall.SysWrite, s.FD, bufAddr(data), uint64(len(data)), 0, 0)
		case "read":
			buf := make([]byte, s.Count+1)
			res.Result = syscall.Dispatch(syscall.SysRead, s.FD, bufAddr(buf), s.Count, 0, 0)
			if res.Result > 0 {
				res.Detail = fmt.Sprintf("%q", buf[:res.Result])
			}
		case "getpid":
			res.Result = syscall.Dispatch(syscall.SysGetPID, 0, 0, 0, 0, 0)
		case "exit":
			res.Result = syscall.Dispatch(syscall.SysExit, s.FD, 0, 0, 0, 0)
		case "syscall":
			data := []byte(s.Data)
			res.Result = syscall.Dispatch(s.Num, s.FD, bufAddr(data), uint64(len(data)), 0, 0)
		default:
			return nil, errors.Errorf("step %d: unknown op %q", i, s.Op)
		}

		log.WithFields(logrus.Fields{
			"step":   i,
			"op":     s.Op,
			"result": res.Result,
		}).Debug("workload step")
		results = append(results, res)
	}

	if err := checkHeap(live); err != nil {
		return results, errors.Wrap(err, "heap check")
	}
	return results, nil
}

// checkHeap verifies that live blocks do not overlap and that live and free
// bytes add up to the memory the heap drew from the frame allocator.
func checkHeap(live map[int]allocation) error {
	blocks := make([]allocation, 0, len(live))
	for _, a := range live {
		blocks = append(blocks, a)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].addr < blocks[j].addr })

	var used uintptr
	for i, b := range blocks {
		size := heap.BlockSize(b.addr)
		if size < b.size+heap.HeaderSize {
			return errors.Errorf("block from step %d holds %d bytes; requested %d", b.step, size, b.size)
		}

		if i+1 < len(blocks) && b.addr-heap.HeaderSize+size > blocks[i+1].addr-heap.HeaderSize {
			return errors.Errorf("block from step %d overlaps block from step %d", b.step, blocks[i+1].step)
		}
		used += size
	}

	if total := uintptr(heap.FramesDrawn()) * mm.PageSize; used+heap.FreeBytes() != total {
		return errors.Errorf("%d live + %d free bytes do not add up to %d heap bytes", used, heap.FreeBytes(), total)
	}
	return nil
}

// screen returns the text console contents with trailing blanks removed.
func screen(m *Machine) []string {
	cons := hal.ActiveConsole()
	if cons == nil {
		return nil
	}

	width, height := cons.Dimensions()
	fbAddr := uint64(console.DefaultFramebuffer)
	if fb := m.profile.Framebuffer; fb.Width != 0 && fb.Type != "rgb" {
		fbAddr = fb.Addr
	}

	raw, err := m.Phys(fbAddr, uint64(width)*uint64(height)*2)
	if err != nil {
		m.log.WithError(err).Warn("console framebuffer not readable")
		return nil
	}

	rows := make([]string, 0, height)
	for y := uint32(0); y < height; y++ {
		var row strings.Builder
		for x := uint32(0); x < width; x++ {
			row.WriteByte(raw[2*(y*width+x)])
		}
		rows = append(rows, strings.TrimRight(row.String(), " "))
	}

	for len(rows) > 0 && rows[len(rows)-1] == "" {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func bufAddr(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}

// Print writes a human readable rendition of r to w.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "profile:  %s\n", r.Profile)
	fmt.Fprintf(w, "hostname: %s\n", r.Hostname)
	fmt.Fprintf(w, "pid:      %d\n", r.PID)
	fmt.Fprintf(w, "drivers:  %s\n", strings.Join(r.Drivers, ", "))
	if r.Degraded {
		fmt.Fprintf(w, "frames:   allocator degraded\n")
	} else {
		fmt.Fprintf(w, "frames:   %d total, %d free\n", r.FramesTotal, r.FramesFree)
	}
	fmt.Fprintf(w, "heap:     %d frames, %d free bytes in %d blocks\n", r.HeapFrames, r.HeapFreeBytes, r.HeapFreeBlocks)
	fmt.Fprintf(w, "halts:    %d\n", r.Halts)

	if len(r.Steps) != 0 {
		fmt.Fprintf(w, "\nworkload:\n")
		for i, s := range r.Steps {
			fmt.Fprintf(w, "  %2d %-7s %d", i, s.Op, s.Result)
			if s.Detail != "" {
				fmt.Fprintf(w, " (%s)", s.Detail)
			}
			fmt.Fprintln(w)
		}
	}

	if len(r.Screen) != 0 {
		fmt.Fprintf(w, "\nconsole:\n")
		for _, row := range r.Screen {
			fmt.Fprintf(w, "  | %s\n", row)
		}
	}
}
