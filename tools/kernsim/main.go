// Command kernsim boots the kernel's memory, trap and system call layers on
// simulated hardware: host memory stands in for physical memory and a
// logging CPU replaces privileged instructions.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"nolaos/kernel/syscall"
	"nolaos/multiboot"
)

const (
	profileFlagName   = "profile"
	logLevelFlagName  = "log-level"
	logFormatFlagName = "log-format"
)

var profileFlag = &cli.StringFlag{
	Name:     profileFlagName,
	Aliases:  []string{"p"},
	Usage:    "machine profile (TOML)",
	Required: true,
}

func main() {
	if err := app(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func app(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "kernsim",
		Usage:  "boot the kernel on a simulated machine",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  logLevelFlagName,
				Value: "warn",
				Usage: "logging level (trace, debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  logFormatFlagName,
				Value: "text",
				Usage: "logging format: text or json",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			bootCommand,
			mmapCommand,
			syscallCommand,
		},
	}
}

func setupLogging(c *cli.Context) error {
	lvl, err := logrus.ParseLevel(c.String(logLevelFlagName))
	if err != nil {
		return errors.Wrap(err, "invalid --log-level")
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(c.App.ErrWriter)

	switch format := c.String(logFormatFlagName); format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("invalid --log-format %q", format)
	}
	return nil
}

// withMachine loads the profile named on the command line, builds a machine
// for it and runs fn.
func withMachine(c *cli.Context, fn func(*Machine) error) error {
	p, err := LoadProfile(c.String(profileFlagName))
	if err != nil {
		return err
	}
	return withProfile(p, fn)
}

func withProfile(p *Profile, fn func(*Machine) error) (err error) {
	m, err := NewMachine(p, logrus.WithField("profile", p.Name))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	return fn(m)
}

var bootCommand = &cli.Command{
	Name:  "boot",
	Usage: "boot the kernel and run the profile's workload",
	Flags: []cli.Flag{profileFlag},
	Action: func(c *cli.Context) error {
		return withMachine(c, func(m *Machine) error {
			r, err := Boot(m)
			if err != nil {
				return errors.Wrap(err, "boot")
			}
			r.Print(c.App.Writer)
			return nil
		})
	},
}

var mmapCommand = &cli.Command{
	Name:  "mmap",
	Usage: "print the memory map as decoded by the kernel's multiboot parser",
	Flags: []cli.Flag{profileFlag},
	Action: func(c *cli.Context) error {
		return withMachine(c, func(m *Machine) error {
			if kerr := multiboot.Init(multiboot.Magic, m.InfoAddr()); kerr != nil {
				return errors.New(kerr.Error())
			}
			printMemoryMap(c.App.Writer)
			return nil
		})
	},
}

func printMemoryMap(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tSIZE\tTYPE")
	multiboot.VisitMemRegions(func(e *multiboot.MemoryMapEntry) bool {
		fmt.Fprintf(tw, "0x%010x\t0x%010x\t%d\t%s\n", e.PhysAddress, e.PhysAddress+e.Length, e.Length, e.Type)
		return true
	})
	tw.Flush()

	if lower, upper, ok := multiboot.BasicMemoryInfo(); ok {
		fmt.Fprintf(w, "basic memory: lower %dKb, upper %dKb\n", lower, upper)
	}
	fmt.Fprintf(w, "cmdline: %s\n", multiboot.GetBootCmdLine())
}

var syscallCommand = &cli.Command{
	Name:  "syscall",
	Usage: "boot the kernel and issue a single system call",
	Flags: []cli.Flag{
		profileFlag,
		&cli.Uint64Flag{Name: "num", Usage: "call number", Required: true},
		&cli.Uint64Flag{Name: "fd", Usage: "file descriptor argument"},
		&cli.StringFlag{Name: "data", Usage: "buffer contents passed as the second argument"},
		&cli.Uint64Flag{Name: "count", Usage: "byte count for read"},
	},
	Action: func(c *cli.Context) error {
		p, err := LoadProfile(c.String(profileFlagName))
		if err != nil {
			return err
		}
		p.Steps = []Step{syscallStep(c.Uint64("num"), c.Uint64("fd"), c.String("data"), c.Uint64("count"))}

		return withProfile(p, func(m *Machine) error {
			r, err := Boot(m)
			if err != nil {
				return errors.Wrap(err, "boot")
			}

			s := r.Steps[0]
			fmt.Fprintf(c.App.Writer, "%s(%d) = %d\n", s.Op, c.Uint64("num"), s.Result)
			if s.Detail != "" {
				fmt.Fprintf(c.App.Writer, "%s\n", s.Detail)
			}
			return nil
		})
	},
}

// syscallStep maps a raw call to the workload op that exercises it.
func syscallStep(num, fd uint64, data string, count uint64) Step {
	switch num {
	case syscall.SysRead:
		return Step{Op: "read", FD: fd, Count: count}
	case syscall.SysWrite:
		return Step{Op: "write", FD: fd, Data: data}
	case syscall.SysGetPID:
		return Step{Op: "getpid"}
	case syscall.SysExit:
		return Step{Op: "exit", FD: fd}
	default:
		return Step{Op: "syscall", Num: num, FD: fd, Data: data}
	}
}
