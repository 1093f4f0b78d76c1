// Package hal is the hardware abstraction layer: it owns the processor
// interface the kernel uses for privileged operations and discovers the
// console and keyboard drivers at boot.
package hal

import (
	"io"
	"nolaos/device"
	"nolaos/kernel/kfmt"
)

// Console is implemented by drivers that can act as the system console.
type Console interface {
	io.Writer
	io.ByteWriter

	// Dimensions returns the console width and height in characters.
	Dimensions() (uint32, uint32)
}

// Keyboard is implemented by drivers that deliver characters typed by the
// user.
type Keyboard interface {
	// ReadChar blocks until a character is available.
	ReadChar() byte

	// ReadLine reads an echoed line into buf and returns its length.
	ReadLine(buf []byte) int
}

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole  Console
	activeKeyboard Keyboard

	// activeDrivers tracks all initialized device drivers.
	activeDrivers [device.MaxDrivers]device.Driver
	driverCount   int
}

// prefixBuf holds the "[hal] name(x.y.z): " prefix of the driver being
// initialized.
type prefixBuf struct {
	data [64]byte
	len  int
}

func (b *prefixBuf) Write(p []byte) (int, error) {
	n := copy(b.data[b.len:], p)
	b.len += n
	return n, nil
}

func (b *prefixBuf) Bytes() []byte { return b.data[:b.len] }

var (
	devices managedDevices
	strBuf  prefixBuf
)

// ActiveConsole returns the console that receives kernel output, or nil if
// none was detected.
func ActiveConsole() Console {
	return devices.activeConsole
}

// ActiveKeyboard returns the detected keyboard, or nil if none was found.
func ActiveKeyboard() Keyboard {
	return devices.activeKeyboard
}

// VisitDrivers invokes visitor for each initialized driver in probe order.
func VisitDrivers(visitor func(device.Driver)) {
	for _, drv := range devices.activeDrivers[:devices.driverCount] {
		visitor(drv)
	}
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers. The first console found becomes the kfmt output sink. Devices
// found by an earlier call are forgotten.
func DetectHardware() {
	devices = managedDevices{}
	probe(device.DriverList())
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w kfmt.PrefixWriter

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.len = 0
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Sink = kfmt.GetOutputSink()
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		onDriverInit(drv)

		// The sink may have just been attached.
		w.Sink = kfmt.GetOutputSink()
		kfmt.Fprintf(&w, "initialized\n")

		if devices.driverCount < len(devices.activeDrivers) {
			devices.activeDrivers[devices.driverCount] = drv
			devices.driverCount++
		}
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized.
func onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case Console:
		if devices.activeConsole != nil {
			return
		}

		devices.activeConsole = drvImpl
		kfmt.SetOutputSink(drvImpl)
	case Keyboard:
		if devices.activeKeyboard == nil {
			devices.activeKeyboard = drvImpl
		}
	}
}
