// Package device defines the interface implemented by device drivers and
// the registry the hal package probes at boot.
package device

import (
	"io"
	"nolaos/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

const (
	// DetectOrderEarly specifies that the driver's probe function should
	// be executed at the beginning of the HW detection phase. It is used
	// by the console so that probe output of later drivers is visible.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderNormal is the default probe order.
	DetectOrderNormal = 0

	// DetectOrderLast specifies that the driver's probe function should
	// be executed at the end of the HW detection phase.
	DetectOrderLast = 127
)

// MaxDrivers is the capacity of the driver registry.
const MaxDrivers = 16

// DriverInfo is a driver-defined struct that is passed to calls to
// RegisterDriver.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection step should
	// the probe function be invoked.
	Order DetectOrder

	// Probe is a function that checks for the presence of a particular
	// piece of hardware and returns back a driver for it.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers ordered by DetectOrder.
type DriverInfoList []*DriverInfo

var (
	registeredDrivers [MaxDrivers]*DriverInfo
	driverCount       int
)

// RegisterDriver adds the supplied driver info to the registry. Entries are
// kept sorted by detection order; drivers with the same order are probed in
// registration order. Registrations beyond MaxDrivers are ignored.
func RegisterDriver(info *DriverInfo) {
	if driverCount == MaxDrivers {
		return
	}

	i := driverCount
	for ; i > 0 && registeredDrivers[i-1].Order > info.Order; i-- {
		registeredDrivers[i] = registeredDrivers[i-1]
	}
	registeredDrivers[i] = info
	driverCount++
}

// DriverList returns the registered drivers in probe order.
func DriverList() DriverInfoList {
	return registeredDrivers[:driverCount]
}
