// Package device defines the interface shared by all device drivers and the
// registry used by the HAL to detect them.
package device

import (
	"io"
	"kestrel/kernel"
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

// Hardware gives drivers access to I/O ports and physical memory.
type Hardware interface {
	io.ReaderAt
	io.WriterAt

	// PortWriteByte writes a uint8 value to the requested port.
	PortWriteByte(port uint16, val uint8)

	// PortReadByte reads a uint8 value from the requested port.
	PortReadByte(port uint16) uint8
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func(Hardware) Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the HAL. Drivers with lower values are probed first.
type DetectOrder int8

const (
	// DetectOrderEarly is used by drivers that other drivers depend on,
	// such as the console.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderNormal is the default detection order.
	DetectOrderNormal DetectOrder = 0

	// DetectOrderLast is used by drivers that should be probed after all
	// hardware drivers.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is a driver-defined struct that is passed to RegisterDriver.
type DriverInfo struct {
	// Order specifies at which stage of the boot process the probe
	// function is invoked.
	Order DetectOrder

	// Probe is invoked by the HAL to detect the device.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var (
	// registeredDrivers holds the list of registered drivers.
	registeredDrivers DriverInfoList
)

// RegisterDriver adds the supplied driver info to the list of drivers that
// the HAL probes for when the kernel boots. Drivers call it from an init
// block.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns a copy of the registered drivers list.
func DriverList() DriverInfoList {
	return append(DriverInfoList(nil), registeredDrivers...)
}
