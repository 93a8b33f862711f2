package hal

import (
	"bytes"
	"kestrel/device"
	"kestrel/device/keyboard"
	"kestrel/device/rtc"
	"kestrel/device/tty"
	"kestrel/device/video/console"
	"kestrel/kernel/kfmt"
	"sort"
)

// Devices contains the devices discovered by the HAL.
type Devices struct {
	activeConsole  console.Device
	activeTTY      tty.Device
	activeKeyboard *keyboard.Keyboard
	activeClock    *rtc.CMOSClock

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver

	strBuf bytes.Buffer
}

// Console returns the active console or nil if no console was detected.
func (d *Devices) Console() console.Device { return d.activeConsole }

// TTY returns the active TTY or nil if no TTY was detected.
func (d *Devices) TTY() tty.Device { return d.activeTTY }

// Keyboard returns the active keyboard or nil if no keyboard was detected.
func (d *Devices) Keyboard() *keyboard.Keyboard { return d.activeKeyboard }

// Clock returns the active real-time clock or nil if no clock was detected.
func (d *Devices) Clock() *rtc.CMOSClock { return d.activeClock }

// Drivers returns the list of initialized drivers in initialization order.
func (d *Devices) Drivers() []device.Driver { return d.activeDrivers }

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func (d *Devices) DetectHardware(hw device.Hardware) {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Stable(drivers)

	d.probe(hw, drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func (d *Devices) probe(hw device.Hardware, driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe(hw)
		if drv == nil {
			continue
		}

		d.strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&d.strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = d.strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		d.onDriverInit(drv)
		d.activeDrivers = append(d.activeDrivers, drv)

		// Once the TTY becomes the output sink, the remaining drivers
		// log through it as well.
		w.Sink = kfmt.GetOutputSink()
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first driver of each kind becomes the
// active one.
func (d *Devices) onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case console.Device:
		if d.activeConsole != nil {
			return
		}

		d.activeConsole = drvImpl
		if d.activeTTY != nil {
			d.linkTTYToConsole()
		}
	case tty.Device:
		if d.activeTTY != nil {
			return
		}

		d.activeTTY = drvImpl
		if d.activeConsole != nil {
			d.linkTTYToConsole()
		}
	case *keyboard.Keyboard:
		if d.activeKeyboard == nil {
			d.activeKeyboard = drvImpl
		}
	case *rtc.CMOSClock:
		if d.activeClock == nil {
			d.activeClock = drvImpl
		}
	}
}

// linkTTYToConsole connects the active TTY device to the active console device
// and syncs their contents.
func (d *Devices) linkTTYToConsole() {
	d.activeTTY.AttachTo(d.activeConsole)
	kfmt.SetOutputSink(d.activeTTY)

	// Sync terminal contents with console
	d.activeTTY.SetState(tty.StateActive)
}
