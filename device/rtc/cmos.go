// Package rtc contains the driver for the CMOS real-time clock.
package rtc

import (
	"io"
	"kestrel/device"
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
)

const (
	indexPort = 0x70
	dataPort  = 0x71

	// nmiDisable is or-ed into every register index so that reading the
	// clock does not re-enable NMIs.
	nmiDisable = 0x80

	regSeconds = 0x00
	regMinutes = 0x02
	regHours   = 0x04
	regStatusA = 0x0a
	regStatusB = 0x0b

	statusAUpdating = 1 << 7
	statusBBinary   = 1 << 2
	statusB24Hour   = 1 << 1
	hourPMBit       = 0x80

	// maxUpdateWait bounds the number of polls while an update is in
	// progress.
	maxUpdateWait = 1000
)

var (
	errClockBusy = &kernel.Error{Module: "rtc", Message: "clock update did not complete"}
)

// Time is a wall clock reading.
type Time struct {
	Hour, Minute, Second uint8
}

// CMOSClock reads the time of day from the CMOS real-time clock.
type CMOSClock struct {
	hw device.Hardware
}

// NewCMOSClock returns a clock driver that talks to the CMOS through hw.
func NewCMOSClock(hw device.Hardware) *CMOSClock {
	return &CMOSClock{hw: hw}
}

func (c *CMOSClock) readRegister(reg uint8) uint8 {
	c.hw.PortWriteByte(indexPort, nmiDisable|reg)
	return c.hw.PortReadByte(dataPort)
}

// Now returns the current time. The registers are read twice until two
// consecutive readings agree so that a reading never straddles a clock
// update.
func (c *CMOSClock) Now() (Time, *kernel.Error) {
	var last Time
	for attempt := 0; attempt < maxUpdateWait; attempt++ {
		if c.readRegister(regStatusA)&statusAUpdating != 0 {
			continue
		}

		cur := c.readRaw()
		if attempt > 0 && cur == last {
			return c.decode(cur), nil
		}
		last = cur
	}

	return Time{}, errClockBusy
}

func (c *CMOSClock) readRaw() Time {
	return Time{
		Hour:   c.readRegister(regHours),
		Minute: c.readRegister(regMinutes),
		Second: c.readRegister(regSeconds),
	}
}

// decode converts a raw register reading according to the data format
// selected in status register B.
func (c *CMOSClock) decode(raw Time) Time {
	statusB := c.readRegister(regStatusB)

	pm := raw.Hour&hourPMBit != 0
	raw.Hour &^= hourPMBit

	if statusB&statusBBinary == 0 {
		raw.Hour, raw.Minute, raw.Second = fromBCD(raw.Hour), fromBCD(raw.Minute), fromBCD(raw.Second)
	}

	if statusB&statusB24Hour == 0 {
		raw.Hour %= 12
		if pm {
			raw.Hour += 12
		}
	}

	return raw
}

func fromBCD(v uint8) uint8 {
	return (v>>4)*10 + v&0x0f
}

// DriverName returns the name of this driver.
func (c *CMOSClock) DriverName() string {
	return "cmos_rtc"
}

// DriverVersion returns the version of this driver.
func (c *CMOSClock) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit reads the clock once and reports the current time.
func (c *CMOSClock) DriverInit(w io.Writer) *kernel.Error {
	now, err := c.Now()
	if err != nil {
		return err
	}

	kfmt.Fprintf(w, "time is %2d:%2d:%2d\n", now.Hour, now.Minute, now.Second)
	return nil
}

// probeForCMOSClock checks that status register B holds a plausible value.
// A floating bus reads back as 0xff.
func probeForCMOSClock(hw device.Hardware) device.Driver {
	clock := NewCMOSClock(hw)
	if clock.readRegister(regStatusB) == 0xff {
		return nil
	}

	return clock
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForCMOSClock,
	})
}
