package sim

import (
	"kestrel/kernel"
	"time"
)

// Port assignments.
const (
	portMasterCommand = uint16(0x20)
	portMasterData    = uint16(0x21)
	portSlaveCommand  = uint16(0xa0)
	portSlaveData     = uint16(0xa1)
	portPITChannel0   = uint16(0x40)
	portPITCommand    = uint16(0x43)
	portPS2Data       = uint16(0x60)
	portPS2Status     = uint16(0x64)
	portCMOSIndex     = uint16(0x70)
	portCMOSData      = uint16(0x71)
)

// pic8259 models the parts of an 8259 that the kernel programs: the ICW1-4
// initialization sequence, the interrupt mask register and EOI commands.
type pic8259 struct {
	initStep int
	ready    bool
	offset   uint8
	imr      uint8
	eoiCount int
}

func (p *pic8259) initialized() bool { return p.ready }

func (p *pic8259) writeCommand(val uint8) {
	switch {
	case val&0x10 != 0:
		// ICW1 restarts initialization
		p.initStep, p.ready, p.imr = 1, false, 0
	case val == 0x20:
		p.eoiCount++
	}
}

func (p *pic8259) writeData(val uint8) {
	switch p.initStep {
	case 1:
		p.offset = val &^ 7
		p.initStep = 2
	case 2:
		p.initStep = 3
	case 3:
		p.initStep, p.ready = 0, true
	default:
		p.imr = val
	}
}

// pit8254 models channel 0 programmed with lobyte/hibyte access.
type pit8254 struct {
	mode     uint8
	divisor  uint16
	highNext bool
}

func (p *pit8254) writeCommand(val uint8) {
	p.mode, p.highNext = val, false
}

func (p *pit8254) writeChannel0(val uint8) {
	if p.highNext {
		p.divisor = p.divisor&0x00ff | uint16(val)<<8
	} else {
		p.divisor = p.divisor&0xff00 | uint16(val)
	}
	p.highNext = !p.highNext
}

// PortWriteByte writes a value to an I/O port.
func (m *Machine) PortWriteByte(port uint16, val uint8) {
	switch port {
	case portMasterCommand:
		m.master.writeCommand(val)
	case portMasterData:
		m.master.writeData(val)
	case portSlaveCommand:
		m.slave.writeCommand(val)
	case portSlaveData:
		m.slave.writeData(val)
	case portPITCommand:
		m.pit.writeCommand(val)
	case portPITChannel0:
		m.pit.writeChannel0(val)
	case portCMOSIndex:
		m.cmosIndex = val & 0x7f
	}
}

// PortReadByte reads a value from an I/O port.
func (m *Machine) PortReadByte(port uint16) uint8 {
	switch port {
	case portMasterData:
		return m.master.imr
	case portSlaveData:
		return m.slave.imr
	case portPS2Status:
		if len(m.scancodes) != 0 {
			return 1
		}
		return 0
	case portPS2Data:
		if len(m.scancodes) == 0 {
			return 0
		}
		code := m.scancodes[0]
		m.scancodes = m.scancodes[1:]
		return code
	case portCMOSData:
		return m.readCMOS(m.cmosIndex)
	default:
		return 0xff
	}
}

// readCMOS returns a CMOS register. The clock runs in 24-hour BCD mode and
// never reports an update in progress.
func (m *Machine) readCMOS(index uint8) uint8 {
	now := m.now()
	switch index {
	case 0x00:
		return bcd(now.Second())
	case 0x02:
		return bcd(now.Minute())
	case 0x04:
		return bcd(now.Hour())
	case 0x07:
		return bcd(now.Day())
	case 0x08:
		return bcd(int(now.Month()))
	case 0x09:
		return bcd(now.Year() % 100)
	case 0x0b:
		return 0x02
	default:
		return 0
	}
}

func bcd(v int) uint8 {
	return uint8((v/10)<<4 | v%10)
}

// SetClock replaces the time source of the CMOS clock.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// PressKey queues a scancode at the PS/2 data port and raises IRQ 1.
func (m *Machine) PressKey(scancodes ...uint8) *kernel.Error {
	m.scancodes = append(m.scancodes, scancodes...)
	return m.RaiseIRQ(1)
}

// IRQMasks returns the interrupt mask registers of the master and slave PIC.
func (m *Machine) IRQMasks() (master, slave uint8) { return m.master.imr, m.slave.imr }

// IRQOffsets returns the vector offsets programmed into the PICs.
func (m *Machine) IRQOffsets() (master, slave uint8) { return m.master.offset, m.slave.offset }

// EOICount returns the number of EOI commands received by the master PIC.
func (m *Machine) EOICount() int { return m.master.eoiCount }

// TimerDivisor returns the divisor programmed into PIT channel 0.
func (m *Machine) TimerDivisor() uint16 { return m.pit.divisor }
