// Package irq drives the interrupt sources of the machine: the cascaded 8259
// programmable interrupt controllers and the 8253/8254 programmable interval
// timer.
package irq

import (
	"kestrel/kernel/cpu"
)

// Line identifies one of the 16 IRQ lines of the cascaded PIC pair.
type Line uint8

const (
	// TimerLine is connected to PIT channel 0.
	TimerLine = Line(0)

	// KeyboardLine is connected to the PS/2 controller.
	KeyboardLine = Line(1)

	// cascadeLine connects the slave PIC to the master.
	cascadeLine = Line(2)
)

const (
	masterCommandPort = uint16(0x20)
	masterDataPort    = uint16(0x21)
	slaveCommandPort  = uint16(0xa0)
	slaveDataPort     = uint16(0xa1)

	icw1Init        = uint8(0x11)
	icw3MasterSlave = uint8(1 << cascadeLine)
	icw3SlaveID     = uint8(cascadeLine)
	icw48086Mode    = uint8(0x01)
	cmdEndOfIRQ     = uint8(0x20)
)

// PIC controls the master/slave 8259 pair.
type PIC struct {
	cpu cpu.CPU

	masterOffset uint8
	slaveOffset  uint8

	// Cached interrupt mask registers; a set bit masks the line.
	masterMask uint8
	slaveMask  uint8
}

// NewPIC returns a controller driver that talks to the PICs through c.
func NewPIC(c cpu.CPU) *PIC {
	return &PIC{cpu: c, masterMask: 0xff, slaveMask: 0xff}
}

// Remap reprograms the PIC pair so that IRQ lines 0-7 are delivered at
// masterOffset and lines 8-15 at slaveOffset. All lines are masked once the
// controllers are initialized; lines must be explicitly enabled via Unmask.
func (p *PIC) Remap(masterOffset, slaveOffset uint8) {
	p.masterOffset, p.slaveOffset = masterOffset, slaveOffset

	p.cpu.PortWriteByte(masterCommandPort, icw1Init)
	p.cpu.PortWriteByte(slaveCommandPort, icw1Init)
	p.cpu.PortWriteByte(masterDataPort, masterOffset)
	p.cpu.PortWriteByte(slaveDataPort, slaveOffset)
	p.cpu.PortWriteByte(masterDataPort, icw3MasterSlave)
	p.cpu.PortWriteByte(slaveDataPort, icw3SlaveID)
	p.cpu.PortWriteByte(masterDataPort, icw48086Mode)
	p.cpu.PortWriteByte(slaveDataPort, icw48086Mode)

	p.masterMask, p.slaveMask = 0xff, 0xff
	p.writeMasks()
}

// Vector returns the interrupt vector that line is delivered at.
func (p *PIC) Vector(line Line) uint8 {
	if line < 8 {
		return p.masterOffset + uint8(line)
	}
	return p.slaveOffset + uint8(line-8)
}

// LineForVector maps an interrupt vector back to its IRQ line. The second
// return value is false if the vector is not served by the PICs.
func (p *PIC) LineForVector(vector uint8) (Line, bool) {
	switch {
	case vector >= p.masterOffset && vector < p.masterOffset+8:
		return Line(vector - p.masterOffset), true
	case vector >= p.slaveOffset && vector < p.slaveOffset+8:
		return Line(vector-p.slaveOffset) + 8, true
	default:
		return 0, false
	}
}

// Unmask enables delivery of interrupts raised on line. Unmasking a slave
// line also unmasks the cascade line on the master.
func (p *PIC) Unmask(line Line) {
	if line < 8 {
		p.masterMask &^= 1 << line
	} else {
		p.slaveMask &^= 1 << (line - 8)
		p.masterMask &^= 1 << cascadeLine
	}
	p.writeMasks()
}

// Mask disables delivery of interrupts raised on line.
func (p *PIC) Mask(line Line) {
	if line < 8 {
		p.masterMask |= 1 << line
	} else {
		p.slaveMask |= 1 << (line - 8)
	}
	p.writeMasks()
}

// Masked returns true if line is masked.
func (p *PIC) Masked(line Line) bool {
	if line < 8 {
		return p.masterMask&(1<<line) != 0
	}
	return p.slaveMask&(1<<(line-8)) != 0
}

// EOI acknowledges the interrupt raised on line so that the controller can
// deliver further interrupts of equal or lower priority.
func (p *PIC) EOI(line Line) {
	if line >= 8 {
		p.cpu.PortWriteByte(slaveCommandPort, cmdEndOfIRQ)
	}
	p.cpu.PortWriteByte(masterCommandPort, cmdEndOfIRQ)
}

func (p *PIC) writeMasks() {
	p.cpu.PortWriteByte(masterDataPort, p.masterMask)
	p.cpu.PortWriteByte(slaveDataPort, p.slaveMask)
}
