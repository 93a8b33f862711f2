package irq

import (
	"kestrel/kernel"
	"kestrel/kernel/cpu"
)

const (
	// pitBaseFrequency is the input clock of the PIT in Hz.
	pitBaseFrequency = uint32(1193182)

	pitChannel0Port = uint16(0x40)
	pitCommandPort  = uint16(0x43)

	// pitModeSquareWave selects channel 0, lobyte/hibyte access and
	// operating mode 3.
	pitModeSquareWave = uint8(0x36)
)

var errInvalidFrequency = &kernel.Error{Module: "irq", Message: "timer frequency out of range"}

// ArmTimer programs PIT channel 0 to raise IRQ 0 hz times per second. The
// resulting divisor must fit in 16 bits.
func ArmTimer(c cpu.CPU, hz uint32) *kernel.Error {
	if hz == 0 || hz > pitBaseFrequency {
		return errInvalidFrequency
	}

	divisor := pitBaseFrequency / hz
	if divisor > 0xffff {
		return errInvalidFrequency
	}

	c.PortWriteByte(pitCommandPort, pitModeSquareWave)
	c.PortWriteByte(pitChannel0Port, uint8(divisor))
	c.PortWriteByte(pitChannel0Port, uint8(divisor>>8))
	return nil
}
