// Package keyboard contains the driver for a PS/2 keyboard using scancode
// set 1.
package keyboard

import (
	"io"
	"kestrel/device"
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
)

const (
	dataPort   = 0x60
	statusPort = 0x64

	// statusOutputFull is set while the controller holds a byte for the
	// host.
	statusOutputFull = 1 << 0

	releaseBit     = 0x80
	leftShiftCode  = 0x2a
	rightShiftCode = 0x36
	capsLockCode   = 0x3a
)

var (
	// set1 maps set-1 make codes to ASCII; set1Shifted holds the same
	// keys with shift held. A zero entry is a key without a character.
	set1 = [0x3a]byte{
		0x01: 0x1b,
		0x02: '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
		0x0f: '\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
		0x1e: 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
		0x2b: '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/',
		0x37: '*',
		0x39: ' ',
	}
	set1Shifted = [0x3a]byte{
		0x01: 0x1b,
		0x02: '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b',
		0x0f: '\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n',
		0x1e: 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
		0x2b: '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?',
		0x37: '*',
		0x39: ' ',
	}
)

// Keyboard buffers the characters typed on a PS/2 keyboard. Scancodes that
// arrive before the keyboard is activated are drained from the controller and
// dropped.
type Keyboard struct {
	hw device.Hardware

	buf      kfmt.RingBuffer
	active   bool
	shift    bool
	capsLock bool
}

// NewKeyboard returns a keyboard driver that talks to the controller
// through hw.
func NewKeyboard(hw device.Hardware) *Keyboard {
	return &Keyboard{hw: hw}
}

// Activate starts buffering key presses.
func (kbd *Keyboard) Activate() {
	kbd.active = true
}

// Active returns true if the keyboard buffers key presses.
func (kbd *Keyboard) Active() bool {
	return kbd.active
}

// HandleIRQ drains the scancodes pending at the controller. It is invoked by
// the keyboard interrupt handler.
func (kbd *Keyboard) HandleIRQ() {
	for kbd.hw.PortReadByte(statusPort)&statusOutputFull != 0 {
		kbd.handleScancode(kbd.hw.PortReadByte(dataPort))
	}
}

func (kbd *Keyboard) handleScancode(code uint8) {
	released := code&releaseBit != 0
	code &^= releaseBit

	switch code {
	case leftShiftCode, rightShiftCode:
		kbd.shift = !released
		return
	case capsLockCode:
		if !released {
			kbd.capsLock = !kbd.capsLock
		}
		return
	}

	if released || !kbd.active || int(code) >= len(set1) {
		return
	}

	ch := set1[code]
	if kbd.shift {
		ch = set1Shifted[code]
	}
	if kbd.capsLock && isLetter(ch) {
		ch ^= 'a' - 'A'
	}

	if ch != 0 {
		kbd.buf.WriteByte(ch)
	}
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

// ReadByte returns the oldest buffered character. The second result is false
// if no character is buffered.
func (kbd *Keyboard) ReadByte() (byte, bool) {
	ch, err := kbd.buf.ReadByte()
	return ch, err == nil
}

// Buffered returns the number of buffered characters.
func (kbd *Keyboard) Buffered() int {
	return kbd.buf.Len()
}

// DriverName returns the name of this driver.
func (kbd *Keyboard) DriverName() string {
	return "ps2_keyboard"
}

// DriverVersion returns the version of this driver.
func (kbd *Keyboard) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit flushes any stale bytes held by the controller.
func (kbd *Keyboard) DriverInit(w io.Writer) *kernel.Error {
	var dropped int
	for kbd.hw.PortReadByte(statusPort)&statusOutputFull != 0 {
		kbd.hw.PortReadByte(dataPort)
		dropped++
	}

	kfmt.Fprintf(w, "flushed %d stale bytes\n", dropped)
	return nil
}

// probeForKeyboard checks for a PS/2 controller. A floating bus reads back
// as 0xff.
func probeForKeyboard(hw device.Hardware) device.Driver {
	if hw.PortReadByte(statusPort) == 0xff {
		return nil
	}

	return NewKeyboard(hw)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForKeyboard,
	})
}
