package tty

import (
	"io"
	"kestrel/device"
	"kestrel/device/video/console"
	"kestrel/kernel"
)

// cell is a single character of terminal output together with its
// attributes.
type cell struct {
	ch     byte
	fg, bg uint8
}

// VT implements a terminal supporting scrollback. The terminal interprets the
// following special characters:
//   - \r (carriage-return)
//   - \n (line-feed)
//   - \b (backspace)
//   - \t (tab; expanded to tabWidth spaces)
type VT struct {
	cons console.Device

	// Terminal dimensions
	termWidth      uint32
	termHeight     uint32
	viewportWidth  uint32
	viewportHeight uint32

	// The number of additional lines of output that are buffered by the
	// terminal to support scrolling up.
	scrollback uint32

	// The terminal contents, termHeight rows of termWidth cells.
	cells []cell

	// Terminal state.
	tabWidth         uint8
	paletteSize      int
	defaultFg, curFg uint8
	defaultBg, curBg uint8
	cursorX          uint32
	cursorY          uint32
	viewportY        uint32
	state            State
}

// NewVT creates a new virtual terminal device. The tabWidth parameter controls
// tab expansion whereas the scrollback parameter defines the line count that
// gets buffered by the terminal to provide scrolling beyond the console
// height.
func NewVT(tabWidth uint8, scrollback uint32) *VT {
	return &VT{
		tabWidth:   tabWidth,
		scrollback: scrollback,
		cursorX:    1,
		cursorY:    1,
	}
}

// AttachTo connects a TTY to a console instance.
func (t *VT) AttachTo(cons console.Device) {
	if cons == nil {
		return
	}

	t.cons = cons
	t.viewportWidth, t.viewportHeight = cons.Dimensions(console.Characters)
	t.paletteSize = len(cons.Palette())
	t.defaultFg, t.defaultBg = cons.DefaultColors()
	t.curFg, t.curBg = t.defaultFg, t.defaultBg
	t.termWidth, t.termHeight = t.viewportWidth, t.viewportHeight+t.scrollback
	t.cells = make([]cell, t.termWidth*t.termHeight)
	t.reset()
}

// reset blanks the terminal contents using the default attributes and moves
// the cursor and viewport to the top of the buffer.
func (t *VT) reset() {
	blank := t.blankCell()
	for i := range t.cells {
		t.cells[i] = blank
	}

	t.viewportY = 0
	t.cursorX, t.cursorY = 1, 1
}

func (t *VT) blankCell() cell {
	return cell{ch: ' ', fg: t.defaultFg, bg: t.defaultBg}
}

// State returns the TTY's state.
func (t *VT) State() State {
	return t.state
}

// SetState updates the TTY's state.
func (t *VT) SetState(newState State) {
	if t.state == newState {
		return
	}

	t.state = newState

	// If the terminal became active, update the console with its contents
	if t.state == StateActive && t.cons != nil {
		t.redraw()
	}
}

// redraw copies the visible part of the terminal buffer to the console.
func (t *VT) redraw() {
	for y := uint32(1); y <= t.viewportHeight; y++ {
		row := t.row(t.viewportY + y - 1)
		for x := uint32(1); x <= t.viewportWidth; x++ {
			c := row[x-1]
			t.cons.Write(c.ch, c.fg, c.bg, x, y)
		}
	}
}

// row returns the cells of a terminal buffer line.
func (t *VT) row(line uint32) []cell {
	start := line * t.termWidth
	return t.cells[start : start+t.termWidth]
}

// CursorPosition returns the current cursor position.
func (t *VT) CursorPosition() (uint32, uint32) {
	return t.cursorX, t.cursorY
}

// SetCursorPosition sets the current cursor position to (x,y).
func (t *VT) SetCursorPosition(x, y uint32) {
	if t.cons == nil {
		return
	}

	t.cursorX, t.cursorY = clip(x, t.viewportWidth), clip(y, t.viewportHeight)
}

func clip(v, max uint32) uint32 {
	switch {
	case v < 1:
		return 1
	case v > max:
		return max
	default:
		return v
	}
}

// SetColors selects the fg/bg attributes for subsequent writes.
func (t *VT) SetColors(fg, bg uint8) {
	if int(fg) >= t.paletteSize {
		fg = t.defaultFg
	}
	if int(bg) >= t.paletteSize {
		bg = t.defaultBg
	}

	t.curFg, t.curBg = fg, bg
}

// Clear erases the terminal contents including the scrollback and moves the
// cursor to (1, 1).
func (t *VT) Clear() {
	if t.cons == nil {
		return
	}

	t.reset()
	if t.state == StateActive {
		t.cons.Fill(1, 1, t.viewportWidth, t.viewportHeight, t.defaultFg, t.defaultBg)
	}
}

// Write implements io.Writer.
func (t *VT) Write(data []byte) (int, error) {
	for count, b := range data {
		if err := t.WriteByte(b); err != nil {
			return count, err
		}
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *VT) WriteByte(b byte) error {
	if t.cons == nil {
		return io.ErrClosedPipe
	}

	switch b {
	case '\r':
		t.cursorX = 1
	case '\n':
		t.lf()
	case '\b':
		if t.cursorX > 1 {
			t.cursorX--
			t.put(' ')
		}
	case '\t':
		for i := uint8(0); i < t.tabWidth; i++ {
			t.put(' ')
			t.advance()
		}
	default:
		t.put(b)
		t.advance()
	}

	return nil
}

// put stores b with the current attributes at the cursor position and mirrors
// it to the console when the terminal is active.
func (t *VT) put(b byte) {
	t.row(t.viewportY + t.cursorY - 1)[t.cursorX-1] = cell{ch: b, fg: t.curFg, bg: t.curBg}

	if t.state == StateActive {
		t.cons.Write(b, t.curFg, t.curBg, t.cursorX, t.cursorY)
	}
}

// advance moves the cursor one column to the right wrapping to the next line
// when it passes the right edge of the viewport.
func (t *VT) advance() {
	t.cursorX++
	if t.cursorX > t.viewportWidth {
		t.lf()
	}
}

// lf moves the cursor to the start of the next line. When the cursor is on
// the last viewport line the viewport moves down by one line; once the
// viewport reaches the end of the scrollback buffer the buffer contents are
// shifted up instead.
func (t *VT) lf() {
	t.cursorX = 1

	if t.cursorY < t.viewportHeight {
		t.cursorY++
		return
	}

	if t.viewportY+t.viewportHeight < t.termHeight {
		t.viewportY++
	} else {
		copy(t.cells, t.cells[t.termWidth:])
	}

	// The line that just scrolled into view may contain stale data from
	// earlier output.
	blank := t.blankCell()
	lastRow := t.row(t.viewportY + t.viewportHeight - 1)
	for i := range lastRow {
		lastRow[i] = blank
	}

	if t.state == StateActive {
		t.cons.Scroll(console.ScrollDirUp, 1)
		t.cons.Fill(1, t.cursorY, t.viewportWidth, 1, t.defaultFg, t.defaultBg)
	}
}

// DriverName returns the name of this driver.
func (t *VT) DriverName() string {
	return "vt"
}

// DriverVersion returns the version of this driver.
func (t *VT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver.
func (t *VT) DriverInit(_ io.Writer) *kernel.Error { return nil }

func probeForVT(_ device.Hardware) device.Driver {
	return NewVT(DefaultTabWidth, DefaultScrollback)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderLast,
		Probe: probeForVT,
	})
}
