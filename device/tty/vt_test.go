package tty

import (
	"image/color"
	"io"
	"kestrel/device"
	"kestrel/device/video/console"
	"testing"
)

func TestVtPosition(t *testing.T) {
	specs := []struct {
		inX, inY   uint32
		expX, expY uint32
	}{
		{20, 20, 20, 20},
		{100, 20, 80, 20},
		{10, 200, 10, 25},
		{0, 0, 1, 1},
		{100, 100, 80, 25},
	}

	var term Device = NewVT(4, 0)

	// SetCursorPosition without an attached console is a no-op
	term.SetCursorPosition(2, 2)

	if curX, curY := term.CursorPosition(); curX != 1 || curY != 1 {
		t.Fatalf("expected terminal initial position to be (1, 1); got (%d, %d)", curX, curY)
	}

	term.AttachTo(newMockConsole(80, 25))

	for specIndex, spec := range specs {
		term.SetCursorPosition(spec.inX, spec.inY)
		if x, y := term.CursorPosition(); x != spec.expX || y != spec.expY {
			t.Errorf("[spec %d] expected setting position to (%d, %d) to update the position to (%d, %d); got (%d, %d)", specIndex, spec.inX, spec.inY, spec.expX, spec.expY, x, y)
		}
	}
}

func TestVtWrite(t *testing.T) {
	expChars := []struct {
		x, y    uint32
		expByte uint8
	}{
		{1, 1, '1'},
		{2, 1, '2'},
		{3, 1, '4'},
		{8, 1, '5'}, // 2 + tabWidth + 1
		{1, 2, '6'},
		{2, 2, '8'},
	}

	t.Run("inactive terminal", func(t *testing.T) {
		cons := newMockConsole(80, 25)

		term := NewVT(4, 0)
		if _, err := term.Write([]byte("foo")); err != io.ErrClosedPipe {
			t.Fatal("expected calling Write on a terminal without an attached console to return ErrClosedPipe")
		}

		term.AttachTo(cons)
		term.SetColors(2, 3)

		data := []byte("\b123\b4\t5\n67\r68")
		count, err := term.Write(data)
		if err != nil {
			t.Fatal(err)
		}

		if count != len(data) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(data), count)
		}

		if cons.bytesWritten != 0 {
			t.Fatalf("expected writes not to be synced with console when terminal is inactive; %d bytes written", cons.bytesWritten)
		}

		for specIndex, spec := range expChars {
			got := term.row(spec.y - 1)[spec.x-1]
			if exp := (cell{spec.expByte, 2, 3}); got != exp {
				t.Errorf("[spec %d] expected cell at (%d, %d) to be %v; got %v", specIndex, spec.x, spec.y, exp, got)
			}
		}
	})

	t.Run("active terminal", func(t *testing.T) {
		cons := newMockConsole(80, 25)

		term := NewVT(4, 0)
		term.SetState(StateActive)
		term.SetState(StateActive) // calling SetState with the same state is a no-op

		if got := term.State(); got != StateActive {
			t.Fatalf("expected terminal state to be %d; got %d", StateActive, got)
		}

		term.AttachTo(cons)
		term.SetColors(2, 3)

		data := []byte("\b123\b4\t5\n67\r68")
		term.Write(data)

		// The leading '\b', '\n' and '\r' produce no console writes
		// while the tab expands to 4 of them.
		if expCount := len(data) - 3 + 3; cons.bytesWritten != expCount {
			t.Fatalf("expected writes to be synced with console when terminal is active. %d bytes written; expected %d", cons.bytesWritten, expCount)
		}

		for specIndex, spec := range expChars {
			offset := ((spec.y - 1) * cons.width) + (spec.x - 1)
			if cons.chars[offset] != spec.expByte {
				t.Errorf("[spec %d] expected console char at (%d, %d) to be %q; got %q", specIndex, spec.x, spec.y, spec.expByte, cons.chars[offset])
			}

			if cons.fgAttrs[offset] != 2 || cons.bgAttrs[offset] != 3 {
				t.Errorf("[spec %d] expected console attributes at (%d, %d) to be fg:2, bg:3; got fg:%d, bg:%d", specIndex, spec.x, spec.y, cons.fgAttrs[offset], cons.bgAttrs[offset])
			}
		}
	})
}

func TestVtSetColors(t *testing.T) {
	term := NewVT(4, 0)
	term.AttachTo(newMockConsole(80, 25))

	specs := []struct {
		fg, bg       uint8
		expFg, expBg uint8
	}{
		{14, 1, 14, 1},
		{16, 1, 7, 1},
		{2, 200, 2, 0},
	}

	for specIndex, spec := range specs {
		term.SetColors(spec.fg, spec.bg)
		if term.curFg != spec.expFg || term.curBg != spec.expBg {
			t.Errorf("[spec %d] expected colors to be fg:%d, bg:%d; got fg:%d, bg:%d", specIndex, spec.expFg, spec.expBg, term.curFg, term.curBg)
		}
	}
}

func TestVtClear(t *testing.T) {
	cons := newMockConsole(80, 25)
	term := NewVT(4, 2)
	term.Clear() // no console attached; no-op

	term.AttachTo(cons)
	term.SetState(StateActive)
	term.SetColors(4, 5)
	for i := 0; i < 30; i++ {
		term.Write([]byte("line\n"))
	}

	term.Clear()

	if x, y := term.CursorPosition(); x != 1 || y != 1 {
		t.Fatalf("expected cursor to be at (1, 1); got (%d, %d)", x, y)
	}
	if term.viewportY != 0 {
		t.Fatalf("expected viewport to be reset; got viewportY %d", term.viewportY)
	}

	for i, c := range term.cells {
		if exp := (cell{' ', 7, 0}); c != exp {
			t.Fatalf("expected cell %d to be %v; got %v", i, exp, c)
		}
	}

	for i := range cons.chars {
		if cons.chars[i] != ' ' || cons.fgAttrs[i] != 7 || cons.bgAttrs[i] != 0 {
			t.Fatalf("expected console cell %d to be cleared", i)
		}
	}

	// Attributes selected before Clear remain in effect
	term.WriteByte('x')
	if cons.chars[0] != 'x' || cons.fgAttrs[0] != 4 || cons.bgAttrs[0] != 5 {
		t.Fatal("expected write after Clear to use the current attributes")
	}
}

func TestVtLineFeedHandling(t *testing.T) {
	t.Run("viewport at end of terminal", func(t *testing.T) {
		cons := newMockConsole(80, 25)

		term := NewVT(4, 0)
		term.SetState(StateActive)
		term.AttachTo(cons)

		// Fill last line except the last column. Cursor position will
		// be automatically clipped to the viewport bounds
		term.SetCursorPosition(1, term.viewportHeight+1)
		for i := uint32(0); i < term.viewportWidth-1; i++ {
			term.WriteByte(byte('0' + (i % 10)))
		}

		// Emulate viewportHeight line feeds. The last one should cause a scroll
		term.SetCursorPosition(0, 0)
		for i := uint32(0); i < term.viewportHeight; i++ {
			term.WriteByte('\n')
		}

		if cons.scrollUpCount != 1 {
			t.Fatalf("expected console to be scrolled up 1 time; got %d", cons.scrollUpCount)
		}

		// The line above the last one should now contain the scrolled contents
		row := term.row(term.viewportHeight - 2)
		for col := uint32(1); col <= term.viewportWidth; col++ {
			expByte := byte('0' + ((col - 1) % 10))
			if col == term.viewportWidth {
				expByte = ' '
			}

			if row[col-1].ch != expByte {
				t.Errorf("expected char at (%d, %d) to be %q; got %q", col, term.viewportHeight-1, expByte, row[col-1].ch)
			}
		}

		// The last line should now be cleared
		for col, c := range term.row(term.viewportHeight - 1) {
			if c.ch != ' ' {
				t.Errorf("expected char at (%d, %d) to be ' '; got %q", col+1, term.viewportHeight, c.ch)
			}
		}

		// The console line that scrolled into view is cleared too
		for col := uint32(0); col < cons.width; col++ {
			if got := cons.chars[(cons.height-1)*cons.width+col]; got != ' ' {
				t.Errorf("expected console char at (%d, %d) to be ' '; got %q", col+1, cons.height, got)
			}
		}
	})

	t.Run("viewport not at end of terminal", func(t *testing.T) {
		cons := newMockConsole(80, 25)

		term := NewVT(4, 1)
		term.SetState(StateActive)
		term.AttachTo(cons)

		// Fill first line including the last column
		for i := uint32(0); i < term.viewportWidth; i++ {
			term.WriteByte(byte('0' + (i % 10)))
		}

		// Emulate viewportHeight line feeds. The last one should cause a scroll
		// in the console but only a viewport adjustment in the terminal
		term.SetCursorPosition(0, 0)
		for i := uint32(0); i < term.viewportHeight; i++ {
			term.WriteByte('\n')
		}

		if cons.scrollUpCount != 1 {
			t.Fatalf("expected console to be scrolled up 1 time; got %d", cons.scrollUpCount)
		}

		if expViewportY := uint32(1); term.viewportY != expViewportY {
			t.Fatalf("expected terminal viewportY to be adjusted to %d; got %d", expViewportY, term.viewportY)
		}

		// The first line is still available in the scrollback buffer
		for col, c := range term.row(0) {
			if expByte := byte('0' + (col % 10)); c.ch != expByte {
				t.Errorf("expected char at hidden region (%d, -1) to be %q; got %q", col+1, expByte, c.ch)
			}
		}
	})
}

func TestVtAttach(t *testing.T) {
	cons := newMockConsole(80, 25)

	term := NewVT(4, 1)

	// AttachTo with a nil console should be a no-op
	term.AttachTo(nil)
	if term.termWidth != 0 || term.termHeight != 0 || term.viewportWidth != 0 || term.viewportHeight != 0 {
		t.Fatal("expected attaching a nil console to be a no-op")
	}

	term.AttachTo(cons)
	if term.termWidth != cons.width ||
		term.termHeight != cons.height+term.scrollback ||
		term.viewportWidth != cons.width ||
		term.viewportHeight != cons.height ||
		len(term.cells) != int(cons.width*(cons.height+1)) {
		t.Fatal("expected the terminal to initialize using the attached console info")
	}
}

func TestVtSetState(t *testing.T) {
	cons := newMockConsole(80, 25)
	term := NewVT(4, 1)
	term.AttachTo(cons)

	// Fill the terminal viewport using a rotating pattern. Writing the
	// last character wraps the cursor and moves the viewport down.
	row := 0
	for index := 0; index < int(term.viewportWidth*term.viewportHeight); index++ {
		if index != 0 && index%int(term.viewportWidth) == 0 {
			row++
		}
		term.SetColors(uint8((row+index+1)%10), uint8((row+index+2)%10))
		term.WriteByte(byte('0' + (row+index)%10))
	}

	// Activating this terminal should trigger a copy of the terminal viewport
	// contents to the console.
	term.SetState(StateActive)
	row = 1
	for index := 0; index < len(cons.chars); index++ {
		if index != 0 && index%int(cons.width) == 0 {
			row++
		}

		// The viewport starts at the second terminal line
		srcIndex := index + int(cons.width)
		expCh := uint8('0' + (row+srcIndex)%10)
		expFg := uint8((row + srcIndex + 1) % 10)
		expBg := uint8((row + srcIndex + 2) % 10)

		// last line should be blank
		if row == int(cons.height) {
			expCh = ' '
			expFg = 7
			expBg = 0
		}

		if cons.chars[index] != expCh {
			t.Errorf("expected console char at index %d to be %q; got %q", index, expCh, cons.chars[index])
		}

		if cons.fgAttrs[index] != expFg {
			t.Errorf("expected console fg attr at index %d to be %d; got %d", index, expFg, cons.fgAttrs[index])
		}

		if cons.bgAttrs[index] != expBg {
			t.Errorf("expected console bg attr at index %d to be %d; got %d", index, expBg, cons.bgAttrs[index])
		}
	}
}

func TestVTDriverInterface(t *testing.T) {
	var dev device.Driver = NewVT(0, 0)

	if err := dev.DriverInit(nil); err != nil {
		t.Fatal(err)
	}

	if dev.DriverName() == "" {
		t.Fatal("DriverName() returned an empty string")
	}

	if major, minor, patch := dev.DriverVersion(); major+minor+patch == 0 {
		t.Fatal("DriverVersion() returned an invalid version number")
	}
}

func TestVTProbe(t *testing.T) {
	if drv := probeForVT(nil); drv == nil {
		t.Fatal("expected probeForVT to return a driver")
	}
}

type mockConsole struct {
	width, height   uint32
	fg, bg          uint8
	chars           []uint8
	fgAttrs         []uint8
	bgAttrs         []uint8
	bytesWritten    int
	scrollUpCount   int
	scrollDownCount int
}

func newMockConsole(w, h uint32) *mockConsole {
	return &mockConsole{
		width:   w,
		height:  h,
		fg:      7,
		bg:      0,
		chars:   make([]uint8, w*h),
		fgAttrs: make([]uint8, w*h),
		bgAttrs: make([]uint8, w*h),
	}
}

func (cons *mockConsole) Dimensions(_ console.Dimension) (uint32, uint32) {
	return cons.width, cons.height
}

func (cons *mockConsole) DefaultColors() (uint8, uint8) {
	return cons.fg, cons.bg
}

func (cons *mockConsole) Fill(x, y, width, height uint32, fg, bg uint8) {
	for fy := y; fy < y+height; fy++ {
		for fx := x; fx < x+width; fx++ {
			offset := (fy-1)*cons.width + fx - 1
			cons.chars[offset] = ' '
			cons.fgAttrs[offset] = fg
			cons.bgAttrs[offset] = bg
		}
	}
}

func (cons *mockConsole) Scroll(dir console.ScrollDir, lines uint32) {
	switch dir {
	case console.ScrollDirUp:
		cons.scrollUpCount++
	case console.ScrollDirDown:
		cons.scrollDownCount++
	}
}

func (cons *mockConsole) Palette() color.Palette {
	return make(color.Palette, 16)
}

func (cons *mockConsole) SetPaletteColor(index uint8, color color.RGBA) {
}

func (cons *mockConsole) Write(b byte, fg, bg uint8, x, y uint32) {
	offset := ((y - 1) * cons.width) + (x - 1)
	cons.chars[offset] = b
	cons.fgAttrs[offset] = fg
	cons.bgAttrs[offset] = bg
	cons.bytesWritten++
}
