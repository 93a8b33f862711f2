package keyboard

import (
	"bytes"
	"kestrel/device"
	"testing"
)

type fakeController struct {
	pending []uint8
	absent  bool
}

func (c *fakeController) ReadAt([]byte, int64) (int, error)  { return 0, nil }
func (c *fakeController) WriteAt([]byte, int64) (int, error) { return 0, nil }
func (c *fakeController) PortWriteByte(uint16, uint8)        {}

func (c *fakeController) PortReadByte(port uint16) uint8 {
	switch {
	case c.absent:
		return 0xff
	case port == statusPort:
		if len(c.pending) != 0 {
			return statusOutputFull
		}
		return 0
	case port == dataPort && len(c.pending) != 0:
		code := c.pending[0]
		c.pending = c.pending[1:]
		return code
	default:
		return 0
	}
}

func (c *fakeController) press(codes ...uint8) {
	c.pending = append(c.pending, codes...)
}

func readAll(kbd *Keyboard) string {
	var out []byte
	for {
		ch, ok := kbd.ReadByte()
		if !ok {
			return string(out)
		}
		out = append(out, ch)
	}
}

func TestKeyboardTranslation(t *testing.T) {
	specs := []struct {
		codes []uint8
		exp   string
	}{
		// "hi\n"
		{[]uint8{0x23, 0xa3, 0x17, 0x97, 0x1c, 0x9c}, "hi\n"},
		// shift+1, shift+a, a
		{[]uint8{0x2a, 0x02, 0x82, 0x1e, 0x9e, 0xaa, 0x1e, 0x9e}, "!Aa"},
		// right shift + '/'
		{[]uint8{0x36, 0x35, 0xb6, 0x35}, "?/"},
		// caps lock affects letters only
		{[]uint8{0x3a, 0xba, 0x10, 0x02, 0x3a, 0xba, 0x10}, "Q1q"},
		// caps lock + shift gives lower case
		{[]uint8{0x3a, 0xba, 0x2a, 0x10, 0xaa, 0x3a, 0xba}, "q"},
		// keys without a character mapping
		{[]uint8{0x1d, 0x38, 0x3b, 0x39}, " "},
	}

	for specIndex, spec := range specs {
		ctrl := &fakeController{}
		kbd := NewKeyboard(ctrl)
		kbd.Activate()

		ctrl.press(spec.codes...)
		kbd.HandleIRQ()

		if got := readAll(kbd); got != spec.exp {
			t.Errorf("[spec %d] expected to read %q; got %q", specIndex, spec.exp, got)
		}
		if len(ctrl.pending) != 0 {
			t.Errorf("[spec %d] expected HandleIRQ to drain the controller", specIndex)
		}
	}
}

func TestKeyboardInactive(t *testing.T) {
	ctrl := &fakeController{}
	kbd := NewKeyboard(ctrl)

	ctrl.press(0x1e, 0x9e)
	kbd.HandleIRQ()

	if kbd.Active() {
		t.Fatal("expected keyboard to be inactive")
	}
	if got := kbd.Buffered(); got != 0 {
		t.Fatalf("expected key presses to be dropped before activation; %d buffered", got)
	}
	if len(ctrl.pending) != 0 {
		t.Fatal("expected HandleIRQ to drain the controller")
	}

	kbd.Activate()
	ctrl.press(0x1e, 0x9e)
	kbd.HandleIRQ()
	if got := readAll(kbd); got != "a" {
		t.Fatalf("expected to read %q; got %q", "a", got)
	}

	if _, ok := kbd.ReadByte(); ok {
		t.Fatal("expected ReadByte on an empty buffer to return false")
	}
}

func TestKeyboardDriverInterface(t *testing.T) {
	ctrl := &fakeController{pending: []uint8{0x1e, 0x9e}}

	var dev device.Driver = NewKeyboard(ctrl)
	if exp, got := "ps2_keyboard", dev.DriverName(); got != exp {
		t.Fatalf("expected driver name to be %q; got %q", exp, got)
	}

	var buf bytes.Buffer
	if err := dev.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	if exp, got := "flushed 2 stale bytes\n", buf.String(); got != exp {
		t.Fatalf("expected driver init output to be %q; got %q", exp, got)
	}
	if len(ctrl.pending) != 0 {
		t.Fatal("expected DriverInit to drain the controller")
	}
}

func TestKeyboardProbe(t *testing.T) {
	if drv := probeForKeyboard(&fakeController{}); drv == nil {
		t.Fatal("expected probe to detect the keyboard controller")
	}

	if drv := probeForKeyboard(&fakeController{absent: true}); drv != nil {
		t.Fatalf("expected probe to return nil; got %v", drv)
	}
}
