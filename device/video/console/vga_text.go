package console

import (
	"encoding/binary"
	"image/color"
	"io"
	"kestrel/device"
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
)

const (
	// DefaultFramebufferAddress is the physical address of the EGA text
	// framebuffer.
	DefaultFramebufferAddress = uintptr(0xb8000)

	// DefaultColumns and DefaultRows describe VGA text mode 0x3.
	DefaultColumns = 80
	DefaultRows    = 25

	// DAC registers used for reprogramming the palette.
	dacWriteIndexPort = 0x3c8
	dacDataPort       = 0x3c9
)

var (
	errFramebufferIO = &kernel.Error{Module: "vga_text_console", Message: "framebuffer is not accessible"}
)

// VgaTextConsole implements an EGA-compatible text console. The console
// supports the default 16 EGA colors which can be overridden using the
// SetPaletteColor method.
//
// Each character in the console framebuffer is represented using two bytes,
// a byte for the character ASCII code and a byte that encodes the foreground
// and background colors (4 bits for each). The console keeps a shadow copy of
// the framebuffer and writes every changed cell through to physical memory.
//
// The default settings for the console are:
//   - light gray text (color 7) on black background (color 0).
//   - space as the clear character
type VgaTextConsole struct {
	hw device.Hardware

	width  uint32
	height uint32

	fbPhysAddr uintptr
	fb         []uint16

	palette   color.Palette
	defaultFg uint8
	defaultBg uint8
	clearChar uint16
}

// NewVgaTextConsole creates a new vga text console with its framebuffer
// located at physical address fbPhysAddr.
func NewVgaTextConsole(hw device.Hardware, columns, rows uint32, fbPhysAddr uintptr) *VgaTextConsole {
	return &VgaTextConsole{
		hw:         hw,
		width:      columns,
		height:     rows,
		fbPhysAddr: fbPhysAddr,
		fb:         make([]uint16, columns*rows),
		clearChar:  uint16(' '),
		palette: color.Palette{
			color.RGBA{R: 0, G: 0, B: 0, A: 255},       /* black */
			color.RGBA{R: 0, G: 0, B: 170, A: 255},     /* blue */
			color.RGBA{R: 0, G: 170, B: 0, A: 255},     /* green */
			color.RGBA{R: 0, G: 170, B: 170, A: 255},   /* cyan */
			color.RGBA{R: 170, G: 0, B: 0, A: 255},     /* red */
			color.RGBA{R: 170, G: 0, B: 170, A: 255},   /* magenta */
			color.RGBA{R: 170, G: 85, B: 0, A: 255},    /* brown */
			color.RGBA{R: 170, G: 170, B: 170, A: 255}, /* light gray */
			color.RGBA{R: 85, G: 85, B: 85, A: 255},    /* dark gray */
			color.RGBA{R: 85, G: 85, B: 255, A: 255},   /* light blue */
			color.RGBA{R: 85, G: 255, B: 85, A: 255},   /* light green */
			color.RGBA{R: 85, G: 255, B: 255, A: 255},  /* light cyan */
			color.RGBA{R: 255, G: 85, B: 85, A: 255},   /* light red */
			color.RGBA{R: 255, G: 85, B: 255, A: 255},  /* light magenta */
			color.RGBA{R: 255, G: 255, B: 85, A: 255},  /* yellow */
			color.RGBA{R: 255, G: 255, B: 255, A: 255}, /* white */
		},
		// light gray text on black background
		defaultFg: 7,
		defaultBg: 0,
	}
}

// Dimensions returns the console width and height in the specified dimension.
func (cons *VgaTextConsole) Dimensions(dim Dimension) (uint32, uint32) {
	switch dim {
	case Characters:
		return cons.width, cons.height
	default:
		return cons.width * 8, cons.height * 16
	}
}

// DefaultColors returns the default foreground and background colors
// used by this console.
func (cons *VgaTextConsole) DefaultColors() (fg uint8, bg uint8) {
	return cons.defaultFg, cons.defaultBg
}

// Fill sets the contents of the specified rectangular region to the requested
// color. Both x and y coordinates are 1-based.
func (cons *VgaTextConsole) Fill(x, y, width, height uint32, fg, bg uint8) {
	var (
		clr                  = (((uint16(bg) << 4) | uint16(fg)) << 8) | cons.clearChar
		rowOffset, colOffset uint32
	)

	// clip rectangle
	if x == 0 {
		x = 1
	} else if x >= cons.width {
		x = cons.width
	}

	if y == 0 {
		y = 1
	} else if y >= cons.height {
		y = cons.height
	}

	if x+width-1 > cons.width {
		width = cons.width - x + 1
	}

	if y+height-1 > cons.height {
		height = cons.height - y + 1
	}

	rowOffset = ((y - 1) * cons.width) + (x - 1)
	for ; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset = rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
		cons.sync(rowOffset, rowOffset+width)
	}
}

// Scroll the console contents to the specified direction. The caller
// is responsible for updating (e.g. clear or replace) the contents of
// the region that was scrolled.
func (cons *VgaTextConsole) Scroll(dir ScrollDir, lines uint32) {
	if lines == 0 || lines > cons.height {
		return
	}

	offset := lines * cons.width
	switch dir {
	case ScrollDirUp:
		copy(cons.fb, cons.fb[offset:])
	case ScrollDirDown:
		copy(cons.fb[offset:], cons.fb)
	}

	cons.sync(0, uint32(len(cons.fb)))
}

// Write a char to the specified location. If fg or bg exceed the supported
// colors for this console, they will be set to their default value. Both x and
// y coordinates are 1-based
func (cons *VgaTextConsole) Write(ch byte, fg, bg uint8, x, y uint32) {
	if x < 1 || x > cons.width || y < 1 || y > cons.height {
		return
	}

	maxColorIndex := uint8(len(cons.palette) - 1)
	if fg > maxColorIndex {
		fg = cons.defaultFg
	}
	if bg > maxColorIndex {
		bg = cons.defaultBg
	}

	offset := ((y - 1) * cons.width) + (x - 1)
	cons.fb[offset] = (((uint16(bg) << 4) | uint16(fg)) << 8) | uint16(ch)
	cons.sync(offset, offset+1)
}

// Cell returns the character and colors stored at the specified location.
// Both x and y coordinates are 1-based.
func (cons *VgaTextConsole) Cell(x, y uint32) (ch byte, fg, bg uint8) {
	if x < 1 || x > cons.width || y < 1 || y > cons.height {
		return 0, 0, 0
	}

	val := cons.fb[((y-1)*cons.width)+(x-1)]
	return byte(val), uint8(val>>8) & 0xf, uint8(val >> 12)
}

// Palette returns the active color palette for this console.
func (cons *VgaTextConsole) Palette() color.Palette {
	return cons.palette
}

// SetPaletteColor updates the color definition for the specified
// palette index. Passing a color index greater than the number of
// supported colors should be a no-op.
func (cons *VgaTextConsole) SetPaletteColor(index uint8, rgba color.RGBA) {
	if index >= uint8(len(cons.palette)) {
		return
	}

	cons.palette[index] = rgba

	// Load palette entry to the DAC. In this mode, colors are specified
	// using 6-bits for each component; the RGB values need to be converted
	// to the 0-63 range.
	cons.hw.PortWriteByte(dacWriteIndexPort, index)
	cons.hw.PortWriteByte(dacDataPort, rgba.R>>2)
	cons.hw.PortWriteByte(dacDataPort, rgba.G>>2)
	cons.hw.PortWriteByte(dacDataPort, rgba.B>>2)
}

// sync writes the cells in [from, to) to the hardware framebuffer.
func (cons *VgaTextConsole) sync(from, to uint32) {
	if from >= to {
		return
	}

	buf := make([]byte, (to-from)*2)
	for i := from; i < to; i++ {
		binary.LittleEndian.PutUint16(buf[(i-from)*2:], cons.fb[i])
	}

	cons.hw.WriteAt(buf, int64(cons.fbPhysAddr)+int64(from)*2)
}

// DriverName returns the name of this driver.
func (cons *VgaTextConsole) DriverName() string {
	return "vga_text_console"
}

// DriverVersion returns the version of this driver.
func (cons *VgaTextConsole) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver by clearing the framebuffer.
func (cons *VgaTextConsole) DriverInit(w io.Writer) *kernel.Error {
	cons.Fill(1, 1, cons.width, cons.height, cons.defaultFg, cons.defaultBg)

	// Read back the last cell to make sure the framebuffer is backed by
	// memory.
	var cell [2]byte
	lastCell := int64(cons.fbPhysAddr) + int64(len(cons.fb)-1)*2
	if _, err := cons.hw.ReadAt(cell[:], lastCell); err != nil || binary.LittleEndian.Uint16(cell[:]) != cons.fb[len(cons.fb)-1] {
		return errFramebufferIO
	}

	kfmt.Fprintf(w, "%dx%d text framebuffer at 0x%x\n", cons.width, cons.height, cons.fbPhysAddr)
	return nil
}

// probeForVgaTextConsole checks for the presence of a vga text console by
// writing a test pattern to the first framebuffer cell and reading it back.
func probeForVgaTextConsole(hw device.Hardware) device.Driver {
	var (
		orig, probe [2]byte
		pattern     = [2]byte{0x55, 0xaa}
		fbAddr      = int64(DefaultFramebufferAddress)
	)

	if _, err := hw.ReadAt(orig[:], fbAddr); err != nil {
		return nil
	}

	hw.WriteAt(pattern[:], fbAddr)
	_, err := hw.ReadAt(probe[:], fbAddr)
	hw.WriteAt(orig[:], fbAddr)

	if err != nil || probe != pattern {
		return nil
	}

	return NewVgaTextConsole(hw, DefaultColumns, DefaultRows, DefaultFramebufferAddress)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForVgaTextConsole,
	})
}
