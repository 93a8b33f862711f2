package console

import (
	"image"

	"github.com/fogleman/gg"
)

const (
	cellWidth  = 8
	cellHeight = 16

	// glyphBaseline is the baseline offset of the raster font inside a
	// cell.
	glyphBaseline = 12
)

// Snapshot renders the current console contents into an image using the
// active palette. Each cell occupies an 8x16 pixel block.
func (cons *VgaTextConsole) Snapshot() image.Image {
	w, h := cons.Dimensions(Pixels)
	dc := gg.NewContext(int(w), int(h))

	dc.SetColor(cons.palette[cons.defaultBg])
	dc.Clear()

	for y := uint32(1); y <= cons.height; y++ {
		for x := uint32(1); x <= cons.width; x++ {
			ch, fg, bg := cons.Cell(x, y)
			px, py := float64((x-1)*cellWidth), float64((y-1)*cellHeight)

			dc.SetColor(cons.palette[bg])
			dc.DrawRectangle(px, py, cellWidth, cellHeight)
			dc.Fill()

			if ch > ' ' && ch < 0x7f {
				dc.SetColor(cons.palette[fg])
				dc.DrawString(string(rune(ch)), px, py+glyphBaseline)
			}
		}
	}

	return dc.Image()
}

// SavePNG renders the console contents and writes them to a PNG file.
func (cons *VgaTextConsole) SavePNG(path string) error {
	return gg.SavePNG(path, cons.Snapshot())
}
