package image

import (
	"fmt"
	"image"
	"image/color"
)

// PackedBitmap is a 1-bit image in the printer's raster layout: rows of
// Stride bytes, 8 pixels per byte, leftmost pixel in the most significant
// bit. A set bit is ink.
type PackedBitmap struct {
	Pix    []byte
	Stride int

	Width, Height int
}

// NewPackedBitmap returns a blank bitmap of the given size.
func NewPackedBitmap(width, height int) *PackedBitmap {
	stride := (width + 7) / 8
	return &PackedBitmap{
		Pix:    make([]byte, stride*height),
		Stride: stride,
		Width:  width,
		Height: height,
	}
}

// Validate checks that the geometry and the pixel buffer agree.
func (b *PackedBitmap) Validate() error {
	if b == nil {
		return fmt.Errorf("nil bitmap: %w", ErrInvalidDimensions)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("bitmap %dx%d: %w", b.Width, b.Height, ErrInvalidDimensions)
	}
	if b.Stride != (b.Width+7)/8 {
		return fmt.Errorf("bitmap stride %d for width %d: %w", b.Stride, b.Width, ErrInvalidDimensions)
	}
	if len(b.Pix) != b.Stride*b.Height {
		return fmt.Errorf("bitmap has %d bytes, want %d: %w", len(b.Pix), b.Stride*b.Height, ErrInvalidDimensions)
	}
	return nil
}

// Row returns the packed bytes of line y.
func (b *PackedBitmap) Row(y int) []byte {
	return b.Pix[y*b.Stride : (y+1)*b.Stride]
}

// InkAt reports whether pixel (x, y) is printed.
func (b *PackedBitmap) InkAt(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Pix[y*b.Stride+x/8]&(0x80>>uint(x%8)) != 0
}

// SetInk sets or clears pixel (x, y).
func (b *PackedBitmap) SetInk(x, y int, ink bool) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	mask := byte(0x80 >> uint(x%8))
	if ink {
		b.Pix[y*b.Stride+x/8] |= mask
	} else {
		b.Pix[y*b.Stride+x/8] &^= mask
	}
}

func (b *PackedBitmap) ColorModel() color.Model { return color.GrayModel }

func (b *PackedBitmap) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

// At renders ink as black and paper as white, so a bitmap can be encoded
// for a preview.
func (b *PackedBitmap) At(x, y int) color.Color {
	if b.InkAt(x, y) {
		return color.Gray{Y: 0}
	}
	return color.Gray{Y: 0xff}
}

func (b *PackedBitmap) String() string {
	return fmt.Sprintf("PackedBitmap(%dx%d, %d bytes/row)", b.Width, b.Height, b.Stride)
}
