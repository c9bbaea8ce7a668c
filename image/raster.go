package image

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold splits luminance into ink (below) and paper.
const DefaultThreshold = 128

// ErrInvalidDimensions is returned for images whose size or pixel buffer
// cannot describe a printable raster.
var ErrInvalidDimensions = errors.New("invalid image dimensions")

// RasterImage is a row-major RGBA pixel buffer, 4 bytes per pixel.
type RasterImage struct {
	Width, Height int
	Pix           []byte
}

// Validate checks that Pix holds exactly Width*Height RGBA samples.
func (r RasterImage) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("raster %dx%d: %w", r.Width, r.Height, ErrInvalidDimensions)
	}
	if r.Width > math.MaxInt32/4/r.Height {
		return fmt.Errorf("raster %dx%d too large: %w", r.Width, r.Height, ErrInvalidDimensions)
	}
	if want := r.Width * r.Height * 4; len(r.Pix) != want {
		return fmt.Errorf("raster %dx%d has %d bytes, want %d: %w", r.Width, r.Height, len(r.Pix), want, ErrInvalidDimensions)
	}
	return nil
}

// Rasterize packs img into a 1-bit bitmap. A pixel is ink when the plain
// mean of its red, green and blue samples is below threshold; alpha is
// ignored. Rows whose width is not a multiple of 8 are padded with paper
// bits.
func Rasterize(img RasterImage, threshold uint8) (*PackedBitmap, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	bm := NewPackedBitmap(img.Width, img.Height)
	t := int(threshold)
	rowLen := img.Width * 4

	for y := 0; y < img.Height; y++ {
		src := img.Pix[y*rowLen : (y+1)*rowLen]
		dst := bm.Row(y)
		for x := 0; x < img.Width; x++ {
			r, g, b := int(src[x*4]), int(src[x*4+1]), int(src[x*4+2])
			if (r+g+b)/3 < t {
				// position in dst is x / 8, leftmost pixel in bit 7
				dst[x/8] |= 0x80 >> uint(x%8)
			}
		}
	}

	return bm, nil
}
