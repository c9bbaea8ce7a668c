package image

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/nfnt/resize"

	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
	utilInternal "github.com/AlexStarov/labelprint-GoLang-lib/util"
)

// Converter turns a rendered label into a printable bitmap.
type Converter struct {
	// The maximum line width of the printer, in dots. Wider images are
	// scaled down. Zero disables scaling.
	MaxWidth int

	// Luminance threshold between ink and paper, see Rasterize.
	Threshold uint8

	// Rotate the image a quarter turn clockwise before packing. Label
	// printers feed the label lengthwise, so landscape designs need it.
	Rotate bool
}

// NewConverter returns a Converter with the default threshold.
func NewConverter(maxWidth int) *Converter {
	return &Converter{
		MaxWidth:  maxWidth,
		Threshold: DefaultThreshold,
	}
}

// Print converts img and hands the bitmap to target.
func (c *Converter) Print(ctx context.Context, img image.Image, target Target) error {
	bm, err := c.ToBitmap(img)
	if err != nil {
		return err
	}
	return target.PrintBitmap(ctx, bm)
}

// ToBitmap rotates, scales and rasterizes img. The result is padded with
// paper on the right to a whole number of bytes per row.
func (c *Converter) ToBitmap(img image.Image) (*PackedBitmap, error) {
	sz := img.Bounds().Size()
	if sz.X <= 0 || sz.Y <= 0 {
		return nil, fmt.Errorf("source image %dx%d: %w", sz.X, sz.Y, ErrInvalidDimensions)
	}

	if c.Rotate {
		img = Rotate90(img)
	}
	if c.MaxWidth > 0 && img.Bounds().Dx() > c.MaxWidth {
		img = resize.Resize(uint(c.MaxWidth), 0, img, resize.Lanczos3)
	}

	sz = img.Bounds().Size()
	width := utilInternal.AlignUp(sz.X, 8)
	logInternal.LogMessagef(logInternal.DEBUG, "converting %dx%d image to %dx%d raster", sz.X, sz.Y, width, sz.Y)

	return Rasterize(fromImage(img, width), c.Threshold)
}

// FromImage composites src over white paper into an RGBA raster of the
// same size. Transparent areas become paper, not ink.
func FromImage(src image.Image) RasterImage {
	return fromImage(src, src.Bounds().Dx())
}

func fromImage(src image.Image, width int) RasterImage {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, width, b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(0, 0, b.Dx(), b.Dy()), src, b.Min, draw.Over)

	return RasterImage{
		Width:  width,
		Height: b.Dy(),
		Pix:    dst.Pix,
	}
}
