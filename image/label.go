package image

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/nfnt/resize"

	utilInternal "github.com/AlexStarov/labelprint-GoLang-lib/util"
)

// DefaultPixelsPerMm matches a 203 dpi print head.
const DefaultPixelsPerMm = utilInternal.DotsPerMm203

// LabelSize is a label's physical size together with the calibration
// factor used to turn it into pixels.
type LabelSize struct {
	WidthMm, HeightMm float64

	// PixelsPerMm is the calibration factor; zero means DefaultPixelsPerMm.
	PixelsPerMm float64
}

func (l LabelSize) ppm() float64 {
	if l.PixelsPerMm <= 0 {
		return DefaultPixelsPerMm
	}
	return l.PixelsPerMm
}

// Pixels returns the label size in dots. The width is rounded up to a
// multiple of 8 so rows pack into whole bytes.
func (l LabelSize) Pixels() (width, height int, err error) {
	return l.CanvasSize(false)
}

// CanvasSize returns the size of the canvas a renderer should draw on. When
// the design is rotated before printing its height becomes the printed row
// width, so the height is the dimension rounded up to whole bytes.
func (l LabelSize) CanvasSize(rotate bool) (width, height int, err error) {
	width = utilInternal.MmToDots(l.WidthMm, l.ppm())
	height = utilInternal.MmToDots(l.HeightMm, l.ppm())
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("label %.1fx%.1fmm at %.2f px/mm: %w", l.WidthMm, l.HeightMm, l.ppm(), ErrInvalidDimensions)
	}

	if rotate {
		height = utilInternal.AlignUp(height, 8)
	} else {
		width = utilInternal.AlignUp(width, 8)
	}
	return width, height, nil
}

// Canvas returns a white RGBA canvas sized for the label.
func (l LabelSize) Canvas(rotate bool) (*image.RGBA, error) {
	w, h, err := l.CanvasSize(rotate)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
}

// Fit scales src down to fit the label canvas, keeping its aspect ratio,
// and centres it. Images that already fit are not enlarged.
func (l LabelSize) Fit(src image.Image, rotate bool) (*image.RGBA, error) {
	canvas, err := l.Canvas(rotate)
	if err != nil {
		return nil, err
	}
	cb := canvas.Bounds()
	if src.Bounds().Dx() > cb.Dx() || src.Bounds().Dy() > cb.Dy() {
		src = resize.Thumbnail(uint(cb.Dx()), uint(cb.Dy()), src, resize.Lanczos3)
	}

	sb := src.Bounds()
	off := image.Pt((cb.Dx()-sb.Dx())/2, (cb.Dy()-sb.Dy())/2)
	draw.Draw(canvas, image.Rectangle{Min: off, Max: off.Add(sb.Size())}, src, sb.Min, draw.Over)
	return canvas, nil
}
