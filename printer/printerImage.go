package printer

import (
	"context"
	"fmt"
	"image"

	imgInternal "github.com/AlexStarov/labelprint-GoLang-lib/image"
	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// PrintImage decodes the image at imgPath, converts it with conv and
// prints it. A nil conv uses NewConverter(0).
func (s *Session) PrintImage(ctx context.Context, imgPath string, conv *imgInternal.Converter) (JobInfo, error) {
	img, imgFormat, err := imgInternal.DecodeFile(imgPath)
	if err != nil {
		return JobInfo{}, err
	}
	logInternal.LogMessagef(logInternal.INFO, "loaded %s, format %s, %v", imgPath, imgFormat, img.Bounds().Size())

	return s.PrintRendered(ctx, img, conv)
}

// PrintRendered converts an already rendered label and prints it.
func (s *Session) PrintRendered(ctx context.Context, img image.Image, conv *imgInternal.Converter) (JobInfo, error) {
	if conv == nil {
		conv = imgInternal.NewConverter(0)
	}
	bm, err := conv.ToBitmap(img)
	if err != nil {
		return JobInfo{}, fmt.Errorf("rasterize: %w", err)
	}
	return s.Print(ctx, bm)
}
