package printer

import (
	"fmt"

	utilInternal "github.com/AlexStarov/labelprint-GoLang-lib/util"
)

// Control characters
const (
	esc = 0x1b
	gs  = 0x1d
	us  = 0x1f
)

var (
	cmdInit        = []byte{esc, '@'}           // ESC @, reset the printer
	cmdRasterImage = []byte{gs, 'v', '0', 0x00} // GS v 0 m, print raster bit image, normal mode
	cmdFeedCut     = []byte{esc, 'd', 0x00}     // ESC d 0, end of label
)

// MediaType tells the printer how to find the end of a label.
type MediaType byte

const (
	MediaGaps       MediaType = 0x0a
	MediaContinuous MediaType = 0x0b
	MediaMarks      MediaType = 0x26
)

// Preamble holds optional settings sent after the reset. Zero fields are
// not sent.
type Preamble struct {
	Speed   byte // 1 (slow) .. 5 (fast)
	Density byte // 1 .. 15
	Media   MediaType
}

func (p Preamble) bytes() []byte {
	var out []byte
	if p.Speed != 0 {
		out = append(out, esc, 'N', 0x0d, p.Speed)
	}
	if p.Density != 0 {
		out = append(out, esc, 'N', 0x04, p.Density)
	}
	if p.Media != 0 {
		out = append(out, us, 0x11, byte(p.Media))
	}
	return out
}

// rasterHeader builds GS v 0 m xL xH yL yH for a bitmap of bytesPerRow
// bytes by rows lines.
func rasterHeader(bytesPerRow, rows int) ([]byte, error) {
	x, err := utilInternal.IntLowHigh(bytesPerRow, 2)
	if err != nil {
		return nil, fmt.Errorf("raster width %d bytes: %w", bytesPerRow, ErrInvalidDimensions)
	}
	y, err := utilInternal.IntLowHigh(rows, 2)
	if err != nil {
		return nil, fmt.Errorf("raster height %d lines: %w", rows, ErrInvalidDimensions)
	}

	header := make([]byte, 0, len(cmdRasterImage)+4)
	header = append(header, cmdRasterImage...)
	header = append(header, x...)
	header = append(header, y...)
	return header, nil
}
