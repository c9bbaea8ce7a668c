package image

import "context"

// Target is a receiver of packed bitmaps, usually a printer session.
type Target interface {
	PrintBitmap(ctx context.Context, bm *PackedBitmap) error
}
