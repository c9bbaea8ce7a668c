package image

import (
	"image"

	"github.com/disintegration/gift"
)

// quarterTurn turns clockwise; gift counts counter-clockwise.
var quarterTurn = gift.New(gift.Rotate270())

// Rotate90 returns src turned a quarter turn clockwise.
func Rotate90(src image.Image) *image.RGBA {
	dst := image.NewRGBA(quarterTurn.Bounds(src.Bounds()))
	quarterTurn.Draw(dst, src)
	return dst
}
