package imageops

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tendant/image-inference-pipeline/internal/detections"
)

// Palette maps a confidence decile to a color: 1 is red (0-10%), 10 is
// bright green (90-100%).
var Palette = map[int]color.NRGBA{
	1:  {255, 0, 0, 255},
	2:  {227, 29, 1, 255},
	3:  {199, 57, 2, 255},
	4:  {170, 85, 3, 255},
	5:  {142, 114, 4, 255},
	6:  {114, 142, 5, 255},
	7:  {85, 170, 6, 255},
	8:  {57, 199, 7, 255},
	9:  {29, 227, 8, 255},
	10: {0, 255, 9, 255},
}

// MaxColorIndex is the highest index present in Palette.
const MaxColorIndex = 10

// ColorIndex returns the palette index for a confidence in [0, 1].
// A confidence of exactly 1.0 yields 11, which is not in Palette.
func ColorIndex(confidence float64) int {
	return int(detections.RoundTo(confidence*100, 2)/10) + 1
}

// PaletteColor looks up a palette color; ok is false for indexes outside 1..10.
func PaletteColor(index int) (color.NRGBA, bool) {
	c, ok := Palette[index]
	return c, ok
}

// BoxThickness is the number of concentric 1-pixel rectangles drawn per box
const BoxThickness = 3

// Canvas is a drawable copy of an image.
type Canvas struct {
	img  *image.NRGBA
	face font.Face
}

// NewCanvas copies img into a drawable canvas.
func NewCanvas(img image.Image) *Canvas {
	return &Canvas{
		img:  imaging.Clone(img),
		face: basicfont.Face7x13,
	}
}

// Image returns the canvas contents.
func (c *Canvas) Image() *image.NRGBA {
	return c.img
}

// Size returns the canvas width and height in pixels.
func (c *Canvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// PixelBox converts fractional left, top, right, bottom coordinates into pixels.
func (c *Canvas) PixelBox(left, top, right, bottom float64) (x1, y1, x2, y2 float64) {
	w, h := c.Size()
	return left * float64(w), top * float64(h), right * float64(w), bottom * float64(h)
}

// DrawLabeledBox draws text with its top-left corner at (x1, y1) and
// BoxThickness rectangles growing outward from (x1, y1, x2, y2).
func (c *Canvas) DrawLabeledBox(x1, y1, x2, y2 float64, text string, col color.NRGBA) {
	c.DrawText(int(x1), int(y1), text, col)
	for l := 0; l < BoxThickness; l++ {
		c.DrawRect(int(x1)-l, int(y1)-l, int(x2)+l, int(y2)+l, col)
	}
}

// DrawText draws text with its top-left corner at (x, y).
func (c *Canvas) DrawText(x, y int, text string, col color.NRGBA) {
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(x, y+c.face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

// DrawRect draws a 1-pixel rectangle outline. Both corners are inclusive and
// pixels outside the canvas are skipped.
func (c *Canvas) DrawRect(x0, y0, x1, y1 int, col color.NRGBA) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for x := x0; x <= x1; x++ {
		c.set(x, y0, col)
		c.set(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		c.set(x0, y, col)
		c.set(x1, y, col)
	}
}

func (c *Canvas) set(x, y int, col color.NRGBA) {
	if !(image.Point{x, y}).In(c.img.Bounds()) {
		return
	}
	c.img.SetNRGBA(x, y, col)
}
