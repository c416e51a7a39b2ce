package inference

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"io"
	"strconv"
)

// ContentType is the request and response type of every endpoint
const ContentType = "application/json"

// EncodeInstances writes {"instances": [pixels]} where pixels is the image
// as an H x W x 3 array of integer RGB channel values. Alpha is dropped.
func EncodeInstances(w io.Writer, img image.Image) error {
	bw := bufio.NewWriter(w)
	b := img.Bounds()
	num := make([]byte, 0, 4)

	bw.WriteString(`{"instances":[[`)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y > b.Min.Y {
			bw.WriteByte(',')
		}
		bw.WriteByte('[')
		for x := b.Min.X; x < b.Max.X; x++ {
			if x > b.Min.X {
				bw.WriteByte(',')
			}
			r, g, bl := rgb8(img, x, y)
			bw.WriteByte('[')
			num = strconv.AppendInt(num[:0], int64(r), 10)
			bw.Write(num)
			bw.WriteByte(',')
			num = strconv.AppendInt(num[:0], int64(g), 10)
			bw.Write(num)
			bw.WriteByte(',')
			num = strconv.AppendInt(num[:0], int64(bl), 10)
			bw.Write(num)
			bw.WriteByte(']')
		}
		bw.WriteByte(']')
	}
	bw.WriteString(`]]}`)
	return bw.Flush()
}

// BuildRequest returns the encoded request body for img
func BuildRequest(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	b := img.Bounds()
	buf.Grow(b.Dx()*b.Dy()*12 + 32)
	if err := EncodeInstances(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rgb8 returns the 8-bit RGB channels of a pixel. Colors are read
// non-premultiplied so that alpha never darkens the channel values.
func rgb8(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch m := img.(type) {
	case *image.NRGBA:
		i := m.PixOffset(x, y)
		return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
	case *image.YCbCr:
		c := m.YCbCrAt(x, y)
		r, g, b, _ := c.RGBA()
		return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
	}
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.G, c.B
}
