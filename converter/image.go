package converter

import (
	"image"
	"image/color"
	"log/slog"

	"github.com/Idein/actfw-gstreamer/engine"
)

// RGB is an in-memory image of packed 24-bit RGB pixels.
type RGB struct {
	// Pix holds the pixels in R, G, B order, row by row.
	Pix []uint8
	// Stride is the distance in bytes between vertically adjacent pixels.
	Stride int
	Rect   image.Rectangle
}

var _ image.Image = (*RGB)(nil)

// NewRGB returns an unpadded RGB image of the given size.
func NewRGB(r image.Rectangle) *RGB {
	w, h := r.Dx(), r.Dy()
	return &RGB{Pix: make([]uint8, 3*w*h), Stride: 3 * w, Rect: r}
}

// ColorModel returns color.RGBAModel; every pixel is opaque.
func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

// At returns the pixel at (x, y), or transparent black outside Rect.
func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// Image decodes samples into *RGB using the width, height and format of the
// sample caps. BGR and RGBx are reordered to RGB; row padding is dropped.
type Image struct{}

// Convert maps the sample buffer and copies it into a new *RGB. The buffer
// is unmapped before Convert returns.
func (Image) Convert(s engine.Sample) (any, error) {
	st, err := s.Structure()
	if err != nil {
		return nil, &Error{Op: "caps", Err: err}
	}
	format, err := st.String("format")
	if err != nil {
		return nil, &Error{Op: "caps", Err: err}
	}
	slog.Debug("converter: sample caps", "structure", st.Name, "format", format)

	var bpp int
	switch format {
	case "RGB", "BGR":
		bpp = 3
	case "RGBx":
		bpp = 4
	default:
		return nil, &Error{Op: "convert", Format: format, Err: ErrUnknownFormat}
	}

	w, err := st.Int("width")
	if err != nil {
		return nil, &Error{Op: "caps", Err: err}
	}
	h, err := st.Int("height")
	if err != nil {
		return nil, &Error{Op: "caps", Err: err}
	}

	m, err := mapSample(s)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	if w <= 0 || h <= 0 {
		return nil, &Error{Op: "convert", Format: format, Err: ErrShortBuffer}
	}
	data := m.Bytes()
	srcStride := rowStride(w, bpp)
	if len(data) < srcStride*(h-1)+w*bpp {
		return nil, &Error{Op: "convert", Format: format, Err: ErrShortBuffer}
	}

	img := NewRGB(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := data[y*srcStride : y*srcStride+w*bpp]
		dst := img.Pix[y*img.Stride : (y+1)*img.Stride]
		switch format {
		case "RGB":
			copy(dst, src)
		case "BGR":
			for x := 0; x < w; x++ {
				dst[3*x], dst[3*x+1], dst[3*x+2] = src[3*x+2], src[3*x+1], src[3*x]
			}
		case "RGBx":
			for x := 0; x < w; x++ {
				copy(dst[3*x:3*x+3], src[4*x:4*x+3])
			}
		}
	}
	return img, nil
}

// rowStride is the packed video row size, rounded up to 4 bytes as GStreamer
// lays out RGB and BGR frames.
func rowStride(w, bpp int) int {
	return (w*bpp + 3) &^ 3
}
