package filters

import (
	"image"
	"image/color"

	"github.com/wudi/pagescan/coords"
	"golang.org/x/image/draw"
)

// RotateFilter rotates an image clockwise by Degrees.
type RotateFilter struct {
	Degrees int `json:"degrees"`
}

// NewRotateFilter returns a rotate filter normalized to [0, 360).
func NewRotateFilter(degrees int) RotateFilter {
	return RotateFilter{Degrees: int(coords.NormalizeDegrees(float64(degrees)))}
}

func (RotateFilter) Type() FilterType { return Rotate }

func (f RotateFilter) Apply(img image.Image) (image.Image, bool) {
	if img == nil {
		return nil, false
	}
	return RotateImage(img, float64(f.Degrees))
}

// RotateImage rotates img clockwise by deg degrees. Quarter turns move pixels
// exactly; other angles resample bilinearly onto a white canvas sized to the
// rotated bounds.
func RotateImage(img image.Image, deg float64) (image.Image, bool) {
	b := img.Bounds()
	if ValidateBounds(b.Dx(), b.Dy()) != nil {
		return nil, false
	}
	d := coords.NormalizeDegrees(deg)
	if d == 0 {
		return clone(img), true
	}
	if d == 90 || d == 180 || d == 270 {
		return rotateQuarter(img, int(d)), true
	}
	return rotateAffine(img, d)
}

func rotateQuarter(img image.Image, deg int) image.Image {
	src := clone(img)
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	dw, dh := w, h
	if deg != 180 {
		dw, dh = h, w
	}
	// dest (x', y') for source (x, y), clockwise in image space.
	to := func(x, y int) (int, int) {
		switch deg {
		case 90:
			return h - 1 - y, x
		case 180:
			return w - 1 - x, h - 1 - y
		default:
			return y, w - 1 - x
		}
	}
	switch s := src.(type) {
	case *image.Gray:
		dst := image.NewGray(image.Rect(0, 0, dw, dh))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx, dy := to(x, y)
				dst.Pix[dy*dst.Stride+dx] = s.Pix[y*s.Stride+x]
			}
		}
		return dst
	case *image.NRGBA:
		dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx, dy := to(x, y)
				copy(dst.Pix[dst.PixOffset(dx, dy):dst.PixOffset(dx, dy)+4], s.Pix[s.PixOffset(x, y):s.PixOffset(x, y)+4])
			}
		}
		return dst
	}
	return src
}

func rotateAffine(img image.Image, deg float64) (image.Image, bool) {
	b := img.Bounds()
	rot := coords.RotateDegrees(deg)
	minX, minY, maxX, maxY := rot.Bounds(float64(b.Dx()), float64(b.Dy()))
	dw, dh := int(maxX-minX+0.5), int(maxY-minY+0.5)
	if ValidateBounds(dw, dh) != nil {
		return nil, false
	}
	s2d := coords.Translate(-float64(b.Min.X), -float64(b.Min.Y)).
		Multiply(rot).
		Multiply(coords.Translate(-minX, -minY))

	rect := image.Rect(0, 0, dw, dh)
	var dst draw.Image
	if img.ColorModel() == color.GrayModel {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewNRGBA(rect)
	}
	draw.Draw(dst, rect, image.White, image.Point{}, draw.Src)
	draw.BiLinear.Transform(dst, s2d.Aff3(), img, b, draw.Over, nil)
	return dst, true
}
