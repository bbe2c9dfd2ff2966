package filters

import (
	"image"
	"math"
)

// CropFilter warps the quadrilateral described by Contour onto an upright
// rectangle.
type CropFilter struct {
	Contour Contour `json:"contour"`
}

// NewCropFilter returns a crop filter for c.
func NewCropFilter(c Contour) CropFilter { return CropFilter{Contour: c} }

func (CropFilter) Type() FilterType { return Crop }

func (f CropFilter) Apply(img image.Image) (image.Image, bool) {
	if img == nil || f.Contour.Validate() != nil {
		return nil, false
	}
	if f.Contour.IsFullFrame() {
		return clone(img), true
	}
	b := img.Bounds()
	src := toNRGBA(img)
	quad := f.Contour.pixels(b.Dx(), b.Dy())

	w := int(math.Round(math.Max(dist(quad[0], quad[1]), dist(quad[3], quad[2]))))
	h := int(math.Round(math.Max(dist(quad[0], quad[3]), dist(quad[1], quad[2]))))
	if ValidateBounds(w, h) != nil {
		return nil, false
	}
	dstQuad := [4]Point{{0, 0}, {float64(w), 0}, {float64(w), float64(h)}, {0, float64(h)}}
	hm, ok := homography(dstQuad, quad)
	if !ok {
		return nil, false
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy, ok := hm.project(float64(x)+0.5, float64(y)+0.5)
			if !ok {
				continue
			}
			r, g, bl, a := sampleBilinear(src, sx-0.5, sy-0.5)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = bl
			dst.Pix[i+3] = a
		}
	}
	return dst, true
}

func dist(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

// projective is a 3x3 homography with h[8] fixed at 1.
type projective [9]float64

func (h projective) project(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// homography solves for the projective map taking from[i] to to[i].
func homography(from, to [4]Point) (projective, bool) {
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := from[i].X, from[i].Y
		u, v := to[i].X, to[i].Y
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}
	// Gaussian elimination with partial pivoting.
	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return projective{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}
	var h projective
	for i := 0; i < 8; i++ {
		h[i] = a[i][8] / a[i][i]
	}
	h[8] = 1
	return h, true
}

// sampleBilinear reads src at a fractional position, clamping to the edges.
func sampleBilinear(src *image.NRGBA, x, y float64) (r, g, b, a uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	x = math.Max(0, math.Min(x, float64(w-1)))
	y = math.Max(0, math.Min(y, float64(h-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := src.PixOffset(x0, y0)
	p10 := src.PixOffset(x1, y0)
	p01 := src.PixOffset(x0, y1)
	p11 := src.PixOffset(x1, y1)
	var out [4]uint8
	for c := 0; c < 4; c++ {
		top := float64(src.Pix[p00+c])*(1-fx) + float64(src.Pix[p10+c])*fx
		bot := float64(src.Pix[p01+c])*(1-fx) + float64(src.Pix[p11+c])*fx
		out[c] = clamp8(top*(1-fy) + bot*fy)
	}
	return out[0], out[1], out[2], out[3]
}
