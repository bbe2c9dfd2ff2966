package filters

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Sharpness steps map [-1, 1] onto a gaussian sigma for imaging.Blur and
// imaging.Sharpen.
const (
	sharpenSigma = 2.0
	blurSigma    = 2.0
)

// ColorFilter applies a ColorFilterType preset and then, in order, its
// brightness, contrast and sharpness adjustments. For BlackWhite the
// sharpness parameter drives the binarization threshold instead.
type ColorFilter struct {
	Preset ColorFilterType
}

// NewColorFilter returns the filter applying preset.
func NewColorFilter(preset ColorFilterType) ColorFilter { return ColorFilter{Preset: preset} }

func (ColorFilter) Type() FilterType { return Color }

func (f ColorFilter) Apply(img image.Image) (image.Image, bool) {
	if img == nil {
		return nil, false
	}
	b := img.Bounds()
	if ValidateBounds(b.Dx(), b.Dy()) != nil {
		return nil, false
	}
	p := f.Preset
	kind := p.Kind()
	if !kind.Valid() {
		return nil, false
	}
	out := imaging.Clone(img)
	if kind.grayscale() {
		out = imaging.Grayscale(out)
	}
	out = profile(out, kind)
	if v := nativeRange(p.Brightness()); v != 0 {
		out = imaging.AdjustBrightness(out, v*100)
	}
	if v := nativeRange(p.Contrast()); v != 0 {
		out = imaging.AdjustContrast(out, v*100)
	}
	v := nativeRange(p.Sharpness())
	switch {
	case kind == KindBlackWhite:
		out = threshold(out, v)
	case v > 0:
		out = imaging.Sharpen(out, v*sharpenSigma)
	case v < 0:
		out = imaging.Blur(out, -v*blurSigma)
	}
	if kind.grayscale() {
		return toGray(out), true
	}
	return out, true
}

func profile(img *image.NRGBA, kind ColorKind) *image.NRGBA {
	switch kind {
	case KindColor:
		return stretch(img, 0.01, 0.99)
	case KindMagicColor:
		return imaging.AdjustSaturation(whitePoint(img, 0.95), 25)
	case KindMagicText:
		return stretch(whitePoint(img, 0.95), 0.02, 1)
	case KindBlackWhite:
		return whitePoint(img, 0.95)
	}
	return img
}

// threshold binarizes a grayscale image around 128 shifted by v*100.
func threshold(img *image.NRGBA, v float64) *image.NRGBA {
	t := 128 + v*100
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		l := uint8(0)
		if float64(c.R) >= t {
			l = 255
		}
		return color.NRGBA{R: l, G: l, B: l, A: c.A}
	})
}

// stretch maps the [lo, hi] quantiles of all channels onto [0, 255].
func stretch(img *image.NRGBA, lo, hi float64) *image.NRGBA {
	hist := histogram(img, -1)
	a, b := quantile(hist, lo), quantile(hist, hi)
	if b-a < 1 {
		return img
	}
	scale := 255 / (b - a)
	level := func(v uint8) uint8 { return clamp8((float64(v) - a) * scale) }
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: level(c.R), G: level(c.G), B: level(c.B), A: c.A}
	})
}

// whitePoint scales each channel so its q quantile becomes white.
func whitePoint(img *image.NRGBA, q float64) *image.NRGBA {
	var scale [3]float64
	for ch := range scale {
		scale[ch] = 1
		if wp := quantile(histogram(img, ch), q); wp >= 1 && wp < 255 {
			scale[ch] = 255 / wp
		}
	}
	if scale == [3]float64{1, 1, 1} {
		return img
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(float64(c.R) * scale[0]),
			G: clamp8(float64(c.G) * scale[1]),
			B: clamp8(float64(c.B) * scale[2]),
			A: c.A,
		}
	})
}

// histogram counts channel ch (0 R, 1 G, 2 B), or all three when ch < 0.
func histogram(img *image.NRGBA, ch int) *[256]int {
	var hist [256]int
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			if ch >= 0 {
				hist[row[i+ch]]++
				continue
			}
			hist[row[i]]++
			hist[row[i+1]]++
			hist[row[i+2]]++
		}
	}
	return &hist
}

func quantile(hist *[256]int, q float64) float64 {
	total := 0
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 0
	}
	target := int(math.Ceil(q * float64(total)))
	if target < 1 {
		target = 1
	}
	seen := 0
	for v, n := range hist {
		seen += n
		if seen >= target {
			return float64(v)
		}
	}
	return 255
}
