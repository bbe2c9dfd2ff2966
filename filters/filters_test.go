package filters

import (
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// gradient is a deterministic test pattern with some color variation.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 0xff})
		}
	}
	return img
}

func samePixels(a, b image.Image) bool {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return false
	}
	ab, bb := a.Bounds(), b.Bounds()
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ca := color.NRGBAModel.Convert(a.At(ab.Min.X+x, ab.Min.Y+y))
			cb := color.NRGBAModel.Convert(b.At(bb.Min.X+x, bb.Min.Y+y))
			if ca != cb {
				return false
			}
		}
	}
	return true
}

func TestChainIsIdempotent(t *testing.T) {
	src := gradient(64, 48)
	chain := Chain{
		Crop:   NewCropFilter(Contour{{0.1, 0.1}, {0.9, 0.05}, {0.95, 0.9}, {0.05, 0.95}}),
		Color:  NewColorFilter(NewMagicColor().Modify(Params{Contrast: Value(70)})),
		Rotate: NewRotateFilter(90),
	}
	a, ok := chain.Apply(src)
	if !ok {
		t.Fatalf("Apply() failed")
	}
	b, ok := chain.Apply(src)
	if !ok {
		t.Fatalf("second Apply() failed")
	}
	if !samePixels(a, b) {
		t.Fatalf("chain output differs between runs")
	}
}

func TestChainSubsetOrder(t *testing.T) {
	chain := Chain{Crop: NewCropFilter(FullFrame()), Color: NewColorFilter(NewGrayscale()), Rotate: NewRotateFilter(90)}
	fs := chain.Filters(Rotate, Crop)
	if len(fs) != 2 || fs[0].Type() != Crop || fs[1].Type() != Rotate {
		t.Fatalf("Filters() = %v, want crop then rotate", fs)
	}
	if got := chain.Filters(); len(got) != 3 {
		t.Fatalf("Filters() with no types should return the full chain, got %d", len(got))
	}

	out, ok := chain.Apply(gradient(30, 10), Crop, Color)
	if !ok {
		t.Fatalf("Apply(crop,color) failed")
	}
	if out.Bounds().Dx() != 30 || out.Bounds().Dy() != 10 {
		t.Fatalf("crop+color must not rotate: %v", out.Bounds())
	}
	if _, gray := out.(*image.Gray); !gray {
		t.Fatalf("grayscale preset should produce *image.Gray, got %T", out)
	}
}

func TestCropFullFrameCopies(t *testing.T) {
	src := gradient(20, 10)
	out, ok := NewCropFilter(FullFrame()).Apply(src)
	if !ok || !samePixels(src, out) {
		t.Fatalf("full-frame crop should copy the input")
	}
}

func TestCropWarpsQuadrilateral(t *testing.T) {
	src := solid(100, 100, color.White)
	// paint the right half red; cropping the right half must give an all red page
	for y := 0; y < 100; y++ {
		for x := 50; x < 100; x++ {
			src.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	out, ok := NewCropFilter(Contour{{0.6, 0.1}, {0.9, 0.1}, {0.9, 0.9}, {0.6, 0.9}}).Apply(src)
	if !ok {
		t.Fatalf("crop failed")
	}
	if out.Bounds().Dx() != 30 || out.Bounds().Dy() != 80 {
		t.Fatalf("crop bounds = %v, want 30x80", out.Bounds())
	}
	r, g, b, _ := out.At(15, 40).RGBA()
	if r>>8 != 255 || g != 0 || b != 0 {
		t.Fatalf("crop sampled wrong region: %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestCropRejectsDegenerateContour(t *testing.T) {
	c := Contour{{0.5, 0.5}, {0.5, 0.5}, {0.5, 0.5}, {0.5, 0.5}}
	if _, ok := NewCropFilter(c).Apply(gradient(10, 10)); ok {
		t.Fatalf("degenerate contour should fail")
	}
}

func TestColorPresets(t *testing.T) {
	src := gradient(40, 40)
	for _, kind := range ColorKinds {
		out, ok := NewColorFilter(NewColorFilterType(kind)).Apply(src)
		if !ok {
			t.Fatalf("%v failed", kind)
		}
		_, gray := out.(*image.Gray)
		if gray != kind.grayscale() {
			t.Fatalf("%v produced %T", kind, out)
		}
	}
	out, _ := NewColorFilter(NewNone()).Apply(src)
	if !samePixels(src, out) {
		t.Fatalf("None at defaults must be the identity")
	}
}

func TestSharpnessBelowDefaultSoftens(t *testing.T) {
	src := solid(9, 9, color.Black)
	src.SetNRGBA(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	out, ok := NewColorFilter(NewColor().Modify(Params{Sharpness: Value(0)})).Apply(src)
	if !ok {
		t.Fatalf("soften failed")
	}
	center, _, _, _ := out.At(4, 4).RGBA()
	near, _, _, _ := out.At(5, 4).RGBA()
	if center>>8 == 255 || near>>8 == 0 {
		t.Fatalf("soften should spread the bright pixel: center=%d near=%d", center>>8, near>>8)
	}
}

func TestBlackWhiteIsBinary(t *testing.T) {
	out, ok := NewColorFilter(NewBlackWhite()).Apply(gradient(32, 32))
	if !ok {
		t.Fatalf("black/white failed")
	}
	for _, v := range out.(*image.Gray).Pix {
		if v != 0 && v != 255 {
			t.Fatalf("black/white produced gray level %d", v)
		}
	}
}

func TestBrightnessRaisesLevels(t *testing.T) {
	src := solid(4, 4, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	out, _ := NewColorFilter(NewColor().Modify(Params{Brightness: Value(75)})).Apply(src)
	r, _, _, _ := out.At(1, 1).RGBA()
	if got := r >> 8; got < 227 || got > 228 {
		t.Fatalf("brightness +0.5 should add half the range, got %d", got)
	}
}

func TestRotateQuarterTurns(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	out, ok := NewRotateFilter(90).Apply(src)
	if !ok {
		t.Fatalf("rotate failed")
	}
	if out.Bounds().Dx() != 2 || out.Bounds().Dy() != 3 {
		t.Fatalf("rotated bounds = %v", out.Bounds())
	}
	if r, _, _, _ := out.At(1, 0).RGBA(); r>>8 != 255 {
		t.Fatalf("top-left pixel should move to top-right")
	}
	back, _ := NewRotateFilter(-90).Apply(out)
	if !samePixels(src, back) {
		t.Fatalf("rotating back should restore the original")
	}
	if NewRotateFilter(-90).Degrees != 270 {
		t.Fatalf("NewRotateFilter should normalize degrees")
	}
}

func TestRotateArbitraryAngleGrowsCanvas(t *testing.T) {
	out, ok := RotateImage(solid(100, 50, color.Black), 45)
	if !ok {
		t.Fatalf("rotate failed")
	}
	if out.Bounds().Dx() <= 100 || out.Bounds().Dy() <= 50 {
		t.Fatalf("45 degree rotation should enlarge bounds, got %v", out.Bounds())
	}
	if r, g, b, _ := out.At(0, 0).RGBA(); r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Fatalf("corners should be white background")
	}
}

func TestParseFilterTypes(t *testing.T) {
	got, err := ParseFilterTypes("crop, color")
	if err != nil || len(got) != 2 || got[0] != Crop || got[1] != Color {
		t.Fatalf("ParseFilterTypes() = %v, %v", got, err)
	}
	if _, err := ParseFilterTypes("blur"); err == nil {
		t.Fatalf("expected error for unknown filter")
	}
}

func TestParseContour(t *testing.T) {
	c, err := ParseContour("0,0,1,0,1,1,0,1")
	if err != nil || !c.IsFullFrame() {
		t.Fatalf("ParseContour() = %v, %v", c, err)
	}
	if _, err := ParseContour("0,0,1,0,1,1,0,2"); err == nil {
		t.Fatalf("out of range contour should fail")
	}
	if _, err := ParseContour("0,0"); err == nil {
		t.Fatalf("short contour should fail")
	}
}
