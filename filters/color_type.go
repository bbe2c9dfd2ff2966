package filters

import (
	"fmt"
	"strings"
)

// ColorKind tags the variant of a ColorFilterType.
type ColorKind uint8

const (
	KindNone ColorKind = iota
	KindMagicColor
	KindMagicText
	KindColor
	KindGrayscale
	KindBlackWhite
)

// ColorKinds lists every variant in declaration order.
var ColorKinds = []ColorKind{KindNone, KindMagicColor, KindMagicText, KindColor, KindGrayscale, KindBlackWhite}

var kindNames = map[ColorKind]string{
	KindNone:       "None",
	KindMagicColor: "MagicColor",
	KindMagicText:  "MagicText",
	KindColor:      "Color",
	KindGrayscale:  "Grayscale",
	KindBlackWhite: "BlackWhite",
}

func (k ColorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ColorKind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared variants.
func (k ColorKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// grayscale reports whether the variant produces a single-channel image.
func (k ColorKind) grayscale() bool {
	return k == KindMagicText || k == KindGrayscale || k == KindBlackWhite
}

// ParseColorKind accepts the tag name ("MagicColor") or its kebab/snake form
// ("magic-color", "magic_color"), case-insensitively.
func ParseColorKind(s string) (ColorKind, bool) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	for k, n := range kindNames {
		if strings.ToLower(n) == norm {
			return k, true
		}
	}
	return KindNone, false
}

// Param selects one or more color parameters.
type Param uint8

const (
	ParamBrightness Param = 1 << iota
	ParamSharpness
	ParamContrast

	AllParams = ParamBrightness | ParamSharpness | ParamContrast
)

const (
	minParam = 0
	maxParam = 100
)

type triple struct{ brightness, sharpness, contrast int }

var defaults = map[ColorKind]triple{
	KindNone:       {50, 50, 50},
	KindMagicColor: {50, 60, 55},
	KindMagicText:  {55, 60, 60},
	KindColor:      {50, 50, 50},
	KindGrayscale:  {50, 50, 50},
	KindBlackWhite: {50, 50, 50},
}

// ColorFilterType is a closed family of color presets. Parameters are kept
// as offsets from the variant's defaults, so the zero value is None at its
// defaults. Values are immutable and comparable with ==.
type ColorFilterType struct {
	kind       ColorKind
	brightness int
	sharpness  int
	contrast   int
}

// NewColorFilterType returns kind at its default parameters. Unknown kinds
// map to None.
func NewColorFilterType(kind ColorKind) ColorFilterType {
	if !kind.Valid() {
		kind = KindNone
	}
	return ColorFilterType{kind: kind}
}

func NewNone() ColorFilterType       { return NewColorFilterType(KindNone) }
func NewMagicColor() ColorFilterType { return NewColorFilterType(KindMagicColor) }
func NewMagicText() ColorFilterType  { return NewColorFilterType(KindMagicText) }
func NewColor() ColorFilterType      { return NewColorFilterType(KindColor) }
func NewGrayscale() ColorFilterType  { return NewColorFilterType(KindGrayscale) }
func NewBlackWhite() ColorFilterType { return NewColorFilterType(KindBlackWhite) }

// ColorFilterOf builds a variant with explicit parameters, clamped to 0..100.
func ColorFilterOf(kind ColorKind, brightness, sharpness, contrast int) ColorFilterType {
	return NewColorFilterType(kind).Modify(Params{
		Brightness: &brightness,
		Sharpness:  &sharpness,
		Contrast:   &contrast,
	})
}

func (c ColorFilterType) Kind() ColorKind { return c.kind }
func (c ColorFilterType) Brightness() int { return c.defaults().brightness + c.brightness }
func (c ColorFilterType) Sharpness() int  { return c.defaults().sharpness + c.sharpness }
func (c ColorFilterType) Contrast() int   { return c.defaults().contrast + c.contrast }

func (c ColorFilterType) defaults() triple { return defaults[c.kind] }

func (c ColorFilterType) String() string {
	return fmt.Sprintf("%s(b=%d s=%d c=%d)", c.kind, c.Brightness(), c.Sharpness(), c.Contrast())
}

// Defaults returns the default brightness, sharpness and contrast of kind.
func Defaults(kind ColorKind) (brightness, sharpness, contrast int) {
	d := NewColorFilterType(kind).defaults()
	return d.brightness, d.sharpness, d.contrast
}

// IsChanged reports whether any selected parameter differs from the
// variant's default.
func (c ColorFilterType) IsChanged(params Param) bool {
	return params&ParamBrightness != 0 && c.brightness != 0 ||
		params&ParamSharpness != 0 && c.sharpness != 0 ||
		params&ParamContrast != 0 && c.contrast != 0
}

// Params carries optional overrides for Modify. Nil fields are left as is.
type Params struct {
	Brightness *int
	Sharpness  *int
	Contrast   *int
}

// Value returns a pointer to v, for building Params literals.
func Value(v int) *int { return &v }

// Modify returns the same variant with the given parameters overridden.
func (c ColorFilterType) Modify(p Params) ColorFilterType {
	d := c.defaults()
	if p.Brightness != nil {
		c.brightness = clampParam(*p.Brightness) - d.brightness
	}
	if p.Sharpness != nil {
		c.sharpness = clampParam(*p.Sharpness) - d.sharpness
	}
	if p.Contrast != nil {
		c.contrast = clampParam(*p.Contrast) - d.contrast
	}
	return c
}

// Reset returns the same variant with the selected parameters restored to
// their defaults.
func (c ColorFilterType) Reset(params Param) ColorFilterType {
	if params&ParamBrightness != 0 {
		c.brightness = 0
	}
	if params&ParamSharpness != 0 {
		c.sharpness = 0
	}
	if params&ParamContrast != 0 {
		c.contrast = 0
	}
	return c
}

// Equal reports whether c and o share variant and parameters.
func (c ColorFilterType) Equal(o ColorFilterType) bool { return c == o }

// Key returns a comparable value usable as a map key.
func (c ColorFilterType) Key() ColorFilterType { return c }

func clampParam(v int) int {
	if v < minParam {
		return minParam
	}
	if v > maxParam {
		return maxParam
	}
	return v
}

// nativeRange maps a 0..100 parameter onto the transform range [-1, 1].
func nativeRange(v int) float64 {
	return float64((v-50)*2) / 100
}
