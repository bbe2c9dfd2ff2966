// Package filters implements the crop, color and rotate transforms applied
// to a captured page image. Every filter is a pure function of its input
// image and parameters, so re-running a chain reproduces identical pixels.
package filters

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
)

// ErrUnsupportedImage is returned when an image cannot be processed.
var ErrUnsupportedImage = errors.New("unsupported image")

// FilterType selects one stage of the chain.
type FilterType uint8

const (
	Crop FilterType = iota
	Color
	Rotate
)

// AllFilters is the full chain in application order.
var AllFilters = []FilterType{Crop, Color, Rotate}

func (t FilterType) String() string {
	switch t {
	case Crop:
		return "crop"
	case Color:
		return "color"
	case Rotate:
		return "rotate"
	}
	return fmt.Sprintf("FilterType(%d)", uint8(t))
}

// ParseFilterTypes parses a comma separated list such as "crop,color".
func ParseFilterTypes(s string) ([]FilterType, error) {
	var out []FilterType
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
			continue
		case "crop":
			out = append(out, Crop)
		case "color":
			out = append(out, Color)
		case "rotate":
			out = append(out, Rotate)
		default:
			return nil, fmt.Errorf("unknown filter type %q", part)
		}
	}
	return out, nil
}

// Filter is a single image transform. Apply returns false when the input
// cannot be processed.
type Filter interface {
	Type() FilterType
	Apply(img image.Image) (image.Image, bool)
}

// Chain holds the parameters of the three filters applied to a page.
type Chain struct {
	Crop   CropFilter
	Color  ColorFilter
	Rotate RotateFilter
}

// Filters returns the chain's filters restricted to types, always in the
// fixed order crop, color, rotate. No types selects the full chain.
func (c Chain) Filters(types ...FilterType) []Filter {
	if len(types) == 0 {
		types = AllFilters
	}
	var want [3]bool
	for _, t := range types {
		if int(t) < len(want) {
			want[t] = true
		}
	}
	out := make([]Filter, 0, 3)
	if want[Crop] {
		out = append(out, c.Crop)
	}
	if want[Color] {
		out = append(out, c.Color)
	}
	if want[Rotate] {
		out = append(out, c.Rotate)
	}
	return out
}

// Apply runs the selected filters over img.
func (c Chain) Apply(img image.Image, types ...FilterType) (image.Image, bool) {
	return Apply(img, c.Filters(types...)...)
}

// Apply runs filters sequentially, stopping at the first failure.
func Apply(img image.Image, filters ...Filter) (image.Image, bool) {
	if img == nil {
		return nil, false
	}
	b := img.Bounds()
	if ValidateBounds(b.Dx(), b.Dy()) != nil {
		return nil, false
	}
	out := img
	for _, f := range filters {
		next, ok := f.Apply(out)
		if !ok || next == nil {
			return nil, false
		}
		out = next
	}
	return out, true
}

// toNRGBA copies img into a fresh NRGBA anchored at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// toGray copies img into a fresh Gray anchored at the origin.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// clone returns a copy of img that keeps single-channel images single-channel.
func clone(img image.Image) image.Image {
	if img.ColorModel() == color.GrayModel {
		return toGray(img)
	}
	return toNRGBA(img)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
