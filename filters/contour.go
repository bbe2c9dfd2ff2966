package filters

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a 2-D point in normalized image coordinates, where (0,0) is the
// top-left and (1,1) the bottom-right corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Contour is a document boundary: top-left, top-right, bottom-right,
// bottom-left.
type Contour [4]Point

// FullFrame returns the contour covering the whole image.
func FullFrame() Contour {
	return Contour{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
}

// IsFullFrame reports whether c selects the entire image.
func (c Contour) IsFullFrame() bool {
	const eps = 1e-9
	ff := FullFrame()
	for i := range c {
		if math.Abs(c[i].X-ff[i].X) > eps || math.Abs(c[i].Y-ff[i].Y) > eps {
			return false
		}
	}
	return true
}

// Validate checks that every point is finite and inside the unit square.
func (c Contour) Validate() error {
	for i, p := range c {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("contour point %d is not finite", i)
		}
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("contour point %d (%g,%g) outside unit square", i, p.X, p.Y)
		}
	}
	return nil
}

// ParseContour parses eight comma separated numbers "x1,y1,...,x4,y4".
func ParseContour(s string) (Contour, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 8 {
		return Contour{}, fmt.Errorf("parse contour %q: want 8 comma separated numbers", s)
	}
	var vals [8]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Contour{}, fmt.Errorf("parse contour %q: %w", s, err)
		}
		vals[i] = v
	}
	var c Contour
	for i := range c {
		c[i] = Point{X: vals[2*i], Y: vals[2*i+1]}
	}
	if err := c.Validate(); err != nil {
		return Contour{}, err
	}
	return c, nil
}

// pixels scales c to a w x h image.
func (c Contour) pixels(w, h int) [4]Point {
	var out [4]Point
	for i, p := range c {
		out[i] = Point{X: p.X * float64(w), Y: p.Y * float64(h)}
	}
	return out
}
