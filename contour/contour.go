// Package contour defines the document boundary detector consumed when a
// page is captured.
package contour

import (
	"context"
	"image"

	"github.com/wudi/pagescan/page"
)

// Detector finds the document boundary in a captured image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (page.Contour, error)
}

// FullFrame selects the whole image. It is used when no detector is
// configured or the user skips boundary selection.
type FullFrame struct{}

func (FullFrame) Detect(ctx context.Context, _ image.Image) (page.Contour, error) {
	if err := ctx.Err(); err != nil {
		return page.Contour{}, err
	}
	return page.FullFrame(), nil
}

// Fixed always returns C, for callers that already know the boundary.
type Fixed struct{ C page.Contour }

func (f Fixed) Detect(ctx context.Context, _ image.Image) (page.Contour, error) {
	if err := ctx.Err(); err != nil {
		return page.Contour{}, err
	}
	return f.C, f.C.Validate()
}

// DetectOrFull runs d and falls back to the full frame on error or when d
// is nil.
func DetectOrFull(ctx context.Context, d Detector, img image.Image) page.Contour {
	if d == nil {
		return page.FullFrame()
	}
	c, err := d.Detect(ctx, img)
	if err != nil || c.Validate() != nil {
		return page.FullFrame()
	}
	return c
}
