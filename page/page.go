// Package page defines the unit of document content: a captured original
// image reference with its filter parameters, and the derived image
// produced from them.
package page

import (
	"github.com/google/uuid"
	"github.com/wudi/pagescan/filters"
)

type (
	Point   = filters.Point
	Contour = filters.Contour
)

// FullFrame returns the contour covering the whole image.
func FullFrame() Contour { return filters.FullFrame() }

// OriginalPicture references the captured image and the filters currently
// applied to it.
type OriginalPicture struct {
	BlobID string
	Crop   filters.CropFilter
	Color  filters.ColorFilterType
	Rotate filters.RotateFilter
}

// ModifiedPicture references the image derived from an OriginalPicture.
type ModifiedPicture struct {
	BlobID string
}

// Page is one page of the current document.
type Page struct {
	ID       string
	Original OriginalPicture
	Modified ModifiedPicture
}

// NewID returns a fresh page id.
func NewID() string { return uuid.NewString() }

// New returns a page for originalBlob cropped to contour, with no color
// adjustment and no rotation. The modified blob is filled in by the caller.
func New(originalBlob string, contour Contour) Page {
	return Page{
		ID: NewID(),
		Original: OriginalPicture{
			BlobID: originalBlob,
			Crop:   filters.NewCropFilter(contour),
			Color:  filters.NewNone(),
			Rotate: filters.NewRotateFilter(0),
		},
	}
}

// Chain returns the filter chain described by the original's parameters.
func (o OriginalPicture) Chain() filters.Chain {
	return filters.Chain{
		Crop:   o.Crop,
		Color:  filters.NewColorFilter(o.Color),
		Rotate: o.Rotate,
	}
}

// SameFilters reports whether o and other carry identical filter parameters.
func (o OriginalPicture) SameFilters(other OriginalPicture) bool {
	return o.Crop == other.Crop && o.Color == other.Color && o.Rotate == other.Rotate
}

func (p Page) WithColor(c filters.ColorFilterType) Page {
	p.Original.Color = c
	return p
}

func (p Page) WithCrop(c Contour) Page {
	p.Original.Crop = filters.NewCropFilter(c)
	return p
}

func (p Page) WithRotation(degrees int) Page {
	p.Original.Rotate = filters.NewRotateFilter(degrees)
	return p
}

// Rotated returns p turned a further delta degrees clockwise.
func (p Page) Rotated(delta int) Page {
	return p.WithRotation(p.Original.Rotate.Degrees + delta)
}

// BlobIDs returns the ids of every blob p references.
func (p Page) BlobIDs() []string {
	ids := make([]string, 0, 2)
	if p.Original.BlobID != "" {
		ids = append(ids, p.Original.BlobID)
	}
	if p.Modified.BlobID != "" {
		ids = append(ids, p.Modified.BlobID)
	}
	return ids
}
