package server

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/page"
	"github.com/wudi/pagescan/upload"
)

type colorView struct {
	Type       string `json:"type"`
	Brightness int    `json:"brightness"`
	Sharpness  int    `json:"sharpness"`
	Contrast   int    `json:"contrast"`
}

type pageView struct {
	ID         string        `json:"id"`
	Index      int           `json:"index"`
	OriginalID string        `json:"original_blob_id"`
	ModifiedID string        `json:"modified_blob_id"`
	Contour    [4][2]float64 `json:"contour"`
	Color      colorView     `json:"color"`
	Rotation   int           `json:"rotation"`
}

func viewOf(p page.Page, index int) pageView {
	v := pageView{
		ID:         p.ID,
		Index:      index,
		OriginalID: p.Original.BlobID,
		ModifiedID: p.Modified.BlobID,
		Rotation:   p.Original.Rotate.Degrees,
		Color: colorView{
			Type:       p.Original.Color.Kind().String(),
			Brightness: p.Original.Color.Brightness(),
			Sharpness:  p.Original.Color.Sharpness(),
			Contrast:   p.Original.Color.Contrast(),
		},
	}
	for i, pt := range p.Original.Crop.Contour {
		v.Contour[i] = [2]float64{pt.X, pt.Y}
	}
	return v
}

// filtersRequest edits a page. Absent fields keep their current value.
// Switching the color type starts from the new type's defaults.
type filtersRequest struct {
	Color      *string        `json:"color,omitempty"`
	Brightness *int           `json:"brightness,omitempty"`
	Sharpness  *int           `json:"sharpness,omitempty"`
	Contrast   *int           `json:"contrast,omitempty"`
	Rotation   *int           `json:"rotation,omitempty"`
	RotateBy   *int           `json:"rotate_by,omitempty"`
	Contour    *[4][2]float64 `json:"contour,omitempty"`
}

func (r filtersRequest) apply(p page.Page) (page.Page, error) {
	if r.Color != nil {
		kind, ok := filters.ParseColorKind(*r.Color)
		if !ok {
			return p, badRequest(fmt.Errorf("unknown color type %q", *r.Color))
		}
		if kind != p.Original.Color.Kind() {
			p = p.WithColor(filters.NewColorFilterType(kind))
		}
	}
	p = p.WithColor(p.Original.Color.Modify(filters.Params{
		Brightness: r.Brightness,
		Sharpness:  r.Sharpness,
		Contrast:   r.Contrast,
	}))
	if r.Rotation != nil {
		p = p.WithRotation(*r.Rotation)
	}
	if r.RotateBy != nil {
		p = p.Rotated(*r.RotateBy)
	}
	if r.Contour != nil {
		var c page.Contour
		for i, pt := range r.Contour {
			c[i] = page.Point{X: pt[0], Y: pt[1]}
		}
		if err := c.Validate(); err != nil {
			return p, badRequest(err)
		}
		p = p.WithCrop(c)
	}
	return p, nil
}

// previewRequest reads the fields of a filtersRequest from query
// parameters.
func previewRequest(q url.Values) (filtersRequest, error) {
	var req filtersRequest
	if v := q.Get("color"); v != "" {
		req.Color = &v
	}
	ints := []struct {
		key string
		dst **int
	}{
		{"brightness", &req.Brightness},
		{"sharpness", &req.Sharpness},
		{"contrast", &req.Contrast},
		{"rotation", &req.Rotation},
		{"rotate_by", &req.RotateBy},
	}
	for _, f := range ints {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, badRequest(fmt.Errorf("%s: %w", f.key, err))
		}
		*f.dst = &n
	}
	if v := q.Get("contour"); v != "" {
		c, err := filters.ParseContour(v)
		if err != nil {
			return req, badRequest(err)
		}
		var pts [4][2]float64
		for i, pt := range c {
			pts[i] = [2]float64{pt.X, pt.Y}
		}
		req.Contour = &pts
	}
	return req, nil
}

type swapRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type moveRequest struct {
	Index int `json:"index"`
}

// targetRequest accepts either the structured target or "kind:path".
type targetRequest struct {
	upload.Target
	Raw string `json:"target,omitempty"`
}

type exportRequest struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Upload bool   `json:"upload"`
}

type exportResponse struct {
	Files []string `json:"files"`
}
