// Package snapshot persists the editing session across process restarts.
//
// Two slots are used. UPLOAD_TARGET holds the upload target as plain JSON.
// PICTURES holds the ordered page list as gzip-compressed JSON in which
// every color filter is a {"type": tag, ...} envelope. Missing or corrupt
// slots restore as absent.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/page"
	"github.com/wudi/pagescan/upload"
)

const (
	KeyUploadTarget = "UPLOAD_TARGET"
	KeyPictures     = "PICTURES"

	// maxPicturesSize caps the decompressed PICTURES slot.
	maxPicturesSize = 32 << 20
)

type Manager struct {
	logger observability.Logger
}

func NewManager(logger observability.Logger) *Manager {
	return &Manager{logger: observability.OrNop(logger)}
}

func (m *Manager) SaveUploadTarget(target upload.Target, c Container) error {
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("encode upload target: %w", err)
	}
	return c.Put(KeyUploadTarget, data)
}

func (m *Manager) RestoreUploadTarget(c Container) (upload.Target, bool) {
	data, ok := c.Get(KeyUploadTarget)
	if !ok {
		return upload.Target{}, false
	}
	var t upload.Target
	if err := json.Unmarshal(data, &t); err != nil {
		m.logger.Warn("discarding corrupt upload target", observability.Err(err))
		return upload.Target{}, false
	}
	return t, !t.IsZero()
}

// SavePictures stores pages, in order, in the PICTURES slot.
func (m *Manager) SavePictures(pages []page.Page, c Container) error {
	data, err := EncodePictures(pages)
	if err != nil {
		m.logger.Warn("encode pictures failed", observability.Err(err))
		return err
	}
	return c.Put(KeyPictures, data)
}

// RestorePictures returns the saved pages, or false when the slot is
// missing or unreadable.
func (m *Manager) RestorePictures(c Container) ([]page.Page, bool) {
	data, ok := c.Get(KeyPictures)
	if !ok {
		return nil, false
	}
	pages, err := DecodePictures(data)
	if err != nil {
		m.logger.Warn("discarding corrupt pictures snapshot", observability.Err(err))
		return nil, false
	}
	return pages, true
}

// Clear removes both slots.
func (m *Manager) Clear(c Container) error {
	if err := c.Remove(KeyPictures); err != nil {
		return err
	}
	return c.Remove(KeyUploadTarget)
}

// EncodePictures serializes and compresses pages.
func EncodePictures(pages []page.Page) ([]byte, error) {
	records := make([]pictureRecord, len(pages))
	for i, p := range pages {
		records[i] = toRecord(p)
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode pictures: %w", err)
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("compress pictures: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress pictures: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress pictures: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePictures is the inverse of EncodePictures.
func DecodePictures(data []byte) ([]page.Page, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress pictures: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxPicturesSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress pictures: %w", err)
	}
	if len(raw) > maxPicturesSize {
		return nil, fmt.Errorf("decompress pictures: larger than %d bytes", maxPicturesSize)
	}
	var records []pictureRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode pictures: %w", err)
	}
	pages := make([]page.Page, len(records))
	for i, r := range records {
		p, err := r.page()
		if err != nil {
			return nil, fmt.Errorf("decode picture %d: %w", i, err)
		}
		pages[i] = p
	}
	return pages, nil
}

type pictureRecord struct {
	ID       string         `json:"id"`
	Original originalRecord `json:"original"`
	Modified modifiedRecord `json:"modified"`
}

type originalRecord struct {
	BlobID string        `json:"blobId"`
	Crop   cropRecord    `json:"cropFilter"`
	Color  colorEnvelope `json:"colorFilter"`
	Rotate rotateRecord  `json:"rotateFilter"`
}

type modifiedRecord struct {
	BlobID string `json:"blobId"`
}

type cropRecord struct {
	Contour [4]filters.Point `json:"contour"`
}

type rotateRecord struct {
	Degrees int `json:"degrees"`
}

// colorEnvelope is the tagged form of a ColorFilterType.
type colorEnvelope struct {
	Type       string `json:"type"`
	Brightness int    `json:"brightness"`
	Sharpness  int    `json:"sharpness"`
	Contrast   int    `json:"contrast"`
}

// colorConstructors maps an envelope tag to its variant.
var colorConstructors = map[string]func() filters.ColorFilterType{
	filters.KindMagicColor.String(): filters.NewMagicColor,
	filters.KindMagicText.String():  filters.NewMagicText,
	filters.KindColor.String():      filters.NewColor,
	filters.KindGrayscale.String():  filters.NewGrayscale,
	filters.KindBlackWhite.String(): filters.NewBlackWhite,
	filters.KindNone.String():       filters.NewNone,
}

func toRecord(p page.Page) pictureRecord {
	c := p.Original.Color
	return pictureRecord{
		ID: p.ID,
		Original: originalRecord{
			BlobID: p.Original.BlobID,
			Crop:   cropRecord{Contour: p.Original.Crop.Contour},
			Color: colorEnvelope{
				Type:       c.Kind().String(),
				Brightness: c.Brightness(),
				Sharpness:  c.Sharpness(),
				Contrast:   c.Contrast(),
			},
			Rotate: rotateRecord{Degrees: p.Original.Rotate.Degrees},
		},
		Modified: modifiedRecord{BlobID: p.Modified.BlobID},
	}
}

func (r pictureRecord) page() (page.Page, error) {
	if r.ID == "" {
		return page.Page{}, fmt.Errorf("missing page id")
	}
	ctor, ok := colorConstructors[r.Original.Color.Type]
	if !ok {
		return page.Page{}, fmt.Errorf("unknown color filter %q", r.Original.Color.Type)
	}
	contour := page.Contour(r.Original.Crop.Contour)
	if err := contour.Validate(); err != nil {
		return page.Page{}, err
	}
	color := ctor().Modify(filters.Params{
		Brightness: filters.Value(r.Original.Color.Brightness),
		Sharpness:  filters.Value(r.Original.Color.Sharpness),
		Contrast:   filters.Value(r.Original.Color.Contrast),
	})
	return page.Page{
		ID: r.ID,
		Original: page.OriginalPicture{
			BlobID: r.Original.BlobID,
			Crop:   filters.NewCropFilter(contour),
			Color:  color,
			Rotate: filters.NewRotateFilter(r.Original.Rotate.Degrees),
		},
		Modified: page.ModifiedPicture{BlobID: r.Modified.BlobID},
	}, nil
}
