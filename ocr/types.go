// Package ocr defines the text recognition contract used to build the
// searchable text layer of exported PDFs, and the provider that reports
// which recognition languages have their trained data installed.
package ocr

import "context"

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatTIFF ImageFormat = "image/tiff"
)

// Region describes a rectangular area in pixel coordinates with the origin in
// the upper-left corner of the image.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Input is one page image submitted for recognition.
type Input struct {
	// ID is echoed back in the corresponding Result.
	ID string
	// Image is the encoded payload in Format.
	Image  []byte
	Format ImageFormat
	// PageIndex is the zero-based position of the page in the document.
	PageIndex int
	// DPI is the effective resolution of Image; zero means unknown.
	DPI       int
	Languages []string
	// Region restricts recognition to part of the image. Nil means the full
	// image.
	Region *Region
	// Metadata passes engine-specific variables through (e.g. the Tesseract
	// page segmentation mode).
	Metadata map[string]string
}

// TextWord represents a single recognized token.
type TextWord struct {
	Text       string
	Bounds     Region
	Confidence float64
}

// TextLine groups words that share a baseline.
type TextLine struct {
	Text       string
	Bounds     Region
	Words      []TextWord
	Confidence float64
}

// TextBlock aggregates lines that form a logical block.
type TextBlock struct {
	Text       string
	Bounds     Region
	Lines      []TextLine
	Confidence float64
}

// Result captures OCR output for a single input image.
type Result struct {
	InputID   string
	PlainText string
	Blocks    []TextBlock
	Language  string
}

// Words flattens every recognized word in reading order.
func (r Result) Words() []TextWord {
	var out []TextWord
	for _, b := range r.Blocks {
		for _, l := range b.Lines {
			out = append(out, l.Words...)
		}
	}
	return out
}

// Engine recognizes text in one image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}
