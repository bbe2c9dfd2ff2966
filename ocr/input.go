package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"strconv"
)

// InputOption mutates an OCR input.
type InputOption func(*Input)

// WithLanguages sets language hints on the OCR input.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithRegion sets the recognition region on the OCR input.
func WithRegion(region Region) InputOption {
	return func(in *Input) {
		if region.IsEmpty() {
			in.Region = nil
			return
		}
		in.Region = &region
	}
}

func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithMetadata sets provider-specific metadata for the input.
func WithMetadata(metadata map[string]string) InputOption {
	return func(in *Input) {
		if len(metadata) == 0 {
			in.Metadata = nil
			return
		}
		in.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			in.Metadata[k] = v
		}
	}
}

// WithTesseractPSM sets the Tesseract page segmentation mode.
func WithTesseractPSM(mode int) InputOption {
	return withVariable("tessedit_pageseg_mode", strconv.Itoa(mode))
}

// WithTesseractWhitelist limits recognition to chars.
func WithTesseractWhitelist(chars string) InputOption {
	return withVariable("tessedit_char_whitelist", chars)
}

func withVariable(key, value string) InputOption {
	return func(in *Input) {
		if in.Metadata == nil {
			in.Metadata = make(map[string]string)
		}
		in.Metadata[key] = value
	}
}

// InputFromFile reads an encoded page image. The format is sniffed from the
// content.
func InputFromFile(path string, pageIndex int, opts ...InputOption) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read ocr input: %w", err)
	}
	in := Input{
		ID:        fmt.Sprintf("page-%d", pageIndex+1),
		Image:     data,
		Format:    sniffFormat(data),
		PageIndex: pageIndex,
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}

// InputFromImage encodes img as PNG.
func InputFromImage(img image.Image, pageIndex int, opts ...InputOption) (Input, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Input{}, fmt.Errorf("encode ocr input: %w", err)
	}
	in := Input{
		ID:        fmt.Sprintf("page-%d", pageIndex+1),
		Image:     buf.Bytes(),
		Format:    ImageFormatPNG,
		PageIndex: pageIndex,
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}

func sniffFormat(data []byte) ImageFormat {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ImageFormatJPEG
	case "image/png":
		return ImageFormatPNG
	}
	if len(data) >= 4 && (string(data[:4]) == "II*\x00" || string(data[:4]) == "MM\x00*") {
		return ImageFormatTIFF
	}
	return ImageFormatPNG
}

// RecognizeAll runs engine over inputs sequentially, stopping at the first
// error or cancellation.
func RecognizeAll(ctx context.Context, engine Engine, inputs []Input) ([]Result, error) {
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}
