package writer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/klauspost/compress/zlib"
)

// ErrUnsupportedJPEG is returned for JPEGs that cannot be embedded as-is.
var ErrUnsupportedJPEG = errors.New("unsupported jpeg")

// Image is an image XObject payload.
type Image struct {
	Width, Height int
	ColorSpace    string
	Filter        string
	Data          []byte
}

// ImageFromJPEG embeds an encoded JPEG without recompressing it.
func ImageFromJPEG(data []byte) (Image, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedJPEG, err)
	}
	var cs string
	switch cfg.ColorModel {
	case color.GrayModel:
		cs = "DeviceGray"
	case color.YCbCrModel:
		cs = "DeviceRGB"
	default:
		return Image{}, fmt.Errorf("%w: color model %T", ErrUnsupportedJPEG, cfg.ColorModel)
	}
	return Image{Width: cfg.Width, Height: cfg.Height, ColorSpace: cs, Filter: "DCTDecode", Data: data}, nil
}

// ImageFromImage stores img as Flate-compressed 8-bit samples, gray when img
// is single channel and RGB otherwise.
func ImageFromImage(img image.Image, level int) (Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var raw []byte
	cs := "DeviceRGB"
	if g, ok := img.(*image.Gray); ok {
		cs = "DeviceGray"
		raw = make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			raw = append(raw, g.Pix[off:off+w]...)
		}
	} else {
		raw = make([]byte, 0, w*h*3)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				raw = append(raw, c.R, c.G, c.B)
			}
		}
	}
	data, err := deflate(raw, level)
	if err != nil {
		return Image{}, err
	}
	return Image{Width: w, Height: h, ColorSpace: cs, Filter: "FlateDecode", Data: data}, nil
}

func deflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	return buf.Bytes(), nil
}

func (img Image) stream() *Stream {
	return &Stream{
		Dict: Dict{
			"Type":             Name("XObject"),
			"Subtype":          Name("Image"),
			"Width":            Int(img.Width),
			"Height":           Int(img.Height),
			"ColorSpace":       Name(img.ColorSpace),
			"BitsPerComponent": Int(8),
			"Filter":           Name(img.Filter),
		},
		Data: img.Data,
	}
}
