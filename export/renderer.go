package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/ocr"
	"github.com/wudi/pagescan/writer"
	"golang.org/x/image/draw"
)

// Profile fixes the page layout of rendered PDFs.
type Profile struct {
	// PageWidth and PageHeight give the portrait page size in points. A page
	// whose image is wider than tall is laid out landscape.
	PageWidth  float64
	PageHeight float64
	Margin     float64
	// DPI caps the resolution images are embedded at. Larger images are
	// resampled with Catmull-Rom.
	DPI int
}

// DefaultProfile is A4 with a small margin at 200 DPI.
var DefaultProfile = Profile{PageWidth: 595, PageHeight: 842, Margin: 18, DPI: 200}

// RenderJob describes one PDF to produce.
type RenderJob struct {
	Files  []string
	Output string
	Title  string
	// OCR, when set, adds an invisible text layer recognized in Languages.
	OCR        ocr.Engine
	Languages  []string
	OCROptions []ocr.InputOption
}

// Renderer turns an ordered list of page image files into a PDF.
type Renderer interface {
	Render(ctx context.Context, job RenderJob) error
}

// PDFRenderer renders with the writer package.
type PDFRenderer struct {
	Profile Profile
	Logger  observability.Logger
	Tracer  observability.Tracer
}

func (r *PDFRenderer) profile() Profile {
	p := r.Profile
	if p.PageWidth <= 0 || p.PageHeight <= 0 {
		p.PageWidth, p.PageHeight = DefaultProfile.PageWidth, DefaultProfile.PageHeight
	}
	if p.Margin < 0 || 2*p.Margin >= math.Min(p.PageWidth, p.PageHeight) {
		p.Margin = 0
	}
	return p
}

func (r *PDFRenderer) Render(ctx context.Context, job RenderJob) error {
	logger := observability.OrNop(r.Logger)
	tracer := r.Tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	prof := r.profile()
	doc := writer.New(writer.WithInfo(writer.Info{Title: job.Title, Producer: "pagescan"}))
	for i, path := range job.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrReadFailed, i+1, err)
		}
		pg, err := layoutPage(prof, data)
		if err != nil {
			return fmt.Errorf("%w: page %d: %w", ErrRenderFailed, i+1, err)
		}
		if job.OCR != nil {
			spanCtx, span := tracer.StartSpan(ctx, observability.SpanRecognize)
			words, err := recognize(spanCtx, job, path, i, pg)
			if err != nil {
				span.SetError(err)
				span.Finish()
				return fmt.Errorf("%w: page %d: %w", ErrRecognizeFailed, i+1, err)
			}
			span.SetTag("words", len(words))
			span.Finish()
			pg.page.Words = words
		}
		if err := doc.AddPage(pg.page); err != nil {
			return fmt.Errorf("%w: page %d: %w", ErrRenderFailed, i+1, err)
		}
		logger.Debug("page rendered", observability.Int("page", i+1), observability.Int("words", len(pg.page.Words)))
	}
	f, err := os.Create(job.Output)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	if _, err := doc.Write(ctx, f); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return nil
}

// laidOut is a page ready for the writer plus the pixel size of the source
// file, which OCR word boxes refer to.
type laidOut struct {
	page       writer.Page
	srcW, srcH int
}

// layoutPage fits the image inside the margins, centered, keeping its aspect
// ratio, and picks the page orientation from the image.
func layoutPage(prof Profile, data []byte) (laidOut, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return laidOut{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return laidOut{}, fmt.Errorf("empty image")
	}
	pw, ph := prof.PageWidth, prof.PageHeight
	if (cfg.Width > cfg.Height) != (pw > ph) {
		pw, ph = ph, pw
	}
	availW, availH := pw-2*prof.Margin, ph-2*prof.Margin
	scale := math.Min(availW/float64(cfg.Width), availH/float64(cfg.Height))
	drawW, drawH := float64(cfg.Width)*scale, float64(cfg.Height)*scale
	rect := writer.Rect{X: (pw - drawW) / 2, Y: (ph - drawH) / 2, Width: drawW, Height: drawH}

	img, err := embedImage(data, cfg.Width, cfg.Height, drawW, drawH, prof.DPI)
	if err != nil {
		return laidOut{}, err
	}
	return laidOut{
		page: writer.Page{Width: pw, Height: ph, Image: img, ImageRect: rect},
		srcW: cfg.Width,
		srcH: cfg.Height,
	}, nil
}

// embedImage passes JPEGs through untouched when they are within the DPI
// cap and otherwise decodes, downsamples if needed, and Flate-compresses.
func embedImage(data []byte, w, h int, drawW, drawH float64, dpi int) (writer.Image, error) {
	targetW, targetH := w, h
	if dpi > 0 {
		maxW := int(math.Ceil(drawW / 72 * float64(dpi)))
		maxH := int(math.Ceil(drawH / 72 * float64(dpi)))
		if w > maxW || h > maxH {
			targetW, targetH = max(1, maxW), max(1, maxH)
		}
	}
	if targetW == w && targetH == h {
		if img, err := writer.ImageFromJPEG(data); err == nil {
			return img, nil
		}
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return writer.Image{}, err
	}
	if targetW != w || targetH != h {
		rect := image.Rect(0, 0, targetW, targetH)
		var dst draw.Image
		if _, gray := src.(*image.Gray); gray {
			dst = image.NewGray(rect)
		} else {
			dst = image.NewNRGBA(rect)
		}
		draw.CatmullRom.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
		src = dst
	}
	return writer.ImageFromImage(src, 6)
}

// recognize runs OCR on the page file and maps word boxes from image pixels
// (top-left origin) onto the page (bottom-left origin).
func recognize(ctx context.Context, job RenderJob, path string, index int, pg laidOut) ([]writer.Word, error) {
	rect := pg.page.ImageRect
	dpi := int(math.Round(float64(pg.srcW) / (rect.Width / 72)))
	opts := append([]ocr.InputOption{ocr.WithLanguages(job.Languages...), ocr.WithDPI(dpi)}, job.OCROptions...)
	in, err := ocr.InputFromFile(path, index, opts...)
	if err != nil {
		return nil, err
	}
	res, err := job.OCR.Recognize(ctx, in)
	if err != nil {
		return nil, err
	}
	sx := rect.Width / float64(pg.srcW)
	sy := rect.Height / float64(pg.srcH)
	var words []writer.Word
	for _, w := range res.Words() {
		if w.Text == "" || w.Bounds.IsEmpty() {
			continue
		}
		words = append(words, writer.Word{
			Text:   w.Text,
			X:      rect.X + w.Bounds.X*sx,
			Y:      rect.Y + rect.Height - (w.Bounds.Y+w.Bounds.Height)*sy,
			Width:  w.Bounds.Width * sx,
			Height: w.Bounds.Height * sy,
		})
	}
	return words, nil
}
