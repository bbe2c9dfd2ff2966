// Package export turns the pages of a session into the files handed to the
// upload step: one PDF, optionally searchable, or one image per page.
package export

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/ocr"
	"github.com/wudi/pagescan/page"
	"github.com/wudi/pagescan/task"
	"github.com/wudi/pagescan/upload"
)

const (
	DefaultJPEGQuality = 90
	workDirPrefix      = ".pagescan-work-"
)

// Pages is the read side of the repository the pipeline exports from.
type Pages interface {
	ReadAll() []page.Page
	ReadModified(id string) (image.Image, bool)
	ReadModifiedFile(id string) (string, bool)
}

// Pipeline exports the current pages into OutputDir.
type Pipeline struct {
	pages     Pages
	outputDir string
	renderer  Renderer
	engine    ocr.Engine
	languages ocr.LanguageProvider
	ocrOpts   []ocr.InputOption
	quality   int
	workers   int
	scheduler task.Scheduler
	logger    observability.Logger
	tracker   observability.Tracker
	tracer    observability.Tracer
}

type Option func(*Pipeline)

// WithRenderer replaces the default PDFRenderer.
func WithRenderer(r Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// WithOCR enables the text layer of PDFWithOCR exports. OCR only runs when
// every language of langs has its trained data installed. opts are applied
// to every page submitted to engine.
func WithOCR(engine ocr.Engine, langs ocr.LanguageProvider, opts ...ocr.InputOption) Option {
	return func(p *Pipeline) {
		p.engine = engine
		p.languages = langs
		p.ocrOpts = opts
	}
}

func WithJPEGQuality(q int) Option {
	return func(p *Pipeline) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

// WithWorkers bounds the number of pages encoded in parallel by image
// exports.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithScheduler sets where InvokeAsync runs.
func WithScheduler(s task.Scheduler) Option {
	return func(p *Pipeline) { p.scheduler = s }
}

func WithLogger(l observability.Logger) Option {
	return func(p *Pipeline) { p.logger = observability.OrNop(l) }
}

func WithTracker(t observability.Tracker) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracker = t
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

func New(pages Pages, outputDir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		pages:     pages,
		outputDir: outputDir,
		quality:   DefaultJPEGQuality,
		logger:    observability.NopLogger{},
		tracker:   observability.NopTracker{},
		tracer:    observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.renderer == nil {
		p.renderer = &PDFRenderer{Profile: DefaultProfile, Logger: p.logger, Tracer: p.tracer}
	}
	return p
}

func (p *Pipeline) OutputDir() string { return p.outputDir }

// InvokeAsync is Invoke as a Single running on the configured scheduler.
func (p *Pipeline) InvokeAsync(baseFileName string, ft FileType) *task.Single[[]string] {
	return task.NewSingle(func(ctx context.Context) ([]string, error) {
		return p.Invoke(ctx, baseFileName, ft)
	}).SubscribeOn(p.scheduler)
}

// Invoke exports every page in catalog order and returns the file:// URIs
// of the produced files. Every error matches ErrDocumentSaveFailed.
func (p *Pipeline) Invoke(ctx context.Context, baseFileName string, ft FileType) ([]string, error) {
	op := "export " + ft.String()
	pages := p.pages.ReadAll()
	if len(pages) == 0 {
		return nil, saveError(op, ErrNoPages)
	}
	base := sanitizeName(baseFileName)
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return nil, saveError(op, err)
	}
	started := time.Now()
	p.tracker.Track(observability.EventExportStarted,
		observability.String("type", ft.String()), observability.Int("pages", len(pages)))

	var (
		paths []string
		err   error
	)
	if ft.IsPDF() {
		var path string
		path, err = p.exportPDF(ctx, base, ft, pages)
		paths = []string{path}
	} else {
		paths, err = p.exportImages(ctx, base, ft, pages)
	}
	if err != nil {
		p.tracker.Track(observability.EventExportFailed, observability.String("type", ft.String()), observability.Err(err))
		p.logger.Warn("export failed", observability.String("type", ft.String()), observability.Err(err))
		return nil, saveError(op, err)
	}

	uris := make([]string, len(paths))
	for i, path := range paths {
		uris[i] = upload.FileURI(path)
	}
	p.tracker.Track(observability.EventExportDone,
		observability.String("type", ft.String()),
		observability.Int("files", len(uris)),
		observability.Duration("elapsed", time.Since(started)))
	p.logger.Info("export finished", observability.String("type", ft.String()), observability.Strings("files", paths))
	return uris, nil
}

func (p *Pipeline) exportPDF(ctx context.Context, base string, ft FileType, pages []page.Page) (string, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanExportPDF)
	defer span.Finish()
	span.SetTag("pages", len(pages))

	job := RenderJob{Title: base}
	if ft == PDFWithOCR {
		switch {
		case p.engine == nil || p.languages == nil:
			p.logger.Info("ocr not configured, exporting without text layer")
			p.tracker.Track(observability.EventOCRSkipped, observability.String("reason", "unconfigured"))
		case !ocr.AllAvailable(p.languages):
			missing := ocr.Missing(p.languages)
			p.logger.Info("ocr languages missing, exporting without text layer", observability.Strings("missing", missing))
			p.tracker.Track(observability.EventOCRSkipped, observability.Strings("missing", missing))
		default:
			job.OCR = p.engine
			job.Languages = p.languages.Languages()
			job.OCROptions = p.ocrOpts
		}
	}

	target := filepath.Join(p.outputDir, base+"."+ft.Ext())
	out, err := task.Using(
		func(context.Context) (string, error) {
			work := filepath.Join(p.outputDir, workDirPrefix+uuid.NewString())
			return work, os.Mkdir(work, 0o700)
		},
		func(ctx context.Context, work string) (string, error) {
			files, err := p.stage(ctx, work, pages)
			if err != nil {
				return "", err
			}
			job.Files = files
			job.Output = filepath.Join(work, "render.pdf")
			if err := p.renderer.Render(ctx, job); err != nil {
				return "", err
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if err := os.Rename(job.Output, target); err != nil {
				return "", fmt.Errorf("move rendered document: %w", err)
			}
			return target, nil
		},
		func(work string) {
			if err := os.RemoveAll(work); err != nil {
				p.logger.Warn("remove work dir", observability.String("dir", work), observability.Err(err))
			}
		},
	).Wait(ctx)
	if err != nil {
		span.SetError(err)
	}
	return out, err
}

// stage copies the modified blob of every page into the work dir so the
// renderer never reads files a concurrent edit may replace.
func (p *Pipeline) stage(ctx context.Context, work string, pages []page.Page) ([]string, error) {
	files := make([]string, len(pages))
	for i, pg := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, ok := p.pages.ReadModifiedFile(pg.ID)
		if !ok {
			return nil, fmt.Errorf("%w: page %s has no modified image", ErrReadFailed, pg.ID)
		}
		dst := filepath.Join(work, fmt.Sprintf("page-%04d%s", i+1, filepath.Ext(src)))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		files[i] = dst
	}
	return files, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (p *Pipeline) exportImages(ctx context.Context, base string, ft FileType, pages []page.Page) ([]string, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanExportJPG)
	defer span.Finish()
	span.SetTag("pages", len(pages))

	width := len(fmt.Sprint(len(pages)))
	paths := make([]string, len(pages))
	for i := range pages {
		paths[i] = filepath.Join(p.outputDir, fmt.Sprintf("%s_%0*d.%s", base, width, i+1, ft.Ext()))
	}

	// written[i] is set only by the goroutine encoding page i.
	written := make([]bool, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, pg := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, ok := p.pages.ReadModified(pg.ID)
			if !ok {
				return fmt.Errorf("%w: page %s has no modified image", ErrReadFailed, pg.ID)
			}
			if err := p.writeImage(paths[i], img, ft); err != nil {
				return err
			}
			written[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetError(err)
		for i, path := range paths {
			if written[i] {
				_ = os.Remove(path)
			}
		}
		return nil, err
	}
	return paths, nil
}

func (p *Pipeline) writeImage(path string, img image.Image, ft FileType) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	switch ft {
	case PNG:
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: p.quality})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return nil
}

// sanitizeName keeps a base file name inside the output dir.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if ext := filepath.Ext(name); ext != "" {
		if _, err := ParseFileType(strings.TrimPrefix(ext, ".")); err == nil {
			name = strings.TrimSuffix(name, ext)
		}
	}
	if name == "" {
		return "scan"
	}
	return name
}
