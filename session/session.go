// Package session wires storage, the page catalog, snapshots and export
// into the unit a front end works with. A session survives process
// restarts: Open restores the last saved state and every mutation saves it.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/wudi/pagescan/blob"
	"github.com/wudi/pagescan/catalog"
	"github.com/wudi/pagescan/config"
	"github.com/wudi/pagescan/contour"
	"github.com/wudi/pagescan/export"
	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/ocr"
	"github.com/wudi/pagescan/ocr/tesseract"
	"github.com/wudi/pagescan/page"
	"github.com/wudi/pagescan/repository"
	"github.com/wudi/pagescan/snapshot"
	"github.com/wudi/pagescan/task"
	"github.com/wudi/pagescan/upload"
)

// ErrNotFound is returned for operations on unknown page ids.
var ErrNotFound = catalog.ErrNotFound

type Session struct {
	// edits serializes read-modify-write sequences on the page list; mu
	// guards the target and snapshot writes.
	edits     sync.Mutex
	mu        sync.Mutex
	cfg       config.Config
	store     *blob.Store
	repo      *repository.Repository
	state     snapshot.Container
	snapshots *snapshot.Manager
	exporter  *export.Pipeline
	uploader  upload.Uploader
	detector  contour.Detector
	engine    ocr.Engine
	renderer  export.Renderer
	scheduler task.Scheduler
	target    upload.Target
	logger    observability.Logger
	tracker   observability.Tracker
}

type Option func(*Session)

func WithLogger(l observability.Logger) Option {
	return func(s *Session) { s.logger = observability.OrNop(l) }
}

func WithTracker(t observability.Tracker) Option {
	return func(s *Session) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithUploader replaces the outbox configured in upload.outbox_dir.
func WithUploader(u upload.Uploader) Option {
	return func(s *Session) { s.uploader = u }
}

// WithDetector sets the boundary detector used when pages are added without
// a contour. The default selects the full frame.
func WithDetector(d contour.Detector) Option {
	return func(s *Session) { s.detector = d }
}

// WithOCREngine replaces the Tesseract engine.
func WithOCREngine(e ocr.Engine) Option {
	return func(s *Session) { s.engine = e }
}

func WithRenderer(r export.Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// WithScheduler sets where asynchronous exports run.
func WithScheduler(sched task.Scheduler) Option {
	return func(s *Session) { s.scheduler = sched }
}

// Open builds a session from cfg and restores its saved state. Blobs that
// no restored page references are deleted.
func Open(cfg config.Config, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:      cfg,
		detector: contour.FullFrame{},
		logger:   observability.NopLogger{},
		tracker:  observability.NopTracker{},
	}
	for _, opt := range opts {
		opt(s)
	}

	store, err := blob.Open(cfg.BlobDir(),
		blob.WithTargetSize(cfg.Storage.TargetWidth, cfg.Storage.TargetHeight),
		blob.WithJPEGQuality(cfg.Storage.OriginalQuality),
		blob.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	state, err := snapshot.NewDirContainer(cfg.StateDir())
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.store = store
	s.state = state
	s.snapshots = snapshot.NewManager(s.logger)
	s.repo = repository.New(store, catalog.New(),
		repository.WithLogger(s.logger),
		repository.WithTracker(s.tracker),
		repository.WithOriginalFormat(originalFormat(cfg.Storage.OriginalFormat)))
	if s.uploader == nil {
		s.uploader = upload.NewOutbox(cfg.Upload.OutboxDir)
	}
	s.exporter = s.newExporter()

	if pages, ok := s.snapshots.RestorePictures(state); ok {
		s.repo.Restore(pages...)
		s.logger.Info("session restored", observability.Int("pages", len(pages)))
	}
	if t, ok := s.snapshots.RestoreUploadTarget(state); ok {
		s.target = t
	}
	if _, err := s.repo.SweepOrphans(); err != nil {
		s.logger.Warn("sweep orphaned blobs failed", observability.Err(err))
	}
	return s, nil
}

func originalFormat(name string) blob.Format {
	if strings.EqualFold(name, "png") {
		return blob.FormatPNG
	}
	return blob.FormatJPEG
}

func (s *Session) newExporter() *export.Pipeline {
	cfg := s.cfg.Export
	prof := export.DefaultProfile
	if w, h, ok := cfg.PageDimensions(); ok {
		prof.PageWidth, prof.PageHeight = w, h
	}
	prof.Margin = cfg.Margin
	prof.DPI = cfg.DPI

	renderer := s.renderer
	if renderer == nil {
		renderer = &export.PDFRenderer{Profile: prof, Logger: s.logger}
	}
	opts := []export.Option{
		export.WithRenderer(renderer),
		export.WithJPEGQuality(cfg.JPEGQuality),
		export.WithWorkers(cfg.Workers),
		export.WithScheduler(s.scheduler),
		export.WithLogger(s.logger),
		export.WithTracker(s.tracker),
	}
	if langs := s.languages(); langs != nil {
		engine := s.engine
		if engine == nil {
			engine = tesseract.New(tesseract.WithTessdataPrefix(s.cfg.OCR.TessdataDir))
		}
		var inputOpts []ocr.InputOption
		if psm := s.cfg.OCR.PSM; psm > 0 {
			inputOpts = append(inputOpts, ocr.WithTesseractPSM(psm))
		}
		if wl := s.cfg.OCR.Whitelist; wl != "" {
			inputOpts = append(inputOpts, ocr.WithTesseractWhitelist(wl))
		}
		opts = append(opts, export.WithOCR(engine, langs, inputOpts...))
	}
	return export.New(s.repo, cfg.OutputDir, opts...)
}

// languages is nil when no trained data directory is configured, which
// makes PDFWithOCR exports fall back to plain PDFs.
func (s *Session) languages() ocr.LanguageProvider {
	if s.cfg.OCR.TessdataDir == "" || len(s.cfg.OCR.Languages) == 0 {
		return nil
	}
	return ocr.DirLanguages{Dir: s.cfg.OCR.TessdataDir, Langs: s.cfg.OCR.Languages}
}

func (s *Session) Config() config.Config              { return s.cfg }
func (s *Session) Repository() *repository.Repository { return s.repo }
func (s *Session) Exporter() *export.Pipeline         { return s.exporter }
func (s *Session) Pages() []page.Page                 { return s.repo.ReadAll() }
func (s *Session) Page(id string) (page.Page, bool)   { return s.repo.Read(id) }

// Add captures img as a new page. A nil contour runs the detector.
func (s *Session) Add(ctx context.Context, img image.Image, c *page.Contour) (string, error) {
	if c == nil {
		detected := contour.DetectOrFull(ctx, s.detector, img)
		c = &detected
	}
	id, err := s.repo.Create(img, *c)
	if err != nil {
		return "", err
	}
	return id, s.Save()
}

// AddFile imports an image file as a new page. A nil contour runs the
// detector on the decoded file.
func (s *Session) AddFile(ctx context.Context, path string, c *page.Contour) (string, error) {
	if c == nil {
		img, err := decodeFile(path)
		if err != nil {
			return "", err
		}
		detected := contour.DetectOrFull(ctx, s.detector, img)
		c = &detected
	}
	id, err := s.repo.CreateFromFile(path, *c)
	if err != nil {
		return "", err
	}
	return id, s.Save()
}

// decodeFile checks the header against the decode limits before the pixels
// are allocated.
func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := filters.ValidateBounds(cfg.Width, cfg.Height); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Edit applies fn to page id, re-derives its modified image and saves.
func (s *Session) Edit(id string, fn func(page.Page) (page.Page, error)) (page.Page, error) {
	s.edits.Lock()
	defer s.edits.Unlock()
	p, ok := s.repo.Read(id)
	if !ok {
		return page.Page{}, fmt.Errorf("edit %s: %w", id, ErrNotFound)
	}
	next, err := fn(p)
	if err != nil {
		return page.Page{}, err
	}
	next.ID = p.ID
	if err := s.repo.Update(next); err != nil {
		return page.Page{}, err
	}
	if err := s.Save(); err != nil {
		return page.Page{}, err
	}
	updated, _ := s.repo.Read(id)
	return updated, nil
}

func (s *Session) Swap(a, b string) error {
	s.edits.Lock()
	defer s.edits.Unlock()
	if err := s.repo.Swap(a, b); err != nil {
		return err
	}
	return s.Save()
}

func (s *Session) Move(id string, index int) error {
	s.edits.Lock()
	defer s.edits.Unlock()
	if err := s.repo.Move(id, index); err != nil {
		return err
	}
	return s.Save()
}

// Delete removes page id. Unknown ids return ErrNotFound.
func (s *Session) Delete(id string) error {
	s.edits.Lock()
	defer s.edits.Unlock()
	if _, ok := s.repo.Read(id); !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if err := s.repo.Delete(id); err != nil {
		s.logger.Warn("delete page blobs", observability.String("page", id), observability.Err(err))
	}
	return s.Save()
}

func (s *Session) Target() (upload.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, !s.target.IsZero()
}

func (s *Session) SetTarget(t upload.Target) error {
	s.mu.Lock()
	s.target = t
	s.mu.Unlock()
	return s.Save()
}

// Save persists the page list and the upload target.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.snapshots.SavePictures(s.repo.ReadAll(), s.state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if s.target.IsZero() {
		return s.state.Remove(snapshot.KeyUploadTarget)
	}
	if err := s.snapshots.SaveUploadTarget(s.target, s.state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Discard deletes every page with its blobs and the saved state.
func (s *Session) Discard() error {
	s.edits.Lock()
	defer s.edits.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = upload.Target{}
	return errors.Join(s.repo.Release(), s.snapshots.Clear(s.state))
}

// Export writes the pages as ft named after name. With send set the files
// are handed to the uploader for the session target and the session is
// discarded once the hand-off succeeded.
func (s *Session) Export(ctx context.Context, name string, ft export.FileType, send bool) ([]string, error) {
	target, ok := s.Target()
	if send && !ok {
		return nil, upload.ErrNoTarget
	}
	uris, err := s.exporter.Invoke(ctx, name, ft)
	if err != nil {
		return nil, err
	}
	if !send {
		return uris, nil
	}
	if err := s.uploader.Upload(ctx, target, uris); err != nil {
		return uris, fmt.Errorf("upload to %s: %w", target, err)
	}
	s.logger.Info("export handed off", observability.String("target", target.String()), observability.Int("files", len(uris)))
	if err := s.Discard(); err != nil {
		return uris, err
	}
	return uris, nil
}

// ExportAsync is Export as a Single on the session scheduler.
func (s *Session) ExportAsync(name string, ft export.FileType, send bool) *task.Single[[]string] {
	return task.NewSingle(func(ctx context.Context) ([]string, error) {
		return s.Export(ctx, name, ft, send)
	}).SubscribeOn(s.scheduler)
}
