// Package repository keeps blob storage, the page catalog and the filter
// chain consistent. Every page's modified blob is the result of applying
// its current filters to its original blob; Create and Update establish
// that and Delete and Release remove both blobs with the entry.
//
// Missing or undecodable blobs are absorbed: the dependent step is skipped
// and logged rather than returned as an error.
//
// Modified images are stored and read back at their exact size, so a
// re-read always equals the chain applied to the original as read.
package repository

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/wudi/pagescan/blob"
	"github.com/wudi/pagescan/catalog"
	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/page"
)

// ErrDeriveFailed is returned by Create when the filter chain cannot be
// applied to a freshly stored original.
var ErrDeriveFailed = errors.New("derive modified image")

// Blobs is the storage the repository depends on; *blob.Store satisfies it.
type Blobs interface {
	Create(img image.Image, f blob.Format, opts ...blob.CreateOption) (string, error)
	CreateFromReader(r io.Reader, f blob.Format) (string, error)
	Read(id string, opts ...blob.ReadOption) (image.Image, bool)
	File(id string) (string, bool)
	Delete(id string) error
	DeleteAll() error
	List() ([]string, error)
}

type Repository struct {
	// mu serializes steps that swap or remove blob references so a
	// replaced blob is always the one the catalog pointed to.
	mu             sync.Mutex
	blobs          Blobs
	catalog        *catalog.Catalog
	originalFormat blob.Format
	logger         observability.Logger
	tracker        observability.Tracker
}

type Option func(*Repository)

func WithLogger(l observability.Logger) Option {
	return func(r *Repository) { r.logger = observability.OrNop(l) }
}

func WithTracker(t observability.Tracker) Option {
	return func(r *Repository) {
		if t != nil {
			r.tracker = t
		}
	}
}

// WithOriginalFormat sets the encoding of original blobs. Modified blobs are
// always PNG so a re-read reproduces the derived pixels exactly.
func WithOriginalFormat(f blob.Format) Option {
	return func(r *Repository) { r.originalFormat = f }
}

func New(blobs Blobs, c *catalog.Catalog, opts ...Option) *Repository {
	if c == nil {
		c = catalog.New()
	}
	r := &Repository{
		blobs:          blobs,
		catalog:        c,
		originalFormat: blob.FormatJPEG,
		logger:         observability.NopLogger{},
		tracker:        observability.NopTracker{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog exposes the underlying catalog for read-only collaborators.
func (r *Repository) Catalog() *catalog.Catalog { return r.catalog }

// Create stores img as a new original, derives its modified image and
// appends the page. On failure no blob is left behind.
func (r *Repository) Create(img image.Image, contour page.Contour) (string, error) {
	if err := contour.Validate(); err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	origID, err := r.blobs.Create(img, r.originalFormat)
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	return r.createFrom(origID, contour)
}

// CreateFromFile imports an encoded image file, honoring its EXIF
// orientation.
func (r *Repository) CreateFromFile(path string, contour page.Contour) (string, error) {
	if err := contour.Validate(); err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	origID, err := r.blobs.CreateFromReader(f, r.originalFormat)
	if err != nil {
		return "", fmt.Errorf("import %s: %w", path, err)
	}
	return r.createFrom(origID, contour)
}

func (r *Repository) createFrom(origID string, contour page.Contour) (string, error) {
	p := page.New(origID, contour)
	modID, err := r.derive(p.Original)
	if err != nil {
		r.deleteBlob(origID)
		return "", fmt.Errorf("create page: %w", err)
	}
	p.Modified.BlobID = modID
	r.mu.Lock()
	r.catalog.Create(p)
	r.mu.Unlock()
	r.tracker.Track(observability.EventPageCreated, observability.String("page", p.ID))
	r.logger.Debug("page created", observability.String("page", p.ID), observability.String("original", origID), observability.String("modified", modID))
	return p.ID, nil
}

// derive decodes the original and stores the full chain's output.
func (r *Repository) derive(o page.OriginalPicture) (string, error) {
	img, ok := r.blobs.Read(o.BlobID)
	if !ok {
		return "", fmt.Errorf("%w: original %s unreadable", ErrDeriveFailed, o.BlobID)
	}
	out, ok := o.Chain().Apply(img)
	if !ok {
		return "", fmt.Errorf("%w: %w", ErrDeriveFailed, filters.ErrUnsupportedImage)
	}
	return r.blobs.Create(out, blob.FormatPNG, blob.KeepSize())
}

// Restore inserts pre-built pages without checking their blobs.
func (r *Repository) Restore(pages ...page.Page) { r.catalog.Create(pages...) }

func (r *Repository) Read(id string) (page.Page, bool) { return r.catalog.Read(id) }
func (r *Repository) ReadAll() []page.Page             { return r.catalog.ReadAll() }
func (r *Repository) IsEmpty() bool                    { return r.catalog.IsEmpty() }

func (r *Repository) Swap(a, b string) error {
	if err := r.catalog.Swap(a, b); err != nil {
		return err
	}
	r.tracker.Track(observability.EventPagesSwapped, observability.String("a", a), observability.String("b", b))
	return nil
}

func (r *Repository) Move(id string, index int) error { return r.catalog.Move(id, index) }

// ReadOriginal decodes the original image of page id.
func (r *Repository) ReadOriginal(id string) (image.Image, bool) {
	p, ok := r.catalog.Read(id)
	if !ok {
		return nil, false
	}
	return r.blobs.Read(p.Original.BlobID)
}

// ReadModified decodes the derived image of page id.
func (r *Repository) ReadModified(id string) (image.Image, bool) {
	p, ok := r.catalog.Read(id)
	if !ok {
		return nil, false
	}
	return r.blobs.Read(p.Modified.BlobID, blob.StoredSize())
}

// ReadModifiedFile returns the path of the derived image of page id.
func (r *Repository) ReadModifiedFile(id string) (string, bool) {
	p, ok := r.catalog.Read(id)
	if !ok {
		return "", false
	}
	return r.blobs.File(p.Modified.BlobID)
}

// ReadOriginalWithFilters decodes the original and applies only the given
// filters, in chain order. It does not touch the stored modified image.
func (r *Repository) ReadOriginalWithFilters(id string, types ...filters.FilterType) (image.Image, bool) {
	p, ok := r.catalog.Read(id)
	if !ok {
		return nil, false
	}
	return r.ReadWithFilters(p, types...)
}

// ReadWithFilters is ReadOriginalWithFilters for a page whose parameters
// have not been committed yet.
func (r *Repository) ReadWithFilters(p page.Page, types ...filters.FilterType) (image.Image, bool) {
	img, ok := r.blobs.Read(p.Original.BlobID)
	if !ok {
		return nil, false
	}
	if len(types) == 0 {
		return img, true
	}
	return p.Original.Chain().Apply(img, types...)
}

// Update re-derives the modified image from p's filters, replaces the old
// modified blob and stores p. Unknown pages and unreadable originals are
// skipped.
func (r *Repository) Update(p page.Page) error {
	current, ok := r.catalog.Read(p.ID)
	if !ok {
		return nil
	}
	img, ok := r.blobs.Read(current.Original.BlobID)
	if !ok {
		r.logger.Warn("original unavailable, skipping update", observability.String("page", p.ID), observability.String("blob", current.Original.BlobID))
		return nil
	}
	return r.UpdateWithOriginal(p, img)
}

// UpdateWithOriginal is Update for a caller that already holds the decoded
// original image. Concurrent updates of one page are applied one at a time;
// each replaces and deletes the modified blob the catalog held at that
// moment, so no derived blob is left unreferenced.
func (r *Repository) UpdateWithOriginal(p page.Page, original image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.catalog.Read(p.ID)
	if !ok {
		return nil
	}
	p.Original.BlobID = current.Original.BlobID
	out, ok := p.Original.Chain().Apply(original)
	if !ok {
		r.logger.Warn("filter chain failed, skipping update", observability.String("page", p.ID))
		return nil
	}
	modID, err := r.blobs.Create(out, blob.FormatPNG, blob.KeepSize())
	if err != nil {
		return fmt.Errorf("update page %s: %w", p.ID, err)
	}
	p.Modified.BlobID = modID
	if !r.catalog.Update(p) {
		r.deleteBlob(modID)
		return nil
	}
	if old := current.Modified.BlobID; old != "" && old != modID {
		r.deleteBlob(old)
	}
	r.tracker.Track(observability.EventFilterApplied,
		observability.String("page", p.ID),
		observability.String("color", p.Original.Color.Kind().String()),
		observability.Int("rotation", p.Original.Rotate.Degrees))
	return nil
}

// Delete removes page id and both its blobs. Unknown ids are a no-op.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.catalog.Read(id)
	if !ok {
		return nil
	}
	var errs []error
	for _, b := range p.BlobIDs() {
		if err := r.blobs.Delete(b); err != nil {
			errs = append(errs, err)
		}
	}
	r.catalog.Delete(id)
	r.tracker.Track(observability.EventPageDeleted, observability.String("page", id))
	return errors.Join(errs...)
}

// Release deletes every blob and empties the catalog.
func (r *Repository) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.blobs.DeleteAll()
	r.catalog.Release()
	if err != nil {
		return fmt.Errorf("release pages: %w", err)
	}
	return nil
}

// SweepOrphans deletes stored blobs no page references and returns how
// many were removed.
func (r *Repository) SweepOrphans() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.blobs.List()
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool)
	for _, p := range r.catalog.ReadAll() {
		for _, id := range p.BlobIDs() {
			live[id] = true
		}
	}
	n := 0
	for _, id := range stored {
		if live[id] {
			continue
		}
		if err := r.blobs.Delete(id); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		r.logger.Info("removed orphaned blobs", observability.Int("count", n))
	}
	return n, nil
}

func (r *Repository) deleteBlob(id string) {
	if err := r.blobs.Delete(id); err != nil {
		r.logger.Warn("delete blob failed", observability.String("blob", id), observability.Err(err))
	}
}
