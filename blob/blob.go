// Package blob stores raster images on local disk, addressed by id.
//
// Sizes are bounded at write time: Create scales images down to fit the
// configured target box, so reading a blob never decodes more pixels than
// the box holds. Derived images that must keep their exact size opt out
// with KeepSize and are read back with StoredSize. Files larger than the
// box that were not written by Create come back downsampled by a power of
// two. An optional rotation can be applied on load.
package blob

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/observability"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format selects the encoding used by Create.
type Format int

const (
	FormatJPEG Format = iota
	FormatPNG
)

func (f Format) String() string {
	if f == FormatPNG {
		return "png"
	}
	return "jpeg"
}

const (
	DefaultTargetWidth  = 4096
	DefaultTargetHeight = 4096
	DefaultJPEGQuality  = 92

	// maxImportSize bounds encoded external images read by CreateFromReader.
	maxImportSize = 256 << 20
	tempPattern   = ".blob-*.tmp"
)

// tempFile is the subset of *os.File used while writing a blob.
type tempFile interface {
	io.Writer
	Name() string
	Sync() error
	Close() error
}

// Store is a directory of encoded images. It is safe for concurrent use
// across distinct ids.
type Store struct {
	dir          string
	targetWidth  int
	targetHeight int
	quality      int
	logger       observability.Logger

	createTemp func(dir, pattern string) (tempFile, error)
}

type Option func(*Store)

// WithTargetSize bounds stored and decoded images to w x h. Zero disables
// the bound.
func WithTargetSize(w, h int) Option {
	return func(s *Store) { s.targetWidth, s.targetHeight = w, h }
}

// WithJPEGQuality sets the quality used for FormatJPEG.
func WithJPEGQuality(q int) Option {
	return func(s *Store) {
		if q > 0 && q <= 100 {
			s.quality = q
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(s *Store) { s.logger = observability.OrNop(l) }
}

// Open returns a store rooted at dir, creating it if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	s := &Store{
		dir:          dir,
		targetWidth:  DefaultTargetWidth,
		targetHeight: DefaultTargetHeight,
		quality:      DefaultJPEGQuality,
		logger:       observability.NopLogger{},
		createTemp: func(dir, pattern string) (tempFile, error) {
			f, err := os.CreateTemp(dir, pattern)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return filepath.Join(s.dir, id), true
}

type createOptions struct {
	keepSize bool
}

type CreateOption func(*createOptions)

// KeepSize stores the image at its own size instead of fitting it into the
// target box.
func KeepSize() CreateOption {
	return func(o *createOptions) { o.keepSize = true }
}

// Create encodes img in format f under a fresh id. Images larger than the
// target box are scaled down to fit it unless KeepSize is given.
func (s *Store) Create(img image.Image, f Format, opts ...CreateOption) (string, error) {
	if img == nil {
		return "", fmt.Errorf("create blob: %w", filters.ErrUnsupportedImage)
	}
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}
	if !co.keepSize {
		img = fit(img, s.targetWidth, s.targetHeight)
	}
	id := uuid.NewString()
	if err := s.write(id, func(w io.Writer) error { return s.encode(w, img, f) }); err != nil {
		return "", err
	}
	s.logger.Debug("blob created", observability.String("id", id), observability.String("format", f.String()))
	return id, nil
}

// CreateFromReader imports an encoded external image. The image is checked
// against the decode limits before its pixels are allocated, uprighted from
// its EXIF orientation, fitted into the target box and stored in format f.
func (s *Store) CreateFromReader(r io.Reader, f Format) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImportSize {
		return "", fmt.Errorf("read image: %w: larger than %d bytes", filters.ErrUnsupportedImage, maxImportSize)
	}
	img, err := s.decode(bytes.NewReader(data), readOptions{rotation: orientationDegrees(data), storedSize: true})
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return s.Create(img, f)
}

func (s *Store) encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: s.quality})
	}
	return fmt.Errorf("unknown blob format %d", f)
}

// write streams a blob into a temp file and renames it into place, so a
// failed write never leaves a truncated blob behind.
func (s *Store) write(id string, fill func(io.Writer) error) error {
	dst := filepath.Join(s.dir, id)
	tmp, err := s.createTemp(s.dir, tempPattern)
	if err != nil {
		return writeError(id, dst, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := fill(tmp); err != nil {
		return writeError(id, dst, err)
	}
	if err := tmp.Sync(); err != nil {
		return writeError(id, dst, err)
	}
	if err := tmp.Close(); err != nil {
		return writeError(id, dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		committed = true
		return writeError(id, dst, err)
	}
	committed = true
	return nil
}

type readOptions struct {
	rotation   int
	storedSize bool
}

type ReadOption func(*readOptions)

// WithRotation rotates the decoded image clockwise by degrees.
func WithRotation(degrees int) ReadOption {
	return func(o *readOptions) { o.rotation = degrees }
}

// StoredSize skips the target box bound for blobs written with KeepSize.
func StoredSize() ReadOption {
	return func(o *readOptions) { o.storedSize = true }
}

// Read decodes blob id. It reports false when the blob is missing or cannot
// be decoded.
func (s *Store) Read(id string, opts ...ReadOption) (image.Image, bool) {
	var ro readOptions
	for _, opt := range opts {
		opt(&ro)
	}
	p, ok := s.path(id)
	if !ok {
		return nil, false
	}
	f, err := os.Open(p)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("open blob failed", observability.String("id", id), observability.Err(err))
		}
		return nil, false
	}
	defer f.Close()
	img, err := s.decode(f, ro)
	if err != nil {
		s.logger.Warn("decode blob failed", observability.String("id", id), observability.Err(err))
		return nil, false
	}
	return img, true
}

// decode probes the dimensions, rejects images over the decode limits before
// allocating pixels and, unless storedSize is set, downsamples anything
// larger than the target box.
func (s *Store) decode(r io.ReadSeeker, ro readOptions) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, err
	}
	if err := filters.ValidateBounds(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	if factor := SampleFactor(cfg.Width, cfg.Height, s.targetWidth, s.targetHeight); factor > 1 && !ro.storedSize {
		img = downsample(img, factor)
	}
	if ro.rotation%360 != 0 {
		rotated, ok := filters.RotateImage(img, float64(ro.rotation))
		if !ok {
			return nil, fmt.Errorf("rotate %d: %w", ro.rotation, filters.ErrUnsupportedImage)
		}
		img = rotated
	}
	return img, nil
}

// SampleFactor returns the smallest power of two by which a w x h image must
// be divided to fit inside tw x th. Non-positive targets disable the bound.
func SampleFactor(w, h, tw, th int) int {
	factor := 1
	if tw <= 0 || th <= 0 {
		return factor
	}
	for w/factor > tw || h/factor > th {
		factor *= 2
	}
	return factor
}

func downsample(img image.Image, factor int) image.Image {
	b := img.Bounds()
	return scaleTo(img, max(1, b.Dx()/factor), max(1, b.Dy()/factor))
}

// fit scales img down, preserving its aspect ratio, until it fits inside
// tw x th. Smaller images and non-positive targets are returned as is.
func fit(img image.Image, tw, th int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if tw <= 0 || th <= 0 || (w <= tw && h <= th) {
		return img
	}
	scale := min(float64(tw)/float64(w), float64(th)/float64(h))
	return scaleTo(img, min(tw, max(1, int(float64(w)*scale))), min(th, max(1, int(float64(h)*scale))))
}

func scaleTo(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	rect := image.Rect(0, 0, w, h)
	var dst draw.Image
	if _, gray := img.(*image.Gray); gray {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewNRGBA(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, img, b, draw.Src, nil)
	return dst
}

// Dimensions returns the stored size of blob id without decoding pixels.
func (s *Store) Dimensions(id string) (width, height int, ok bool) {
	p, valid := s.path(id)
	if !valid {
		return 0, 0, false
	}
	f, err := os.Open(p)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// File returns the path of blob id for consumers that read the encoded
// bytes directly.
func (s *Store) File(id string) (string, bool) {
	p, ok := s.path(id)
	if !ok {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func (s *Store) Exists(id string) bool {
	_, ok := s.File(id)
	return ok
}

// Delete removes blob id. Deleting a missing blob is not an error.
func (s *Store) Delete(id string) error {
	p, ok := s.path(id)
	if !ok {
		return nil
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	s.logger.Debug("blob deleted", observability.String("id", id))
	return nil
}

// DeleteAll removes every blob and any abandoned temp file.
func (s *Store) DeleteAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list blobs: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("delete blob %s: %w", e.Name(), err)
		}
	}
	return nil
}

// List returns the ids currently stored, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, err := uuid.Parse(name); err != nil {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}
