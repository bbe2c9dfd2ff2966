package repository

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"github.com/wudi/pagescan/blob"
	"github.com/wudi/pagescan/catalog"
	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/page"
)

func newRepo(t *testing.T) (*Repository, *blob.Store) {
	t.Helper()
	store, err := blob.Open(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return New(store, catalog.New()), store
}

func white(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(4 * x), G: uint8(3 * y), B: uint8(x ^ y), A: 0xff})
		}
	}
	return img
}

func equalImages(a, b image.Image) bool {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return false
	}
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			if color.NRGBAModel.Convert(a.At(ab.Min.X+x, ab.Min.Y+y)) != color.NRGBAModel.Convert(b.At(bb.Min.X+x, bb.Min.Y+y)) {
				return false
			}
		}
	}
	return true
}

func TestEditCycle(t *testing.T) {
	repo, store := newRepo(t)
	id, err := repo.Create(white(100, 100), page.FullFrame())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, _ := repo.Read(id)
	if _, ok := repo.ReadModified(id); !ok {
		t.Fatalf("initial modified image does not decode")
	}
	oldPath, ok := store.File(before.Modified.BlobID)
	if !ok {
		t.Fatalf("initial modified blob missing")
	}

	if err := repo.Update(before.WithColor(filters.NewGrayscale())); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	after, _ := repo.Read(id)
	if after.Modified.BlobID == before.Modified.BlobID {
		t.Fatalf("Update() kept the old modified blob")
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("previous modified blob still on disk")
	}
	mod, ok := repo.ReadModified(id)
	if !ok {
		t.Fatalf("ReadModified() failed")
	}
	if mod.ColorModel() != color.GrayModel {
		t.Fatalf("grayscale page decoded as %T", mod)
	}
	if after.Original.BlobID != before.Original.BlobID {
		t.Fatalf("Update() must not replace the original")
	}
}

func TestRegenerationInvariant(t *testing.T) {
	repo, _ := newRepo(t)
	id, err := repo.Create(pattern(60, 40), page.Contour{{X: 0.1, Y: 0}, {X: 1, Y: 0.1}, {X: 0.9, Y: 1}, {X: 0, Y: 0.9}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	edits := []filters.ColorFilterType{
		filters.NewMagicColor(),
		filters.NewMagicText().Modify(filters.Params{Sharpness: filters.Value(90)}),
		filters.NewBlackWhite(),
		filters.NewColor().Modify(filters.Params{Brightness: filters.Value(30), Contrast: filters.Value(70)}),
	}
	for i, c := range edits {
		p, _ := repo.Read(id)
		if err := repo.Update(p.WithColor(c).Rotated(90 * i)); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		p, _ = repo.Read(id)
		orig, ok := repo.ReadOriginal(id)
		if !ok {
			t.Fatalf("ReadOriginal() failed")
		}
		want, ok := p.Original.Chain().Apply(orig)
		if !ok {
			t.Fatalf("chain failed")
		}
		got, _ := repo.ReadModified(id)
		if !equalImages(got, want) {
			t.Fatalf("edit %d: modified image does not match the filter chain", i)
		}
	}
}

func TestRegenerationBeyondTargetBox(t *testing.T) {
	store, err := blob.Open(filepath.Join(t.TempDir(), "blobs"), blob.WithTargetSize(100, 100))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	repo := New(store, nil, WithOriginalFormat(blob.FormatPNG))
	id, err := repo.Create(pattern(100, 100), page.FullFrame())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	p, _ := repo.Read(id)
	if err := repo.Update(p.WithRotation(45)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	p, _ = repo.Read(id)
	orig, ok := repo.ReadOriginal(id)
	if !ok {
		t.Fatalf("ReadOriginal() failed")
	}
	want, ok := p.Original.Chain().Apply(orig)
	if !ok {
		t.Fatalf("chain failed")
	}
	if want.Bounds().Dx() <= 100 {
		t.Fatalf("a 45 degree turn should outgrow the target box, got %v", want.Bounds())
	}
	got, ok := repo.ReadModified(id)
	if !ok {
		t.Fatalf("ReadModified() failed")
	}
	if !equalImages(got, want) {
		t.Fatalf("modified image %v does not match the filter chain %v", got.Bounds(), want.Bounds())
	}
}

func TestConcurrentUpdatesLeaveNoOrphans(t *testing.T) {
	repo, store := newRepo(t)
	colors := []filters.ColorFilterType{filters.NewGrayscale(), filters.NewMagicColor()}
	for round := 0; round < 20; round++ {
		id, err := repo.Create(pattern(24, 16), page.FullFrame())
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		p, _ := repo.Read(id)
		var wg sync.WaitGroup
		for _, c := range colors {
			wg.Add(1)
			go func(c filters.ColorFilterType) {
				defer wg.Done()
				if err := repo.Update(p.WithColor(c)); err != nil {
					t.Errorf("Update() error = %v", err)
				}
			}(c)
		}
		wg.Wait()
		ids, err := store.List()
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(ids) != 2 {
			t.Fatalf("round %d: %d blobs stored, want 2", round, len(ids))
		}
		if err := repo.Delete(id); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
	}
}

func TestDeleteRemovesBlobs(t *testing.T) {
	repo, store := newRepo(t)
	keep, _ := repo.Create(white(10, 10), page.FullFrame())
	id, err := repo.Create(white(10, 10), page.FullFrame())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	p, _ := repo.Read(id)
	if err := repo.Delete(id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, b := range p.BlobIDs() {
		if store.Exists(b) {
			t.Fatalf("blob %s survived delete", b)
		}
	}
	if _, ok := repo.Read(id); ok {
		t.Fatalf("Read() after delete should fail")
	}
	if err := repo.Delete(id); err != nil {
		t.Fatalf("Delete() of missing page error = %v", err)
	}
	if all := repo.ReadAll(); len(all) != 1 || all[0].ID != keep {
		t.Fatalf("ReadAll() = %v", all)
	}
}

func TestRelease(t *testing.T) {
	repo, store := newRepo(t)
	for i := 0; i < 3; i++ {
		if _, err := repo.Create(white(8, 8), page.FullFrame()); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repo.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !repo.IsEmpty() {
		t.Fatalf("catalog not empty after release")
	}
	if ids, _ := store.List(); len(ids) != 0 {
		t.Fatalf("blobs left after release: %v", ids)
	}
}

func TestUpdateSkipsMissingOriginal(t *testing.T) {
	repo, store := newRepo(t)
	id, _ := repo.Create(white(10, 10), page.FullFrame())
	p, _ := repo.Read(id)
	if err := store.Delete(p.Original.BlobID); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(p.WithColor(filters.NewBlackWhite())); err != nil {
		t.Fatalf("Update() error = %v, want best-effort skip", err)
	}
	q, _ := repo.Read(id)
	if q != p {
		t.Fatalf("page changed although the original was missing")
	}
	if err := repo.Update(page.Page{ID: "missing"}); err != nil {
		t.Fatalf("Update() of unknown page error = %v", err)
	}
}

func TestReadOriginalWithFilters(t *testing.T) {
	repo, _ := newRepo(t)
	id, _ := repo.Create(white(30, 10), page.FullFrame())
	p, _ := repo.Read(id)
	if err := repo.Update(p.WithColor(filters.NewGrayscale()).WithRotation(90)); err != nil {
		t.Fatal(err)
	}
	img, ok := repo.ReadOriginalWithFilters(id, filters.Crop, filters.Color)
	if !ok {
		t.Fatalf("ReadOriginalWithFilters() failed")
	}
	if img.Bounds().Dx() != 30 || img.ColorModel() != color.GrayModel {
		t.Fatalf("preview = %v %T, want unrotated gray", img.Bounds(), img)
	}
	full, _ := repo.ReadModified(id)
	if full.Bounds().Dx() != 10 {
		t.Fatalf("modified image should be rotated, got %v", full.Bounds())
	}
}

func TestCreateFromFile(t *testing.T) {
	repo, _ := newRepo(t)
	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, white(12, 6)); err != nil {
		t.Fatal(err)
	}
	f.Close()
	id, err := repo.CreateFromFile(path, page.FullFrame())
	if err != nil {
		t.Fatalf("CreateFromFile() error = %v", err)
	}
	if img, ok := repo.ReadModified(id); !ok || img.Bounds().Dx() != 12 {
		t.Fatalf("ReadModified() = %v, %v", img, ok)
	}
}

func TestSweepOrphans(t *testing.T) {
	repo, store := newRepo(t)
	id, _ := repo.Create(white(4, 4), page.FullFrame())
	stray, err := store.Create(white(4, 4), blob.FormatPNG)
	if err != nil {
		t.Fatal(err)
	}
	n, err := repo.SweepOrphans()
	if err != nil || n != 1 {
		t.Fatalf("SweepOrphans() = %d, %v", n, err)
	}
	if store.Exists(stray) {
		t.Fatalf("orphan not removed")
	}
	if _, ok := repo.ReadModified(id); !ok {
		t.Fatalf("live blob removed by sweep")
	}
}

// failingBlobs fails every Create after the first n with ENOSPC.
type failingBlobs struct {
	*blob.Store
	n int
}

func (f *failingBlobs) Create(img image.Image, format blob.Format, opts ...blob.CreateOption) (string, error) {
	if f.n == 0 {
		return "", &blob.NoSpaceError{ID: "x", Err: syscall.ENOSPC}
	}
	f.n--
	return f.Store.Create(img, format, opts...)
}

func TestCreateCleansUpOnNoSpace(t *testing.T) {
	store, err := blob.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := New(&failingBlobs{Store: store, n: 1}, nil)
	_, err = repo.Create(white(10, 10), page.FullFrame())
	if !errors.Is(err, blob.ErrNoFreeSpace) {
		t.Fatalf("Create() error = %v, want ErrNoFreeSpace", err)
	}
	if ids, _ := store.List(); len(ids) != 0 {
		t.Fatalf("original blob leaked: %v", ids)
	}
	if !repo.IsEmpty() {
		t.Fatalf("failed create must not add a page")
	}
}

func TestCreateRejectsInvalidContour(t *testing.T) {
	repo, _ := newRepo(t)
	if _, err := repo.Create(white(4, 4), page.Contour{{X: -1, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}); err == nil {
		t.Fatalf("expected contour error")
	}
}
