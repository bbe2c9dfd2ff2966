package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/ocr"
	"github.com/wudi/pagescan/page"
	"github.com/wudi/pagescan/upload"
)

// fakePages serves solid-color PNG pages from a temp dir.
type fakePages struct {
	pages  []page.Page
	images map[string]image.Image
	files  map[string]string
}

func newFakePages(t *testing.T, colors ...color.Color) *fakePages {
	t.Helper()
	dir := t.TempDir()
	f := &fakePages{images: map[string]image.Image{}, files: map[string]string{}}
	for i, c := range colors {
		img := image.NewNRGBA(image.Rect(0, 0, 40, 60))
		for j := 0; j < len(img.Pix); j += 4 {
			r, g, b, _ := c.RGBA()
			img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = uint8(r>>8), uint8(g>>8), uint8(b>>8), 0xff
		}
		id := fmt.Sprintf("page-%d", i)
		path := filepath.Join(dir, id+".png")
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("png.Encode() error = %v", err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		f.pages = append(f.pages, page.Page{ID: id, Modified: page.ModifiedPicture{BlobID: id}})
		f.images[id] = img
		f.files[id] = path
	}
	return f
}

func (f *fakePages) ReadAll() []page.Page { return append([]page.Page(nil), f.pages...) }

func (f *fakePages) ReadModified(id string) (image.Image, bool) {
	img, ok := f.images[id]
	return img, ok
}

func (f *fakePages) ReadModifiedFile(id string) (string, bool) {
	p, ok := f.files[id]
	return p, ok
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracker) Track(event string, _ ...observability.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTracker) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type countingEngine struct {
	calls atomic.Int32
}

func (*countingEngine) Name() string { return "counting" }

func (e *countingEngine) Recognize(_ context.Context, in ocr.Input) (ocr.Result, error) {
	e.calls.Add(1)
	return ocr.Result{
		InputID: in.ID,
		Blocks: []ocr.TextBlock{{Lines: []ocr.TextLine{{Words: []ocr.TextWord{
			{Text: "hello", Bounds: ocr.Region{X: 2, Y: 4, Width: 20, Height: 8}},
		}}}}},
	}, nil
}

type renderFunc func(ctx context.Context, job RenderJob) error

func (f renderFunc) Render(ctx context.Context, job RenderJob) error { return f(ctx, job) }

func workDirs(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, workDirPrefix+"*"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	return m
}

func pathsOf(t *testing.T, uris []string) []string {
	t.Helper()
	out := make([]string, len(uris))
	for i, u := range uris {
		if !strings.HasPrefix(u, "file://") {
			t.Fatalf("uri %q is not a file uri", u)
		}
		p, err := upload.FilePath(u)
		if err != nil {
			t.Fatalf("FilePath() error = %v", err)
		}
		out[i] = p
	}
	return out
}

func TestInvokeImagesKeepsOrder(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	green := color.NRGBA{G: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	pages := newFakePages(t, red, green, blue)
	out := t.TempDir()
	p := New(pages, out, WithWorkers(2))

	uris, err := p.Invoke(context.Background(), "receipt", PNG)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	paths := pathsOf(t, uris)
	want := []color.NRGBA{red, green, blue}
	for i, path := range paths {
		if got, wantName := filepath.Base(path), fmt.Sprintf("receipt_%d.png", i+1); got != wantName {
			t.Fatalf("file %d = %s, want %s", i, got, wantName)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("png.Decode() error = %v", err)
		}
		if got := color.NRGBAModel.Convert(img.At(5, 5)); got != want[i] {
			t.Fatalf("page %d color = %v, want %v", i+1, got, want[i])
		}
	}
}

func TestInvokeImagesZeroPadsNames(t *testing.T) {
	colors := make([]color.Color, 10)
	for i := range colors {
		colors[i] = color.Gray{Y: uint8(i * 20)}
	}
	out := t.TempDir()
	uris, err := New(newFakePages(t, colors...), out).Invoke(context.Background(), "scan", JPG)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	paths := pathsOf(t, uris)
	if got := filepath.Base(paths[0]); got != "scan_01.jpg" {
		t.Fatalf("first = %s", got)
	}
	if got := filepath.Base(paths[9]); got != "scan_10.jpg" {
		t.Fatalf("last = %s", got)
	}
	data, err := os.ReadFile(paths[3])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("jpeg.DecodeConfig() error = %v", err)
	}
}

func TestInvokeImagesRemovesPartialOutput(t *testing.T) {
	pages := newFakePages(t, color.White, color.Black)
	delete(pages.images, pages.pages[1].ID)
	out := t.TempDir()
	_, err := New(pages, out).Invoke(context.Background(), "scan", PNG)
	if !errors.Is(err, ErrReadFailed) || !errors.Is(err, ErrDocumentSaveFailed) {
		t.Fatalf("Invoke() error = %v", err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Fatalf("output dir not empty: %v", entries)
	}
}

func TestInvokeImagesKeepsFilesItDidNotWrite(t *testing.T) {
	pages := newFakePages(t, color.White, color.Black)
	out := t.TempDir()
	earlier := filepath.Join(out, "scan_2.png")
	if err := os.WriteFile(earlier, []byte("earlier export"), 0o644); err != nil {
		t.Fatal(err)
	}
	delete(pages.images, pages.pages[1].ID)
	if _, err := New(pages, out).Invoke(context.Background(), "scan", PNG); !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Invoke() error = %v", err)
	}
	data, err := os.ReadFile(earlier)
	if err != nil || string(data) != "earlier export" {
		t.Fatalf("file from an earlier export was touched: %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(out, "scan_1.png")); !os.IsNotExist(err) {
		t.Fatalf("scan_1.png written by the failed run should be removed")
	}
}

func TestInvokeWithoutPages(t *testing.T) {
	_, err := New(&fakePages{}, t.TempDir()).Invoke(context.Background(), "scan", PDF)
	if !errors.Is(err, ErrNoPages) || !errors.Is(err, ErrDocumentSaveFailed) {
		t.Fatalf("Invoke() error = %v", err)
	}
	var dse *DocumentSaveError
	if !errors.As(err, &dse) || dse.Op != "export pdf" {
		t.Fatalf("error = %#v", err)
	}
}

func TestInvokePDF(t *testing.T) {
	out := t.TempDir()
	tracker := &recordingTracker{}
	p := New(newFakePages(t, color.White, color.Black), out, WithTracker(tracker))
	uris, err := p.Invoke(context.Background(), "contract", PDF)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	paths := pathsOf(t, uris)
	if len(paths) != 1 || filepath.Base(paths[0]) != "contract.pdf" {
		t.Fatalf("paths = %v", paths)
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) || !bytes.Contains(data, []byte("/Count 2")) {
		t.Fatalf("unexpected document:\n%.200s", data)
	}
	if dirs := workDirs(t, out); len(dirs) != 0 {
		t.Fatalf("work dirs left behind: %v", dirs)
	}
	if !tracker.has(observability.EventExportDone) {
		t.Fatalf("events = %v", tracker.events)
	}
}

var streamRe = regexp.MustCompile(`(?s)\nstream\n(.*?)\nendstream`)

// contentText inflates every Flate stream of a document and joins them.
func contentText(data []byte) string {
	var sb strings.Builder
	for _, m := range streamRe.FindAllSubmatch(data, -1) {
		zr, err := zlib.NewReader(bytes.NewReader(m[1]))
		if err != nil {
			continue
		}
		b, err := io.ReadAll(zr)
		if err == nil {
			sb.Write(b)
		}
	}
	return sb.String()
}

func TestInvokePDFWithOCR(t *testing.T) {
	tessdata := t.TempDir()
	if err := os.WriteFile(filepath.Join(tessdata, "eng.traineddata"), []byte("model"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	engine := &countingEngine{}
	out := t.TempDir()
	p := New(newFakePages(t, color.White, color.White), out,
		WithOCR(engine, ocr.DirLanguages{Dir: tessdata, Langs: []string{"eng"}}))
	uris, err := p.Invoke(context.Background(), "ocr", PDFWithOCR)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := engine.calls.Load(); got != 2 {
		t.Fatalf("Recognize() calls = %d, want 2", got)
	}
	data, err := os.ReadFile(pathsOf(t, uris)[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := contentText(data)
	if !strings.Contains(text, "3 Tr") || !strings.Contains(text, "(hello) Tj") {
		t.Fatalf("no text layer in content:\n%s", text)
	}
}

func TestInvokePDFWithOCRFallsBackWithoutTrainedData(t *testing.T) {
	engine := &countingEngine{}
	tracker := &recordingTracker{}
	out := t.TempDir()
	p := New(newFakePages(t, color.White), out,
		WithOCR(engine, ocr.DirLanguages{Dir: t.TempDir(), Langs: []string{"deu"}}),
		WithTracker(tracker))
	uris, err := p.Invoke(context.Background(), "plain", PDFWithOCR)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if engine.calls.Load() != 0 {
		t.Fatalf("engine ran without trained data")
	}
	if !tracker.has(observability.EventOCRSkipped) {
		t.Fatalf("events = %v", tracker.events)
	}
	data, err := os.ReadFile(pathsOf(t, uris)[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.HasSuffix(bytes.TrimSpace(data), []byte("%%EOF")) {
		t.Fatalf("document is truncated")
	}
	if strings.Contains(contentText(data), "3 Tr") {
		t.Fatalf("unexpected text layer")
	}
}

func TestInvokePDFCleansUpOnRenderFailure(t *testing.T) {
	boom := errors.New("boom")
	out := t.TempDir()
	var staged []string
	r := renderFunc(func(_ context.Context, job RenderJob) error {
		staged = job.Files
		if err := os.WriteFile(job.Output, []byte("partial"), 0o644); err != nil {
			return err
		}
		return boom
	})
	_, err := New(newFakePages(t, color.White, color.Black), out, WithRenderer(r)).Invoke(context.Background(), "scan", PDF)
	if !errors.Is(err, boom) || !errors.Is(err, ErrDocumentSaveFailed) {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(staged) != 2 || !strings.Contains(staged[0], workDirPrefix) {
		t.Fatalf("staged = %v", staged)
	}
	if dirs := workDirs(t, out); len(dirs) != 0 {
		t.Fatalf("work dirs left behind: %v", dirs)
	}
	if _, err := os.Stat(filepath.Join(out, "scan.pdf")); !os.IsNotExist(err) {
		t.Fatalf("scan.pdf exists after failure")
	}
}

func TestInvokePDFCleansUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := t.TempDir()
	r := renderFunc(func(ctx context.Context, job RenderJob) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	_, err := New(newFakePages(t, color.White), out, WithRenderer(r)).Invoke(ctx, "scan", PDF)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke() error = %v", err)
	}
	if dirs := workDirs(t, out); len(dirs) != 0 {
		t.Fatalf("work dirs left behind: %v", dirs)
	}
}

func TestInvokeAsync(t *testing.T) {
	out := t.TempDir()
	uris, err := New(newFakePages(t, color.White), out).InvokeAsync("async", PNG).Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if len(uris) != 1 || !strings.HasSuffix(uris[0], "/async_1.png") {
		t.Fatalf("uris = %v", uris)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"report":        "report",
		" report.pdf ":  "report",
		"../etc/passwd": "_etc_passwd",
		"a:b":           "a_b",
		"...":           "scan",
		"":              "scan",
		"notes.txt":     "notes.txt",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseFileType(t *testing.T) {
	cases := map[string]FileType{"pdf": PDF, "PDF-OCR": PDFWithOCR, "jpeg": JPG, "jpg": JPG, "png": PNG}
	for in, want := range cases {
		got, err := ParseFileType(in)
		if err != nil || got != want {
			t.Errorf("ParseFileType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFileType("tiff"); err == nil {
		t.Fatalf("ParseFileType(tiff) succeeded")
	}
}

func jpegData(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestLayoutPageOrientation(t *testing.T) {
	wide, err := layoutPage(DefaultProfile, jpegData(t, 200, 100))
	if err != nil {
		t.Fatalf("layoutPage() error = %v", err)
	}
	if wide.page.Width != 842 || wide.page.Height != 595 {
		t.Fatalf("wide page = %vx%v", wide.page.Width, wide.page.Height)
	}
	if wide.page.Image.Filter != "DCTDecode" {
		t.Fatalf("filter = %s, want passthrough", wide.page.Image.Filter)
	}
	r := wide.page.ImageRect
	if r.X < DefaultProfile.Margin-1e-9 || r.X+r.Width > 842-DefaultProfile.Margin+1e-9 {
		t.Fatalf("image rect %+v outside margins", r)
	}
	if diff := r.Width/r.Height - 2; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("aspect = %v", r.Width/r.Height)
	}

	tall, err := layoutPage(DefaultProfile, jpegData(t, 100, 200))
	if err != nil {
		t.Fatalf("layoutPage() error = %v", err)
	}
	if tall.page.Width != 595 || tall.page.Height != 842 {
		t.Fatalf("tall page = %vx%v", tall.page.Width, tall.page.Height)
	}
}

func TestLayoutPageResamplesAboveDPICap(t *testing.T) {
	prof := DefaultProfile
	prof.DPI = 10
	pg, err := layoutPage(prof, jpegData(t, 1000, 1400))
	if err != nil {
		t.Fatalf("layoutPage() error = %v", err)
	}
	img := pg.page.Image
	if img.Filter != "FlateDecode" || img.ColorSpace != "DeviceGray" {
		t.Fatalf("image = %s %s", img.Filter, img.ColorSpace)
	}
	if img.Width >= 1000 || img.Height >= 1400 {
		t.Fatalf("image not resampled: %dx%d", img.Width, img.Height)
	}
	if pg.srcW != 1000 || pg.srcH != 1400 {
		t.Fatalf("source size = %dx%d", pg.srcW, pg.srcH)
	}
}
