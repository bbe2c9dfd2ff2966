// Package writer produces the PDF files of an export: one image per page,
// optionally with an invisible text layer so the document is searchable.
//
// Objects are numbered sequentially as they are added and written with a
// classic cross-reference table.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"
)

// ErrNoPages is returned when writing a document without pages.
var ErrNoPages = errors.New("document has no pages")

const fontResource = "F1"

// Rect is a rectangle in points with a lower-left origin.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Page is one page of the document: an image drawn into ImageRect and the
// optional words of its text layer.
type Page struct {
	Width, Height float64
	Image         Image
	ImageRect     Rect
	Words         []Word
}

type Info struct {
	Title    string
	Producer string
	Created  time.Time
}

type Document struct {
	objects  []Object
	pageRefs []Ref
	pagesRef Ref
	fontRef  Ref
	level    int
	info     Info
}

type Option func(*Document)

// WithCompression sets the Flate level for content streams.
func WithCompression(level int) Option {
	return func(d *Document) { d.level = level }
}

func WithInfo(info Info) Option {
	return func(d *Document) { d.info = info }
}

func New(opts ...Option) *Document {
	d := &Document{level: zlib.DefaultCompression, info: Info{Producer: "pagescan"}}
	for _, opt := range opts {
		opt(d)
	}
	d.pagesRef = d.reserve()
	d.fontRef = d.add(Dict{
		"Type":     Name("Font"),
		"Subtype":  Name("Type1"),
		"BaseFont": Name("Helvetica"),
		"Encoding": Name("WinAnsiEncoding"),
	})
	return d
}

func (d *Document) reserve() Ref {
	d.objects = append(d.objects, nil)
	return Ref(len(d.objects))
}

func (d *Document) add(o Object) Ref {
	d.objects = append(d.objects, o)
	return Ref(len(d.objects))
}

func (d *Document) set(ref Ref, o Object) { d.objects[int(ref)-1] = o }

// PageCount returns the number of pages added so far.
func (d *Document) PageCount() int { return len(d.pageRefs) }

// AddPage appends p.
func (d *Document) AddPage(p Page) error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("page size %gx%g invalid", p.Width, p.Height)
	}
	if p.Image.Width <= 0 || p.Image.Height <= 0 || len(p.Image.Data) == 0 {
		return fmt.Errorf("page image empty")
	}
	imgRef := d.add(p.Image.stream())
	content, err := deflate(pageContent(p), d.level)
	if err != nil {
		return err
	}
	contentRef := d.add(&Stream{Dict: Dict{"Filter": Name("FlateDecode")}, Data: content})
	ref := d.add(Dict{
		"Type":     Name("Page"),
		"Parent":   d.pagesRef,
		"MediaBox": Array{Int(0), Int(0), Real(p.Width), Real(p.Height)},
		"Resources": Dict{
			"XObject": Dict{"Im1": imgRef},
			"Font":    Dict{fontResource: d.fontRef},
		},
		"Contents": contentRef,
	})
	d.pageRefs = append(d.pageRefs, ref)
	return nil
}

// pageContent draws the image into its rectangle and lays the invisible
// words over it.
func pageContent(p Page) []byte {
	var b bytes.Buffer
	r := p.ImageRect
	fmt.Fprintf(&b, "q\n%s 0 0 %s %s %s cm\n/Im1 Do\nQ\n",
		formatReal(r.Width), formatReal(r.Height), formatReal(r.X), formatReal(r.Y))
	b.Write(textLayer(fontResource, p.Words))
	return b.Bytes()
}

// WriteTo serializes the document.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	return d.Write(context.Background(), w)
}

// Write serializes the document, checking ctx between objects.
func (d *Document) Write(ctx context.Context, w io.Writer) (int64, error) {
	if len(d.pageRefs) == 0 {
		return 0, ErrNoPages
	}
	kids := make(Array, len(d.pageRefs))
	for i, r := range d.pageRefs {
		kids[i] = r
	}
	d.set(d.pagesRef, Dict{"Type": Name("Pages"), "Kids": kids, "Count": Int(len(d.pageRefs))})
	catalogRef := d.add(Dict{"Type": Name("Catalog"), "Pages": d.pagesRef})
	infoRef := d.add(d.infoDict())
	defer func() { d.objects = d.objects[:len(d.objects)-2] }()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")
	offsets := make([]int, len(d.objects))
	for i, obj := range d.objects {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		offsets[i] = buf.Len()
		buf.Write(serializeObject(i+1, obj))
	}
	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(d.objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(Dict{"Size": Int(len(d.objects) + 1), "Root": catalogRef, "Info": infoRef}))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (d *Document) infoDict() Dict {
	info := Dict{"Producer": String(encodeWinAnsi(d.info.Producer))}
	if d.info.Title != "" {
		info["Title"] = String(encodeWinAnsi(d.info.Title))
	}
	created := d.info.Created
	if created.IsZero() {
		created = time.Now()
	}
	info["CreationDate"] = String(created.UTC().Format("D:20060102150405Z"))
	return info
}
