package export

import (
	"fmt"
	"strings"
)

// FileType selects the artifact an export produces.
type FileType int

const (
	PDF FileType = iota
	PDFWithOCR
	JPG
	PNG
)

func (t FileType) String() string {
	switch t {
	case PDF:
		return "pdf"
	case PDFWithOCR:
		return "pdf-ocr"
	case JPG:
		return "jpg"
	case PNG:
		return "png"
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

// Ext returns the file extension, without the dot.
func (t FileType) Ext() string {
	switch t {
	case JPG:
		return "jpg"
	case PNG:
		return "png"
	}
	return "pdf"
}

func (t FileType) IsPDF() bool { return t == PDF || t == PDFWithOCR }

// ParseFileType accepts pdf, pdf-ocr, jpg, jpeg and png.
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return PDF, nil
	case "pdf-ocr", "pdf_ocr", "pdfocr", "ocr":
		return PDFWithOCR, nil
	case "jpg", "jpeg":
		return JPG, nil
	case "png":
		return PNG, nil
	}
	return PDF, fmt.Errorf("unknown file type %q", s)
}
