package writer

import (
	"bytes"
	"fmt"
	"sync"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Word is a recognized word placed on a page. X, Y is the lower-left corner
// of its box in points.
type Word struct {
	Text          string
	X, Y          float64
	Width, Height float64
}

var (
	metricsOnce sync.Once
	metricsFont *sfnt.Font
)

func loadMetrics() *sfnt.Font {
	metricsOnce.Do(func() {
		f, err := sfnt.Parse(goregular.TTF)
		if err == nil && f.UnitsPerEm() > 0 {
			metricsFont = f
		}
	})
	return metricsFont
}

// textWidth returns the advance width of s in thousandths of the font size.
// Widths are taken from Go Regular, whose proportions are close enough to
// Helvetica to size an invisible layer.
func textWidth(s string) float64 {
	f := loadMetrics()
	if f == nil {
		return 500 * float64(len([]rune(s)))
	}
	buf := &sfnt.Buffer{}
	upem := f.UnitsPerEm()
	ppem := fixed.Int26_6(upem << 6)
	var total float64
	for _, r := range s {
		idx, err := f.GlyphIndex(buf, r)
		if err != nil || idx == 0 {
			total += 500
			continue
		}
		adv, err := f.GlyphAdvance(buf, idx, ppem, xfont.HintingNone)
		if err != nil {
			total += 500
			continue
		}
		total += scaleFixed(adv, upem)
	}
	return total
}

func scaleFixed(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	return float64(val) * 1000.0 / (64.0 * float64(unitsPerEm))
}

var winAnsi = encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

// encodeWinAnsi maps s onto WinAnsiEncoding, replacing unmappable runes.
func encodeWinAnsi(s string) []byte {
	out, err := winAnsi.Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// textLayer renders words as invisible text (render mode 3) using font
// resource name font. Each word is horizontally scaled to its box.
func textLayer(font string, words []Word) []byte {
	if len(words) == 0 {
		return nil
	}
	var b bytes.Buffer
	b.WriteString("BT\n3 Tr\n")
	for _, w := range words {
		if w.Text == "" || w.Height <= 0 || w.Width <= 0 {
			continue
		}
		size := w.Height
		natural := textWidth(w.Text) * size / 1000
		scale := 100.0
		if natural > 0 {
			scale = 100 * w.Width / natural
		}
		fmt.Fprintf(&b, "/%s %s Tf\n", font, formatReal(size))
		fmt.Fprintf(&b, "%s Tz\n", formatReal(scale))
		// baseline sits above the box bottom by roughly the descender
		fmt.Fprintf(&b, "1 0 0 1 %s %s Tm\n", formatReal(w.X), formatReal(w.Y+size*0.2))
		b.Write(escapeLiteralString(encodeWinAnsi(w.Text)))
		b.WriteString(" Tj\n")
	}
	b.WriteString("ET\n")
	return b.Bytes()
}
