package ocr

import (
	"os"
	"path/filepath"
	"strings"
)

// LanguageProvider reports the configured recognition languages and whether
// each has its trained data installed.
type LanguageProvider interface {
	Languages() []string
	Available(lang string) bool
}

// AllAvailable reports whether p configures at least one language and every
// configured language is available.
func AllAvailable(p LanguageProvider) bool {
	if p == nil {
		return false
	}
	langs := p.Languages()
	if len(langs) == 0 {
		return false
	}
	for _, l := range langs {
		if !p.Available(l) {
			return false
		}
	}
	return true
}

// Missing returns the configured languages without trained data.
func Missing(p LanguageProvider) []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, l := range p.Languages() {
		if !p.Available(l) {
			out = append(out, l)
		}
	}
	return out
}

// DirLanguages looks for Tesseract trained data as <Dir>/<lang>.traineddata.
type DirLanguages struct {
	Dir   string
	Langs []string
}

func (d DirLanguages) Languages() []string { return append([]string(nil), d.Langs...) }

func (d DirLanguages) Available(lang string) bool {
	if d.Dir == "" || lang == "" || strings.ContainsAny(lang, `/\`) {
		return false
	}
	info, err := os.Stat(filepath.Join(d.Dir, lang+".traineddata"))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ParseLanguages splits a Tesseract style "eng+deu" or comma separated list.
func ParseLanguages(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool)
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
