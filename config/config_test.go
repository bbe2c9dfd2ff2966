package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagescan.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvHome, EnvOutput, EnvTessdata, EnvLanguages, EnvAddr} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Export.OutputDir != filepath.Join(cfg.Storage.Dir, "exports") {
		t.Fatalf("output dir = %s", cfg.Export.OutputDir)
	}
	if w, h, ok := cfg.Export.PageDimensions(); !ok || w != 595 || h != 842 {
		t.Fatalf("PageDimensions() = %v, %v, %v", w, h, ok)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	path := writeConfig(t, `
storage:
  dir: `+home+`
  original_format: png
export:
  jpeg_quality: 75
  page_size: letter
ocr:
  languages: [eng, deu]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Dir != home || cfg.Storage.OriginalFormat != "png" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.TargetWidth != 4096 {
		t.Fatalf("default target width lost: %d", cfg.Storage.TargetWidth)
	}
	if cfg.Export.JPEGQuality != 75 || cfg.Export.PageSize != "letter" {
		t.Fatalf("export = %+v", cfg.Export)
	}
	if !reflect.DeepEqual(cfg.OCR.Languages, []string{"eng", "deu"}) {
		t.Fatalf("languages = %v", cfg.OCR.Languages)
	}
	if cfg.BlobDir() != filepath.Join(home, "blobs") || cfg.StateDir() != filepath.Join(home, "state") {
		t.Fatalf("dirs = %s %s", cfg.BlobDir(), cfg.StateDir())
	}
	if cfg.Upload.OutboxDir != filepath.Join(home, "outbox") {
		t.Fatalf("outbox = %s", cfg.Upload.OutboxDir)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv(EnvOutput, filepath.Join(home, "out"))
	t.Setenv(EnvTessdata, "/usr/share/tessdata")
	t.Setenv(EnvLanguages, "eng+fra")
	t.Setenv(EnvAddr, ":9000")

	cfg, err := Load(writeConfig(t, "storage:\n  dir: /elsewhere\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Dir != home || cfg.Export.OutputDir != filepath.Join(home, "out") {
		t.Fatalf("dirs = %s %s", cfg.Storage.Dir, cfg.Export.OutputDir)
	}
	if cfg.OCR.TessdataDir != "/usr/share/tessdata" || !reflect.DeepEqual(cfg.OCR.Languages, []string{"eng", "fra"}) {
		t.Fatalf("ocr = %+v", cfg.OCR)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load(missing) succeeded")
	}
	if _, err := Load(writeConfig(t, "storage:\n  nope: 1\n")); err == nil {
		t.Fatalf("Load(unknown field) succeeded")
	}
	_, err := Load(writeConfig(t, "export:\n  jpeg_quality: 0\n  page_size: tabloid\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v", err)
	}
	for _, key := range []string{"export.jpeg_quality", "export.page_size"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoadWithoutDefaultFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	if _, err := Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"target width", func(c *Config) { c.Storage.TargetWidth = 0 }},
		{"target height", func(c *Config) { c.Storage.TargetHeight = 40000 }},
		{"format", func(c *Config) { c.Storage.OriginalFormat = "gif" }},
		{"original quality", func(c *Config) { c.Storage.OriginalQuality = 101 }},
		{"dpi", func(c *Config) { c.Export.DPI = -1 }},
		{"margin", func(c *Config) { c.Export.Margin = 500 }},
		{"workers", func(c *Config) { c.Export.Workers = -2 }},
		{"language", func(c *Config) { c.OCR.Languages = []string{"../eng"} }},
		{"storage dir", func(c *Config) { c.Storage.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
