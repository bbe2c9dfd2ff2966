// Package config loads pagescan settings from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wudi/pagescan/ocr"
)

// DefaultFile is read when no config path is given and it exists in the
// working directory.
const DefaultFile = "pagescan.yaml"

// Environment variables that override the file.
const (
	EnvHome      = "PAGESCAN_HOME"
	EnvOutput    = "PAGESCAN_OUTPUT"
	EnvTessdata  = "TESSDATA_PREFIX"
	EnvLanguages = "PAGESCAN_OCR_LANGUAGES"
	EnvAddr      = "PAGESCAN_ADDR"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Storage Storage `yaml:"storage"`
	Export  Export  `yaml:"export"`
	OCR     OCR     `yaml:"ocr"`
	Upload  Upload  `yaml:"upload"`
	Server  Server  `yaml:"server"`
}

// Storage configures the session home. Blobs live in Dir/blobs and the
// snapshot in Dir/state.
type Storage struct {
	Dir             string `yaml:"dir"`
	TargetWidth     int    `yaml:"target_width"`
	TargetHeight    int    `yaml:"target_height"`
	OriginalFormat  string `yaml:"original_format"`
	OriginalQuality int    `yaml:"original_quality"`
}

type Export struct {
	OutputDir   string  `yaml:"output_dir"`
	JPEGQuality int     `yaml:"jpeg_quality"`
	PageSize    string  `yaml:"page_size"`
	DPI         int     `yaml:"dpi"`
	Margin      float64 `yaml:"margin"`
	Workers     int     `yaml:"workers"`
}

type OCR struct {
	Languages   []string `yaml:"languages"`
	TessdataDir string   `yaml:"tessdata_dir"`
	// PSM is the Tesseract page segmentation mode; zero keeps the engine
	// default.
	PSM       int    `yaml:"psm"`
	Whitelist string `yaml:"whitelist"`
}

type Upload struct {
	OutboxDir string `yaml:"outbox_dir"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// pageSizes are portrait sizes in points.
var pageSizes = map[string][2]float64{
	"a4":     {595, 842},
	"a5":     {420, 595},
	"letter": {612, 792},
	"legal":  {612, 1008},
}

// PageDimensions returns the portrait page size in points.
func (e Export) PageDimensions() (width, height float64, ok bool) {
	s, ok := pageSizes[strings.ToLower(e.PageSize)]
	return s[0], s[1], ok
}

// Default returns the built-in settings rooted at ~/.pagescan.
func Default() Config {
	c := defaults()
	c.resolve()
	return c
}

func defaults() Config {
	home := ".pagescan"
	if h, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(h, ".pagescan")
	}
	return Config{
		Storage: Storage{
			Dir:             home,
			TargetWidth:     4096,
			TargetHeight:    4096,
			OriginalFormat:  "jpeg",
			OriginalQuality: 92,
		},
		Export: Export{JPEGQuality: 90, PageSize: "a4", DPI: 200, Margin: 18},
		OCR:    OCR{Languages: []string{"eng"}},
		Server: Server{Addr: "127.0.0.1:8080"},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path reads DefaultFile when it exists.
func Load(path string) (Config, error) {
	cfg := defaults()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. Unset variables leave
// the value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvHome); v != "" {
		c.Storage.Dir = v
	}
	if v := getenv(EnvOutput); v != "" {
		c.Export.OutputDir = v
	}
	if v := getenv(EnvTessdata); v != "" {
		c.OCR.TessdataDir = v
	}
	if v := getenv(EnvLanguages); v != "" {
		c.OCR.Languages = ocr.ParseLanguages(v)
	}
	if v := getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
}

// resolve fills directories left empty from the storage dir.
func (c *Config) resolve() {
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = filepath.Join(c.Storage.Dir, "exports")
	}
	if c.Upload.OutboxDir == "" {
		c.Upload.OutboxDir = filepath.Join(c.Storage.Dir, "outbox")
	}
}

func (c Config) BlobDir() string  { return filepath.Join(c.Storage.Dir, "blobs") }
func (c Config) StateDir() string { return filepath.Join(c.Storage.Dir, "state") }

// Validate reports every out-of-range value.
func (c Config) Validate() error {
	var errs []error
	bad := func(key string, v any, want string) {
		errs = append(errs, fmt.Errorf("%w: %s = %v, want %s", ErrInvalid, key, v, want))
	}
	if c.Storage.Dir == "" {
		bad("storage.dir", strconv.Quote(""), "a directory")
	}
	if c.Storage.TargetWidth < 1 || c.Storage.TargetWidth > 32768 {
		bad("storage.target_width", c.Storage.TargetWidth, "1..32768")
	}
	if c.Storage.TargetHeight < 1 || c.Storage.TargetHeight > 32768 {
		bad("storage.target_height", c.Storage.TargetHeight, "1..32768")
	}
	switch strings.ToLower(c.Storage.OriginalFormat) {
	case "jpeg", "jpg", "png":
	default:
		bad("storage.original_format", c.Storage.OriginalFormat, "jpeg or png")
	}
	if c.Storage.OriginalQuality < 1 || c.Storage.OriginalQuality > 100 {
		bad("storage.original_quality", c.Storage.OriginalQuality, "1..100")
	}
	if c.Export.JPEGQuality < 1 || c.Export.JPEGQuality > 100 {
		bad("export.jpeg_quality", c.Export.JPEGQuality, "1..100")
	}
	if _, _, ok := c.Export.PageDimensions(); !ok {
		bad("export.page_size", c.Export.PageSize, "a4, a5, letter or legal")
	}
	if c.Export.DPI < 0 || c.Export.DPI > 1200 {
		bad("export.dpi", c.Export.DPI, "0..1200")
	}
	if c.Export.Margin < 0 || c.Export.Margin >= 200 {
		bad("export.margin", c.Export.Margin, "0..200 points")
	}
	if c.Export.Workers < 0 {
		bad("export.workers", c.Export.Workers, ">= 0")
	}
	if c.OCR.PSM < 0 || c.OCR.PSM > 13 {
		bad("ocr.psm", c.OCR.PSM, "0..13")
	}
	for _, l := range c.OCR.Languages {
		if l == "" || strings.ContainsAny(l, `/\`) {
			bad("ocr.languages", strconv.Quote(l), "a traineddata name")
		}
	}
	return errors.Join(errs...)
}
