// Package upload hands finished documents to whatever moves them off the
// device. The core only knows the opaque Target and the Uploader interface.
package upload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrNoTarget is returned when an upload is requested without a target.
var ErrNoTarget = errors.New("no upload target")

// Target identifies where a finished document goes. Its fields are not
// interpreted by the pipeline.
type Target struct {
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

func (t Target) IsZero() bool { return t == Target{} }

func (t Target) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s:%s (%s)", t.Kind, t.Path, t.Name)
	}
	return t.Kind + ":" + t.Path
}

// ParseTarget parses "kind:path". A missing kind defaults to "folder".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, ErrNoTarget
	}
	kind, path, ok := strings.Cut(s, ":")
	if !ok {
		return Target{Kind: "folder", Path: s}, nil
	}
	if kind == "" || path == "" {
		return Target{}, fmt.Errorf("parse target %q: want kind:path", s)
	}
	return Target{Kind: kind, Path: path}, nil
}

// Uploader receives the artifacts of an export.
type Uploader interface {
	Upload(ctx context.Context, target Target, uris []string) error
}

// Manifest records one hand-off in the outbox.
type Manifest struct {
	ID      string    `yaml:"id"`
	Target  Target    `yaml:"target"`
	Files   []string  `yaml:"files"`
	Created time.Time `yaml:"created"`
}

// Outbox is an Uploader that queues hand-offs as YAML manifests for an
// external sync process.
type Outbox struct {
	Dir string
	now func() time.Time
}

func NewOutbox(dir string) *Outbox { return &Outbox{Dir: dir, now: time.Now} }

func (o *Outbox) Upload(ctx context.Context, target Target, uris []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if target.IsZero() {
		return ErrNoTarget
	}
	files := make([]string, 0, len(uris))
	for _, u := range uris {
		p, err := FilePath(u)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("stat artifact: %w", err)
		}
		files = append(files, p)
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	m := Manifest{ID: uuid.NewString(), Target: target, Files: files, Created: o.now().UTC()}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	name := filepath.Join(o.Dir, fmt.Sprintf("%s-%s.yaml", m.Created.Format("20060102T150405"), m.ID))
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Pending returns the queued manifests, oldest first.
func (o *Outbox) Pending() ([]Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(o.Dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]Manifest, 0, len(matches))
	for _, p := range matches {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", filepath.Base(p), err)
		}
		out = append(out, m)
	}
	return out, nil
}

// FileURI returns the file:// URI of a local path.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// FilePath is the inverse of FileURI. Plain paths are returned unchanged.
func FilePath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}
