package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Container is keyed byte storage that outlives the process.
type Container interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
	Remove(key string) error
}

// MemoryContainer keeps slots in memory.
type MemoryContainer struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemoryContainer() *MemoryContainer {
	return &MemoryContainer{slots: make(map[string][]byte)}
}

func (m *MemoryContainer) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[key]
	return append([]byte(nil), v...), ok
}

func (m *MemoryContainer) Put(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryContainer) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DirContainer stores one file per key under Dir.
type DirContainer struct {
	Dir string
}

func NewDirContainer(dir string) (*DirContainer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &DirContainer{Dir: dir}, nil
}

func (d *DirContainer) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid snapshot key %q", key)
	}
	return filepath.Join(d.Dir, key), nil
}

func (d *DirContainer) Get(key string) ([]byte, bool) {
	p, err := d.path(key)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (d *DirContainer) Put(key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.Dir, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

func (d *DirContainer) Remove(key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot %s: %w", key, err)
	}
	return nil
}
