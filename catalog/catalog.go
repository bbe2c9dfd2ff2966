// Package catalog keeps the ordered set of pages that make up the current
// document. Order is insertion order until changed by Swap or Move.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pagescan/page"
)

// ErrNotFound is returned by Swap and Move for unknown ids.
var ErrNotFound = errors.New("page not found")

// Catalog is an insertion-ordered map of pages. It does not own blobs.
type Catalog struct {
	mu    sync.RWMutex
	order []string
	pages map[string]page.Page
}

func New() *Catalog {
	return &Catalog{pages: make(map[string]page.Page)}
}

// Create inserts pages in the given order. An existing id is overwritten in
// place.
func (c *Catalog) Create(pages ...page.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range pages {
		if _, ok := c.pages[p.ID]; !ok {
			c.order = append(c.order, p.ID)
		}
		c.pages[p.ID] = p
	}
}

func (c *Catalog) Read(id string) (page.Page, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[id]
	return p, ok
}

// ReadAll returns the pages in document order.
func (c *Catalog) ReadAll() []page.Page {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]page.Page, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.pages[id])
	}
	return out
}

// Update replaces the entry with p's id without moving it. It reports
// false, and changes nothing, when the id is absent.
func (c *Catalog) Update(p page.Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pages[p.ID]; !ok {
		return false
	}
	c.pages[p.ID] = p
	return true
}

// Swap exchanges the positions of a and b.
func (c *Catalog) Swap(a, b string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, j := c.indexLocked(a), c.indexLocked(b)
	if i < 0 {
		return fmt.Errorf("swap %s: %w", a, ErrNotFound)
	}
	if j < 0 {
		return fmt.Errorf("swap %s: %w", b, ErrNotFound)
	}
	c.order[i], c.order[j] = c.order[j], c.order[i]
	return nil
}

// Move places id at index, shifting the entries in between. Index is
// clamped to the valid range.
func (c *Catalog) Move(id string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.indexLocked(id)
	if from < 0 {
		return fmt.Errorf("move %s: %w", id, ErrNotFound)
	}
	index = max(0, min(index, len(c.order)-1))
	if from == index {
		return nil
	}
	c.order = append(c.order[:from], c.order[from+1:]...)
	c.order = append(c.order[:index], append([]string{id}, c.order[index:]...)...)
	return nil
}

// Index returns the position of id, or -1.
func (c *Catalog) Index(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexLocked(id)
}

func (c *Catalog) indexLocked(id string) int {
	if _, ok := c.pages[id]; !ok {
		return -1
	}
	for i, v := range c.order {
		if v == id {
			return i
		}
	}
	return -1
}

// Delete removes id. Unknown ids are ignored.
func (c *Catalog) Delete(id string) (page.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[id]
	if !ok {
		return page.Page{}, false
	}
	delete(c.pages, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (c *Catalog) IsEmpty() bool { return c.Len() == 0 }

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Release clears every entry. Blobs are left to the caller.
func (c *Catalog) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.pages = make(map[string]page.Page)
}
