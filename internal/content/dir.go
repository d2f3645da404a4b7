package content

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DirBacking spills bodies into a directory of flat files. The directory is
// created on first write so an all-inline capture leaves nothing behind.
type DirBacking struct {
	root string

	mu      sync.Mutex
	created bool
}

// NewDirBacking returns a backing rooted at dir.
func NewDirBacking(dir string) *DirBacking {
	return &DirBacking{root: dir}
}

func (d *DirBacking) ensure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created {
		return nil
	}
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return err
	}
	d.created = true
	return nil
}

func (d *DirBacking) Write(key string, data []byte) error {
	if err := d.ensure(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(d.root, key), data, 0644)
}

func (d *DirBacking) Open(key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.root, key))
}

func (d *DirBacking) Remove(key string) error {
	return os.Remove(filepath.Join(d.root, key))
}

func (d *DirBacking) Destroy() error {
	return os.Remove(d.root)
}
