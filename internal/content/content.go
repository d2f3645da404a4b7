// Package content implements the tiered byte store backing captured
// resources: small bodies stay in memory, large ones spill to a backing
// store behind an opaque Ref.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// DefaultThreshold is the inline/spillover boundary: bodies at or below it
// are kept in memory.
const DefaultThreshold = 256 * 1024

// ErrUnknownRef is returned by Open for a Ref this store never issued.
var ErrUnknownRef = errors.New("content: unknown ref")

// Meta describes the body being stored.
type Meta struct {
	URL      string
	MimeType string
}

// Ref is an opaque pointer to stored content: either an inline buffer or a
// key into the backing store. Consumers never see file paths, so the
// tiering strategy stays invisible.
type Ref struct {
	Inline     []byte
	Key        string
	Compressed bool
	Size       int64
}

// Backing is the spillover storage consumed by the store. The default is a
// lazily-created directory of files; OPFS/zip writers live outside the core.
type Backing interface {
	Write(key string, data []byte) error
	Open(key string) (io.ReadCloser, error)
	Remove(key string) error
	// Destroy removes the backing root itself. Best effort.
	Destroy() error
}

// Store is the hybrid memory/spillover content store. One store is owned by
// exactly one capture session.
type Store struct {
	threshold int64
	backing   Backing

	mu   sync.Mutex
	seq  int
	keys []string
}

// New returns a store spilling bodies larger than threshold into backing.
// A threshold <= 0 selects DefaultThreshold.
func New(backing Backing, threshold int64) *Store {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Store{threshold: threshold, backing: backing}
}

// Put stores body and returns a Ref for it. Bodies over the threshold are
// gzip-compressed and written to the backing store under a key derived from
// the URL hash plus a unique suffix.
func (s *Store) Put(body []byte, meta Meta) (Ref, error) {
	if int64(len(body)) <= s.threshold || s.backing == nil {
		return Ref{Inline: body, Size: int64(len(body))}, nil
	}

	s.mu.Lock()
	s.seq++
	key := fmt.Sprintf("%s-%d", hashKey(meta.URL), s.seq)
	s.mu.Unlock()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return Ref{}, fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Ref{}, fmt.Errorf("compress body: %w", err)
	}

	if err := s.backing.Write(key, buf.Bytes()); err != nil {
		return Ref{}, fmt.Errorf("write body: %w", err)
	}

	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()

	return Ref{Key: key, Compressed: true, Size: int64(len(body))}, nil
}

// Open streams the content behind ref. Inline refs stream their buffer,
// store refs read back from backing storage.
func (s *Store) Open(ref Ref) (io.ReadCloser, error) {
	if ref.Key == "" {
		return io.NopCloser(bytes.NewReader(ref.Inline)), nil
	}
	if s.backing == nil {
		return nil, ErrUnknownRef
	}
	rc, err := s.backing.Open(ref.Key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref.Key, err)
	}
	if !ref.Compressed {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("open %s: %w", ref.Key, err)
	}
	return &zipReadCloser{zr: zr, under: rc}, nil
}

// ReadAll is a convenience wrapper around Open for consumers that want the
// whole body at once.
func (s *Store) ReadAll(ref Ref) ([]byte, error) {
	rc, err := s.Open(ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Dispose deletes every spilled body written during this store's lifetime
// and removes the backing root. Cleanup failures are swallowed: disposal
// runs after the snapshot is already durably written elsewhere.
func (s *Store) Dispose() {
	if s.backing == nil {
		return
	}
	s.mu.Lock()
	keys := s.keys
	s.keys = nil
	s.mu.Unlock()

	for _, key := range keys {
		_ = s.backing.Remove(key)
	}
	_ = s.backing.Destroy()
}

type zipReadCloser struct {
	zr    *gzip.Reader
	under io.ReadCloser
}

func (z *zipReadCloser) Read(p []byte) (int, error) { return z.zr.Read(p) }

func (z *zipReadCloser) Close() error {
	err := z.zr.Close()
	if uerr := z.under.Close(); err == nil {
		err = uerr
	}
	return err
}

func hashKey(url string) string {
	sum := blake3.Sum256([]byte(url))
	return fmt.Sprintf("%x", sum[:8])
}
