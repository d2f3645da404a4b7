package content

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSmallBodiesStayInline(t *testing.T) {
	spill := filepath.Join(t.TempDir(), "spill")
	s := New(NewDirBacking(spill), 16)

	ref, err := s.Put([]byte("tiny"), Meta{URL: "https://a.test/t"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Key != "" || string(ref.Inline) != "tiny" || ref.Size != 4 {
		t.Fatalf("ref = %+v", ref)
	}

	// Nothing under the threshold touches the filesystem.
	if _, err := os.Stat(spill); !os.IsNotExist(err) {
		t.Error("spill directory created for an inline-only store")
	}

	got, err := s.ReadAll(ref)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "tiny" {
		t.Errorf("body = %q", got)
	}
}

func TestLargeBodiesSpillCompressed(t *testing.T) {
	spill := filepath.Join(t.TempDir(), "spill")
	s := New(NewDirBacking(spill), 16)
	body := bytes.Repeat([]byte("abcdefgh"), 64)

	ref, err := s.Put(body, Meta{URL: "https://a.test/big.js"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Key == "" || !ref.Compressed || ref.Size != int64(len(body)) {
		t.Fatalf("ref = %+v", ref)
	}

	entries, err := os.ReadDir(spill)
	if err != nil {
		t.Fatalf("read spill dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d spill files, want 1", len(entries))
	}
	info, err := entries[0].Info()
	if err != nil {
		t.Fatalf("stat spill file: %v", err)
	}
	if info.Size() >= int64(len(body)) {
		t.Errorf("spill file size %d not smaller than body %d", info.Size(), len(body))
	}

	got, err := s.ReadAll(ref)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("round trip mismatch")
	}
}

func TestRepeatedURLsGetDistinctKeys(t *testing.T) {
	s := New(NewDirBacking(filepath.Join(t.TempDir(), "spill")), 1)

	ref1, err := s.Put([]byte("first version"), Meta{URL: "https://a.test/x"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	ref2, err := s.Put([]byte("second version"), Meta{URL: "https://a.test/x"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref1.Key == ref2.Key {
		t.Fatalf("both refs share key %s", ref1.Key)
	}
	if got, _ := s.ReadAll(ref1); string(got) != "first version" {
		t.Errorf("ref1 body = %q", got)
	}
	if got, _ := s.ReadAll(ref2); string(got) != "second version" {
		t.Errorf("ref2 body = %q", got)
	}
}

func TestDisposeRemovesSpill(t *testing.T) {
	spill := filepath.Join(t.TempDir(), "spill")
	s := New(NewDirBacking(spill), 1)

	if _, err := s.Put([]byte("spilled body"), Meta{URL: "https://a.test/x"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(spill); err != nil {
		t.Fatalf("spill dir missing before dispose: %v", err)
	}

	s.Dispose()

	if _, err := os.Stat(spill); !os.IsNotExist(err) {
		t.Error("spill dir survived dispose")
	}
}

func TestOpenUnknownRef(t *testing.T) {
	s := New(nil, 0)
	if _, err := s.Open(Ref{Key: "nope"}); !errors.Is(err, ErrUnknownRef) {
		t.Fatalf("err = %v, want ErrUnknownRef", err)
	}
}

func TestNilBackingNeverSpills(t *testing.T) {
	s := New(nil, 1)
	body := bytes.Repeat([]byte("x"), 100)
	ref, err := s.Put(body, Meta{URL: "https://a.test/x"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Key != "" {
		t.Fatalf("ref spilled without a backing store: %+v", ref)
	}
}
