package capture

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/fsnotify/fsnotify"
)

// FixtureAdapter replays recorded protocol traffic from an NDJSON file:
// one Message per line, in the order the browser emitted them. Bodies are
// carried by synthetic "Fixture.body" lines keyed by raw request id. With
// Follow set, the adapter tails the file as an external recorder appends
// to it.
type FixtureAdapter struct {
	Path   string
	Follow bool
}

type fixtureBody struct {
	RequestID     string `json:"requestId"`
	FrameID       string `json:"frameId"`
	URL           string `json:"url"`
	Body          string `json:"body"`
	Base64Encoded bool   `json:"base64Encoded"`
}

// fixtureFetcher serves bodies recorded ahead of the loadingFinished line.
type fixtureFetcher struct {
	mu    sync.Mutex
	byID  map[string][]byte
	byURL map[string][]byte
}

func newFixtureFetcher() *fixtureFetcher {
	return &fixtureFetcher{byID: make(map[string][]byte), byURL: make(map[string][]byte)}
}

func (f *fixtureFetcher) record(b fixtureBody) error {
	data := []byte(b.Body)
	if b.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(b.Body)
		if err != nil {
			return fmt.Errorf("decode fixture body for %s: %w", b.RequestID, err)
		}
		data = decoded
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.RequestID != "" {
		f.byID[b.RequestID] = data
	}
	if b.URL != "" {
		f.byURL[b.URL] = data
	}
	return nil
}

func (f *fixtureFetcher) ResponseBody(_ context.Context, rawID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.byID[rawID]
	if !ok {
		return nil, ErrNoBodyData
	}
	return body, nil
}

func (f *fixtureFetcher) FrameContent(_ context.Context, _, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.byURL[url]
	if !ok {
		return nil, ErrNoBodyData
	}
	return body, nil
}

// Start opens the fixture and begins dispatching. An unreadable fixture is
// fatal; malformed lines are skipped through handlers.OnError.
func (a *FixtureAdapter) Start(ctx context.Context, _ string, handlers Handlers) (Session, error) {
	file, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}

	fetcher := newFixtureFetcher()
	correlator := NewCorrelator(handlers, fetcher)
	sess := &fixtureSession{
		correlator: correlator,
		file:       file,
		fetcher:    fetcher,
		done:       make(chan struct{}),
	}

	var watcher *fsnotify.Watcher
	if a.Follow {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("watch fixture: %w", err)
		}
		if err := watcher.Add(a.Path); err != nil {
			watcher.Close()
			file.Close()
			return nil, fmt.Errorf("watch fixture: %w", err)
		}
		sess.watcher = watcher
	}

	go sess.loop(ctx, handlers)
	return sess, nil
}

type fixtureSession struct {
	correlator *Correlator
	file       *os.File
	fetcher    *fixtureFetcher
	watcher    *fsnotify.Watcher
	stopOnce   sync.Once
	done       chan struct{}

	// partial holds a trailing fragment read without its newline, waiting
	// for the writer to finish the line. Touched only by the loop goroutine.
	partial string
}

func (s *fixtureSession) loop(ctx context.Context, handlers Handlers) {
	reader := bufio.NewReader(s.file)
	s.drain(ctx, reader, handlers, s.watcher == nil)
	if s.watcher == nil {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) {
				s.drain(ctx, reader, handlers, false)
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// drain dispatches every complete line currently available. A fragment
// read without its newline is held until a later drain sees the rest of
// the line; final flushes it, since a complete fixture has no writer left
// to finish it.
func (s *fixtureSession) drain(ctx context.Context, reader *bufio.Reader, handlers Handlers, final bool) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.partial += line
			if final {
				if text := strings.TrimSpace(s.partial); text != "" {
					s.dispatchLine(ctx, text, handlers)
				}
				s.partial = ""
			}
			return
		}
		text := strings.TrimSpace(s.partial + line)
		s.partial = ""
		if text == "" {
			continue
		}
		s.dispatchLine(ctx, text, handlers)
	}
}

func (s *fixtureSession) dispatchLine(ctx context.Context, text string, handlers Handlers) {
	var msg Message
	if err := sonic.Unmarshal([]byte(text), &msg); err != nil {
		if handlers.OnError != nil {
			handlers.OnError(fmt.Errorf("malformed fixture line: %w", err))
		}
		return
	}
	if msg.Method == "Fixture.body" {
		var b fixtureBody
		if err := sonic.Unmarshal(msg.Params, &b); err == nil {
			if rerr := s.fetcher.record(b); rerr != nil && handlers.OnError != nil {
				handlers.OnError(rerr)
			}
		}
		return
	}
	dispatchCDP(ctx, s.correlator, msg)
}

func (s *fixtureSession) StopIntake() {
	s.correlator.StopIntake()
}

func (s *fixtureSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.correlator.Close()
		if s.watcher != nil {
			s.watcher.Close()
		}
		s.file.Close()
	})
	return nil
}

func (s *fixtureSession) Wait(ctx context.Context) error {
	return s.correlator.Wait(ctx)
}
