// Package capture obtains still frames for recognition.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoFrame is returned when the source has no new frame to offer.
var ErrNoFrame = errors.New("no frame available")

// Frame is one captured still image.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
	Origin     string
}

// Source yields frames. Release frees the device or connection; a released
// source may be reused after the next Frame call.
type Source interface {
	Frame(ctx context.Context) (*Frame, error)
	Release() error
}

// Open selects a source from a configuration string: an http(s) URL for a
// snapshot endpoint, otherwise a directory path.
func Open(source string, timeout time.Duration) (Source, error) {
	switch {
	case source == "":
		return nil, errors.New("capture source is not configured")
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return NewHTTPSource(source, timeout), nil
	default:
		return NewDirSource(source, 500*time.Millisecond)
	}
}

// StaticSource returns the same frame once. It wraps uploaded images.
type StaticSource struct {
	mu   sync.Mutex
	data []byte
}

func NewStaticSource(data []byte) *StaticSource {
	return &StaticSource{data: data}
}

func (s *StaticSource) Frame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNoFrame
	}
	f := &Frame{Data: s.data, CapturedAt: time.Now(), Origin: "upload"}
	s.data = nil
	return f, nil
}

func (s *StaticSource) Release() error { return nil }

// DirSource returns the newest image file in a directory that has not been
// returned before. Cameras that drop snapshots into a spool directory use it.
type DirSource struct {
	dir      string
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// NewDirSource creates a directory source polling every interval.
func NewDirSource(dir string, interval time.Duration) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("capture directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capture directory: %s is not a directory", dir)
	}
	return &DirSource{dir: dir, interval: interval}, nil
}

// Frame blocks until a new image appears or ctx is done.
func (s *DirSource) Frame(ctx context.Context) (*Frame, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		f, err := s.next()
		if err != nil || f != nil {
			return f, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *DirSource) next() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading capture directory: %w", err)
	}

	var newest string
	var newestTime time.Time
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(s.last) && info.ModTime().After(newestTime) {
			newest = e.Name()
			newestTime = info.ModTime()
		}
	}
	if newest == "" {
		return nil, nil
	}

	path := filepath.Join(s.dir, newest)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	s.last = newestTime
	return &Frame{Data: data, CapturedAt: newestTime, Origin: path}, nil
}

func (s *DirSource) Release() error { return nil }

// HTTPSource fetches a JPEG snapshot from an IP camera endpoint.
type HTTPSource struct {
	url    string
	client *resty.Client
}

// NewHTTPSource creates a snapshot source.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		url:    url,
		client: resty.New().SetTimeout(timeout).SetRetryCount(1),
	}
}

func (s *HTTPSource) Frame(ctx context.Context) (*Frame, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return nil, ErrNoFrame
	}
	return &Frame{Data: resp.Body(), CapturedAt: time.Now(), Origin: s.url}, nil
}

// Release drops idle camera connections.
func (s *HTTPSource) Release() error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}
