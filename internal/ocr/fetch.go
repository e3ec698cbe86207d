package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	DefaultMaxImage     = 10 << 20
)

var (
	// ErrImageTooLarge is returned when an image exceeds the fetcher's size cap.
	ErrImageTooLarge = errors.New("ocr: image too large")
	// ErrFileRefused is returned for a file:// reference when no file root is
	// configured.
	ErrFileRefused = errors.New("ocr: file references are disabled")
)

// Fetcher loads the bytes behind an image segment reference. Supported forms
// are http(s) URLs, base64:// payloads and file:// paths. File references
// come from chat events, so they are only served from inside the configured
// file root.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	fileRoot string
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithFileRoot allows file:// references below dir, typically the chat
// client's image cache. An empty dir keeps them disabled.
func WithFileRoot(dir string) FetchOption {
	return func(f *Fetcher) {
		if dir == "" {
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		f.fileRoot = dir
	}
}

// NewFetcher returns a fetcher with the given timeout and size cap. Zero
// values select the defaults.
func NewFetcher(timeout time.Duration, maxBytes int64, opts ...FetchOption) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImage
	}
	f := &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves ref to image bytes.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "base64://"):
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, "base64://"))
		if err != nil {
			return nil, fmt.Errorf("ocr: fetch: decode base64: %w", err)
		}
		if int64(len(data)) > f.maxBytes {
			return nil, ErrImageTooLarge
		}
		return data, nil

	case strings.HasPrefix(ref, "file://"):
		return f.readUnderRoot(strings.TrimPrefix(ref, "file://"))

	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.download(ctx, ref)

	default:
		return nil, fmt.Errorf("ocr: fetch: unsupported image reference %q", truncate([]byte(ref), 64))
	}
}

// ReadFile loads a local image with the fetcher's size cap. It is meant for
// paths given by an operator and ignores the file root.
func (f *Fetcher) ReadFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch: %w", err)
	}
	defer file.Close()
	return f.readCapped(file)
}

// readUnderRoot opens path through an os.Root, which rejects ".." and
// symlinks that leave the root.
func (f *Fetcher) readUnderRoot(path string) ([]byte, error) {
	if f.fileRoot == "" {
		return nil, ErrFileRefused
	}
	rel := path
	if filepath.IsAbs(path) {
		var err error
		if rel, err = filepath.Rel(f.fileRoot, path); err != nil {
			return nil, fmt.Errorf("ocr: fetch: %w", err)
		}
	}

	root, err := os.OpenRoot(f.fileRoot)
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch: %w", err)
	}
	defer root.Close()

	file, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch: %w", err)
	}
	defer file.Close()
	return f.readCapped(file)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr: fetch: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ErrImageTooLarge
	}
	return f.readCapped(resp.Body)
}

func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch: read: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}
