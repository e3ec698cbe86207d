package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetcher_Fetch(t *testing.T) {
	image := []byte("\x89PNG fake image")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			w.Write(image)
		case "/big.png":
			w.Write(bytes.Repeat([]byte("x"), 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	root := t.TempDir()
	path := filepath.Join(root, "img.png")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(time.Second, 32, WithFileRoot(root))
	ctx := context.Background()

	tests := []struct {
		name    string
		ref     string
		want    []byte
		wantErr bool
		tooBig  bool
	}{
		{"http url", srv.URL + "/img.png", image, false, false},
		{"base64", "base64://" + base64.StdEncoding.EncodeToString(image), image, false, false},
		{"file", "file://" + path, image, false, false},
		{"not found", srv.URL + "/missing.png", nil, true, false},
		{"too large", srv.URL + "/big.png", nil, true, true},
		{"bad base64", "base64://!!!", nil, true, false},
		{"unsupported scheme", "ftp://example.com/a.png", nil, true, false},
		{"relative file under root", "file://img.png", image, false, false},
		{"missing file", "file://" + filepath.Join(root, "none.png"), nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Fetch(ctx, tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Fetch(%q) = %d bytes, want error", tt.ref, len(got))
				}
				if tt.tooBig && !errors.Is(err, ErrImageTooLarge) {
					t.Errorf("error = %v, want ErrImageTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch(%q) error: %v", tt.ref, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Fetch(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestFetcher_FileReferencesStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link.png")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := NewFetcher(time.Second, 0).Fetch(ctx, "file://"+outside); !errors.Is(err, ErrFileRefused) {
		t.Errorf("without a root: error = %v, want ErrFileRefused", err)
	}

	f := NewFetcher(time.Second, 0, WithFileRoot(root))
	for _, ref := range []string{
		"file://" + outside,
		"file://../" + filepath.Base(filepath.Dir(outside)) + "/secret.txt",
		"file://link.png",
	} {
		if data, err := f.Fetch(ctx, ref); err == nil {
			t.Errorf("Fetch(%q) = %q, want error", ref, data)
		}
	}

	if data, err := f.ReadFile(outside); err != nil || string(data) != "secret" {
		t.Errorf("ReadFile(%q) = %q, %v; operator paths are not confined", outside, data, err)
	}
}
