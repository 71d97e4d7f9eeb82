package solc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pendergraft/verifactory/internal/compilers"
)

const (
	testPlatform = "linux-amd64"
	okScript     = "#!/bin/sh\nexit 0\n"
	failScript   = "#!/bin/sh\nexit 1\n"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDownloader() *compilers.Downloader {
	return compilers.NewDownloader(0, time.Second, 0, testLogger())
}

func TestNativeLocator(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on /bin/sh")
	}

	t.Run("CacheHitMakesNoRequests", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Write([]byte(okScript))
		}))
		defer srv.Close()

		cacheDir := t.TempDir()
		cached := filepath.Join(cacheDir, "solc-linux-amd64-v0.8.28")
		if err := os.WriteFile(cached, []byte(okScript), 0o755); err != nil {
			t.Fatal(err)
		}

		l := NewNativeLocator(testDownloader(), cacheDir, srv.URL, testPlatform, testLogger())
		path, err := l.Locate(context.Background(), "0.8.28")
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		if path != cached {
			t.Errorf("Locate() = %q, want %q", path, cached)
		}
		if requests.Load() != 0 {
			t.Errorf("request count = %d, want 0 on cache hit", requests.Load())
		}
	})

	t.Run("DownloadsAndValidatesOnce", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Write([]byte(okScript))
		}))
		defer srv.Close()

		l := NewNativeLocator(testDownloader(), t.TempDir(), srv.URL, testPlatform, testLogger())
		ctx := context.Background()

		first, err := l.Locate(ctx, "0.8.28")
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		second, err := l.Locate(ctx, "0.8.28")
		if err != nil {
			t.Fatalf("Locate() second call error = %v", err)
		}
		if first != second {
			t.Errorf("Locate() paths differ: %q vs %q", first, second)
		}
		if requests.Load() != 1 {
			t.Errorf("request count = %d, want 1", requests.Load())
		}
	})

	t.Run("FollowsReleasePointer", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if filepath.Base(r.URL.Path) == "solc-linux-amd64-v0.4.10" {
				w.Write([]byte("solc-linux-amd64-v0.4.10+commit.f0d539ae\n"))
				return
			}
			w.Write([]byte(okScript))
		}))
		defer srv.Close()

		l := NewNativeLocator(testDownloader(), t.TempDir(), srv.URL, testPlatform, testLogger())
		path, err := l.Locate(context.Background(), "0.4.10")
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		if requests.Load() != 2 {
			t.Errorf("request count = %d, want 2 (pointer + target)", requests.Load())
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(content) != okScript {
			t.Errorf("cached file still contains the pointer payload: %q", content)
		}
	})

	t.Run("ValidationFailureRemovesBinary", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(failScript))
		}))
		defer srv.Close()

		cacheDir := t.TempDir()
		l := NewNativeLocator(testDownloader(), cacheDir, srv.URL, testPlatform, testLogger())
		_, err := l.Locate(context.Background(), "0.8.28")
		if !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("Locate() error = %v, want ErrValidationFailed", err)
		}
		if _, err := os.Stat(filepath.Join(cacheDir, "solc-linux-amd64-v0.8.28")); !os.IsNotExist(err) {
			t.Error("invalid binary left in cache")
		}
	})

	t.Run("UnsupportedPlatform", func(t *testing.T) {
		l := NewNativeLocator(testDownloader(), t.TempDir(), "http://unused", "", testLogger())
		_, err := l.Locate(context.Background(), "0.8.28")
		if !errors.Is(err, compilers.ErrUnsupportedPlatform) {
			t.Fatalf("Locate() error = %v, want ErrUnsupportedPlatform", err)
		}
	})
}

func TestEmscriptenLocator(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if filepath.Base(r.URL.Path) != "soljson-v0.8.28.js" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("var Module = {};"))
	}))
	defer srv.Close()

	l := NewEmscriptenLocator(testDownloader(), t.TempDir(), srv.URL)
	ctx := context.Background()

	first, err := l.Locate(ctx, "0.8.28")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if filepath.Base(first) != "soljson-v0.8.28.js" {
		t.Errorf("Locate() = %q, want soljson-v0.8.28.js name", first)
	}
	if _, err := l.Locate(ctx, "0.8.28"); err != nil {
		t.Fatalf("Locate() second call error = %v", err)
	}
	if requests.Load() != 1 {
		t.Errorf("request count = %d, want 1", requests.Load())
	}
}
