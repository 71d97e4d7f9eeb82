package vyper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pendergraft/verifactory/internal/compilers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDownloader() *compilers.Downloader {
	return compilers.NewDownloader(0, time.Second, 0, testLogger())
}

func TestNormalizeVersion(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.3.10+commit.91361694", "0.3.10+commit.91361694"},
		{"v0.3.10+commit.91361694", "0.3.10+commit.91361694"},
		{"0.4.0b1-ci.20240101", "0.4.0b1"},
		{"v0.2.16", "0.2.16"},
	}
	for _, c := range cases {
		if got := NormalizeVersion(c.in); got != c.want {
			t.Errorf("NormalizeVersion(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLocate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on /bin/sh")
	}

	t.Run("DownloadsOnceWithCacheNaming", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if filepath.Base(r.URL.Path) != "vyper.0.3.10+commit.91361694.linux" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte("#!/bin/sh\nexit 0\n"))
		}))
		defer srv.Close()

		c := NewCompiler(testDownloader(), t.TempDir(), srv.URL, "linux", 10, testLogger())
		ctx := context.Background()

		path, err := c.Locate(ctx, "v0.3.10+commit.91361694")
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		if filepath.Base(path) != "vyper.0.3.10+commit.91361694.linux" {
			t.Errorf("Locate() = %q, want vyper.<version>.<platform> name", path)
		}
		if _, err := c.Locate(ctx, "0.3.10+commit.91361694"); err != nil {
			t.Fatalf("Locate() second call error = %v", err)
		}
		if requests.Load() != 1 {
			t.Errorf("request count = %d, want 1", requests.Load())
		}
	})

	t.Run("UnsupportedPlatform", func(t *testing.T) {
		c := NewCompiler(testDownloader(), t.TempDir(), "http://unused", "", 10, testLogger())
		_, err := c.Locate(context.Background(), "0.3.10")
		if !errors.Is(err, compilers.ErrUnsupportedPlatform) {
			t.Fatalf("Locate() error = %v, want ErrUnsupportedPlatform", err)
		}
	})
}
