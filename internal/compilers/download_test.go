package compilers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDownloaderFetch(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Write([]byte("artifact"))
		}))
		defer srv.Close()

		d := NewDownloader(2, time.Second, 0, testLogger())
		body, err := d.Fetch(context.Background(), srv.URL+"/solc")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if string(body) != "artifact" {
			t.Errorf("Fetch() body = %q, want %q", body, "artifact")
		}
		if requests.Load() != 1 {
			t.Errorf("request count = %d, want 1", requests.Load())
		}
	})

	t.Run("RetriesServerError", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("artifact"))
		}))
		defer srv.Close()

		d := NewDownloader(2, time.Second, 0, testLogger())
		body, err := d.Fetch(context.Background(), srv.URL+"/solc")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if string(body) != "artifact" {
			t.Errorf("Fetch() body = %q, want %q", body, "artifact")
		}
		if requests.Load() != 2 {
			t.Errorf("request count = %d, want 2", requests.Load())
		}
	})

	t.Run("NotFoundIsPermanent", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		d := NewDownloader(3, time.Second, 0, testLogger())
		if _, err := d.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
			t.Fatal("Fetch() expected error for 404")
		}
		if requests.Load() != 1 {
			t.Errorf("request count = %d, want 1 (no retries on 404)", requests.Load())
		}
	})

	t.Run("ExhaustsRetries", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		d := NewDownloader(2, time.Second, 0, testLogger())
		if _, err := d.Fetch(context.Background(), srv.URL+"/solc"); err == nil {
			t.Fatal("Fetch() expected error after retries")
		}
		if requests.Load() != 3 {
			t.Errorf("request count = %d, want 3 (initial + 2 retries)", requests.Load())
		}
	})
}

func TestDownloaderFetchToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#!/bin/sh\nexit 0\n"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cache", "solc-linux-amd64-v0.8.28")
	d := NewDownloader(1, time.Second, 0, testLogger())
	if err := d.FetchToFile(context.Background(), srv.URL+"/solc", dest); err != nil {
		t.Fatalf("FetchToFile() error = %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("downloaded file mode = %v, want execute bit set", info.Mode())
	}
}
