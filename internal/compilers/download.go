package compilers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Downloader fetches compiler artifacts over HTTP with retries. The
// per-attempt timeout doubles on every retry.
type Downloader struct {
	client  *http.Client
	retries uint64
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDownloader creates a downloader. retries is the number of attempts after
// the first; timeout applies to the first attempt and doubles per retry. rps
// bounds the request rate across all callers, 0 disables the limit.
func NewDownloader(retries int, timeout time.Duration, rps int, logger *slog.Logger) *Downloader {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return &Downloader{
		client:  &http.Client{},
		retries: uint64(retries),
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
	}
}

// Fetch downloads url and returns the body bytes.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	attemptTimeout := d.timeout

	operation := func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		attemptTimeout *= 2

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Warn("download attempt failed", "url", url, "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("download %s: not found", url))
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("download %s: status %d", url, resp.StatusCode)
			d.logger.Warn("download attempt failed", "url", url, "status", resp.StatusCode)
			return err
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.retries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	return body, nil
}

// FetchToFile downloads url into dest, creating parent directories. The file
// is written with the execute bit set.
func (d *Downloader) FetchToFile(ctx context.Context, url, dest string) error {
	body, err := d.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	d.logger.Debug("downloaded compiler artifact", "url", url, "dest", dest, "bytes", len(body))
	return nil
}
