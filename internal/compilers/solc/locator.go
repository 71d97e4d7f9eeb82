package solc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pendergraft/verifactory/internal/compilers"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
)

// Locator resolves a compiler version to a ready-to-run local artifact.
type Locator interface {
	// Locate returns the cache path of the artifact for version, downloading
	// it when absent.
	Locate(ctx context.Context, version string) (string, error)
}

// pointerPattern matches the redirect-like one-line payloads the binary
// repository historically served for some renamed releases.
var pointerPattern = regexp.MustCompile(`^solc-[a-zA-Z0-9.+-]+$`)

// NativeLocator provisions native solc binaries from the soliditylang binary
// repository, cached as solc-<platform>-v<version>.
type NativeLocator struct {
	downloader *compilers.Downloader
	cacheDir   string
	repo       string
	platform   string
	logger     *slog.Logger
}

// NewNativeLocator creates a locator for the current platform. platform comes
// from compilers.SolcPlatform and may be empty, in which case every Locate
// call fails with ErrUnsupportedPlatform.
func NewNativeLocator(downloader *compilers.Downloader, cacheDir, repo, platform string, logger *slog.Logger) *NativeLocator {
	return &NativeLocator{
		downloader: downloader,
		cacheDir:   cacheDir,
		repo:       repo,
		platform:   platform,
		logger:     logger,
	}
}

func (l *NativeLocator) fileName(version string) string {
	return fmt.Sprintf("solc-%s-v%s", l.platform, version)
}

// Locate returns the path of the native binary for version, downloading and
// validating it on first use.
func (l *NativeLocator) Locate(ctx context.Context, version string) (string, error) {
	if l.platform == "" {
		return "", compilers.ErrUnsupportedPlatform
	}

	name := l.fileName(version)
	dest := filepath.Join(l.cacheDir, name)
	if _, err := os.Stat(dest); err == nil {
		metrics.CompilerCacheHit("solc")
		return dest, nil
	}

	url := fmt.Sprintf("%s/%s/%s", l.repo, l.platform, name)
	if err := l.downloader.FetchToFile(ctx, url, dest); err != nil {
		metrics.CompilerDownload("solc", "error")
		return "", err
	}

	// Some historical releases are stored under a different file name; the
	// repository serves a one-line pointer to it instead of the binary.
	if pointer, ok := l.readPointer(dest); ok {
		l.logger.Debug("release pointer encountered", "version", version, "target", pointer)
		url = fmt.Sprintf("%s/%s/%s", l.repo, l.platform, pointer)
		if err := l.downloader.FetchToFile(ctx, url, dest); err != nil {
			return "", err
		}
	}

	if err := l.validate(ctx, dest); err != nil {
		os.Remove(dest)
		metrics.CompilerDownload("solc", "invalid")
		return "", fmt.Errorf("validating solc %s: %w", version, err)
	}
	metrics.CompilerDownload("solc", "success")
	return dest, nil
}

// readPointer reports whether the file at path is a redirect pointer and, if
// so, the release name it points at.
func (l *NativeLocator) readPointer(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > 256 {
		return "", false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(content))
	if strings.ContainsAny(line, "\n\x00") || !pointerPattern.MatchString(line) {
		return "", false
	}
	return line, true
}

func (l *NativeLocator) validate(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, path, "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

// EmscriptenLocator provisions the portable soljson engine, cached as
// soljson-v<version>.js. It backs compilation on platforms without a native
// binary and the legacy worker path.
type EmscriptenLocator struct {
	downloader *compilers.Downloader
	cacheDir   string
	repo       string
}

// NewEmscriptenLocator creates a locator for soljson engines.
func NewEmscriptenLocator(downloader *compilers.Downloader, cacheDir, repo string) *EmscriptenLocator {
	return &EmscriptenLocator{downloader: downloader, cacheDir: cacheDir, repo: repo}
}

// Locate returns the path of the soljson engine for version, downloading it
// on first use.
func (l *EmscriptenLocator) Locate(ctx context.Context, version string) (string, error) {
	name := fmt.Sprintf("soljson-v%s.js", version)
	dest := filepath.Join(l.cacheDir, name)
	if _, err := os.Stat(dest); err == nil {
		metrics.CompilerCacheHit("soljson")
		return dest, nil
	}

	url := fmt.Sprintf("%s/%s", l.repo, name)
	if err := l.downloader.FetchToFile(ctx, url, dest); err != nil {
		metrics.CompilerDownload("soljson", "error")
		return "", err
	}
	metrics.CompilerDownload("soljson", "success")
	return dest, nil
}
