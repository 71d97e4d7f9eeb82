// Package vyper provisions and runs the Vyper compiler. Unlike Solidity
// there is no portable engine tier; a platform without a native binary
// cannot compile Vyper contracts.
package vyper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pendergraft/verifactory/internal/compilers"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
)

// NormalizeVersion converts vendor release naming quirks into the version
// string used for cache entries and download URLs. A leading "v" is dropped
// and "-ci." nightly build suffixes are stripped.
func NormalizeVersion(version string) string {
	version = strings.TrimPrefix(version, "v")
	if i := strings.Index(version, "-ci."); i >= 0 {
		version = version[:i]
	}
	return version
}

// Compiler compiles Vyper standard JSON input with a provisioned native
// binary, cached as vyper.<version>.<platform>.
type Compiler struct {
	downloader  *compilers.Downloader
	cacheDir    string
	repo        string
	platform    string
	outputLimit int64
	logger      *slog.Logger
}

// NewCompiler creates a compiler. platform comes from compilers.VyperPlatform
// and may be empty, in which case every compile fails with
// ErrUnsupportedPlatform.
func NewCompiler(downloader *compilers.Downloader, cacheDir, repo, platform string, outputLimitMB int, logger *slog.Logger) *Compiler {
	return &Compiler{
		downloader:  downloader,
		cacheDir:    cacheDir,
		repo:        repo,
		platform:    platform,
		outputLimit: int64(outputLimitMB) * 1024 * 1024,
		logger:      logger,
	}
}

func (c *Compiler) fileName(version string) string {
	return fmt.Sprintf("vyper.%s.%s", version, c.platform)
}

// Locate returns the path of the binary for version, downloading and
// validating it on first use.
func (c *Compiler) Locate(ctx context.Context, version string) (string, error) {
	if c.platform == "" {
		return "", compilers.ErrUnsupportedPlatform
	}

	version = NormalizeVersion(version)
	name := c.fileName(version)
	dest := filepath.Join(c.cacheDir, name)
	if _, err := os.Stat(dest); err == nil {
		metrics.CompilerCacheHit("vyper")
		return dest, nil
	}

	url := fmt.Sprintf("%s/%s", c.repo, name)
	if err := c.downloader.FetchToFile(ctx, url, dest); err != nil {
		metrics.CompilerDownload("vyper", "error")
		return "", err
	}

	cmd := exec.CommandContext(ctx, dest, "--version")
	if err := cmd.Run(); err != nil {
		os.Remove(dest)
		metrics.CompilerDownload("vyper", "invalid")
		return "", fmt.Errorf("validating vyper %s: %w", version, err)
	}
	metrics.CompilerDownload("vyper", "success")
	return dest, nil
}

// Compile runs the compiler for version against a standard JSON input and
// returns the parsed standard JSON output. Compiler-reported errors of
// severity "error" are returned as a CompilerError.
func (c *Compiler) Compile(ctx context.Context, version string, input json.RawMessage) (json.RawMessage, error) {
	path, err := c.Locate(ctx, version)
	if err != nil {
		return nil, err
	}

	output, err := compilers.RunBinary(ctx, path, input, c.outputLimit, "--standard-json")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Errors []compilers.OutputError `json:"errors"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parsing compiler output: %w", err)
	}
	if hard := compilers.HardErrors(parsed.Errors); len(hard) > 0 {
		return nil, &compilers.CompilerError{Errors: hard}
	}
	return output, nil
}
