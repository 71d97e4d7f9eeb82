// Package solc provisions and runs the Solidity compiler. Native platform
// binaries are preferred; platforms without one, and binaries failing
// validation, fall back to the portable soljson engine run under node.
package solc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"

	"github.com/pendergraft/verifactory/internal/compilers"
)

// ErrValidationFailed marks a downloaded binary that did not pass the
// --version check. Compilation falls back to the soljson engine.
var ErrValidationFailed = errors.New("compiler binary failed validation")

// Compiler compiles Solidity standard JSON input with a provisioned compiler.
type Compiler struct {
	native      Locator
	emscripten  Locator
	downloader  *compilers.Downloader
	repo        string
	outputLimit int64
	logger      *slog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewCompiler creates a compiler. repo is the binary repository used for the
// release index when pre-warming.
func NewCompiler(native, emscripten Locator, downloader *compilers.Downloader, repo string, outputLimitMB int, logger *slog.Logger) *Compiler {
	return &Compiler{
		native:      native,
		emscripten:  emscripten,
		downloader:  downloader,
		repo:        repo,
		outputLimit: int64(outputLimitMB) * 1024 * 1024,
		logger:      logger,
		workers:     make(map[string]*Worker),
	}
}

// Compile runs the compiler for version against a standard JSON input and
// returns the parsed standard JSON output. Compiler-reported errors of
// severity "error" are returned as a CompilerError.
func (c *Compiler) Compile(ctx context.Context, version string, input json.RawMessage) (json.RawMessage, error) {
	output, err := c.run(ctx, version, input)
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

func (c *Compiler) run(ctx context.Context, version string, input json.RawMessage) (json.RawMessage, error) {
	if !IsLegacy(version) {
		path, err := c.native.Locate(ctx, version)
		switch {
		case err == nil:
			return compilers.RunBinary(ctx, path, input, c.outputLimit, "--standard-json")
		case errors.Is(err, compilers.ErrUnsupportedPlatform):
			// fall through to the engine
		case errors.Is(err, ErrValidationFailed):
			c.logger.Warn("native solc failed validation, using soljson engine",
				"version", version, "error", err)
		default:
			return nil, err
		}
	}
	return c.compileWithEngine(ctx, version, input)
}

func (c *Compiler) compileWithEngine(ctx context.Context, version string, input json.RawMessage) (json.RawMessage, error) {
	enginePath, err := c.emscripten.Locate(ctx, version)
	if err != nil {
		return nil, err
	}

	// Legacy engines leak state between compilations; each invocation gets
	// a fresh worker.
	if IsLegacy(version) {
		worker, err := StartWorker(enginePath, c.outputLimit)
		if err != nil {
			return nil, err
		}
		defer worker.Close()
		return worker.Compile(ctx, input)
	}

	worker, err := c.workerFor(enginePath)
	if err != nil {
		return nil, err
	}
	output, err := worker.Compile(ctx, input)
	if err != nil {
		c.dropWorker(enginePath, worker)
		return nil, err
	}
	return output, nil
}

// workerFor returns the long-lived worker for an engine, starting one on
// first use.
func (c *Compiler) workerFor(enginePath string) (*Worker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[enginePath]; ok {
		return w, nil
	}
	w, err := StartWorker(enginePath, c.outputLimit)
	if err != nil {
		return nil, err
	}
	c.workers[enginePath] = w
	return w, nil
}

func (c *Compiler) dropWorker(enginePath string, w *Worker) {
	c.mu.Lock()
	if c.workers[enginePath] == w {
		delete(c.workers, enginePath)
	}
	c.mu.Unlock()
	w.Close()
}

// Prewarm downloads all release binaries in bounded concurrent batches so
// per-request compilation does not pay first-download latency.
func (c *Compiler) Prewarm(ctx context.Context, batchSize int) error {
	list, err := FetchVersionList(ctx, c.downloader, c.repo)
	if err != nil {
		return fmt.Errorf("fetching release index: %w", err)
	}
	versions := list.ReleaseVersions()
	c.logger.Info("pre-warming compiler cache", "releases", len(versions), "batchSize", batchSize)

	pool := pond.NewPool(batchSize, pond.WithContext(ctx))
	for _, version := range versions {
		pool.Submit(func() {
			if _, err := c.native.Locate(ctx, version); err != nil {
				c.logger.Warn("pre-warm download failed", "version", version, "error", err)
			}
		})
	}
	pool.StopAndWait()
	return nil
}

// Close shuts down all long-lived workers.
func (c *Compiler) Close() {
	c.mu.Lock()
	workers := c.workers
	c.workers = make(map[string]*Worker)
	c.mu.Unlock()
	for _, w := range workers {
		w.Close()
	}
}
