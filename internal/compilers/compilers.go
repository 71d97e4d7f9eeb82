// Package compilers provides the shared plumbing for provisioning and running
// contract compilers: the standard JSON output surface, the binary download
// helper, and subprocess execution with a bounded output buffer.
package compilers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrOutputTooLarge is returned when a compiler writes more output than the
// configured ceiling. It is not retryable.
var ErrOutputTooLarge = errors.New("compiler output exceeds limit")

// ErrUnsupportedPlatform is returned by a locator that has no binary for the
// current platform. Callers fall back to the next provisioning tier.
var ErrUnsupportedPlatform = errors.New("no compiler binary for this platform")

// OutputError is one entry of the standard JSON "errors" array.
type OutputError struct {
	Severity         string `json:"severity"`
	Type             string `json:"type"`
	Component        string `json:"component"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage"`
}

// CompilerError carries the compiler-reported errors of a failed compilation.
// Warnings never produce a CompilerError.
type CompilerError struct {
	Errors []OutputError
}

func (e *CompilerError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, o := range e.Errors {
		if o.FormattedMessage != "" {
			msgs = append(msgs, o.FormattedMessage)
		} else {
			msgs = append(msgs, o.Message)
		}
	}
	return fmt.Sprintf("compilation failed: %s", strings.Join(msgs, "; "))
}

// HardErrors extracts the severity "error" entries from a standard JSON
// errors array. Entries of any other severity are warnings.
func HardErrors(errs []OutputError) []OutputError {
	var hard []OutputError
	for _, e := range errs {
		if e.Severity == "error" {
			hard = append(hard, e)
		}
	}
	return hard
}

// SolcPlatform returns the soliditylang binary repository platform name for
// the current OS and architecture, or "" when no native binary is published.
func SolcPlatform() string {
	switch runtime.GOOS {
	case "linux":
		if runtime.GOARCH == "amd64" {
			return "linux-amd64"
		}
	case "darwin":
		if runtime.GOARCH == "amd64" {
			return "macosx-amd64"
		}
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "windows-amd64"
		}
	}
	return ""
}

// VyperPlatform returns the vyper release platform suffix for the current OS,
// or "" when no native binary is published.
func VyperPlatform() string {
	if runtime.GOARCH != "amd64" {
		return ""
	}
	switch runtime.GOOS {
	case "linux":
		return "linux"
	case "darwin":
		return "darwin"
	case "windows":
		return "windows.exe"
	}
	return ""
}

// RunBinary executes a compiler binary, feeding input on stdin and capturing
// stdout up to outputLimit bytes. Exceeding the limit kills the process and
// returns ErrOutputTooLarge.
func RunBinary(ctx context.Context, path string, input []byte, outputLimit int64, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(input)

	out := &limitedBuffer{limit: outputLimit}
	var stderr bytes.Buffer
	cmd.Stdout = out
	cmd.Stderr = &stderr

	err := cmd.Run()
	if out.overflowed {
		return nil, ErrOutputTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("running %s: %w (stderr: %s)", path, err, strings.TrimSpace(stderr.String()))
	}
	return out.buf.Bytes(), nil
}

// limitedBuffer accumulates writes up to a byte limit. The first write past
// the limit sets overflowed and fails, which terminates the producing process
// through the exec pipe.
type limitedBuffer struct {
	buf        bytes.Buffer
	limit      int64
	overflowed bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		b.overflowed = true
		return 0, ErrOutputTooLarge
	}
	return b.buf.Write(p)
}
