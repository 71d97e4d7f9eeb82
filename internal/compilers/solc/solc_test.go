package solc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pendergraft/verifactory/internal/compilers"
)

type fakeLocator struct {
	path  string
	err   error
	calls int
}

func (f *fakeLocator) Locate(ctx context.Context, version string) (string, error) {
	f.calls++
	return f.path, f.err
}

// writeScript writes an executable shell script that ignores stdin and prints
// the given standard JSON output.
func writeScript(t *testing.T, output string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solc")
	script := "#!/bin/sh\ncat >/dev/null\ncat <<'EOF'\n" + output + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on /bin/sh")
	}
	ctx := context.Background()
	input := json.RawMessage(`{"language":"Solidity","sources":{}}`)

	t.Run("NativeSuccess", func(t *testing.T) {
		native := &fakeLocator{path: writeScript(t, `{"contracts":{"a.sol":{}}}`)}
		c := NewCompiler(native, &fakeLocator{err: errors.New("unused")}, testDownloader(), "http://unused", 10, testLogger())

		out, err := c.Compile(ctx, "0.8.28+commit.7893614a", input)
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if !strings.Contains(string(out), `"a.sol"`) {
			t.Errorf("Compile() output = %s", out)
		}
		if native.calls != 1 {
			t.Errorf("native locator calls = %d, want 1", native.calls)
		}
	})

	t.Run("HardErrorsSurface", func(t *testing.T) {
		native := &fakeLocator{path: writeScript(t, `{"errors":[{"severity":"error","message":"boom"},{"severity":"warning","message":"meh"}]}`)}
		c := NewCompiler(native, &fakeLocator{}, testDownloader(), "http://unused", 10, testLogger())

		_, err := c.Compile(ctx, "0.8.28", input)
		var cerr *compilers.CompilerError
		if !errors.As(err, &cerr) {
			t.Fatalf("Compile() error = %v, want CompilerError", err)
		}
		if len(cerr.Errors) != 1 || cerr.Errors[0].Message != "boom" {
			t.Errorf("CompilerError.Errors = %+v", cerr.Errors)
		}
	})

	t.Run("WarningsDoNotFail", func(t *testing.T) {
		native := &fakeLocator{path: writeScript(t, `{"errors":[{"severity":"warning","message":"meh"}],"contracts":{}}`)}
		c := NewCompiler(native, &fakeLocator{}, testDownloader(), "http://unused", 10, testLogger())

		if _, err := c.Compile(ctx, "0.8.28", input); err != nil {
			t.Fatalf("Compile() error = %v, want nil for warnings only", err)
		}
	})

	t.Run("UnsupportedPlatformFallsBackToEngine", func(t *testing.T) {
		native := &fakeLocator{err: compilers.ErrUnsupportedPlatform}
		engine := &fakeLocator{err: errors.New("engine unavailable")}
		c := NewCompiler(native, engine, testDownloader(), "http://unused", 10, testLogger())

		_, err := c.Compile(ctx, "0.8.28", input)
		if err == nil || !strings.Contains(err.Error(), "engine unavailable") {
			t.Fatalf("Compile() error = %v, want engine locate error", err)
		}
		if native.calls != 1 || engine.calls != 1 {
			t.Errorf("locator calls = (%d, %d), want (1, 1)", native.calls, engine.calls)
		}
	})

	t.Run("ValidationFailureFallsBackToEngine", func(t *testing.T) {
		native := &fakeLocator{err: ErrValidationFailed}
		engine := &fakeLocator{err: errors.New("engine unavailable")}
		c := NewCompiler(native, engine, testDownloader(), "http://unused", 10, testLogger())

		_, err := c.Compile(ctx, "0.8.28", input)
		if err == nil || !strings.Contains(err.Error(), "engine unavailable") {
			t.Fatalf("Compile() error = %v, want engine locate error", err)
		}
	})

	t.Run("DownloadFailureSurfaces", func(t *testing.T) {
		native := &fakeLocator{err: errors.New("download failed")}
		engine := &fakeLocator{}
		c := NewCompiler(native, engine, testDownloader(), "http://unused", 10, testLogger())

		_, err := c.Compile(ctx, "0.8.28", input)
		if err == nil || !strings.Contains(err.Error(), "download failed") {
			t.Fatalf("Compile() error = %v, want download error", err)
		}
		if engine.calls != 0 {
			t.Errorf("engine locator calls = %d, want 0", engine.calls)
		}
	})

	t.Run("LegacyVersionSkipsNative", func(t *testing.T) {
		native := &fakeLocator{path: writeScript(t, `{}`)}
		engine := &fakeLocator{err: errors.New("engine unavailable")}
		c := NewCompiler(native, engine, testDownloader(), "http://unused", 10, testLogger())

		_, err := c.Compile(ctx, "0.4.26+commit.4563c3fc", input)
		if err == nil || !strings.Contains(err.Error(), "engine unavailable") {
			t.Fatalf("Compile() error = %v, want engine locate error", err)
		}
		if native.calls != 0 {
			t.Errorf("native locator calls = %d, want 0 for legacy version", native.calls)
		}
	})
}
