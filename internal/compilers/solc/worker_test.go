package solc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pendergraft/verifactory/internal/compilers"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
}

// writeEngine writes a fake soljson module. It appends one byte to loadLog
// every time it is loaded, so tests can count worker starts. The compile
// entry point echoes the request language, throws on {"fail":true} and
// returns an oversized string on {"big":true}.
func writeEngine(t *testing.T, loadLog string) string {
	t.Helper()
	engine := fmt.Sprintf(`
require('fs').appendFileSync(%q, 'x');
module.exports = {
  cwrap: function (name) {
    if (name !== 'solidity_compile') { throw new Error('no export ' + name); }
    return function (input) {
      const req = JSON.parse(input);
      if (req.fail) { throw new Error('engine exploded'); }
      if (req.big) { return 'x'.repeat(1 << 20); }
      return JSON.stringify({contracts: {}, language: req.language});
    };
  }
};
`, loadLog)
	path := filepath.Join(t.TempDir(), "soljson-test.js")
	if err := os.WriteFile(path, []byte(engine), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func countLoads(t *testing.T, loadLog string) int {
	t.Helper()
	data, err := os.ReadFile(loadLog)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	return len(data)
}

func TestWorker(t *testing.T) {
	requireNode(t)
	ctx := context.Background()

	t.Run("Roundtrip", func(t *testing.T) {
		engine := writeEngine(t, filepath.Join(t.TempDir(), "loads"))
		w, err := StartWorker(engine, 64*1024)
		if err != nil {
			t.Fatal(err)
		}
		defer w.Close()

		out, err := w.Compile(ctx, []byte(`{"language":"Solidity"}`))
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if !strings.Contains(string(out), `"language":"Solidity"`) {
			t.Errorf("Compile() output = %s", out)
		}
	})

	t.Run("EngineThrowIsReportedAndWorkerSurvives", func(t *testing.T) {
		engine := writeEngine(t, filepath.Join(t.TempDir(), "loads"))
		w, err := StartWorker(engine, 64*1024)
		if err != nil {
			t.Fatal(err)
		}
		defer w.Close()

		_, err = w.Compile(ctx, []byte(`{"fail":true}`))
		if err == nil || !strings.Contains(err.Error(), "engine error") {
			t.Fatalf("Compile() error = %v, want engine error", err)
		}

		if _, err := w.Compile(ctx, []byte(`{"language":"Solidity"}`)); err != nil {
			t.Errorf("Compile() after engine error = %v, want nil", err)
		}
	})

	t.Run("OutputTooLarge", func(t *testing.T) {
		engine := writeEngine(t, filepath.Join(t.TempDir(), "loads"))
		w, err := StartWorker(engine, 1024)
		if err != nil {
			t.Fatal(err)
		}
		defer w.Close()

		_, err = w.Compile(ctx, []byte(`{"big":true}`))
		if !errors.Is(err, compilers.ErrOutputTooLarge) {
			t.Fatalf("Compile() error = %v, want ErrOutputTooLarge", err)
		}
	})
}

func TestEngineWorkerLifecycle(t *testing.T) {
	requireNode(t)
	ctx := context.Background()
	input := json.RawMessage(`{"language":"Solidity"}`)

	loadLog := filepath.Join(t.TempDir(), "loads")
	engine := writeEngine(t, loadLog)

	native := &fakeLocator{err: compilers.ErrUnsupportedPlatform}
	c := NewCompiler(native, &fakeLocator{path: engine}, testDownloader(), "http://unused", 10, testLogger())
	defer c.Close()

	t.Run("LegacyVersionGetsFreshWorkerPerInvocation", func(t *testing.T) {
		for i := 1; i <= 2; i++ {
			if _, err := c.Compile(ctx, "0.4.11+commit.68ef5810", input); err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if got := countLoads(t, loadLog); got != i {
				t.Fatalf("engine loads after %d legacy compiles = %d, want %d", i, got, i)
			}
		}
	})

	t.Run("ModernVersionReusesWorker", func(t *testing.T) {
		before := countLoads(t, loadLog)
		if _, err := c.Compile(ctx, "0.8.28+commit.7893614a", input); err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if got := countLoads(t, loadLog); got != before+1 {
			t.Fatalf("engine loads after first modern compile = %d, want %d", got, before+1)
		}

		if _, err := c.Compile(ctx, "0.8.28+commit.7893614a", input); err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if got := countLoads(t, loadLog); got != before+1 {
			t.Errorf("engine loads after second modern compile = %d, want %d (reused worker)", got, before+1)
		}
	})
}
