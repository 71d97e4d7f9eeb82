package solc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/pendergraft/verifactory/internal/compilers"
)

// harness is the script driving a soljson engine inside node. It reads one
// JSON request per line on stdin and writes one JSON response per line on
// stdout. The engine path is passed as the first script argument.
const harness = `
const solc = require(process.argv[1]);
let compile;
if (typeof solc.cwrap === 'function') {
  const candidates = ['solidity_compile', 'compileStandard'];
  for (const name of candidates) {
    try {
      compile = solc.cwrap(name, 'string', ['string', 'number']);
      break;
    } catch (e) {}
  }
}
if (!compile) {
  process.stderr.write('no compile entry point in engine\n');
  process.exit(1);
}
const rl = require('readline').createInterface({ input: process.stdin, terminal: false });
rl.on('line', (line) => {
  const req = JSON.parse(line);
  let res;
  try {
    res = { output: compile(req.input, 0) };
  } catch (e) {
    res = { error: String(e) };
  }
  process.stdout.write(JSON.stringify(res) + '\n');
});
`

type workerRequest struct {
	Input string `json:"input"`
}

type workerResponse struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Worker runs a soljson engine in a node subprocess. A worker serializes its
// compilations; concurrent callers queue on the internal mutex.
type Worker struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *bufio.Reader
	outputLimit int64
	broken      bool
}

// StartWorker launches a node subprocess loading the soljson engine at
// enginePath.
func StartWorker(enginePath string, outputLimit int64) (*Worker, error) {
	cmd := exec.Command("node", "-e", harness, "--", enginePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	return &Worker{
		cmd:         cmd,
		stdin:       stdin,
		stdout:      bufio.NewReaderSize(stdout, 64*1024),
		outputLimit: outputLimit,
	}, nil
}

// Compile sends a standard JSON input to the engine and returns its raw
// standard JSON output. Cancelling ctx kills the worker; it cannot be used
// afterwards.
func (w *Worker) Compile(ctx context.Context, input []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken {
		return nil, errors.New("worker is no longer usable")
	}

	req, err := json.Marshal(workerRequest{Input: string(input)})
	if err != nil {
		return nil, err
	}

	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if _, err := w.stdin.Write(append(req, '\n')); err != nil {
			done <- result{nil, fmt.Errorf("writing to worker: %w", err)}
			return
		}
		line, err := w.readLine()
		done <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		w.broken = true
		w.cmd.Process.Kill()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			w.broken = true
			return nil, r.err
		}
		var resp workerResponse
		if err := json.Unmarshal(r.line, &resp); err != nil {
			w.broken = true
			return nil, fmt.Errorf("decoding worker response: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("engine error: %s", resp.Error)
		}
		return []byte(resp.Output), nil
	}
}

// readLine reads one response line, honoring the output ceiling.
func (w *Worker) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := w.stdout.ReadSlice('\n')
		line = append(line, chunk...)
		if int64(len(line)) > w.outputLimit {
			return nil, compilers.ErrOutputTooLarge
		}
		if err == nil {
			return line[:len(line)-1], nil
		}
		if err != bufio.ErrBufferFull {
			return nil, fmt.Errorf("reading from worker: %w", err)
		}
	}
}

// Close shuts the worker down.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broken = true
	w.stdin.Close()
	return w.cmd.Wait()
}
