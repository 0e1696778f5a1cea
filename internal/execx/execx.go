package execx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"media-indexer/internal/logging"
)

// ErrExecFailed wraps any non-zero exit or spawn failure of an external tool.
var ErrExecFailed = errors.New("external command failed")

// Result holds the outcome of a completed external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// LineFunc consumes one stderr line from a streaming command.
type LineFunc func(line string)

// Runner runs external programs. The indexer never invokes a shell; argument
// vectors are passed to the binary directly.
type Runner interface {
	// Run executes bin with args and waits for completion. A non-zero exit
	// returns an error wrapping ErrExecFailed together with the Result.
	Run(ctx context.Context, bin string, args []string) (Result, error)

	// RunStream executes bin with args, delivering stderr lines to onLine as
	// they arrive. Used for long transcodes whose stderr carries progress.
	RunStream(ctx context.Context, bin string, args []string, onLine LineFunc) (int, error)
}

// OSRunner is the production Runner backed by os/exec.
type OSRunner struct{}

// Run implements Runner.
func (OSRunner) Run(ctx context.Context, bin string, args []string) (Result, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, err),
	}

	if err != nil {
		logging.Debug("command %s failed (exit %d): %s", bin, res.ExitCode, firstLine(res.Stderr))
		return res, fmt.Errorf("%w: %s: %v", ErrExecFailed, bin, err)
	}
	return res, nil
}

// RunStream implements Runner. Stderr is split on both \n and \r so that
// carriage-return progress updates (ffmpeg's time= lines) are delivered
// individually.
func (OSRunner) RunStream(ctx context.Context, bin string, args []string, onLine LineFunc) (int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("%w: %s: %v", ErrExecFailed, bin, err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("%w: %s: %v", ErrExecFailed, bin, err)
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanCRLFLines)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	err = cmd.Wait()
	code := exitCode(cmd, err)
	if err != nil {
		return code, fmt.Errorf("%w: %s: exit %d", ErrExecFailed, bin, code)
	}
	return code, nil
}

// RunQuiet runs the command and swallows the error, returning only the Result.
// Callers use it for best-effort steps whose failure must not abort the
// pipeline (the pipeline still inspects ExitCode for its own decisions).
func RunQuiet(ctx context.Context, r Runner, bin string, args []string) Result {
	res, err := r.Run(ctx, bin, args)
	if err != nil {
		logging.Debug("ignoring failure of %s: %v", bin, err)
	}
	return res
}

// scanCRLFLines is a bufio.SplitFunc that treats both \n and \r as line
// terminators.
func scanCRLFLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
