package execx

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeResponse describes the scripted outcome of one fake invocation.
type FakeResponse struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	StderrLines []string
}

// FakeRunner is a scripted Runner for tests. Responses are matched by binary
// name; every invocation is recorded for later assertions.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string][]FakeResponse
	calls     []FakeCall
}

// FakeCall records one invocation of the fake runner.
type FakeCall struct {
	Bin  string
	Args []string
}

// NewFakeRunner returns an empty FakeRunner. Unscripted binaries succeed with
// empty output.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string][]FakeResponse)}
}

// Script queues a response for the named binary. Responses are consumed in
// FIFO order; the last one is sticky.
func (f *FakeRunner) Script(bin string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[bin] = append(f.responses[bin], resp)
}

// Calls returns a copy of all recorded invocations.
func (f *FakeRunner) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns recorded invocations of one binary.
func (f *FakeRunner) CallsFor(bin string) []FakeCall {
	var out []FakeCall
	for _, c := range f.Calls() {
		if c.Bin == bin {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRunner) next(bin string, args []string) FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, FakeCall{Bin: bin, Args: append([]string(nil), args...)})

	queue := f.responses[bin]
	if len(queue) == 0 {
		return FakeResponse{}
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[bin] = queue[1:]
	}
	return resp
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, bin string, args []string) (Result, error) {
	resp := f.next(bin, args)
	res := Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	if resp.ExitCode != 0 {
		return res, fmt.Errorf("%w: %s: exit %d", ErrExecFailed, bin, resp.ExitCode)
	}
	return res, nil
}

// RunStream implements Runner. Scripted StderrLines (or Stderr split on
// newlines) are delivered to onLine before the exit code is returned.
func (f *FakeRunner) RunStream(_ context.Context, bin string, args []string, onLine LineFunc) (int, error) {
	resp := f.next(bin, args)

	lines := resp.StderrLines
	if lines == nil && resp.Stderr != "" {
		lines = strings.Split(strings.TrimRight(resp.Stderr, "\n"), "\n")
	}
	for _, line := range lines {
		if onLine != nil {
			onLine(line)
		}
	}

	if resp.ExitCode != 0 {
		return resp.ExitCode, fmt.Errorf("%w: %s: exit %d", ErrExecFailed, bin, resp.ExitCode)
	}
	return 0, nil
}
