package procexec

import (
	"context"
	"sync"
)

// MockRunner is a test double for Runner. Configure it by setting the
// function fields before use; if a field is nil and the corresponding
// method is called, it panics, mirroring the teacher's MockProcessManager.
type MockRunner struct {
	RunCaptureFunc func(ctx context.Context, spec Spec, onStdout, onStderr func(line string)) error
	StartFunc      func(spec Spec) (Handle, error)

	mu    sync.Mutex
	Calls []Spec
}

func (m *MockRunner) RunCapture(ctx context.Context, spec Spec, onStdout, onStderr func(line string)) error {
	m.record(spec)
	if m.RunCaptureFunc == nil {
		panic("MockRunner.RunCaptureFunc not set")
	}
	return m.RunCaptureFunc(ctx, spec, onStdout, onStderr)
}

func (m *MockRunner) Start(spec Spec) (Handle, error) {
	m.record(spec)
	if m.StartFunc == nil {
		panic("MockRunner.StartFunc not set")
	}
	return m.StartFunc(spec)
}

func (m *MockRunner) record(spec Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, spec)
}

func (m *MockRunner) GetCalls() []Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Spec, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// MockHandle is a controllable Handle for supervisor tests: the test
// pushes lines onto Stdout/Stderr channels and calls Finish to simulate
// exit, rather than spawning a real process.
type MockHandle struct {
	PidValue int

	stdoutChan chan string
	stderrChan chan string

	mu        sync.Mutex
	waitCh    chan struct{}
	waitErr   error
	signaled  bool
	killed    bool
}

func NewMockHandle(pid int) *MockHandle {
	return &MockHandle{
		PidValue:   pid,
		stdoutChan: make(chan string, 64),
		stderrChan: make(chan string, 64),
		waitCh:     make(chan struct{}),
	}
}

func (h *MockHandle) Pid() int                 { return h.PidValue }
func (h *MockHandle) Stdout() <-chan string     { return h.stdoutChan }
func (h *MockHandle) Stderr() <-chan string     { return h.stderrChan }

// EmitStdout/EmitStderr push one line to the respective channel. Tests use
// these to simulate child output without a real subprocess.
func (h *MockHandle) EmitStdout(line string) { h.stdoutChan <- line }
func (h *MockHandle) EmitStderr(line string) { h.stderrChan <- line }

// Finish simulates process exit with the given error (nil for exit 0),
// closing both stream channels and unblocking Wait.
func (h *MockHandle) Finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.waitCh:
		return // already finished
	default:
	}
	h.waitErr = err
	close(h.stdoutChan)
	close(h.stderrChan)
	close(h.waitCh)
}

func (h *MockHandle) Wait() error {
	<-h.waitCh
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *MockHandle) Signal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signaled = true
	return nil
}

func (h *MockHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *MockHandle) WasSignaled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signaled
}

func (h *MockHandle) WasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

var (
	_ Runner = (*MockRunner)(nil)
	_ Handle = (*MockHandle)(nil)
)
