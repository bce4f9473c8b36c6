package procexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRunnerRunCaptureCollectsLines(t *testing.T) {
	r := NewDefaultRunner()
	var stdout []string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.RunCapture(ctx, Spec{Name: "sh", Args: []string{"-c", "echo one; echo two"}},
		func(line string) { stdout = append(stdout, line) }, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, stdout)
}

func TestDefaultRunnerRunCaptureTimesOut(t *testing.T) {
	r := NewDefaultRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.RunCapture(ctx, Spec{Name: "sh", Args: []string{"-c", "sleep 5"}}, nil, nil)
	require.Error(t, err)
}

func TestDefaultRunnerStartAndKill(t *testing.T) {
	r := NewDefaultRunner()
	h, err := r.Start(Spec{Name: "sh", Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	require.Greater(t, h.Pid(), 0)
	require.NoError(t, h.Kill())
	err = h.Wait()
	require.Error(t, err, "killed process reports non-nil exit error")
}

func TestMockHandleEmitAndFinish(t *testing.T) {
	h := NewMockHandle(1234)
	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	h.EmitStdout("Logged in as testbot")
	line := <-h.Stdout()
	require.Equal(t, "Logged in as testbot", line)

	h.Finish(errors.New("boom"))
	require.Equal(t, "boom", (<-done).Error())
}

func TestMockRunnerRecordsCalls(t *testing.T) {
	m := &MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec Spec, onStdout, onStderr func(line string)) error {
			return nil
		},
	}
	require.NoError(t, m.RunCapture(context.Background(), Spec{Name: "pip", Args: []string{"install"}}, nil, nil))
	require.Len(t, m.GetCalls(), 1)
	require.Equal(t, "pip", m.GetCalls()[0].Name)
}
