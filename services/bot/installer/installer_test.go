package installer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/engine/services/bot"
	"github.com/chatforge/engine/services/bot/procexec"
)

func TestInstallRuntimeASucceedsOnFirstAttempt(t *testing.T) {
	mock := &procexec.MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec procexec.Spec, onStdout, onStderr func(string)) error {
			onStdout("Successfully installed discord.py")
			return nil
		},
	}
	in := New(mock, nil)
	res := in.Install(context.Background(), bot.RuntimeA, "/tmp/ws")
	require.True(t, res.Succeeded)
	require.Len(t, mock.GetCalls(), 1)
	require.Equal(t, "pip", mock.GetCalls()[0].Name)
}

func TestInstallRuntimeAFallsBackThroughOrdering(t *testing.T) {
	attempt := 0
	mock := &procexec.MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec procexec.Spec, onStdout, onStderr func(string)) error {
			attempt++
			if attempt < 3 {
				return errors.New("exit status 1")
			}
			return nil
		},
	}
	in := New(mock, nil)
	res := in.Install(context.Background(), bot.RuntimeA, "/tmp/ws")
	require.True(t, res.Succeeded)
	require.Len(t, mock.GetCalls(), 3)
	require.Equal(t, "pip3", mock.GetCalls()[2].Name)
}

func TestInstallRuntimeAAllFallbacksFailIsNotFatal(t *testing.T) {
	mock := &procexec.MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec procexec.Spec, onStdout, onStderr func(string)) error {
			return errors.New("exit status 1")
		},
	}
	in := New(mock, nil)
	res := in.Install(context.Background(), bot.RuntimeA, "/tmp/ws")
	require.False(t, res.Succeeded)
	require.Len(t, mock.GetCalls(), 3)
}

func TestInstallRuntimeBSingleAttempt(t *testing.T) {
	mock := &procexec.MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec procexec.Spec, onStdout, onStderr func(string)) error {
			return nil
		},
	}
	in := New(mock, nil)
	res := in.Install(context.Background(), bot.RuntimeB, "/tmp/ws")
	require.True(t, res.Succeeded)
	require.Len(t, mock.GetCalls(), 1)
	require.Equal(t, "npm", mock.GetCalls()[0].Name)
}

func TestInstallRuntimeBFailureIsNotFatal(t *testing.T) {
	mock := &procexec.MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec procexec.Spec, onStdout, onStderr func(string)) error {
			return errors.New("registry unreachable")
		},
	}
	in := New(mock, nil)
	res := in.Install(context.Background(), bot.RuntimeB, "/tmp/ws")
	require.False(t, res.Succeeded)
}
