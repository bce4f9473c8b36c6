// Package installer runs each runtime's package-management tool against a
// materialized workspace, on the teacher's timeout-bounded RunCapture
// pattern: the engine never blocks start indefinitely on a hung registry.
package installer

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatforge/engine/services/bot"
	"github.com/chatforge/engine/services/bot/procexec"
)

// RuntimeATimeout bounds a Runtime A install attempt, including every
// fallback in the ordering below.
const RuntimeATimeout = 180 * time.Second

// RuntimeBTimeout bounds the single Runtime B install attempt.
const RuntimeBTimeout = 240 * time.Second

// runtimeAFallbacks is the ordered set of commands attempted for Runtime A,
// per §4.3: user-scoped install, system-scoped install, alternate tool name.
var runtimeAFallbacks = [][]string{
	{"pip", "install", "--user", "-r", "requirements.txt"},
	{"pip", "install", "-r", "requirements.txt"},
	{"pip3", "install", "--user", "-r", "requirements.txt"},
}

// runtimeBCommand is the single non-interactive install attempt for Runtime B.
var runtimeBCommand = []string{"npm", "install", "--no-audit", "--no-fund"}

// Result is the outcome of one install attempt, recorded but never fatal
// to the start attempt per §4.3.
type Result struct {
	Succeeded bool
	Attempted []string
	Output    []string
}

// Installer runs package installation for both supported runtimes.
type Installer struct {
	runner procexec.Runner
	logger *slog.Logger
}

// New constructs an Installer backed by runner.
func New(runner procexec.Runner, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{runner: runner, logger: logger}
}

// Install runs the runtime-appropriate install command(s) in dir and
// returns a Result describing the outcome. It never returns an error: a
// failed or timed-out install is recorded in Result.Succeeded, not
// propagated, so callers proceed to spawn the bot regardless.
func (in *Installer) Install(ctx context.Context, runtime bot.Runtime, dir string) Result {
	switch runtime {
	case bot.RuntimeA:
		return in.installRuntimeA(ctx, dir)
	case bot.RuntimeB:
		return in.installRuntimeB(ctx, dir)
	default:
		return Result{Succeeded: false}
	}
}

func (in *Installer) installRuntimeA(ctx context.Context, dir string) Result {
	ctx, cancel := context.WithTimeout(ctx, RuntimeATimeout)
	defer cancel()

	var res Result
	for _, cmd := range runtimeAFallbacks {
		res.Attempted = append(res.Attempted, cmd[0])
		var lines []string
		spec := procexec.Spec{Dir: dir, Name: cmd[0], Args: cmd[1:]}
		err := in.runner.RunCapture(ctx, spec, func(line string) {
			lines = append(lines, line)
			in.logger.Info("installer stdout", "cmd", cmd[0], "line", line)
		}, func(line string) {
			lines = append(lines, line)
			in.logger.Warn("installer stderr", "cmd", cmd[0], "line", line)
		})
		res.Output = append(res.Output, lines...)
		if err == nil {
			res.Succeeded = true
			return res
		}
		if ctx.Err() != nil {
			in.logger.Warn("installer timed out", "cmd", cmd[0], "dir", dir)
			return res
		}
		in.logger.Warn("installer attempt failed, trying fallback", "cmd", cmd[0], "err", err)
	}
	return res
}

func (in *Installer) installRuntimeB(ctx context.Context, dir string) Result {
	ctx, cancel := context.WithTimeout(ctx, RuntimeBTimeout)
	defer cancel()

	res := Result{Attempted: []string{runtimeBCommand[0]}}
	var lines []string
	spec := procexec.Spec{Dir: dir, Name: runtimeBCommand[0], Args: runtimeBCommand[1:]}
	err := in.runner.RunCapture(ctx, spec, func(line string) {
		lines = append(lines, line)
		in.logger.Info("installer stdout", "cmd", runtimeBCommand[0], "line", line)
	}, func(line string) {
		lines = append(lines, line)
		in.logger.Warn("installer stderr", "cmd", runtimeBCommand[0], "line", line)
	})
	res.Output = lines
	if err == nil {
		res.Succeeded = true
		return res
	}
	if ctx.Err() != nil {
		in.logger.Warn("installer timed out", "cmd", runtimeBCommand[0], "dir", dir)
	} else {
		in.logger.Warn("installer attempt failed", "cmd", runtimeBCommand[0], "err", err)
	}
	return res
}
