// Package supervisor implements the bot lifecycle state machine: spawning
// the child process, classifying its output, enforcing termination
// semantics, and owning the one Process Handle permitted per bot.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatforge/engine/services/bot"
	"github.com/chatforge/engine/services/bot/depinfer"
	"github.com/chatforge/engine/services/bot/eventbus"
	"github.com/chatforge/engine/services/bot/installer"
	"github.com/chatforge/engine/services/bot/procexec"
	"github.com/chatforge/engine/services/bot/radar"
	"github.com/chatforge/engine/services/bot/sampler"
	"github.com/chatforge/engine/services/bot/store"
	"github.com/chatforge/engine/services/bot/workspace"
)

// readyMarkers are the stdout substrings that transition starting->running.
// Order is not semantically significant.
var readyMarkers = []string{"Logged in as", "Bot is ready", "Successfully logged in"}

// tokenFailureMarkers are the stderr substrings that transition directly
// to error, regardless of current status.
var tokenFailureMarkers = []string{"LoginFailure", "Improper token", "Unauthorized", "Invalid token"}

// runtimeAMainCandidates is the preferred main-file ordering for Runtime A
// when the bot has no stored main filename, or it doesn't exist.
var runtimeAMainCandidates = []string{"main.py", "bot.py", "app.py", "run.py", "__main__.py", "start.py"}

// runtimeBMainCandidates is the analogous ordering for Runtime B.
var runtimeBMainCandidates = []string{"index.js", "main.js", "app.js", "bot.js", "start.js", "server.js"}

// RuntimeABinary and RuntimeBBinary name the interpreter binaries spawned
// for each runtime. Overridable by tests.
var (
	RuntimeABinary = "python3"
	RuntimeBBinary = "node"
)

// stopGracePeriod bounds how long stop waits after the graceful signal
// before escalating to a forceful kill. restartSettleDelay is the pause
// between stop and start during restart. Both are vars, not consts, so
// tests can shrink them instead of waiting out the real durations.
var (
	stopGracePeriod    = 5 * time.Second
	restartSettleDelay = 1 * time.Second
)

// SetTestTimings overrides stopGracePeriod and restartSettleDelay. Exposed
// for other packages' tests (e.g. facade) that exercise a Supervisor
// end-to-end and would otherwise pay the real 5s/1s durations.
func SetTestTimings(gracePeriod, settleDelay time.Duration) {
	stopGracePeriod = gracePeriod
	restartSettleDelay = settleDelay
}

// handle is the Supervisor's private bookkeeping for one running bot,
// backing the spec's transient Process Handle entity.
type handle struct {
	botID     string
	procH     procexec.Handle
	sampler   *sampler.Task
	startedAt time.Time
	cancel    context.CancelFunc
}

// Supervisor owns every live Process Handle and drives start/stop/restart.
type Supervisor struct {
	store     store.Store
	materializer *workspace.Materializer
	installer *installer.Installer
	scanner   *radar.StaticScanner
	runner    procexec.Runner
	bus       *eventbus.Bus
	quota     radar.Quota
	logger    *slog.Logger

	opLocks keyedMutex

	handlesMu sync.RWMutex
	handles   map[string]*handle
}

// Config bundles a Supervisor's collaborators.
type Config struct {
	Store        store.Store
	Materializer *workspace.Materializer
	Installer    *installer.Installer
	Scanner      *radar.StaticScanner
	Runner       procexec.Runner
	Bus          *eventbus.Bus
	Quota        radar.Quota
	Logger       *slog.Logger
}

// New constructs a Supervisor. Quota defaults to radar.DefaultQuota() if
// the zero value is passed.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	quota := cfg.Quota
	if quota == (radar.Quota{}) {
		quota = radar.DefaultQuota()
	}
	return &Supervisor{
		store:        cfg.Store,
		materializer: cfg.Materializer,
		installer:    cfg.Installer,
		scanner:      cfg.Scanner,
		runner:       cfg.Runner,
		bus:          cfg.Bus,
		quota:        quota,
		logger:       logger,
		handles:      make(map[string]*handle),
	}
}

// IsRunning reports whether a Process Handle is currently registered for
// botID.
func (s *Supervisor) IsRunning(botID string) bool {
	s.handlesMu.RLock()
	defer s.handlesMu.RUnlock()
	_, ok := s.handles[botID]
	return ok
}

func (s *Supervisor) getHandle(botID string) (*handle, bool) {
	s.handlesMu.RLock()
	defer s.handlesMu.RUnlock()
	h, ok := s.handles[botID]
	return h, ok
}

func (s *Supervisor) registerHandle(botID string, h *handle) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	s.handles[botID] = h
}

func (s *Supervisor) unregisterHandle(botID string) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	delete(s.handles, botID)
}

// Start implements §4.5's start operation.
func (s *Supervisor) Start(ctx context.Context, b *bot.Bot) bot.Result {
	unlock := s.opLocks.Lock(b.ID)
	defer unlock()

	if _, running := s.getHandle(b.ID); running {
		return bot.Fail("already running")
	}

	if b.Credential == "" || b.Runtime == "" {
		s.failStatus(ctx, b, "missing credential or runtime")
		return bot.Fail("missing credential or runtime")
	}

	s.setStatus(ctx, b, bot.StatusStarting)

	files, err := s.store.GetBotFiles(ctx, b.ID)
	if err != nil {
		s.failStatus(ctx, b, "could not load bot files")
		return bot.Fail("could not load bot files")
	}

	fileMap := make(map[string]string, len(files))
	for _, f := range files {
		fileMap[f.Name] = f.Content
	}

	verdict := s.scanner.ScoreWorkspace(fileMap)
	if verdict.Suspicious {
		reason := fmt.Sprintf("RADAR veto (score %d): %s", verdict.Score, verdict.FirstReason())
		s.failStatus(ctx, b, reason)
		return bot.Fail(reason)
	}

	if err := s.materializer.Materialize(b.ID, files, b.Credential); err != nil {
		s.logger.Warn("supervisor: materialize failed", "bot_id", b.ID, "err", err)
		s.failStatus(ctx, b, "workspace materialization failed")
		return bot.Fail("workspace materialization failed")
	}

	s.ensureManifest(b, fileMap)

	installCtx, installCancel := context.WithTimeout(ctx, installer.RuntimeBTimeout+time.Minute)
	s.installer.Install(installCtx, b.Runtime, s.materializer.Dir(b.ID))
	installCancel()

	mainFile, ok := s.resolveMainFile(b, fileMap)
	if !ok {
		s.failStatus(ctx, b, "no runnable entry file found")
		return bot.Fail("no runnable entry file found")
	}

	procH, err := s.spawn(b, mainFile)
	if err != nil {
		s.failStatus(ctx, b, "spawn failed: "+err.Error())
		return bot.Fail("spawn failed")
	}

	now := time.Now()
	pid := procH.Pid()
	patch := bot.Patch{PID: &pid, LastStart: &now}
	s.applyPatch(ctx, b, patch)

	sampleCtx, cancel := context.WithCancel(context.Background())
	h := &handle{botID: b.ID, procH: procH, startedAt: now, cancel: cancel, sampler: sampler.NewTask(s.quota)}
	s.registerHandle(b.ID, h)

	go s.watch(sampleCtx, b, h)
	h.sampler.Start(sampleCtx, pid, now, s.onSample(b.ID), s.onVanished(b.ID))

	return bot.Ok("starting")
}

// ensureManifest writes an inferred manifest when the workspace lacks one,
// per §4.2. Failure is logged, not fatal: the installer will simply find
// nothing to install.
func (s *Supervisor) ensureManifest(b *bot.Bot, files map[string]string) {
	manifestName := depinfer.ManifestFile(b.Runtime)
	if _, exists := files[manifestName]; exists {
		return
	}
	filename, body, ok := depinfer.Infer(b.Runtime, b.ID, files)
	if !ok {
		return
	}
	dest := s.materializer.Dir(b.ID)
	if err := os.WriteFile(dest+string(os.PathSeparator)+filename, []byte(body), 0o644); err != nil {
		s.logger.Warn("supervisor: failed to write inferred manifest", "bot_id", b.ID, "err", err)
	}
}

// resolveMainFile implements the §4.5 preference ordering.
func (s *Supervisor) resolveMainFile(b *bot.Bot, files map[string]string) (string, bool) {
	if b.MainFile != "" {
		if _, ok := files[b.MainFile]; ok {
			return b.MainFile, true
		}
	}
	candidates := runtimeAMainCandidates
	ext := ".py"
	if b.Runtime == bot.RuntimeB {
		candidates = runtimeBMainCandidates
		ext = ".js"
	}
	for _, c := range candidates {
		if _, ok := files[c]; ok {
			return c, true
		}
	}
	for name := range files {
		if strings.HasSuffix(name, ext) {
			return name, true
		}
	}
	return "", false
}

func (s *Supervisor) spawn(b *bot.Bot, mainFile string) (procexec.Handle, error) {
	dir := s.materializer.Dir(b.ID)
	env := append(os.Environ(),
		"DISCORD_TOKEN="+b.Credential,
		"BOT_ID="+b.ID,
	)

	var spec procexec.Spec
	switch b.Runtime {
	case bot.RuntimeA:
		env = append(env, "PYTHONUNBUFFERED=1")
		spec = procexec.Spec{Dir: dir, Env: env, Name: RuntimeABinary, Args: []string{"-u", mainFile}}
	case bot.RuntimeB:
		spec = procexec.Spec{Dir: dir, Env: env, Name: RuntimeBBinary, Args: []string{mainFile}}
	default:
		return nil, fmt.Errorf("unsupported runtime %q", b.Runtime)
	}
	return s.runner.Start(spec)
}

// watch attaches the stream observers described in §4.5 and runs until
// the child exits.
func (s *Supervisor) watch(ctx context.Context, b *bot.Bot, h *handle) {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		for line := range h.procH.Stdout() {
			safe := redactCredential(line, b.Credential)
			s.recordLog(ctx, b.ID, bot.SeverityInfo, safe, "stdout")
			if containsAny(safe, readyMarkers) {
				s.setStatus(ctx, b, bot.StatusRunning)
			}
		}
		return nil
	})

	g.Go(func() error {
		for line := range h.procH.Stderr() {
			safe := redactCredential(line, b.Credential)
			s.recordLog(ctx, b.ID, bot.SeverityError, safe, "stderr")
			if containsAny(safe, tokenFailureMarkers) {
				s.exitToError(ctx, b, h, safe)
			}
		}
		return nil
	})

	_ = g.Wait()
	err := h.procH.Wait()

	unlock := s.opLocks.Lock(b.ID)
	defer unlock()

	if _, stillRegistered := s.getHandle(b.ID); !stillRegistered {
		// already transitioned by exitToError or by stop
		return
	}

	h.cancel()
	h.sampler.Stop()
	s.unregisterHandle(b.ID)

	if err == nil {
		s.setStatus(ctx, b, bot.StatusStopped)
	} else {
		s.setStatusWithMessage(ctx, b, bot.StatusError, "exited: "+err.Error())
	}
}

// exitToError implements the Error observer for an immediate token
// failure detected mid-stream.
func (s *Supervisor) exitToError(ctx context.Context, b *bot.Bot, h *handle, reason string) {
	unlock := s.opLocks.Lock(b.ID)
	defer unlock()

	h.cancel()
	h.sampler.Stop()
	_ = h.procH.Kill()
	s.unregisterHandle(b.ID)
	s.setStatusWithMessage(ctx, b, bot.StatusError, reason)
}

func (s *Supervisor) onSample(botID string) sampler.OnSample {
	return func(sample sampler.Sample, verdict radar.Verdict) {
		ctx := context.Background()
		patch := bot.Patch{
			Memory: ptr(sample.MemoryText()),
			CPU:    ptr(sample.CPUText()),
			Uptime: ptr(sampler.UptimeText(sample.Uptime)),
		}
		if _, err := s.store.UpdateBot(ctx, botID, patch); err != nil {
			s.logger.Warn("supervisor: failed to persist sample", "bot_id", botID, "err", err)
		}
		if verdict.Suspicious {
			s.terminateForAbuse(ctx, botID, verdict.FirstReason())
		}
	}
}

func (s *Supervisor) onVanished(botID string) sampler.OnVanished {
	return func(err error) {
		s.logger.Info("supervisor: sampler detected vanished process", "bot_id", botID, "err", err)
	}
}

// terminateForAbuse kills a bot whose runtime RADAR check breached quota.
func (s *Supervisor) terminateForAbuse(ctx context.Context, botID, reason string) {
	unlock := s.opLocks.Lock(botID)
	defer unlock()

	h, ok := s.getHandle(botID)
	if !ok {
		return
	}
	b, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return
	}
	h.cancel()
	h.sampler.Stop()
	_ = h.procH.Kill()
	s.unregisterHandle(botID)
	s.setStatusWithMessage(ctx, b, bot.StatusError, "RADAR abuse veto: "+reason)
}

// Stop implements §4.5's stop operation.
func (s *Supervisor) Stop(ctx context.Context, b *bot.Bot) bot.Result {
	unlock := s.opLocks.Lock(b.ID)
	defer unlock()

	h, ok := s.getHandle(b.ID)
	if !ok {
		s.applyPatch(ctx, b, bot.ClearedRuntimeFields(bot.StatusStopped))
		s.removeWorkspaceBestEffort(b.ID)
		return bot.Ok("stopped")
	}

	h.cancel()
	h.sampler.Stop()

	_ = h.procH.Signal()
	done := make(chan struct{})
	go func() {
		_ = h.procH.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		s.logger.Warn("supervisor: graceful stop timed out, escalating to kill", "bot_id", b.ID)
		_ = h.procH.Kill()
		<-done
	}

	s.unregisterHandle(b.ID)
	s.applyPatch(ctx, b, bot.ClearedRuntimeFields(bot.StatusStopped))
	s.removeWorkspaceBestEffort(b.ID)
	return bot.Ok("stopped")
}

func (s *Supervisor) removeWorkspaceBestEffort(botID string) {
	if err := s.materializer.Remove(botID); err != nil {
		s.logger.Warn("supervisor: workspace removal failed", "bot_id", botID, "err", err)
	}
}

// Restart implements §4.5's restart operation.
func (s *Supervisor) Restart(ctx context.Context, b *bot.Bot) bot.Result {
	s.Stop(ctx, b)
	time.Sleep(restartSettleDelay)
	fresh, err := s.store.GetBot(ctx, b.ID)
	if err != nil {
		return bot.Fail("bot vanished during restart")
	}
	return s.Start(ctx, fresh)
}

func (s *Supervisor) setStatus(ctx context.Context, b *bot.Bot, status bot.Status) {
	s.applyPatch(ctx, b, bot.Patch{Status: &status})
	s.bus.BroadcastStatus(b.OwnerID, eventbus.NewBotStatusUpdate(b.ID, string(status)))
}

func (s *Supervisor) setStatusWithMessage(ctx context.Context, b *bot.Bot, status bot.Status, message string) {
	s.applyPatch(ctx, b, bot.ClearedRuntimeFields(status))
	s.bus.BroadcastStatus(b.OwnerID, eventbus.NewBotStatusUpdate(b.ID, string(status)))
	s.recordLog(ctx, b.ID, bot.SeverityError, message, "supervisor")
}

func (s *Supervisor) failStatus(ctx context.Context, b *bot.Bot, reason string) {
	s.setStatusWithMessage(ctx, b, bot.StatusError, reason)
}

func (s *Supervisor) applyPatch(ctx context.Context, b *bot.Bot, patch bot.Patch) {
	if _, err := s.store.UpdateBot(ctx, b.ID, patch); err != nil {
		s.logger.Warn("supervisor: failed to persist patch", "bot_id", b.ID, "err", err)
	}
}

func (s *Supervisor) recordLog(ctx context.Context, botID string, severity bot.Severity, message, source string) {
	message = strings.TrimSpace(message)
	record := bot.BotLogRecord{
		ID:        uuid.NewString(),
		BotID:     botID,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := s.store.CreateBotLog(ctx, record); err != nil {
		s.logger.Warn("supervisor: failed to persist log", "bot_id", botID, "err", err)
	}
	s.bus.BroadcastLog(botID, eventbus.LogMessage{Level: string(severity), Message: message, Source: source})
}

// redactCredential scrubs every occurrence of credential from line before
// it is ever persisted or broadcast, per invariant 4 in the data model: a
// bot that echoes its own environment must never leak its token through a
// BotLogRecord or a streamed log message.
func redactCredential(line, credential string) string {
	if credential == "" {
		return line
	}
	return strings.ReplaceAll(line, credential, "[REDACTED]")
}

func containsAny(haystack string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(haystack, sub) {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
