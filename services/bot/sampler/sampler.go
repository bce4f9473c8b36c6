// Package sampler polls the OS for each supervised bot's CPU and memory
// usage on a fixed cadence, on the teacher's ticker-plus-done-channel
// scheduler pattern, and feeds the result to both the bot record and the
// runtime arm of the risk analyzer.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/chatforge/engine/services/bot/radar"
)

// Interval is the fixed polling cadence, per §4.6.
const Interval = 3 * time.Second

// Sample is one poll result for a single pid.
type Sample struct {
	MemoryMB   float64
	CPUPercent float64
	Uptime     time.Duration
}

// MemoryText formats MemoryMB as the textual form the bot record stores,
// e.g. "42MB".
func (s Sample) MemoryText() string {
	return fmt.Sprintf("%.0fMB", s.MemoryMB)
}

// CPUText formats CPUPercent as the textual form the bot record stores,
// e.g. "3.1%".
func (s Sample) CPUText() string {
	return fmt.Sprintf("%.1f%%", s.CPUPercent)
}

// UptimeText formats d as "Nd Nh Nm" / "Nh Nm Ns" / "Nm Ns" / "Ns",
// truncating zero leading components only for smaller scales, per §4.6.
func UptimeText(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Prober queries the OS for a pid's resource usage. Implemented by
// gopsutilProber in production and by a fake in tests.
type Prober interface {
	Sample(pid int, startedAt time.Time) (Sample, error)
}

// gopsutilProber backs Prober with gopsutil/v4.
type gopsutilProber struct{}

func (gopsutilProber) Sample(pid int, startedAt time.Time) (Sample, error) {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, err
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return Sample{}, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		MemoryMB:   float64(memInfo.RSS) / (1024 * 1024),
		CPUPercent: cpuPercent,
		Uptime:     time.Since(startedAt),
	}, nil
}

// OnSample is invoked once per successful poll, carrying the sample and
// the runtime RADAR verdict computed from it.
type OnSample func(sample Sample, verdict radar.Verdict)

// OnVanished is invoked when the process can no longer be queried,
// signaling the caller that the handle has exited.
type OnVanished func(err error)

// Task is a recurring per-pid sampling loop, started with Start and
// stopped with Stop. It self-cancels on query failure, per §4.6.
type Task struct {
	prober   Prober
	quota    radar.Quota
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewTask constructs a Task backed by gopsutil with the given quota.
func NewTask(quota radar.Quota) *Task {
	return &Task{prober: gopsutilProber{}, quota: quota, interval: Interval}
}

// newTaskWithProber is used by tests to substitute a fake Prober and a
// shorter interval so sampling loops don't need real wall-clock seconds.
func newTaskWithProber(prober Prober, quota radar.Quota) *Task {
	return &Task{prober: prober, quota: quota, interval: time.Millisecond}
}

// Start begins polling pid every Interval until ctx is cancelled, Stop is
// called, or the prober reports the process has vanished. onSample fires
// on every successful poll; onVanished fires at most once, after which the
// loop exits without further calls to either callback.
func (t *Task) Start(ctx context.Context, pid int, startedAt time.Time, onSample OnSample, onVanished OnVanished) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.runLoop(ctx, pid, startedAt, onSample, onVanished)
}

// Stop signals the loop to exit. Safe to call multiple times.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	close(t.done)
	t.running = false
}

func (t *Task) runLoop(ctx context.Context, pid int, startedAt time.Time, onSample OnSample, onVanished OnVanished) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			sample, err := t.prober.Sample(pid, startedAt)
			if err != nil {
				slog.Warn("sampler: process vanished, cancelling", "pid", pid, "err", err)
				t.Stop()
				if onVanished != nil {
					onVanished(err)
				}
				return
			}
			verdict := t.quota.CheckRuntime(sample.MemoryMB, sample.CPUPercent)
			if onSample != nil {
				onSample(sample, verdict)
			}
		}
	}
}
