package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/engine/services/bot/radar"
)

type fakeProber struct {
	mu      sync.Mutex
	samples []Sample
	errs    []error
	calls   int
}

func (f *fakeProber) Sample(pid int, startedAt time.Time) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return Sample{}, f.errs[i]
	}
	if i < len(f.samples) {
		return f.samples[i], nil
	}
	return f.samples[len(f.samples)-1], nil
}

func TestUptimeTextFormatsByScale(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{90 * time.Minute, "1h 30m 0s"},
		{25*time.Hour + 5*time.Minute, "1d 1h 5m"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, UptimeText(c.d))
	}
}

func TestTaskDeliversSamplesUntilVanished(t *testing.T) {
	fp := &fakeProber{
		samples: []Sample{
			{MemoryMB: 64, CPUPercent: 5},
			{MemoryMB: 64, CPUPercent: 5},
		},
		errs: []error{nil, nil, errors.New("process not found")},
	}
	task := newTaskWithProber(fp, radar.DefaultQuota())

	var mu sync.Mutex
	var got []Sample
	vanished := make(chan error, 1)

	ctx := context.Background()
	task.Start(ctx, 123, time.Now(), func(s Sample, v radar.Verdict) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}, func(err error) {
		vanished <- err
	})

	select {
	case err := <-vanished:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for vanished callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 1)
}

func TestTaskStopPreventsFurtherCallbacks(t *testing.T) {
	fp := &fakeProber{samples: []Sample{{MemoryMB: 10, CPUPercent: 1}}}
	task := newTaskWithProber(fp, radar.DefaultQuota())

	task.Start(context.Background(), 1, time.Now(), nil, nil)
	task.Stop()
	task.Stop() // safe to call twice
}

func TestCheckRuntimeViaQuotaFlagsBreach(t *testing.T) {
	q := radar.DefaultQuota()
	v := q.CheckRuntime(200, 10)
	require.True(t, v.Suspicious)
}

func TestSampleTextFormatting(t *testing.T) {
	s := Sample{MemoryMB: 42, CPUPercent: 3.14}
	require.Equal(t, "42MB", s.MemoryText())
	require.Equal(t, "3.1%", s.CPUText())
}
