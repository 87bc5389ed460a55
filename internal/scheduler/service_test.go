package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/domain"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeDispatcher) Process(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	return len(f.calls), f.err
}

func (f *fakeDispatcher) ticks() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

type fakeCleaner struct {
	sweeps []time.Time
}

func (f *fakeCleaner) Sweep(_ context.Context, now time.Time) (int64, error) {
	f.sweeps = append(f.sweeps, now)
	return 0, nil
}

func newService(t *testing.T, d Dispatcher, c Cleaner, clk clock.Clock) *Service {
	t.Helper()
	s, err := NewService(d, c, Options{ProcessPeriod: 5 * time.Second, CleanupSchedule: "@every 1h", Clock: clk})
	require.NoError(t, err)
	return s
}

func TestNextTick(t *testing.T) {
	p := 5 * time.Second
	assert.Equal(t, int64(1005), NextTick(time.Unix(1003, 0), p).Unix())
	assert.Equal(t, int64(1010), NextTick(time.Unix(1005, 0), p).Unix())
	assert.Equal(t, int64(1005), NextTick(time.Unix(1004, 900_000_000), p).Unix())
}

func TestIdleNeverNegative(t *testing.T) {
	s := newService(t, &fakeDispatcher{}, &fakeCleaner{}, nil)
	start := time.Unix(1005, 0)

	assert.Equal(t, 4*time.Second, s.idle(start, start.Add(time.Second)))
	assert.Equal(t, time.Duration(0), s.idle(start, start.Add(7*time.Second)), "overrun wakes immediately")
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, nil, Options{ProcessPeriod: 0, CleanupSchedule: "@hourly"})
	assert.Error(t, err)
	_, err = NewService(nil, nil, Options{ProcessPeriod: time.Second, CleanupSchedule: "every hour"})
	assert.Error(t, err)
	assert.Error(t, ValidateCronExpression("61 * * * *"))
	assert.NoError(t, ValidateCronExpression("0 * * * *"))
}

func TestTickCleanupCadence(t *testing.T) {
	d, c := &fakeDispatcher{}, &fakeCleaner{}
	s := newService(t, d, c, nil)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for _, offset := range []time.Duration{0, 5 * time.Second, 59 * time.Minute, time.Hour, time.Hour + 5*time.Second} {
		_, err := s.Tick(ctx, base.Add(offset))
		require.NoError(t, err)
	}

	assert.Len(t, d.ticks(), 5)
	assert.Equal(t, []time.Time{base, base.Add(time.Hour)}, c.sweeps)
}

func TestTickFatalSkipsCleanup(t *testing.T) {
	d := &fakeDispatcher{err: domain.ErrUnknownTaskType}
	c := &fakeCleaner{}
	s := newService(t, d, c, nil)

	_, err := s.Tick(context.Background(), time.Unix(1000, 0))
	assert.True(t, errors.Is(err, domain.ErrUnknownTaskType))
	assert.Empty(t, c.sweeps)
}

func TestStartRunsUntilCanceled(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1003, 0))
	d := &fakeDispatcher{}
	s := newService(t, d, &fakeCleaner{}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return len(d.ticks()) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}

	ticks := d.ticks()
	assert.GreaterOrEqual(t, ticks[0].Unix(), int64(1005))
	for i, tick := range ticks {
		assert.Zero(t, tick.UnixNano()%int64(5*time.Second), "tick %d at %s is off the grid", i, tick)
		if i > 0 {
			assert.True(t, tick.After(ticks[i-1]))
		}
	}
}

func TestStartStopsOnFatal(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1003, 0))
	d := &fakeDispatcher{err: domain.ErrUnknownTaskType}
	s := newService(t, d, &fakeCleaner{}, clk)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	var err error
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrUnknownTaskType)
}
