package netstatus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeMonitor_RequiresProbe(t *testing.T) {
	_, err := NewProbeMonitor(ProbeConfig{})
	assert.ErrorIs(t, err, ErrMissingProbe)
}

func TestProbeMonitor_StartsOnline(t *testing.T) {
	m, err := NewProbeMonitor(ProbeConfig{
		Probe:    func(context.Context) error { return nil },
		Interval: time.Hour,
	})
	require.NoError(t, err)
	defer m.Destroy()

	assert.Equal(t, StatusOnline, m.Status())
	assert.True(t, m.Online())
}

func TestProbeMonitor_OfflineAfterConsecutiveFailures(t *testing.T) {
	m, err := NewProbeMonitor(ProbeConfig{
		Probe:            func(context.Context) error { return errors.New("unreachable") },
		Interval:         time.Hour,
		FailureThreshold: 2,
	})
	require.NoError(t, err)
	defer m.Destroy()

	assert.Equal(t, StatusOnline, m.CheckNow(context.Background()), "one failure is not offline")
	assert.Equal(t, StatusOffline, m.CheckNow(context.Background()))
	assert.False(t, m.Online())
}

func TestProbeMonitor_SingleSuccessRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	m, err := NewProbeMonitor(ProbeConfig{
		Probe: func(context.Context) error {
			if fail.Load() {
				return errors.New("unreachable")
			}
			return nil
		},
		Interval:         time.Hour,
		FailureThreshold: 1,
	})
	require.NoError(t, err)
	defer m.Destroy()

	require.Equal(t, StatusOffline, m.CheckNow(context.Background()))

	fail.Store(false)
	assert.Equal(t, StatusOnline, m.CheckNow(context.Background()))
}

func TestProbeMonitor_SlowLatency(t *testing.T) {
	m, err := NewProbeMonitor(ProbeConfig{
		Probe: func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		Interval:      time.Hour,
		SlowThreshold: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer m.Destroy()

	assert.Equal(t, StatusSlow, m.CheckNow(context.Background()))
	assert.True(t, m.Online(), "slow is still online")
	assert.True(t, m.Slow())
}

func TestProbeMonitor_TimeoutCountsAsFailure(t *testing.T) {
	m, err := NewProbeMonitor(ProbeConfig{
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Interval:         time.Hour,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 1,
	})
	require.NoError(t, err)
	defer m.Destroy()

	assert.Equal(t, StatusOffline, m.CheckNow(context.Background()))
}

func TestProbeMonitor_PeriodicProbing(t *testing.T) {
	var calls atomic.Int32
	m, err := NewProbeMonitor(ProbeConfig{
		Probe: func(context.Context) error {
			calls.Add(1)
			return errors.New("unreachable")
		},
		Interval:         10 * time.Millisecond,
		FailureThreshold: 2,
	})
	require.NoError(t, err)
	defer m.Destroy()

	assert.Eventually(t, func() bool { return m.Status() == StatusOffline },
		time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestProbeMonitor_SubscribeOnTransitions(t *testing.T) {
	var fail atomic.Bool

	m, err := NewProbeMonitor(ProbeConfig{
		Probe: func(context.Context) error {
			if fail.Load() {
				return errors.New("unreachable")
			}
			return nil
		},
		Interval:         time.Hour,
		FailureThreshold: 1,
	})
	require.NoError(t, err)
	defer m.Destroy()

	var got []Status
	cancel := m.Subscribe(func(s Status) { got = append(got, s) })
	defer cancel()

	m.CheckNow(context.Background()) // online -> online, no notify
	fail.Store(true)
	m.CheckNow(context.Background()) // -> offline
	fail.Store(false)
	m.CheckNow(context.Background()) // -> online

	assert.Equal(t, []Status{StatusOffline, StatusOnline}, got)
}

func TestProbeMonitor_DestroyIdempotent(t *testing.T) {
	m, err := NewProbeMonitor(ProbeConfig{
		Probe:    func(context.Context) error { return nil },
		Interval: time.Hour,
	})
	require.NoError(t, err)

	m.Destroy()
	m.Destroy()
}
