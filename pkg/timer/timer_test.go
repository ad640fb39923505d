package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFiresOnce(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var count int32
	m.Schedule("once", 10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestSchedulePeriodicFiresRepeatedly(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var count int32
	m.SchedulePeriodic("tick", 5*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, time.Millisecond)

	require.True(t, m.StopTimer("tick"))
}

func TestLastFireTracksPeriodicTaskOnly(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	_, ok := m.LastFire("tick")
	require.False(t, ok)

	m.SchedulePeriodic("tick", 5*time.Millisecond, func() {})
	require.Eventually(t, func() bool {
		_, ok := m.LastFire("tick")
		return ok
	}, time.Second, time.Millisecond)

	first, _ := m.LastFire("tick")
	require.Eventually(t, func() bool {
		later, _ := m.LastFire("tick")
		return later.After(first)
	}, time.Second, time.Millisecond)

	m.Schedule("once", 5*time.Millisecond, func() {})
	time.Sleep(50 * time.Millisecond)
	_, ok = m.LastFire("once")
	require.False(t, ok, "one-shot timers are not tracked by LastFire")
}

func TestStopTimerCancelsPending(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var fired int32
	m.Schedule("cancel-me", 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	require.True(t, m.StopTimer("cancel-me"))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
