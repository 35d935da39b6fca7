package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeProber returns a scripted connectivity state
type fakeProber struct {
	online atomic.Bool
}

func (p *fakeProber) Probe(ctx context.Context) bool {
	return p.online.Load()
}

func TestConnectivityMonitor(t *testing.T) {
	t.Run("reports probe result", func(t *testing.T) {
		prober := &fakeProber{}
		monitor := NewConnectivityMonitor(prober, time.Hour, time.Millisecond)

		assert.False(t, monitor.IsOnline())

		prober.online.Store(true)
		assert.True(t, monitor.CheckNow(context.Background()))
		assert.True(t, monitor.IsOnline())
	})

	t.Run("notifies subscribers after the debounce window", func(t *testing.T) {
		prober := &fakeProber{}
		monitor := NewConnectivityMonitor(prober, time.Hour, 20*time.Millisecond)

		var mu sync.Mutex
		var transitions []bool
		monitor.Subscribe(func(online bool) {
			mu.Lock()
			transitions = append(transitions, online)
			mu.Unlock()
		})

		prober.online.Store(true)
		monitor.CheckNow(context.Background())

		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []bool{true}, transitions)
	})

	t.Run("collapses flapping inside the debounce window", func(t *testing.T) {
		prober := &fakeProber{}
		monitor := NewConnectivityMonitor(prober, time.Hour, 30*time.Millisecond)

		var notifications atomic.Int32
		monitor.Subscribe(func(online bool) {
			notifications.Add(1)
		})

		// Online then immediately offline again: net state change is none
		prober.online.Store(true)
		monitor.CheckNow(context.Background())
		prober.online.Store(false)
		monitor.CheckNow(context.Background())

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, int32(0), notifications.Load())
	})

	t.Run("unsubscribe stops notifications", func(t *testing.T) {
		prober := &fakeProber{}
		monitor := NewConnectivityMonitor(prober, time.Hour, 5*time.Millisecond)

		var notifications atomic.Int32
		id := monitor.Subscribe(func(online bool) {
			notifications.Add(1)
		})
		monitor.Unsubscribe(id)

		prober.online.Store(true)
		monitor.CheckNow(context.Background())

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(0), notifications.Load())
	})
}
