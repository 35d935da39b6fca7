package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/photosync/sync/internal/observability"
)

// Prober checks whether the remote store is actually reachable. Radio-up does
// not imply reachability, so the monitor probes a real endpoint.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes a stable HTTP endpoint (the sync server's health check)
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates an HTTPProber with the given per-probe timeout
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe returns true if the endpoint answered at all
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// ConnectivityMonitor tracks online/offline transitions via periodic probes
// and notifies subscribers. Rapid flapping within the debounce window
// collapses into a single notification.
type ConnectivityMonitor struct {
	mu            sync.Mutex
	prober        Prober
	interval      time.Duration
	debounce      time.Duration
	online        bool
	notified      bool // last state delivered to subscribers
	subs          map[int]func(online bool)
	nextSubID     int
	debounceTimer *time.Timer
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	logger        *observability.Logger
}

// NewConnectivityMonitor creates a ConnectivityMonitor. The initial state is
// offline until the first probe succeeds.
func NewConnectivityMonitor(prober Prober, interval, debounce time.Duration) *ConnectivityMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &ConnectivityMonitor{
		prober:   prober,
		interval: interval,
		debounce: debounce,
		subs:     make(map[int]func(online bool)),
		stopCh:   make(chan struct{}),
		logger:   observability.GetLogger().WithField("component", "connectivity"),
	}
}

// Start launches the probe loop
func (m *ConnectivityMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts probing and pending notifications
func (m *ConnectivityMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.mu.Unlock()
}

// IsOnline returns the current best-known connectivity state
func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback and returns an id for Unsubscribe
func (m *ConnectivityMonitor) Subscribe(fn func(online bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	return id
}

// Unsubscribe removes a transition callback
func (m *ConnectivityMonitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

// CheckNow runs one probe immediately and applies the result
func (m *ConnectivityMonitor) CheckNow(ctx context.Context) bool {
	online := m.prober.Probe(ctx)
	m.setState(online)
	return online
}

func (m *ConnectivityMonitor) run() {
	defer m.wg.Done()

	ctx := context.Background()
	m.setState(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.setState(m.prober.Probe(ctx))
		}
	}
}

// setState records a probe result and schedules a debounced notification
// when the state changed
func (m *ConnectivityMonitor) setState(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return
	}
	m.online = online
	m.logger.Infof("connectivity changed: online=%v", online)

	// Collapse flapping: only the state standing at the end of the window
	// is delivered, and only if it differs from the last delivered state.
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = time.AfterFunc(m.debounce, m.flush)
}

func (m *ConnectivityMonitor) flush() {
	m.mu.Lock()
	if m.online == m.notified {
		m.mu.Unlock()
		return
	}
	state := m.online
	m.notified = state
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
