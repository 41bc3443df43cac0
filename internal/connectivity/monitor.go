// Package connectivity classifies network reachability and publishes
// debounced online/offline transitions on the event bus. It never
// triggers sync itself; subscribers decide what a transition means.
package connectivity

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"pocketplan/internal/domain"
	"pocketplan/internal/events"

	"github.com/rs/zerolog"
)

// State is the classified reachability of the device.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// ProbeFunc reports whether the backend is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// DialProbe probes by opening a TCP connection to addr (host:port).
func DialProbe(addr string, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// ProbeAddrFromURL derives a dialable host:port from an API base URL.
func ProbeAddrFromURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}

// Monitor polls a probe and debounces the result: an observed state
// must hold for the stability window before a transition is
// published, which suppresses flapping links.
type Monitor struct {
	probe    ProbeFunc
	bus      domain.EventPublisher
	interval time.Duration
	stable   time.Duration
	logger   zerolog.Logger

	mu             sync.Mutex
	state          State
	candidate      State
	candidateSince time.Time
}

func NewMonitor(probe ProbeFunc, bus domain.EventPublisher, interval, stable time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if stable < 0 {
		stable = 0
	}
	return &Monitor{
		probe:    probe,
		bus:      bus,
		interval: interval,
		stable:   stable,
		logger:   logger,
		state:    StateUnknown,
	}
}

// State returns the last published classification.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online is shorthand for State() == StateOnline.
func (m *Monitor) Online() bool {
	return m.State() == StateOnline
}

// Start polls until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Dur("stable", m.stable).Msg("connectivity monitor started")
	defer m.logger.Info().Msg("connectivity monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	observed := StateOffline
	if m.probe(ctx) {
		observed = StateOnline
	}
	m.observe(observed, time.Now(), false)
}

// SetOnline and SetOffline bypass the probe and the debounce window.
// Platform reachability callbacks are authoritative; the poller only
// fills the gaps between them.
func (m *Monitor) SetOnline()  { m.observe(StateOnline, time.Now(), true) }
func (m *Monitor) SetOffline() { m.observe(StateOffline, time.Now(), true) }

func (m *Monitor) observe(observed State, now time.Time, immediate bool) {
	m.mu.Lock()

	if observed == m.state {
		m.candidate = ""
		m.mu.Unlock()
		return
	}

	if !immediate && m.stable > 0 {
		if observed != m.candidate {
			m.candidate = observed
			m.candidateSince = now
			m.mu.Unlock()
			return
		}
		if now.Sub(m.candidateSince) < m.stable {
			m.mu.Unlock()
			return
		}
	}

	from := m.state
	m.state = observed
	m.candidate = ""
	m.mu.Unlock()

	m.logger.Info().Str("from", string(from)).Str("to", string(observed)).Msg("connectivity transition")
	_ = m.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityPayload{
		From: string(from),
		To:   string(observed),
		At:   now,
	})
}
