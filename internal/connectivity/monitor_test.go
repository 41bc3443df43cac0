package connectivity

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) PublishJSON(eventType string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	return nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func staticProbe(online bool) ProbeFunc {
	return func(ctx context.Context) bool { return online }
}

func TestMonitor_TransitionWithoutDebounce(t *testing.T) {
	bus := &recordingBus{}
	m := NewMonitor(staticProbe(true), bus, time.Second, 0, zerolog.Nop())

	assert.Equal(t, StateUnknown, m.State())

	m.poll(context.Background())
	assert.Equal(t, StateOnline, m.State())
	assert.True(t, m.Online())
	assert.Equal(t, 1, bus.count())

	// Same observation again does not re-publish
	m.poll(context.Background())
	assert.Equal(t, 1, bus.count())
}

func TestMonitor_DebounceSuppressesFlapping(t *testing.T) {
	bus := &recordingBus{}
	m := NewMonitor(staticProbe(false), bus, time.Second, 10*time.Second, zerolog.Nop())
	m.state = StateOnline

	base := time.Now()

	// Первое наблюдение только выдвигает кандидата
	m.observe(StateOffline, base, false)
	assert.Equal(t, StateOnline, m.State())

	// Within the stability window: still online
	m.observe(StateOffline, base.Add(5*time.Second), false)
	assert.Equal(t, StateOnline, m.State())

	// A flap back online clears the candidate
	m.observe(StateOnline, base.Add(6*time.Second), false)
	m.observe(StateOffline, base.Add(7*time.Second), false)
	m.observe(StateOffline, base.Add(12*time.Second), false)
	assert.Equal(t, StateOnline, m.State())

	// Held long enough: the transition is published
	m.observe(StateOffline, base.Add(17*time.Second), false)
	assert.Equal(t, StateOffline, m.State())
	assert.Equal(t, 1, bus.count())
}

func TestMonitor_ManualOverrideBypassesDebounce(t *testing.T) {
	bus := &recordingBus{}
	m := NewMonitor(staticProbe(false), bus, time.Second, time.Hour, zerolog.Nop())

	m.SetOnline()
	assert.Equal(t, StateOnline, m.State())

	m.SetOffline()
	assert.Equal(t, StateOffline, m.State())
	assert.Equal(t, 2, bus.count())
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	probe := DialProbe(ln.Addr().String(), time.Second)
	assert.True(t, probe(context.Background()))

	addr := ln.Addr().String()
	ln.Close()
	probe = DialProbe(addr, 200*time.Millisecond)
	assert.False(t, probe(context.Background()))
}

func TestProbeAddrFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.example.com", "api.example.com:443"},
		{"http://api.example.com", "api.example.com:80"},
		{"https://api.example.com:8443/v1", "api.example.com:8443"},
	}
	for _, tt := range tests {
		got, err := ProbeAddrFromURL(tt.url)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
