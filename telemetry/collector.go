package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ListenerCounter reports how many listeners are installed across local shards
type ListenerCounter interface {
	ListenerCount(ctx context.Context) (int, error)
}

// SessionCounter reports in-flight sampling sessions
type SessionCounter interface {
	Len() int
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	listeners ListenerCounter
	sessions  SessionCounter
	clock     clockwork.Clock
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(listeners ListenerCounter, sessions SessionCounter, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		listeners: listeners,
		sessions:  sessions,
		clock:     clockwork.NewRealClock(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// WithClock swaps the ticker source, used by tests
func (mc *MetricsCollector) WithClock(clock clockwork.Clock) *MetricsCollector {
	mc.clock = clock
	return mc
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := mc.clock.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.Chan():
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.sessions != nil {
		SessionsActive.Set(float64(mc.sessions.Len()))
	}
	if mc.listeners == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.interval)
	defer cancel()

	n, err := mc.listeners.ListenerCount(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to collect listener count")
		return
	}
	ListenersInstalled.Set(float64(n))
}
