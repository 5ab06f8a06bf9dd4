package alerter

import (
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
)

type alertJob struct {
	threat model.ThreatEvent
	pctx   model.PacketContext
}

// Async delivers alerts on its own goroutine so slow sinks do not throttle
// detection. Alerts arriving while the buffer is full are dropped and counted.
type Async struct {
	next     model.Dispatcher
	jobs     chan alertJob
	wg       sync.WaitGroup
	closed   atomic.Bool
	mu       sync.RWMutex
	dropped  atomic.Uint64
	metrics  *metrics.Metrics
	stopOnce sync.Once
}

// NewAsync wraps next with a buffer of the given capacity.
func NewAsync(next model.Dispatcher, capacity int, m *metrics.Metrics) *Async {
	if capacity <= 0 {
		capacity = 1
	}
	if m == nil {
		m = metrics.New()
	}
	a := &Async{
		next:    next,
		jobs:    make(chan alertJob, capacity),
		metrics: m,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for job := range a.jobs {
		if err := a.next.GenerateAlert(context.Background(), job.threat, job.pctx); err != nil {
			log.Printf("ERROR: async alert delivery failed for rule '%s': %v", job.threat.RuleID, err)
		}
	}
}

// GenerateAlert enqueues the alert and returns immediately.
func (a *Async) GenerateAlert(_ context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return nil
	}
	select {
	case a.jobs <- alertJob{threat: t, pctx: pc}:
	default:
		a.dropped.Add(1)
		a.metrics.AlertsDropped.Inc()
	}
	return nil
}

// Dropped returns the number of alerts discarded because the buffer was full.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close delivers the buffered alerts, then closes the wrapped dispatcher.
func (a *Async) Close() error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		close(a.jobs)
		a.mu.Unlock()
		a.wg.Wait()
		if c, ok := a.next.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
