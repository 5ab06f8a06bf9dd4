// Package pipeline drives packets from a capture source through flow
// tracking and detection to the alert dispatchers.
package pipeline

import (
	"Go2NetSentinel/internal/capture"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detection"
	"Go2NetSentinel/internal/engine/flowtracker"
	"Go2NetSentinel/internal/errors"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/snapshot"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a Driver.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes the driver loops.
type Options struct {
	PollInterval  time.Duration
	DrainGrace    time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// OptionsFromConfig reads the driver options from a validated config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:  config.MustDuration(cfg.Queue.PollInterval),
		DrainGrace:    config.MustDuration(cfg.Queue.DrainGrace),
		IdleTimeout:   config.MustDuration(cfg.Flow.IdleTimeout),
		SweepInterval: config.MustDuration(cfg.Flow.SweepInterval),
	}
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 2 * time.Second
	}
}

// Stats is a point-in-time view of the driver counters.
type Stats struct {
	State            string `json:"state"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsSkipped   uint64 `json:"packets_skipped"`
	Threats          uint64 `json:"threats"`
	DetectionErrors  uint64 `json:"detection_errors"`
	QueueLen         int    `json:"queue_len"`
	QueueCap         int    `json:"queue_cap"`
	QueueDropped     uint64 `json:"queue_dropped"`
	QueueDiscarded   uint64 `json:"queue_discarded"`
	ActiveFlows      int    `json:"active_flows"`
	FlowsEvicted     uint64 `json:"flows_evicted"`
	AnomalyTrained   bool   `json:"anomaly_trained"`
}

// Driver is the single consumer of the capture queue.
type Driver struct {
	source     capture.Source
	queue      *capture.Queue
	tracker    *flowtracker.Tracker
	engine     *detection.Engine
	dispatcher model.Dispatcher
	writers    []model.Writer
	closers    []io.Closer
	metrics    *metrics.Metrics
	opts       Options

	state     atomic.Int32
	listeners []func(State)

	processed  atomic.Uint64
	skipped    atomic.Uint64
	threats    atomic.Uint64
	detectErrs atomic.Uint64
	discarded  atomic.Uint64

	// Packet time of the newest packet and the wall time it was processed.
	lastPacketTime atomic.Int64
	lastPacketWall atomic.Int64

	lastEvicted uint64
	lastErrLog  time.Time

	done     chan struct{}
	loopsWg  sync.WaitGroup
	stopOnce sync.Once
}

// NewDriver wires the pipeline stages together.
func NewDriver(source capture.Source, queue *capture.Queue, tracker *flowtracker.Tracker,
	engine *detection.Engine, dispatcher model.Dispatcher, opts Options, m *metrics.Metrics) *Driver {
	if m == nil {
		m = metrics.New()
	}
	opts.applyDefaults()
	return &Driver{
		source:     source,
		queue:      queue,
		tracker:    tracker,
		engine:     engine,
		dispatcher: dispatcher,
		metrics:    m,
		opts:       opts,
		done:       make(chan struct{}),
	}
}

// AddWriter registers a flow snapshot writer. It must be called before Run.
func (d *Driver) AddWriter(w model.Writer) {
	d.writers = append(d.writers, w)
}

// Tracker returns the flow table.
func (d *Driver) Tracker() *flowtracker.Tracker {
	return d.tracker
}

// Engine returns the detection engine.
func (d *Driver) Engine() *detection.Engine {
	return d.engine
}

// OnStateChange registers fn to be called on every transition. It must be
// called before Run.
func (d *Driver) OnStateChange(fn func(State)) {
	d.listeners = append(d.listeners, fn)
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	log.Printf("Pipeline %s.", s)
	for _, fn := range d.listeners {
		fn(s)
	}
}

// Stats returns the current counters.
func (d *Driver) Stats() Stats {
	return Stats{
		State:            d.State().String(),
		PacketsProcessed: d.processed.Load(),
		PacketsSkipped:   d.skipped.Load(),
		Threats:          d.threats.Load(),
		DetectionErrors:  d.detectErrs.Load(),
		QueueLen:         d.queue.Len(),
		QueueCap:         d.queue.Cap(),
		QueueDropped:     d.queue.Dropped(),
		QueueDiscarded:   d.discarded.Load(),
		ActiveFlows:      d.tracker.Len(),
		FlowsEvicted:     d.tracker.Evicted(),
		AnomalyTrained:   d.engine.Scorer().Trained(),
	}
}

// Run starts the source and consumes the queue until ctx is cancelled or the
// source is exhausted, then drains and stops. It returns once Stopped.
func (d *Driver) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("pipeline already started (state %s)", d.State())
	}

	d.queue.OnDrop(d.metrics.QueueDropped.Inc)
	if err := d.source.Start(ctx, d.queue); err != nil {
		d.stopLoops()
		d.setState(StateStopped)
		return fmt.Errorf("failed to start capture source: %w", err)
	}
	d.setState(StateRunning)
	d.startLoops()

	sourceDone := d.source.Done()
	for {
		select {
		case <-ctx.Done():
			d.shutdown(ctx, false)
			return nil
		case <-sourceDone:
			if ctx.Err() == nil {
				log.Println("Capture source exhausted, draining queue.")
			}
			d.shutdown(ctx, ctx.Err() == nil)
			return nil
		default:
		}

		pkt, ok := d.queue.Poll(d.opts.PollInterval)
		if !ok {
			continue
		}
		d.process(ctx, pkt)
	}
}

// process runs one packet through the tracker, the engine and the dispatcher.
func (d *Driver) process(ctx context.Context, pkt *model.PacketInfo) {
	d.processed.Add(1)
	d.metrics.PacketsProcessed.Inc()
	if !pkt.Timestamp.IsZero() {
		d.lastPacketTime.Store(pkt.Timestamp.UnixNano())
		d.lastPacketWall.Store(time.Now().UnixNano())
	}

	fv, ok := d.tracker.Analyze(pkt)
	if !ok {
		d.skipped.Add(1)
		d.metrics.PacketsSkipped.Inc()
		return
	}

	threats, err := d.engine.Detect(fv)
	if err != nil {
		kind := errors.GetKind(err)
		d.detectErrs.Add(1)
		d.metrics.DetectionErrors.WithLabelValues(kind.String()).Inc()
		d.logDetectionError(kind, err)
	}
	if len(threats) == 0 {
		return
	}

	d.threats.Add(uint64(len(threats)))
	pc := pkt.Context()
	for _, t := range threats {
		if err := d.dispatcher.GenerateAlert(ctx, t, pc); err != nil {
			log.Printf("ERROR: failed to dispatch alert for rule '%s': %v", t.RuleID, err)
		}
	}
}

// logDetectionError logs at most once per second; every error is counted.
func (d *Driver) logDetectionError(kind errors.Kind, err error) {
	now := time.Now()
	if now.Sub(d.lastErrLog) < time.Second {
		return
	}
	d.lastErrLog = now
	log.Printf("ERROR: detection failed (%s): %v", kind, err)
}

// shutdown moves through Draining to Stopped. A cancelled run drains for at
// most the grace period; an exhausted source is drained completely.
func (d *Driver) shutdown(ctx context.Context, exhausted bool) {
	d.setState(StateDraining)
	d.source.Stop()
	d.queue.Close()

	dctx := context.WithoutCancel(ctx)
	deadline := time.Now().Add(d.opts.DrainGrace)
	for exhausted || time.Now().Before(deadline) {
		pkt, ok := d.queue.TryPoll()
		if !ok {
			break
		}
		d.process(dctx, pkt)
	}

	var discarded uint64
	for {
		if _, ok := d.queue.TryPoll(); !ok {
			break
		}
		discarded++
	}
	if discarded > 0 {
		d.discarded.Add(discarded)
		d.metrics.QueueDiscarded.Add(float64(discarded))
		log.Printf("Warning: discarded %d queued packets at shutdown", discarded)
	}

	d.stopLoops()
	d.setState(StateStopped)
}

func (d *Driver) startLoops() {
	if d.opts.SweepInterval > 0 && d.opts.IdleTimeout > 0 {
		d.loopsWg.Add(1)
		go d.runSweeper()
	}
	for _, w := range d.writers {
		d.loopsWg.Add(1)
		go d.runSnapshotter(w)
		log.Printf("Started snapshotter for a writer with interval %s.", w.GetInterval())
	}
}

func (d *Driver) stopLoops() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.loopsWg.Wait()
		for _, w := range d.writers {
			if c, ok := w.(io.Closer); ok {
				if err := c.Close(); err != nil {
					log.Printf("Warning: failed to close snapshot writer: %v", err)
				}
			}
		}
		for _, c := range d.closers {
			if err := c.Close(); err != nil {
				log.Printf("Warning: failed to close alert dispatcher: %v", err)
			}
		}
	})
}

// runSweeper evicts idle flows and refreshes the flow gauges.
func (d *Driver) runSweeper() {
	defer d.loopsWg.Done()
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case wall := <-ticker.C:
			if n := d.tracker.SweepIdle(d.packetClock(wall), d.opts.IdleTimeout); n > 0 {
				log.Printf("Swept %d idle flows.", n)
			}
			d.refreshFlowMetrics()
		case <-d.done:
			return
		}
	}
}

// packetClock maps wall time into packet time, so flows replayed from an old
// capture file age at the rate the replay advances.
func (d *Driver) packetClock(wall time.Time) time.Time {
	lastWall := d.lastPacketWall.Load()
	if lastWall == 0 {
		return wall
	}
	return time.Unix(0, d.lastPacketTime.Load()).Add(wall.Sub(time.Unix(0, lastWall)))
}

func (d *Driver) refreshFlowMetrics() {
	d.metrics.ActiveFlows.Set(float64(d.tracker.Len()))
	evicted := d.tracker.Evicted()
	if evicted > d.lastEvicted {
		d.metrics.FlowsEvicted.Add(float64(evicted - d.lastEvicted))
		d.lastEvicted = evicted
	}
}

// runSnapshotter runs a dedicated snapshot loop for a single writer and takes
// a final snapshot on shutdown.
func (d *Driver) runSnapshotter(writer model.Writer) {
	defer d.loopsWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.takeSnapshot(writer)
		case <-d.done:
			d.takeSnapshot(writer)
			return
		}
	}
}

func (d *Driver) takeSnapshot(writer model.Writer) {
	snap := d.tracker.Snapshot()
	timestamp := snap.TakenAt.Format(snapshot.TimestampLayout)
	if err := writer.Write(snap, timestamp); err != nil {
		d.metrics.SnapshotErrors.WithLabelValues(fmt.Sprintf("%T", writer)).Inc()
		log.Printf("ERROR: writing snapshot at %s: %v", timestamp, err)
	}
}
