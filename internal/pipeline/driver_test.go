package pipeline

import (
	"Go2NetSentinel/internal/capture"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detection"
	"Go2NetSentinel/internal/detection/anomaly"
	"Go2NetSentinel/internal/detection/signature"
	"Go2NetSentinel/internal/engine/flowtracker"
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	packets  []*model.PacketInfo
	exhaust  bool
	startErr error
	done     chan struct{}
	stopOnce sync.Once
}

func newFakeSource(exhaust bool, packets ...*model.PacketInfo) *fakeSource {
	return &fakeSource{packets: packets, exhaust: exhaust, done: make(chan struct{})}
}

func (s *fakeSource) Start(ctx context.Context, q *capture.Queue) error {
	if s.startErr != nil {
		return s.startErr
	}
	go func() {
		for _, p := range s.packets {
			if err := q.Put(ctx, p); err != nil {
				return
			}
		}
		if s.exhaust {
			s.Stop()
		}
	}()
	return nil
}

func (s *fakeSource) Stop() { s.stopOnce.Do(func() { close(s.done) }) }

func (s *fakeSource) Done() <-chan struct{} { return s.done }

type recordingDispatcher struct {
	mu     sync.Mutex
	counts []uint64
	delay  time.Duration
}

func (r *recordingDispatcher) GenerateAlert(_ context.Context, t model.ThreatEvent, _ model.PacketContext) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, t.Features.PacketCount)
	return nil
}

func (r *recordingDispatcher) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.counts...)
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []int
}

func (w *recordingWriter) Write(s model.FlowSnapshot, _ string) error {
	n := 0
	for _, shard := range s.Shards {
		n += len(shard)
	}
	w.mu.Lock()
	w.writes = append(w.writes, n)
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) GetInterval() time.Duration { return time.Hour }

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func tcpPacket(offset time.Duration, sport uint16) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: t0.Add(offset),
		SrcIP:     netip.MustParseAddr("192.168.1.1"),
		DstIP:     netip.MustParseAddr("192.168.1.2"),
		Protocol:  6,
		Length:    100,
		TCP:       &model.TCPHeader{SrcPort: sport, DstPort: 80, Flags: model.FlagACK, Window: 1024},
	}
}

// newTestDriver alerts on every analysed packet so the dispatcher observes
// each feature vector in processing order.
func newTestDriver(t *testing.T, src capture.Source, q *capture.Queue, disp model.Dispatcher, opts Options) *Driver {
	t.Helper()
	matcher, err := signature.NewMatcher(signature.Rule{
		ID:       "every_packet",
		Severity: model.SeverityInfo,
		When:     func(model.FeatureVector) bool { return true },
	})
	require.NoError(t, err)
	scorer := anomaly.NewScorer(func() anomaly.Model { return anomaly.NewZScore(anomaly.ZScoreOptions{}) })
	engine := detection.NewEngine(matcher, scorer, false, nil)
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return NewDriver(src, q, flowtracker.New(8, 0), engine, disp, opts, nil)
}

func runAsync(ctx context.Context, d *Driver) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	return errCh
}

func TestQueuedPacketsProcessedInArrivalOrder(t *testing.T) {
	q := capture.NewQueue(8, capture.PolicyDrop)
	// Consumer not yet running: three packets of one flow wait in the queue.
	for i := 0; i < 3; i++ {
		require.True(t, q.Offer(tcpPacket(time.Duration(i)*time.Second, 1234)))
	}

	disp := &recordingDispatcher{}
	d := newTestDriver(t, newFakeSource(false), q, disp, Options{})
	assert.Equal(t, StateIdle, d.State())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(ctx, d)
	require.Eventually(t, func() bool { return len(disp.seen()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, d.State())

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, d.State())
	assert.Equal(t, []uint64{1, 2, 3}, disp.seen())

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.PacketsProcessed)
	assert.Equal(t, 1, stats.ActiveFlows)
	assert.Equal(t, "stopped", stats.State)
}

func TestExhaustedSourceDrainsAndStops(t *testing.T) {
	nonTCP := &model.PacketInfo{
		Timestamp: t0,
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("10.0.0.2"),
		Protocol:  17,
		Length:    60,
	}
	src := newFakeSource(true,
		tcpPacket(0, 1000), tcpPacket(time.Second, 1000), nonTCP,
		tcpPacket(0, 2000), tcpPacket(2*time.Second, 1000))
	q := capture.NewQueue(2, capture.PolicyDrop)
	disp := &recordingDispatcher{}
	d := newTestDriver(t, src, q, disp, Options{})
	w := &recordingWriter{}
	d.AddWriter(w)

	var mu sync.Mutex
	var states []State
	d.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	select {
	case err := <-runAsync(context.Background(), d):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the source was exhausted")
	}

	stats := d.Stats()
	assert.Equal(t, uint64(5), stats.PacketsProcessed)
	assert.Equal(t, uint64(1), stats.PacketsSkipped)
	assert.Equal(t, uint64(4), stats.Threats)
	assert.Equal(t, uint64(0), stats.QueueDiscarded)
	assert.Equal(t, []uint64{1, 2, 1, 3}, disp.seen())

	mu.Lock()
	assert.Equal(t, []State{StateRunning, StateDraining, StateStopped}, states)
	mu.Unlock()

	w.mu.Lock()
	assert.Equal(t, []int{2}, w.writes, "final snapshot on shutdown")
	w.mu.Unlock()
}

func TestCancelledRunDiscardsAfterGrace(t *testing.T) {
	q := capture.NewQueue(32, capture.PolicyDrop)
	for i := 0; i < 20; i++ {
		require.True(t, q.Offer(tcpPacket(time.Duration(i)*time.Millisecond, uint16(3000+i))))
	}
	disp := &recordingDispatcher{delay: 30 * time.Millisecond}
	d := newTestDriver(t, newFakeSource(false), q, disp, Options{DrainGrace: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	stats := d.Stats()
	assert.Equal(t, StateStopped, d.State())
	assert.Equal(t, uint64(20), stats.PacketsProcessed+stats.QueueDiscarded)
	assert.Greater(t, stats.QueueDiscarded, uint64(0))
	assert.Equal(t, 0, q.Len())
}

func TestRunTwiceFails(t *testing.T) {
	d := newTestDriver(t, newFakeSource(true), capture.NewQueue(1, capture.PolicyDrop), &recordingDispatcher{}, Options{})
	require.NoError(t, d.Run(context.Background()))
	assert.Error(t, d.Run(context.Background()))
}

func TestSourceStartFailure(t *testing.T) {
	src := newFakeSource(false)
	src.startErr = fmt.Errorf("no such device")
	d := newTestDriver(t, src, capture.NewQueue(1, capture.PolicyDrop), &recordingDispatcher{}, Options{})
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	assert.Equal(t, StateStopped, d.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestBuildFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Source = "pcap"
	cfg.Capture.PcapFile = "testdata-does-not-exist.pcap"
	cfg.Snapshot.Writers = []config.SnapshotWriterDef{
		{Type: "gob", Enabled: true, SnapshotInterval: "1m", RootPath: t.TempDir()},
	}

	d, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, d.State())
	assert.Len(t, d.writers, 1)
	assert.Contains(t, d.Engine().Rules(), "syn_flood")

	// The capture file is only opened by Run.
	err = d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, d.State())

	cfg.Capture.PcapFile = ""
	_, err = Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestPacketClockFollowsReplayTime(t *testing.T) {
	d := newTestDriver(t, newFakeSource(false), capture.NewQueue(1, capture.PolicyDrop), &recordingDispatcher{}, Options{})
	wall := time.Now()
	assert.Equal(t, wall, d.packetClock(wall), "no packets yet: wall clock")

	d.process(context.Background(), tcpPacket(0, 1234))
	now := d.packetClock(time.Now().Add(time.Minute))
	assert.WithinDuration(t, t0.Add(time.Minute), now, time.Second)
}
