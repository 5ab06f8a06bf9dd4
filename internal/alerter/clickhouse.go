package alerter

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/storage"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 5 * time.Second
)

type threatRecord struct {
	threat model.ThreatEvent
	pctx   model.PacketContext
}

// ClickHouseDispatcher buffers alerts and inserts them into threat_events in
// batches, on a size bound or a flush interval, whichever comes first.
type ClickHouseDispatcher struct {
	mu        sync.Mutex
	buf       []threatRecord
	batchSize int
	flush     func(ctx context.Context, records []threatRecord) error

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewClickHouseDispatcher connects to ClickHouse and ensures the table exists.
func NewClickHouseDispatcher(cfg config.ClickHouseConfig) (*ClickHouseDispatcher, error) {
	conn, err := storage.ConnectWithSchema(cfg, storage.CreateThreatTable)
	if err != nil {
		return nil, err
	}
	return newClickHouseDispatcher(func(ctx context.Context, records []threatRecord) error {
		return insertThreats(ctx, conn, records)
	}, defaultBatchSize, defaultFlushInterval), nil
}

func newClickHouseDispatcher(flush func(context.Context, []threatRecord) error, batchSize int, interval time.Duration) *ClickHouseDispatcher {
	d := &ClickHouseDispatcher{
		batchSize: batchSize,
		flush:     flush,
		stopChan:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run(interval)
	return d
}

func (d *ClickHouseDispatcher) run(interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.flushPending(context.Background())
		case <-d.stopChan:
			d.flushPending(context.Background())
			return
		}
	}
}

func (d *ClickHouseDispatcher) GenerateAlert(ctx context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	d.mu.Lock()
	d.buf = append(d.buf, threatRecord{threat: t, pctx: pc})
	full := len(d.buf) >= d.batchSize
	d.mu.Unlock()

	if full {
		return d.flushPending(ctx)
	}
	return nil
}

func (d *ClickHouseDispatcher) flushPending(ctx context.Context) error {
	d.mu.Lock()
	records := d.buf
	d.buf = nil
	d.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := d.flush(ctx, records); err != nil {
		log.Printf("ERROR: failed to write %d threat events to ClickHouse: %v", len(records), err)
		return err
	}
	return nil
}

// Close flushes buffered alerts and stops the flush loop.
func (d *ClickHouseDispatcher) Close() error {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.wg.Wait()
	})
	return nil
}

func insertThreats(ctx context.Context, conn driver.Conn, records []threatRecord) error {
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO threat_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range records {
		t := r.threat
		err = batch.Append(
			t.ID,
			t.DetectedAt,
			string(t.Kind),
			t.RuleID,
			string(t.Severity),
			t.Description,
			t.Confidence,
			t.Score,
			r.pctx.SourceIP,
			r.pctx.DestinationIP,
			r.pctx.SourcePort,
			r.pctx.DestinationPort,
			uint32(t.Features.PacketSize),
			t.Features.PacketRate,
			t.Features.ByteRate,
		)
		if err != nil {
			return fmt.Errorf("failed to append threat to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}
