package snapshot

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/storage"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseWriter inserts every flow of a snapshot into flow_snapshots.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := storage.ConnectWithSchema(cfg, storage.CreateFlowTable)
	if err != nil {
		return nil, err
	}
	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts the snapshot as one batch.
func (w *ClickHouseWriter) Write(snapshot model.FlowSnapshot, timestamp string) error {
	rows := flowRows(snapshot, timestamp)
	if len(rows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO flow_snapshots")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r...); err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d flows to ClickHouse", len(rows))
	return nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

// flowRows flattens the snapshot into flow_snapshots column order. The row
// timestamp is parsed from the directory-style timestamp, falling back to
// the snapshot time.
func flowRows(snapshot model.FlowSnapshot, timestamp string) [][]any {
	ts, err := time.ParseInLocation(TimestampLayout, timestamp, time.Local)
	if err != nil {
		ts = snapshot.TakenAt
	}

	var rows [][]any
	for _, shard := range snapshot.Shards {
		for _, f := range shard {
			rows = append(rows, []any{
				ts,
				f.Key.SrcIP.String(),
				f.Key.DstIP.String(),
				f.Key.SrcPort,
				f.Key.DstPort,
				f.Stats.FirstSeen,
				f.Stats.LastSeen,
				f.Stats.ByteCount,
				f.Stats.PacketCount,
			})
		}
	}
	return rows
}
