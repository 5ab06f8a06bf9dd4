// Package storage holds the ClickHouse connection and schema shared by the
// flow snapshot writer, the threat event sink and the alert query API.
package storage

import (
	"Go2NetSentinel/internal/config"
	"context"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// CreateFlowTable creates the flow snapshot table.
const CreateFlowTable = `
CREATE TABLE IF NOT EXISTS flow_snapshots (
    Timestamp   DateTime,
    SrcIP       String,
    DstIP       String,
    SrcPort     UInt16,
    DstPort     UInt16,
    FirstSeen   DateTime64(6),
    LastSeen    DateTime64(6),
    ByteCount   UInt64,
    PacketCount UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, SrcIP, DstIP);
`

// CreateThreatTable creates the threat event table.
const CreateThreatTable = `
CREATE TABLE IF NOT EXISTS threat_events (
    ID          String,
    DetectedAt  DateTime64(6),
    Kind        LowCardinality(String),
    RuleID      LowCardinality(String),
    Severity    LowCardinality(String),
    Description String,
    Confidence  Float64,
    Score       Float64,
    SrcIP       String,
    DstIP       String,
    SrcPort     UInt16,
    DstPort     UInt16,
    PacketSize  UInt32,
    PacketRate  Float64,
    ByteRate    Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(DetectedAt)
ORDER BY (DetectedAt, RuleID);
`

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// ConnectWithSchema connects and ensures the given tables exist.
func ConnectWithSchema(cfg config.ClickHouseConfig, ddl ...string) (driver.Conn, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	for _, stmt := range ddl {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")
	return conn, nil
}
