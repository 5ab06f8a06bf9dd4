// Package snapshot persists point-in-time copies of the flow table.
package snapshot

import (
	"Go2NetSentinel/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout names snapshot directories and is parsed back by the
// ClickHouse writer.
const TimestampLayout = "2006-01-02_15-04-05"

func init() {
	gob.Register(model.Flow{})
}

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TotalFlows   int    `json:"total_flows"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	Shards       int    `json:"shards"`
	TakenAt      string `json:"taken_at"`
	Timestamp    string `json:"timestamp"`
}

// GobWriter writes each non-empty shard of a snapshot to its own gob file
// under rootPath/<timestamp>/flows, plus a summary.json.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a writer rooted at rootPath.
func NewGobWriter(rootPath string, interval time.Duration) *GobWriter {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes the snapshot to disk. Nothing is written for an empty table.
func (w *GobWriter) Write(snapshot model.FlowSnapshot, timestamp string) error {
	flowDir := filepath.Join(w.rootPath, timestamp, "flows")

	var summary SummaryData
	for i, shard := range snapshot.Shards {
		if len(shard) == 0 {
			continue
		}
		if summary.TotalFlows == 0 {
			if err := os.MkdirAll(flowDir, 0755); err != nil {
				return fmt.Errorf("failed to create snapshot directory: %w", err)
			}
		}
		summary.TotalFlows += len(shard)
		for _, flow := range shard {
			summary.TotalPackets += flow.Stats.PacketCount
			summary.TotalBytes += flow.Stats.ByteCount
		}

		filePath := filepath.Join(flowDir, fmt.Sprintf("shard_%d.dat", i))
		if err := writeGob(filePath, shard); err != nil {
			return err
		}
	}
	if summary.TotalFlows == 0 {
		return nil
	}

	summary.Shards = len(snapshot.Shards)
	summary.TakenAt = snapshot.TakenAt.UTC().Format(time.RFC3339Nano)
	summary.Timestamp = timestamp
	summaryFile, err := os.Create(filepath.Join(flowDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	enc := json.NewEncoder(summaryFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func writeGob(path string, flows []model.Flow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(flows); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadShard decodes one shard file written by GobWriter.
func ReadShard(path string) ([]model.Flow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var flows []model.Flow
	if err := gob.NewDecoder(file).Decode(&flows); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot file '%s': %w", path, err)
	}
	return flows, nil
}
