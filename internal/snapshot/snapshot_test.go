package snapshot

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleSnapshot() model.FlowSnapshot {
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	flow := model.Flow{
		Key: model.FlowKey{
			SrcIP:   netip.MustParseAddr("192.168.1.10"),
			DstIP:   netip.MustParseAddr("10.0.0.1"),
			SrcPort: 40000,
			DstPort: 443,
		},
		Stats: model.FlowStats{PacketCount: 3, ByteCount: 300, FirstSeen: first, LastSeen: first.Add(2 * time.Second)},
	}
	return model.FlowSnapshot{
		TakenAt: first.Add(time.Minute),
		Shards:  [][]model.Flow{{flow}, nil},
	}
}

func TestGobWriter_Write(t *testing.T) {
	tmpDir := t.TempDir()
	w := NewGobWriter(tmpDir, time.Minute)
	if w.GetInterval() != time.Minute {
		t.Fatalf("GetInterval = %s", w.GetInterval())
	}

	snap := sampleSnapshot()
	if err := w.Write(snap, "2024-05-01_12-01-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	flowDir := filepath.Join(tmpDir, "2024-05-01_12-01-00", "flows")
	if _, err := os.Stat(filepath.Join(flowDir, "shard_1.dat")); !os.IsNotExist(err) {
		t.Fatalf("shard_1.dat (empty) should not have been created")
	}

	flows, err := ReadShard(filepath.Join(flowDir, "shard_0.dat"))
	if err != nil {
		t.Fatalf("ReadShard: %v", err)
	}
	if len(flows) != 1 {
		t.Fatalf("Expected 1 flow, got %d", len(flows))
	}
	got := flows[0]
	want := snap.Shards[0][0]
	if got.Key != want.Key || got.Stats.PacketCount != 3 || !got.Stats.LastSeen.Equal(want.Stats.LastSeen) {
		t.Errorf("Decoded flow does not match. Got: %+v", got)
	}

	summaryBytes, err := os.ReadFile(filepath.Join(flowDir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary.json: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(summaryBytes, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary.json: %v", err)
	}
	if summary.TotalFlows != 1 || summary.TotalPackets != 3 || summary.TotalBytes != 300 || summary.Shards != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestGobWriter_EmptySnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	w := NewGobWriter(tmpDir, time.Minute)
	if err := w.Write(model.FlowSnapshot{Shards: make([][]model.Flow, 4)}, "ts"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("Expected nothing written for an empty table, found %d entries", len(entries))
	}
}

func TestFlowRows(t *testing.T) {
	snap := sampleSnapshot()
	rows := flowRows(snap, "not-a-timestamp")
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if len(rows[0]) != 9 {
		t.Fatalf("Expected 9 columns, got %d", len(rows[0]))
	}
	if ts := rows[0][0].(time.Time); !ts.Equal(snap.TakenAt) {
		t.Errorf("Expected fallback to TakenAt, got %s", ts)
	}
	if rows[0][1] != "192.168.1.10" || rows[0][4] != uint16(443) {
		t.Errorf("Unexpected row: %v", rows[0])
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Snapshot.Writers = []config.SnapshotWriterDef{
		{Type: "gob", Enabled: true, SnapshotInterval: "30s", RootPath: t.TempDir()},
		{Type: "clickhouse", Enabled: false, SnapshotInterval: "1m"},
	}
	writers, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if len(writers) != 1 || writers[0].GetInterval() != 30*time.Second {
		t.Fatalf("Unexpected writers: %v", writers)
	}

	cfg.Snapshot.Writers = []config.SnapshotWriterDef{{Type: "gob", Enabled: true, SnapshotInterval: "30s"}}
	if _, err := FromConfig(cfg); err == nil {
		t.Error("Expected error for gob writer without root_path")
	}
	cfg.Snapshot.Writers = []config.SnapshotWriterDef{{Type: "parquet", Enabled: true, SnapshotInterval: "30s"}}
	if _, err := FromConfig(cfg); err == nil {
		t.Error("Expected error for unknown writer type")
	}
	cfg.Snapshot.Writers = []config.SnapshotWriterDef{{Type: "gob", Enabled: true, SnapshotInterval: "soon", RootPath: "x"}}
	if _, err := FromConfig(cfg); err == nil {
		t.Error("Expected error for bad interval")
	}
}
