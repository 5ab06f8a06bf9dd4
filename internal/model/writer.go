package model

import "time"

// FlowSnapshot is a point-in-time copy of the flow table.
type FlowSnapshot struct {
	TakenAt time.Time
	Shards  [][]Flow
}

// Writer defines a generic interface for writing flow snapshots to a persistent store.
type Writer interface {
	// Write takes a snapshot and persists it.
	Write(snapshot FlowSnapshot, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}
