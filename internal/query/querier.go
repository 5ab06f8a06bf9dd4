// Package query reads stored threat events back out of ClickHouse.
package query

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/storage"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// SummaryRequest filters a threat summary. Zero values mean no filter.
type SummaryRequest struct {
	Since    time.Time `json:"since,omitempty"`
	Until    time.Time `json:"until,omitempty"`
	RuleID   string    `json:"rule_id,omitempty"`
	Severity string    `json:"severity,omitempty"`
}

// RuleSummary aggregates the stored events of one rule and severity.
type RuleSummary struct {
	RuleID    string    `json:"rule_id"`
	Kind      string    `json:"kind"`
	Severity  string    `json:"severity"`
	Count     uint64    `json:"count"`
	Sources   uint64    `json:"distinct_sources"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// StoredThreat is one row of threat_events.
type StoredThreat struct {
	ID          string    `json:"id"`
	DetectedAt  time.Time `json:"detected_at"`
	Kind        string    `json:"kind"`
	RuleID      string    `json:"rule_id"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	SrcPort     uint16    `json:"src_port"`
	DstPort     uint16    `json:"dst_port"`
}

// Querier defines the interface for querying stored threats.
type Querier interface {
	Summary(ctx context.Context, req SummaryRequest) ([]RuleSummary, error)
	Recent(ctx context.Context, req SummaryRequest, limit int) ([]StoredThreat, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := storage.ConnectWithSchema(cfg, storage.CreateThreatTable)
	if err != nil {
		return nil, err
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// whereClause renders the request filters; columns are fixed, values are bound.
func whereClause(req SummaryRequest) (string, []any) {
	var clauses []string
	var args []any

	if !req.Since.IsZero() {
		clauses = append(clauses, "DetectedAt >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		clauses = append(clauses, "DetectedAt <= ?")
		args = append(args, req.Until)
	}
	if req.RuleID != "" {
		clauses = append(clauses, "RuleID = ?")
		args = append(args, req.RuleID)
	}
	if req.Severity != "" {
		clauses = append(clauses, "Severity = ?")
		args = append(args, req.Severity)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildSummaryQuery(req SummaryRequest) (string, []any) {
	where, args := whereClause(req)
	var qb strings.Builder
	qb.WriteString(`
		SELECT
			RuleID,
			any(Kind) AS Kind,
			Severity,
			count() AS Events,
			uniqExact(SrcIP) AS Sources,
			min(DetectedAt) AS FirstSeen,
			max(DetectedAt) AS LastSeen
		FROM threat_events`)
	qb.WriteString(where)
	qb.WriteString(`
		GROUP BY RuleID, Severity
		ORDER BY Events DESC, RuleID`)
	return qb.String(), args
}

func buildRecentQuery(req SummaryRequest, limit int) (string, []any) {
	where, args := whereClause(req)
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ID, DetectedAt, Kind, RuleID, Severity, Description, Confidence, SrcIP, DstIP, SrcPort, DstPort
		FROM threat_events` + where + `
		ORDER BY DetectedAt DESC
		LIMIT ?`
	return query, append(args, limit)
}

// Summary counts stored threats by rule and severity.
func (q *clickhouseQuerier) Summary(ctx context.Context, req SummaryRequest) ([]RuleSummary, error) {
	query, args := buildSummaryQuery(req)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []RuleSummary
	for rows.Next() {
		var s RuleSummary
		if err := rows.Scan(&s.RuleID, &s.Kind, &s.Severity, &s.Count, &s.Sources, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan summary result: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recent returns the latest stored threats, newest first.
func (q *clickhouseQuerier) Recent(ctx context.Context, req SummaryRequest, limit int) ([]StoredThreat, error) {
	query, args := buildRecentQuery(req, limit)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []StoredThreat
	for rows.Next() {
		var t StoredThreat
		if err := rows.Scan(&t.ID, &t.DetectedAt, &t.Kind, &t.RuleID, &t.Severity, &t.Description,
			&t.Confidence, &t.SrcIP, &t.DstIP, &t.SrcPort, &t.DstPort); err != nil {
			return nil, fmt.Errorf("failed to scan threat row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
