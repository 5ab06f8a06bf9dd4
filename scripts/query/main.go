package main

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/query"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

func main() {
	// Define command-line flags
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the ns-sentinel API (api mode).")
	configPath := flag.String("config", "configs/config.yaml", "Configuration file holding the ClickHouse settings (direct mode).")
	rule := flag.String("rule", "", "Only count this rule (optional).")
	severity := flag.String("severity", "", "Only count this severity (optional).")
	since := flag.Duration("since", 24*time.Hour, "Look back this far.")
	flag.Parse()

	req := query.SummaryRequest{
		Since:    time.Now().UTC().Add(-*since).Truncate(time.Second),
		RuleID:   *rule,
		Severity: *severity,
	}
	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiAddr, req)
	case "direct":
		directQueryClickHouse(*configPath, req)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

// --- API Query Logic ---
func queryViaAPI(base string, req query.SummaryRequest) {
	params := url.Values{}
	params.Set("since", req.Since.Format(time.RFC3339))
	if req.RuleID != "" {
		params.Set("rule", req.RuleID)
	}
	if req.Severity != "" {
		params.Set("severity", req.Severity)
	}
	apiURL := base + "/api/v1/alerts/summary?" + params.Encode()
	log.Printf("Sending request to %s", apiURL)

	resp, err := http.Get(apiURL)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	log.Println("---")
	fmt.Println(prettyJSON.String())
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse(configPath string, req query.SummaryRequest) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	querier, err := query.NewClickHouseQuerier(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	summaries, err := querier.Summary(ctx, req)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}

	log.Println("--- Threat Summary (Direct) ---")
	if len(summaries) == 0 {
		log.Println("No threats found for the specified criteria.")
		return
	}
	for _, s := range summaries {
		fmt.Printf("Rule: %s (%s, %s)\n", s.RuleID, s.Kind, s.Severity)
		fmt.Printf("  Events: %d\n", s.Count)
		fmt.Printf("  DistinctSources: %d\n", s.Sources)
		fmt.Printf("  FirstSeen: %s\n", s.FirstSeen.Format(time.RFC3339))
		fmt.Printf("  LastSeen: %s\n", s.LastSeen.Format(time.RFC3339))
		fmt.Println("---------------------")
	}
}
