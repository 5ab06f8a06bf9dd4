package main

import (
	"Go2NetSentinel/internal/api"
	_ "Go2NetSentinel/internal/capture/live" // Registers the live capture source
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/health"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/pipeline"
	"Go2NetSentinel/internal/query"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML or TOML configuration file.")
	iface := flag.String("iface", "", "Capture from this interface (overrides capture.source).")
	pcapFile := flag.String("pcap", "", "Replay this capture file (overrides capture.source).")
	flag.Parse()

	log.Println("Starting ns-sentinel...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	switch {
	case *pcapFile != "":
		cfg.Capture.Source = "pcap"
		cfg.Capture.PcapFile = *pcapFile
	case *iface != "":
		cfg.Capture.Source = "live"
		cfg.Capture.Interface = *iface
	}
	log.Printf("Configuration loaded successfully (capture source: %s).", cfg.Capture.Source)

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Pipeline
	driver, err := pipeline.Build(ctx, cfg, m)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	// 4. Health and HTTP API
	if cfg.Health.Enabled {
		hs := health.NewServer()
		driver.OnStateChange(func(s pipeline.State) {
			hs.SetServing(s == pipeline.StateRunning)
		})
		if err := hs.ListenAndServe(cfg.Health.ListenAddr); err != nil {
			log.Fatalf("Failed to listen on %s: %v", cfg.Health.ListenAddr, err)
		}
		defer hs.Stop()
	}
	if cfg.API.Enabled {
		handler := &api.Handler{
			Status:   driver,
			Flows:    driver.Tracker(),
			Detector: driver.Engine(),
			Gatherer: reg,
		}
		if clickHouseAlertsEnabled(cfg) {
			querier, err := query.NewClickHouseQuerier(cfg.ClickHouse)
			if err != nil {
				log.Printf("Warning: alert summaries disabled: %v", err)
			} else {
				handler.Querier = querier
			}
		}
		server := api.NewServer(cfg.API.ListenAddr, handler)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: API server forced to shutdown: %v", err)
			}
		}()
	}

	// 5. Run until a signal arrives or the source is exhausted
	if err := driver.Run(ctx); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	if path := cfg.Detection.Anomaly.ModelPath; path != "" && driver.Engine().Scorer().Trained() {
		if err := driver.Engine().SaveModel(path); err != nil {
			log.Printf("Warning: failed to save anomaly model: %v", err)
		} else {
			log.Printf("Anomaly model saved to %s", path)
		}
	}

	stats := driver.Stats()
	log.Printf("Shutdown complete: %d packets processed, %d skipped, %d threats, %d dropped.",
		stats.PacketsProcessed, stats.PacketsSkipped, stats.Threats, stats.QueueDropped)
}

func clickHouseAlertsEnabled(cfg *config.Config) bool {
	for _, def := range cfg.Alert.Dispatchers {
		if def.Enabled && def.Type == "clickhouse" {
			return true
		}
	}
	return false
}
