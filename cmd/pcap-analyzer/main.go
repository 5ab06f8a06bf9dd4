package main

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/pipeline"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	top := flag.Int("top", 10, "Number of busiest flows to print.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path] [-top n] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 1. Get pcap file path from command-line arguments
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Capture.Source = "pcap"
	cfg.Capture.PcapFile = flag.Arg(0)
	cfg.Queue.Policy = "block"
	log.Println("Configuration loaded successfully.")

	// 3. Build and run the pipeline until the file is exhausted
	driver, err := pipeline.Build(context.Background(), cfg, nil)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	log.Printf("Reading packets from '%s'...", cfg.Capture.PcapFile)
	if err := driver.Run(context.Background()); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	// 4. Report
	stats := driver.Stats()
	fmt.Printf("\nPackets: %d processed, %d skipped (no TCP/IP)\n", stats.PacketsProcessed, stats.PacketsSkipped)
	fmt.Printf("Threats: %d\n", stats.Threats)
	fmt.Printf("Flows:   %d\n\n", stats.ActiveFlows)
	fmt.Printf("%-48s %10s %12s %10s\n", "FLOW", "PACKETS", "BYTES", "SECONDS")
	for _, f := range driver.Tracker().Top(*top) {
		fmt.Printf("%-48s %10d %12d %10.3f\n", f.Key.String(), f.Stats.PacketCount, f.Stats.ByteCount, f.Stats.Duration())
	}
}
