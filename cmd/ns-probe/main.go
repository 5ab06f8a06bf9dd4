package main

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/probe"
	"Go2NetSentinel/internal/probe/persistent"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

func main() {
	// --- Command-Line Flag Parsing ---
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides capture.interface).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runProbe(cfg)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures packets and publishes them to NATS for ns-sentinel.
func runProbe(cfg *config.Config) {
	if cfg.Capture.Interface == "" {
		log.Println("Error: an interface is required for probe mode (-iface or capture.interface).")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ns-probe in PROBE mode on interface: %s", cfg.Capture.Interface)

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, pcap.BlockForever)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", cfg.Capture.Interface, err)
	}
	defer handle.Close()
	if cfg.Capture.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.Capture.BPFFilter); err != nil {
			log.Fatalf("Invalid bpf filter %q: %v", cfg.Capture.BPFFilter, err)
		}
	}

	var recorder *persistent.Worker
	if cfg.Capture.RecordDir != "" {
		recorder, err = persistent.NewWorker(persistent.Options{
			Dir:      cfg.Capture.RecordDir,
			Encoding: cfg.Capture.RecordEncoding,
			LinkType: handle.LinkType(),
			SnapLen:  uint32(cfg.Capture.SnapshotLen),
		})
		if err != nil {
			log.Fatalf("Failed to start recorder: %v", err)
		}
		defer recorder.Stop()
	}

	log.Println("Capture started successfully. Publishing packets to NATS...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		packetsPublished := 0
		for packet := range packetSource.Packets() {
			info, err := protocol.ParsePacket(packet)
			if recorder != nil {
				recorder.Enqueue(&persistent.PacketContainer{
					Data:        packet.Data(),
					CaptureInfo: packet.Metadata().CaptureInfo,
					PacketInfo:  info,
				})
			}
			if err != nil {
				continue // Skip non-IP packets
			}
			if err := pub.Publish(info); err != nil {
				log.Printf("Failed to publish packet: %v", err)
			}
			packetsPublished++
			if packetsPublished%1000 == 0 {
				log.Printf("%d packets published...", packetsPublished)
			}
		}
	}()

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

// runSubscriber prints the packets a sentinel would receive.
func runSubscriber(cfg *config.Config) {
	log.Println("Starting ns-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(info *model.PacketInfo) {
		if info.TCP != nil {
			log.Printf("Received Packet: %s len=%d flags=%s", info.FlowKey(), info.Length, info.TCP.Flags)
			return
		}
		log.Printf("Received Packet: %s -> %s proto=%d len=%d", info.SrcIP, info.DstIP, info.Protocol, info.Length)
	}

	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}
