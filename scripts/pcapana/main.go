package main

import (
	"Go2NetSentinel/internal/engine/flowtracker"
	"Go2NetSentinel/internal/engine/protocol"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

func main() {
	limit := flag.Int("n", 20, "Number of packets to print (0 for all)")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana/main.go [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	handle, err := pcap.OpenOffline(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer handle.Close()

	tracker := flowtracker.New(16, 0)
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())

	i := 0
	for packet := range packetSource.Packets() {
		info, err := protocol.ParsePacket(packet)
		if err != nil {
			fmt.Println("Parse error:", err)
			continue
		}
		i++
		fv, ok := tracker.Analyze(info)
		if !ok {
			fmt.Printf("[%s] %s -> %s proto=%d len=%d (no tcp, skipped)\n",
				info.Timestamp.Format("15:04:05.000"), info.SrcIP, info.DstIP, info.Protocol, info.Length)
		} else {
			fmt.Printf("[%s] %s len=%d flags=%-3s n=%d rate=%.1f/s bytes=%.1f/s\n",
				info.Timestamp.Format("15:04:05.000"), fv.Key, fv.PacketSize, fv.Flags,
				fv.PacketCount, fv.PacketRate, fv.ByteRate)
		}
		if *limit > 0 && i >= *limit {
			break
		}
	}
}
