package main

import (
	"Go2NetSentinel/internal/snapshot"
	"fmt"
	"log"
	"os"
	"sort"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <shard_file.dat>")
		os.Exit(1)
	}

	flows, err := snapshot.ReadShard(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to decode gob data: %v", err)
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Stats.PacketCount > flows[j].Stats.PacketCount
	})

	fmt.Printf("Decoded %d flows:\n", len(flows))
	for _, f := range flows {
		fmt.Printf("%-48s packets=%-8d bytes=%-10d first=%s last=%s\n",
			f.Key, f.Stats.PacketCount, f.Stats.ByteCount,
			f.Stats.FirstSeen.Format("15:04:05.000"), f.Stats.LastSeen.Format("15:04:05.000"))
	}
}
