// pcapgen writes synthetic capture files with background traffic and
// optional attack patterns, for replay through pcap-analyzer or ns-sentinel.
package main

import (
	"Go2NetSentinel/internal/engine/flowtracker"
	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/model"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"gopkg.in/yaml.v3"
)

var (
	attacker = netip.MustParseAddr("203.0.113.66")
	victim   = netip.MustParseAddr("10.0.0.5")
)

type generator struct {
	rng     *rand.Rand
	w       *pcapgo.Writer
	now     time.Time
	written int
	tracker *flowtracker.Tracker
	samples [][]float64
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flows := flag.Int("flows", 50, "Number of background flows")
	perFlow := flag.Int("c", 20, "Packets per background flow")
	attacks := flag.String("attacks", "synflood,portscan,xmas,null,synfin,backdoor", "Comma-separated attack patterns to inject (empty for none)")
	trainOut := flag.String("train", "", "Also write the background traffic's feature rows to this YAML training file")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	g := &generator{
		rng:     rand.New(rand.NewSource(*seed)),
		w:       pcapWriter,
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		tracker: flowtracker.New(16, 0),
	}

	log.Printf("Generating %d background flows of %d packets into %s...", *flows, *perFlow, *outputFile)
	g.background(*flows, *perFlow, *trainOut != "")

	for _, name := range strings.Split(*attacks, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := g.attack(name); err != nil {
			log.Fatalf("Failed to inject %s: %v", name, err)
		}
		log.Printf("Injected %s.", name)
	}
	log.Printf("Wrote %d packets.", g.written)

	if *trainOut != "" {
		data, err := yaml.Marshal(map[string][][]float64{"samples": g.samples})
		if err != nil {
			log.Fatalf("Failed to encode training rows: %v", err)
		}
		if err := os.WriteFile(*trainOut, data, 0o644); err != nil {
			log.Fatalf("Failed to write training file: %v", err)
		}
		log.Printf("Wrote %d training rows to %s", len(g.samples), *trainOut)
	}
}

// emit writes one frame and advances the clock by gap.
func (g *generator) emit(frame protocol.Frame, gap time.Duration) []byte {
	data, err := protocol.BuildFrame(frame)
	if err != nil {
		log.Fatalf("Failed to build frame: %v", err)
	}
	g.now = g.now.Add(gap)
	ci := gopacket.CaptureInfo{Timestamp: g.now, CaptureLength: len(data), Length: len(data)}
	if err := g.w.WritePacket(ci, data); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
	g.written++
	return data
}

// background writes established flows from client hosts to common services,
// interleaved so each flow sees a realistic rate.
func (g *generator) background(flows, perFlow int, collect bool) {
	services := []uint16{80, 443, 8080, 5432}
	frames := make([]protocol.Frame, flows)
	for i := range frames {
		frames[i] = protocol.Frame{
			SrcIP:   netip.AddrFrom4([4]byte{192, 168, 1, byte(10 + i%200)}),
			DstIP:   netip.AddrFrom4([4]byte{10, 0, 0, byte(1 + g.rng.Intn(4))}),
			SrcPort: uint16(30000 + g.rng.Intn(30000)),
			DstPort: services[g.rng.Intn(len(services))],
			Window:  64240,
		}
	}

	for n := 0; n < perFlow; n++ {
		for i := range frames {
			fr := frames[i]
			fr.Flags = model.FlagACK
			if n%4 == 3 {
				fr.Flags |= model.FlagPSH
			}
			fr.Payload = make([]byte, 200+g.rng.Intn(1000))
			data := g.emit(fr, time.Duration(5+g.rng.Intn(20))*time.Millisecond)
			if collect {
				g.collect(fr, data)
			}
		}
	}
}

// collect feeds the frame through a tracker so training rows match what the
// sentinel derives from the same traffic.
func (g *generator) collect(fr protocol.Frame, data []byte) {
	fv, ok := g.tracker.Analyze(&model.PacketInfo{
		Timestamp: g.now,
		SrcIP:     fr.SrcIP,
		DstIP:     fr.DstIP,
		Protocol:  6,
		Length:    len(data),
		TCP:       &model.TCPHeader{SrcPort: fr.SrcPort, DstPort: fr.DstPort, Flags: fr.Flags, Window: fr.Window},
	})
	if ok && fv.PacketCount > 1 {
		g.samples = append(g.samples, fv.Projection())
	}
}

func (g *generator) attack(name string) error {
	base := protocol.Frame{SrcIP: attacker, DstIP: victim, SrcPort: uint16(40000 + g.rng.Intn(20000)), Window: 1024}
	switch name {
	case "synflood":
		// One flow, hundreds of SYNs per second.
		fr := base
		fr.DstPort = 80
		fr.Flags = model.FlagSYN
		for i := 0; i < 500; i++ {
			g.emit(fr, time.Millisecond)
		}
	case "portscan":
		// Distinct flows, one small SYN each.
		for port := uint16(1); port <= 1024; port++ {
			fr := base
			fr.SrcPort = 50000
			fr.DstPort = port
			fr.Flags = model.FlagSYN
			g.emit(fr, 200*time.Microsecond)
		}
	case "xmas":
		fr := base
		fr.DstPort = 22
		fr.Flags = model.FlagFIN | model.FlagPSH | model.FlagURG
		g.emit(fr, 10*time.Millisecond)
	case "null":
		fr := base
		fr.DstPort = 23
		g.emit(fr, 10*time.Millisecond)
	case "synfin":
		fr := base
		fr.DstPort = 443
		fr.Flags = model.FlagSYN | model.FlagFIN
		g.emit(fr, 10*time.Millisecond)
	case "backdoor":
		fr := base
		fr.DstPort = 31337
		fr.Flags = model.FlagACK | model.FlagPSH
		fr.Payload = []byte("id; uname -a")
		g.emit(fr, 10*time.Millisecond)
	default:
		return fmt.Errorf("unknown attack pattern: %s", name)
	}
	return nil
}
