package model

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Epsilon is the smallest flow duration, in seconds, used for rate computations.
// The first packet of a flow has a zero elapsed time and is floored to this value.
const Epsilon = 1e-6

// ProjectionWidth is the number of numeric fields produced by FeatureVector.Projection.
const ProjectionWidth = 3

// TCPFlags is a bitmask of TCP control flags.
type TCPFlags uint16

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

var flagLetters = []struct {
	flag   TCPFlags
	letter byte
}{
	{FlagFIN, 'F'}, {FlagSYN, 'S'}, {FlagRST, 'R'}, {FlagPSH, 'P'},
	{FlagACK, 'A'}, {FlagURG, 'U'}, {FlagECE, 'E'}, {FlagCWR, 'C'}, {FlagNS, 'N'},
}

// Has reports whether every flag in mask is set.
func (f TCPFlags) Has(mask TCPFlags) bool {
	return f&mask == mask
}

// Only reports whether f is exactly mask.
func (f TCPFlags) Only(mask TCPFlags) bool {
	return f == mask
}

// String renders the flags using the single-letter convention, e.g. "SA".
func (f TCPFlags) String() string {
	var sb strings.Builder
	for _, fl := range flagLetters {
		if f&fl.flag != 0 {
			sb.WriteByte(fl.letter)
		}
	}
	return sb.String()
}

// ParseTCPFlags parses the single-letter representation produced by String.
func ParseTCPFlags(s string) (TCPFlags, error) {
	var f TCPFlags
	for i := 0; i < len(s); i++ {
		found := false
		for _, fl := range flagLetters {
			if s[i] == fl.letter {
				f |= fl.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown tcp flag %q", s[i])
		}
	}
	return f, nil
}

// FlowKey identifies one directional connection.
type FlowKey struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// String renders the key as "src:port->dst:port".
func (k FlowKey) String() string {
	return netip.AddrPortFrom(k.SrcIP, k.SrcPort).String() + "->" + netip.AddrPortFrom(k.DstIP, k.DstPort).String()
}

// TCPHeader holds the transport fields the detection pipeline needs.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Flags   TCPFlags
	Window  uint16
}

// PacketInfo holds the metadata extracted from a single captured packet.
type PacketInfo struct {
	Timestamp time.Time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	Protocol  uint8
	Length    int
	// TCP is nil when the packet carries no connection-oriented transport layer.
	TCP *TCPHeader
}

// HasNetworkLayer reports whether the packet carries source and destination addresses.
func (p *PacketInfo) HasNetworkLayer() bool {
	return p.SrcIP.IsValid() && p.DstIP.IsValid()
}

// FlowKey returns the directional key of the packet. It must only be called
// on packets with both a network and a TCP layer.
func (p *PacketInfo) FlowKey() FlowKey {
	return FlowKey{
		SrcIP:   p.SrcIP,
		DstIP:   p.DstIP,
		SrcPort: p.TCP.SrcPort,
		DstPort: p.TCP.DstPort,
	}
}

// Context returns the alert context of the packet.
func (p *PacketInfo) Context() PacketContext {
	pc := PacketContext{
		SourceIP:      p.SrcIP.String(),
		DestinationIP: p.DstIP.String(),
	}
	if p.TCP != nil {
		pc.SourcePort = p.TCP.SrcPort
		pc.DestinationPort = p.TCP.DstPort
	}
	return pc
}

// FlowStats is the aggregate state of a single flow.
type FlowStats struct {
	PacketCount uint64
	ByteCount   uint64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Duration returns LastSeen-FirstSeen in seconds, floored to Epsilon.
func (s FlowStats) Duration() float64 {
	d := s.LastSeen.Sub(s.FirstSeen).Seconds()
	if d < Epsilon {
		return Epsilon
	}
	return d
}

// Flow pairs a key with its stats. It is the unit of flow snapshots.
type Flow struct {
	Key   FlowKey
	Stats FlowStats
}

// FeatureVector is the per-packet behavioral summary fed to detection.
type FeatureVector struct {
	Key          FlowKey
	PacketSize   int
	FlowDuration float64
	PacketRate   float64
	ByteRate     float64
	Flags        TCPFlags
	WindowSize   uint16
	PacketCount  uint64
}

// Projection returns the fixed-width numeric view used by the anomaly scorer:
// packet size, packet rate and byte rate, in that order.
func (fv FeatureVector) Projection() []float64 {
	return []float64{float64(fv.PacketSize), fv.PacketRate, fv.ByteRate}
}

// PacketContext is the packet information attached to an alert.
type PacketContext struct {
	SourceIP        string `json:"source_ip"`
	DestinationIP   string `json:"destination_ip"`
	SourcePort      uint16 `json:"source_port"`
	DestinationPort uint16 `json:"destination_port"`
}
