package protocol

import (
	"Go2NetSentinel/internal/model"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func decode(t *testing.T, f Frame, ts time.Time) (*model.PacketInfo, error) {
	t.Helper()
	data, err := BuildFrame(f)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	return ParseBytes(data, layers.LinkTypeEthernet, ci)
}

func TestParsePacket_TCP(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	info, err := decode(t, Frame{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.168.1.2"),
		SrcPort: 5678,
		DstPort: 80,
		Flags:   model.FlagSYN,
		Window:  14600,
	}, ts)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if info.TCP == nil {
		t.Fatalf("Expected a TCP header")
	}
	if info.SrcIP.String() != "10.0.0.1" || info.DstIP.String() != "192.168.1.2" {
		t.Errorf("Unexpected addresses: %v -> %v", info.SrcIP, info.DstIP)
	}
	if info.TCP.SrcPort != 5678 || info.TCP.DstPort != 80 {
		t.Errorf("Unexpected ports: %d -> %d", info.TCP.SrcPort, info.TCP.DstPort)
	}
	if !info.TCP.Flags.Only(model.FlagSYN) {
		t.Errorf("Expected SYN only, got %s", info.TCP.Flags)
	}
	if info.TCP.Window != 14600 {
		t.Errorf("Expected window 14600, got %d", info.TCP.Window)
	}
	if !info.Timestamp.Equal(ts) {
		t.Errorf("Expected capture timestamp %v, got %v", ts, info.Timestamp)
	}
	// Ethernet(14) + IPv4(20) + TCP(20), padded to the 60 byte Ethernet minimum
	if info.Length != 60 {
		t.Errorf("Expected length 60, got %d", info.Length)
	}
	if info.Protocol != uint8(layers.IPProtocolTCP) {
		t.Errorf("Expected protocol TCP, got %d", info.Protocol)
	}
}

func TestParsePacket_IPv6(t *testing.T) {
	info, err := decode(t, Frame{
		SrcIP:   netip.MustParseAddr("2001:db8::1"),
		DstIP:   netip.MustParseAddr("2001:db8::2"),
		SrcPort: 40000,
		DstPort: 443,
		Flags:   model.FlagFIN | model.FlagPSH | model.FlagURG,
	}, time.Now())
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if info.TCP == nil || !info.TCP.Flags.Has(model.FlagFIN|model.FlagPSH|model.FlagURG) {
		t.Fatalf("Expected FIN/PSH/URG flags, got %+v", info.TCP)
	}
	if !info.SrcIP.Is6() {
		t.Errorf("Expected an IPv6 source, got %v", info.SrcIP)
	}
}

func TestParsePacket_NetworkOnly(t *testing.T) {
	info, err := decode(t, Frame{
		SrcIP:       netip.MustParseAddr("192.168.1.1"),
		DstIP:       netip.MustParseAddr("192.168.1.2"),
		NoTransport: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("A packet with a network layer should decode: %v", err)
	}
	if info.TCP != nil {
		t.Errorf("Expected no TCP header, got %+v", info.TCP)
	}
	if !info.HasNetworkLayer() {
		t.Errorf("Expected a network layer")
	}
}

func TestParsePacket_NonIP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0, 1, 2, 3, 4, 5},
		DstMAC:       []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0, 1, 2, 3, 4, 5},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp); err != nil {
		t.Fatalf("Failed to serialize ARP: %v", err)
	}

	if _, err := ParseBytes(buf.Bytes(), layers.LinkTypeEthernet, gopacket.CaptureInfo{}); err == nil {
		t.Errorf("Expected an error for a non-IP packet")
	}
}
