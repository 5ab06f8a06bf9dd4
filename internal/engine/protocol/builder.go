package protocol

import (
	"Go2NetSentinel/internal/model"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame describes a synthetic TCP/IP packet. It is used by the pcap generator
// and by tests that need real decoded packets.
type Frame struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Flags   model.TCPFlags
	Window  uint16
	Payload []byte
	// NoTransport builds an IP packet without a TCP layer.
	NoTransport bool
}

// BuildFrame serializes the frame as Ethernet/IP[/TCP].
func BuildFrame(f Frame) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC: net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
	}

	var netLayer gopacket.SerializableLayer
	var checksumLayer gopacket.NetworkLayer
	proto := layers.IPProtocolTCP
	if f.NoTransport {
		proto = layers.IPProtocolNoNextHeader
	}
	if f.SrcIP.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			SrcIP:    net.IP(f.SrcIP.AsSlice()),
			DstIP:    net.IP(f.DstIP.AsSlice()),
			Version:  4,
			TTL:      64,
			Protocol: proto,
		}
		netLayer, checksumLayer = ip, ip
	} else if f.SrcIP.Is6() {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			SrcIP:      net.IP(f.SrcIP.AsSlice()),
			DstIP:      net.IP(f.DstIP.AsSlice()),
			Version:    6,
			HopLimit:   64,
			NextHeader: proto,
		}
		netLayer, checksumLayer = ip, ip
	} else {
		return nil, fmt.Errorf("invalid source address %v", f.SrcIP)
	}

	stack := []gopacket.SerializableLayer{eth, netLayer}
	if !f.NoTransport {
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(f.SrcPort),
			DstPort: layers.TCPPort(f.DstPort),
			FIN:     f.Flags&model.FlagFIN != 0,
			SYN:     f.Flags&model.FlagSYN != 0,
			RST:     f.Flags&model.FlagRST != 0,
			PSH:     f.Flags&model.FlagPSH != 0,
			ACK:     f.Flags&model.FlagACK != 0,
			URG:     f.Flags&model.FlagURG != 0,
			ECE:     f.Flags&model.FlagECE != 0,
			CWR:     f.Flags&model.FlagCWR != 0,
			NS:      f.Flags&model.FlagNS != 0,
			Window:  f.Window,
		}
		if err := tcp.SetNetworkLayerForChecksum(checksumLayer); err != nil {
			return nil, fmt.Errorf("failed to set checksum layer: %w", err)
		}
		stack = append(stack, tcp)
	}
	stack = append(stack, gopacket.Payload(f.Payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}
