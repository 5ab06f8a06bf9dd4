package protocol

import (
	"Go2NetSentinel/internal/model"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket uses gopacket to decode a packet and extract the fields used by detection.
// Packets without an IPv4 or IPv6 layer are rejected. Packets with a network layer but
// no TCP layer are returned with a nil TCP header; the flow tracker skips them.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // Default to now, will be overwritten by packet metadata if available
		Length:    len(packet.Data()),
	}

	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		// The wire length survives snaplen truncation.
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		info.SrcIP = toAddr(ip.SrcIP)
		info.DstIP = toAddr(ip.DstIP)
		info.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		info.SrcIP = toAddr(ip.SrcIP)
		info.DstIP = toAddr(ip.DstIP)
		info.Protocol = uint8(ip.NextHeader)
	} else {
		return nil, fmt.Errorf("not an IP packet")
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.Protocol = uint8(layers.IPProtocolTCP)
		info.TCP = &model.TCPHeader{
			SrcPort: uint16(tcp.SrcPort),
			DstPort: uint16(tcp.DstPort),
			Flags:   Flags(tcp),
			Window:  tcp.Window,
		}
	}

	return info, nil
}

// ParseBytes decodes raw frame bytes of the given link type.
func ParseBytes(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.Default)
	md := packet.Metadata()
	md.CaptureInfo = ci
	return ParsePacket(packet)
}

// Flags folds the boolean flag fields of a decoded TCP layer into a bitmask.
func Flags(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	set := func(on bool, flag model.TCPFlags) {
		if on {
			f |= flag
		}
	}
	set(tcp.FIN, model.FlagFIN)
	set(tcp.SYN, model.FlagSYN)
	set(tcp.RST, model.FlagRST)
	set(tcp.PSH, model.FlagPSH)
	set(tcp.ACK, model.FlagACK)
	set(tcp.URG, model.FlagURG)
	set(tcp.ECE, model.FlagECE)
	set(tcp.CWR, model.FlagCWR)
	set(tcp.NS, model.FlagNS)
	return f
}

func toAddr(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
