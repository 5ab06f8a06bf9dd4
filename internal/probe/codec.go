package probe

import (
	"Go2NetSentinel/internal/model"
	"fmt"
	"math"
	"net/netip"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EncodePacket serializes a PacketInfo as a protobuf Struct.
func EncodePacket(p *model.PacketInfo) ([]byte, error) {
	fields := map[string]any{
		"src_ip":   p.SrcIP.String(),
		"dst_ip":   p.DstIP.String(),
		"protocol": float64(p.Protocol),
		"length":   float64(p.Length),
	}
	ts := timestamppb.New(p.Timestamp)
	fields["ts_seconds"] = float64(ts.GetSeconds())
	fields["ts_nanos"] = float64(ts.GetNanos())
	if p.TCP != nil {
		fields["tcp"] = map[string]any{
			"src_port": float64(p.TCP.SrcPort),
			"dst_port": float64(p.TCP.DstPort),
			"flags":    float64(p.TCP.Flags),
			"window":   float64(p.TCP.Window),
		}
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build packet message: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodePacket parses a message produced by EncodePacket.
func DecodePacket(data []byte) (*model.PacketInfo, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal packet message: %w", err)
	}
	f := msg.GetFields()

	ts := &timestamppb.Timestamp{
		Seconds: int64(f["ts_seconds"].GetNumberValue()),
		Nanos:   int32(f["ts_nanos"].GetNumberValue()),
	}
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid packet timestamp: %w", err)
	}
	protocol, err := boundedNumber(f, "protocol", math.MaxUint8)
	if err != nil {
		return nil, err
	}
	length, err := boundedNumber(f, "length", math.MaxInt32)
	if err != nil {
		return nil, err
	}
	info := &model.PacketInfo{
		Timestamp: ts.AsTime(),
		Protocol:  uint8(protocol),
		Length:    int(length),
	}
	// Missing or invalid addresses leave the zero Addr, i.e. no network layer.
	info.SrcIP, _ = netip.ParseAddr(f["src_ip"].GetStringValue())
	info.DstIP, _ = netip.ParseAddr(f["dst_ip"].GetStringValue())

	if tcp := f["tcp"].GetStructValue(); tcp != nil {
		tf := tcp.GetFields()
		var hdr [4]float64
		for i, name := range []string{"src_port", "dst_port", "flags", "window"} {
			if hdr[i], err = boundedNumber(tf, name, math.MaxUint16); err != nil {
				return nil, err
			}
		}
		info.TCP = &model.TCPHeader{
			SrcPort: uint16(hdr[0]),
			DstPort: uint16(hdr[1]),
			Flags:   model.TCPFlags(hdr[2]),
			Window:  uint16(hdr[3]),
		}
	}
	return info, nil
}

// boundedNumber reads an integral field in [0, limit]. A missing field reads as zero.
func boundedNumber(fields map[string]*structpb.Value, name string, limit float64) (float64, error) {
	v := fields[name].GetNumberValue()
	if v < 0 || v > limit || v != math.Trunc(v) {
		return 0, fmt.Errorf("invalid packet field %s: %v", name, v)
	}
	return v, nil
}
