package alerter

import (
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// NATSDispatcher publishes alerts to a NATS subject.
type NATSDispatcher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSDispatcher connects to url and publishes to subject.
func NewNATSDispatcher(url, subject string) (*NATSDispatcher, error) {
	nc, err := nats.Connect(url, nats.Name("ns-sentinel-alerts"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Publishing alerts to NATS subject '%s' at %s", subject, url)
	return &NATSDispatcher{nc: nc, subject: subject}, nil
}

func (d *NATSDispatcher) GenerateAlert(_ context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	data, err := EncodeAlert(t, pc)
	if err != nil {
		return err
	}
	return d.nc.Publish(d.subject, data)
}

// Close drains and closes the NATS connection.
func (d *NATSDispatcher) Close() error {
	return d.nc.Drain()
}

// EncodeAlert serializes an alert as a protobuf Struct.
func EncodeAlert(t model.ThreatEvent, pc model.PacketContext) ([]byte, error) {
	detected := timestamppb.New(t.DetectedAt)
	msg, err := structpb.NewStruct(map[string]any{
		"id":          t.ID,
		"kind":        string(t.Kind),
		"rule_id":     t.RuleID,
		"description": t.Description,
		"severity":    string(t.Severity),
		"confidence":  t.Confidence,
		"score":       t.Score,
		"detected_at": map[string]any{
			"seconds": float64(detected.GetSeconds()),
			"nanos":   float64(detected.GetNanos()),
		},
		"context": map[string]any{
			"source_ip":        pc.SourceIP,
			"destination_ip":   pc.DestinationIP,
			"source_port":      float64(pc.SourcePort),
			"destination_port": float64(pc.DestinationPort),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build alert message: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeAlert parses a message produced by EncodeAlert.
func DecodeAlert(data []byte) (model.ThreatEvent, model.PacketContext, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return model.ThreatEvent{}, model.PacketContext{}, fmt.Errorf("failed to unmarshal alert message: %w", err)
	}
	f := msg.GetFields()
	ts := f["detected_at"].GetStructValue().GetFields()
	detected := &timestamppb.Timestamp{
		Seconds: int64(ts["seconds"].GetNumberValue()),
		Nanos:   int32(ts["nanos"].GetNumberValue()),
	}
	t := model.ThreatEvent{
		ID:          f["id"].GetStringValue(),
		Kind:        model.ThreatKind(f["kind"].GetStringValue()),
		RuleID:      f["rule_id"].GetStringValue(),
		Description: f["description"].GetStringValue(),
		Severity:    model.Severity(f["severity"].GetStringValue()),
		Confidence:  f["confidence"].GetNumberValue(),
		Score:       f["score"].GetNumberValue(),
		DetectedAt:  detected.AsTime(),
	}
	c := f["context"].GetStructValue().GetFields()
	pc := model.PacketContext{
		SourceIP:        c["source_ip"].GetStringValue(),
		DestinationIP:   c["destination_ip"].GetStringValue(),
		SourcePort:      uint16(c["source_port"].GetNumberValue()),
		DestinationPort: uint16(c["destination_port"].GetNumberValue()),
	}
	return t, pc, nil
}
