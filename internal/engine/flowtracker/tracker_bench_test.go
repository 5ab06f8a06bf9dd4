package flowtracker

import (
	"Go2NetSentinel/internal/model"
	"math/rand"
	"net/netip"
	"testing"
	"time"
)

func benchPackets(n, flows int) []*model.PacketInfo {
	rng := rand.New(rand.NewSource(1))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	packets := make([]*model.PacketInfo, n)
	for i := range packets {
		f := rng.Intn(flows)
		packets[i] = &model.PacketInfo{
			Timestamp: base.Add(time.Duration(i) * time.Microsecond),
			SrcIP:     netip.AddrFrom4([4]byte{10, byte(f >> 16), byte(f >> 8), byte(f)}),
			DstIP:     netip.AddrFrom4([4]byte{192, 168, 0, 1}),
			Protocol:  6,
			Length:    64 + rng.Intn(1400),
			TCP:       &model.TCPHeader{SrcPort: uint16(1024 + f%50000), DstPort: 443, Flags: model.FlagACK},
		}
	}
	return packets
}

func BenchmarkAnalyze(b *testing.B) {
	for _, flows := range []int{100, 100000} {
		packets := benchPackets(1<<16, flows)
		b.Run(flowsName(flows), func(b *testing.B) {
			tr := New(256, 0)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				tr.Analyze(packets[i&(len(packets)-1)])
			}
		})
	}
}

// BenchmarkAnalyzeWithSnapshots measures the consumer while a reader keeps
// copying the table, as the snapshotters and the HTTP API do.
func BenchmarkAnalyzeWithSnapshots(b *testing.B) {
	packets := benchPackets(1<<16, 10000)
	tr := New(256, 0)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				tr.Snapshot()
			}
		}
	}()
	defer close(stop)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Analyze(packets[i&(len(packets)-1)])
	}
}

func flowsName(n int) string {
	if n >= 1000 {
		return "many_flows"
	}
	return "few_flows"
}
