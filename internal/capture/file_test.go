package capture

import (
	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/model"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePcap(t *testing.T, frames [][]byte, start time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func tcpFrame(t *testing.T, dport uint16, flags model.TCPFlags) []byte {
	t.Helper()
	frame, err := protocol.BuildFrame(protocol.Frame{
		SrcIP:   netip.MustParseAddr("192.168.1.10"),
		DstIP:   netip.MustParseAddr("192.168.1.20"),
		SrcPort: 40000,
		DstPort: dport,
		Flags:   flags,
		Window:  1024,
	})
	require.NoError(t, err)
	return frame
}

func TestFileSourceReplaysInOrder(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	arp := make([]byte, 42)
	arp[12], arp[13] = 0x08, 0x06
	frames := [][]byte{
		tcpFrame(t, 80, model.FlagSYN),
		arp,
		tcpFrame(t, 81, model.FlagACK),
		tcpFrame(t, 82, model.FlagFIN|model.FlagACK),
	}
	path := writePcap(t, frames, start)

	// A queue smaller than the file exercises the blocking replay.
	q := NewQueue(1, PolicyDrop)
	src := NewFileSource(path)
	require.NoError(t, src.Start(context.Background(), q))
	defer src.Stop()

	var ports []uint16
	for len(ports) < 3 {
		p, ok := q.Poll(time.Second)
		require.True(t, ok, "timed out waiting for packets")
		require.NotNil(t, p.TCP)
		ports = append(ports, p.TCP.DstPort)
	}
	assert.Equal(t, []uint16{80, 81, 82}, ports)

	select {
	case <-src.Done():
	case <-time.After(time.Second):
		t.Fatal("source did not finish")
	}
	assert.Equal(t, uint64(4), src.Read())
	assert.Zero(t, q.Dropped())
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, src.Start(context.Background(), NewQueue(1, PolicyDrop)))
	src.Stop()
	<-src.Done()
}
