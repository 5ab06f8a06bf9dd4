// Package live captures packets from a network interface through libpcap.
package live

import (
	"Go2NetSentinel/internal/capture"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/probe/persistent"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// readTimeout bounds how long a read blocks, so a closed handle is noticed promptly.
const readTimeout = 500 * time.Millisecond

func init() {
	capture.RegisterSource("live", func(cfg *config.Config) (capture.Source, error) {
		return New(cfg.Capture)
	})
}

// Source captures from a live interface.
type Source struct {
	cfg      config.CaptureConfig
	handle   *pcap.Handle
	recorder *persistent.Worker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	captured atomic.Uint64
	rejected atomic.Uint64
}

// New validates the capture settings. The interface is opened by Start.
func New(cfg config.CaptureConfig) (*Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("capture.interface is required for the live source")
	}
	return &Source{cfg: cfg, done: make(chan struct{})}, nil
}

// Start opens the interface, applies the BPF filter and captures in the background.
func (s *Source) Start(ctx context.Context, q *capture.Queue) error {
	handle, err := pcap.OpenLive(s.cfg.Interface, s.cfg.SnapshotLen, s.cfg.Promiscuous, readTimeout)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", s.cfg.Interface, err)
	}
	if s.cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(s.cfg.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("invalid bpf filter %q: %w", s.cfg.BPFFilter, err)
		}
	}
	if s.cfg.RecordDir != "" {
		rec, err := persistent.NewWorker(persistent.Options{
			Dir:      s.cfg.RecordDir,
			Encoding: s.cfg.RecordEncoding,
			LinkType: handle.LinkType(),
			SnapLen:  uint32(s.cfg.SnapshotLen),
		})
		if err != nil {
			handle.Close()
			return err
		}
		s.recorder = rec
	}
	s.handle = handle
	log.Printf("Capture started on %s (snaplen %d, promiscuous %t)", s.cfg.Interface, s.cfg.SnapshotLen, s.cfg.Promiscuous)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.capture(ctx, q)
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

func (s *Source) capture(ctx context.Context, q *capture.Queue) {
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for packet := range packetSource.Packets() {
		s.captured.Add(1)
		info, err := protocol.ParsePacket(packet)
		if s.recorder != nil {
			s.recorder.Enqueue(&persistent.PacketContainer{
				Data:        packet.Data(),
				CaptureInfo: packet.Metadata().CaptureInfo,
				PacketInfo:  info,
			})
		}
		if err != nil {
			s.rejected.Add(1)
			continue
		}
		q.Offer(info)
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop closes the handle, which ends the capture loop.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		if s.handle == nil {
			close(s.done)
			return
		}
		s.handle.Close()
		s.wg.Wait()
		if s.recorder != nil {
			s.recorder.Stop()
		}
		log.Printf("Capture stopped on %s: %d packets captured, %d non-IP", s.cfg.Interface, s.captured.Load(), s.rejected.Load())
	})
}

// Done is closed when the capture loop has ended.
func (s *Source) Done() <-chan struct{} {
	return s.done
}
