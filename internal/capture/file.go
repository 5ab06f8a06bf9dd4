package capture

import (
	"Go2NetSentinel/internal/engine/protocol"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng file. It waits for queue space rather
// than dropping, so every decodable packet of the file reaches the pipeline.
type FileSource struct {
	path     string
	file     *os.File
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool

	read    atomic.Uint64
	skipped atomic.Uint64
}

// NewFileSource creates a source for the capture file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:     path,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start opens the file and replays it in the background.
func (s *FileSource) Start(ctx context.Context, q *Queue) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	r, err := openReader(f)
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.started.Store(true)
	log.Printf("Reading packets from %s (link type %s)", s.path, r.LinkType())

	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		defer cancel()
		go func() {
			select {
			case <-s.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()
		s.replay(ctx, r, q)
	}()
	return nil
}

func (s *FileSource) replay(ctx context.Context, r packetReader, q *Queue) {
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			log.Printf("Finished reading %s: %d packets, %d skipped", s.path, s.read.Load(), s.skipped.Load())
			return
		}
		if err != nil {
			log.Printf("ERROR: reading %s: %v", s.path, err)
			return
		}
		s.read.Add(1)

		info, err := protocol.ParseBytes(data, r.LinkType(), ci)
		if err != nil {
			s.skipped.Add(1)
			continue
		}
		if err := q.Put(ctx, info); err != nil {
			return
		}
	}
}

// Stop halts the replay and closes the file.
func (s *FileSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if !s.started.Load() {
			close(s.done)
			return
		}
		s.wg.Wait()
		s.file.Close()
	})
}

// Done is closed when the file is exhausted or the source is stopped.
func (s *FileSource) Done() <-chan struct{} {
	return s.done
}

// Read returns the number of frames read from the file.
func (s *FileSource) Read() uint64 {
	return s.read.Load()
}

// openReader detects the pcap or pcapng format from the file header.
func openReader(f *os.File) (packetReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	// pcapng files start with a section header block.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng reader: %w", err)
		}
		return r, nil
	}
	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap reader: %w", err)
	}
	return r, nil
}
