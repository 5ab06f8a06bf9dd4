package persistent

import (
	"Go2NetSentinel/internal/model"
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const defaultBufferSize = 10000

// PacketContainer holds both the raw frame and the parsed info.
type PacketContainer struct {
	Data        []byte
	CaptureInfo gopacket.CaptureInfo
	PacketInfo  *model.PacketInfo
}

// Options configures a recording worker.
type Options struct {
	Dir        string
	Encoding   string // "pcap" or "text"
	LinkType   layers.LinkType
	SnapLen    uint32
	BufferSize int
}

// Worker records captured packets to disk on its own goroutine so that slow
// storage never stalls the capture loop.
type Worker struct {
	packetChan chan *PacketContainer
	file       *os.File
	dropped    atomic.Uint64
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewWorker creates the output file and starts the writer goroutine.
func NewWorker(opts Options) (*Worker, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.SnapLen == 0 {
		opts.SnapLen = 65536
	}

	ext := ".log"
	if opts.Encoding == "pcap" {
		ext = ".pcap"
	}
	path := filepath.Join(opts.Dir, time.Now().Format("2006-01-02_15-04-05")+ext)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	w := &Worker{
		packetChan: make(chan *PacketContainer, opts.BufferSize),
		file:       file,
	}

	var run func()
	switch opts.Encoding {
	case "pcap":
		pcapWriter := pcapgo.NewWriter(file)
		if err := pcapWriter.WriteFileHeader(opts.SnapLen, opts.LinkType); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
		run = func() { w.runPcapWorker(pcapWriter) }
	case "text":
		run = w.runTextWorker
	default:
		file.Close()
		return nil, fmt.Errorf("unknown recording encoding: '%s'", opts.Encoding)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		run()
	}()
	log.Printf("Recording packets to %s", path)
	return w, nil
}

func (w *Worker) runTextWorker() {
	writer := bufio.NewWriter(w.file)
	for container := range w.packetChan {
		p := container.PacketInfo
		if p == nil {
			continue
		}
		line := fmt.Sprintf("%s - %s -> %s, Proto: %d, Len: %d",
			p.Timestamp.Format("2006-01-02 15:04:05.000"), p.SrcIP, p.DstIP, p.Protocol, p.Length)
		if p.TCP != nil {
			line += fmt.Sprintf(", Ports: %d -> %d, Flags: %s", p.TCP.SrcPort, p.TCP.DstPort, p.TCP.Flags)
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			log.Printf("PersistentWorker (text): Error writing packet: %v", err)
		}
	}
	writer.Flush()
}

func (w *Worker) runPcapWorker(pcapWriter *pcapgo.Writer) {
	for container := range w.packetChan {
		if err := pcapWriter.WritePacket(container.CaptureInfo, container.Data); err != nil {
			log.Printf("PersistentWorker (pcap): Error writing packet: %v", err)
		}
	}
}

// Enqueue hands a packet to the writer. Packets are dropped when the buffer is full.
func (w *Worker) Enqueue(container *PacketContainer) {
	select {
	case w.packetChan <- container:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of packets not recorded because the buffer was full.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Stop flushes the buffered packets and closes the file. Enqueue must not be
// called after Stop.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.packetChan)
		w.wg.Wait()
		if err := w.file.Close(); err != nil {
			log.Printf("PersistentWorker: Error closing file: %v", err)
		}
		log.Println("Persistent worker stopped and file closed.")
	})
}

// Path returns the recording file path.
func (w *Worker) Path() string {
	return w.file.Name()
}
