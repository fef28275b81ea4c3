// Package capture records the datagrams of a handshake to a pcap file.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/rawshake/internal/core"
)

// SnapLen is the snapshot length written to the file header.
const SnapLen = 65536

// Stats 记录统计信息
type Stats struct {
	PacketsWritten uint64
	BytesWritten   uint64
}

// Writer appends raw IPv4 datagrams (LINKTYPE_RAW, no link-layer header) to a pcap file.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	w      *pcapgo.Writer
	stats  Stats
	closed bool
}

// Create creates or truncates path and writes the pcap file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}

	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(SnapLen, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write capture file header: %w", err)
	}

	return &Writer{file: f, buf: buf, w: w}, nil
}

// WritePacket appends one datagram captured at ts.
func (w *Writer) WritePacket(ts time.Time, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return core.ErrChannelClosed
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.stats.PacketsWritten++
	w.stats.BytesWritten += uint64(len(data))
	return nil
}

// Stats returns a snapshot of the write counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return core.ErrChannelClosed
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush capture file: %w", err)
	}
	return w.file.Close()
}
