package mpegts

import (
	"bytes"
	"fmt"
	"io"
)

// readChunkPackets is how many packets worth of bytes the reader buffers.
// 7 packets (1316 bytes) is the usual SRT/UDP payload size.
const readChunkPackets = 7 * 4

// PacketReader slices a byte stream into transport packets. Bytes that do
// not line up with a sync byte are skipped until the stream resynchronizes,
// which makes it usable directly on datagram payloads.
type PacketReader struct {
	r       io.Reader
	pktSize int
	prefix  int
	data    []byte
	start   int
	skipped int64
	err     error
}

// NewPacketReader creates a reader for packets of the given size: 188 for
// plain transport streams or 192 for streams with a 4-byte timestamp prefix.
func NewPacketReader(r io.Reader, packetSize int) (*PacketReader, error) {
	if packetSize != PacketSize && packetSize != PrefixedPacketSize {
		return nil, fmt.Errorf("mpegts: unsupported packet size %d", packetSize)
	}
	return &PacketReader{
		r:       r,
		pktSize: packetSize,
		prefix:  packetSize - PacketSize,
		data:    make([]byte, 0, packetSize*readChunkPackets),
	}, nil
}

// Next returns the next transport packet. It returns the underlying
// reader's error (io.EOF at end of stream) once fewer than one whole packet
// remains; a trailing partial packet is discarded.
func (pr *PacketReader) Next() (*Packet, error) {
	for {
		if err := pr.fill(); err != nil {
			return nil, err
		}

		window := pr.data[pr.start:]
		if window[pr.prefix] != syncByte || pr.falseSync(window) {
			drop := len(window) - pr.prefix
			if idx := bytes.IndexByte(window[pr.prefix+1:], syncByte); idx >= 0 {
				drop = idx + 1
			}
			pr.start += drop
			pr.skipped += int64(drop)
			continue
		}

		pkt, err := ParsePacket(window[pr.prefix:pr.pktSize])
		pr.start += pr.pktSize
		if err != nil {
			return nil, err
		}
		return pkt, nil
	}
}

// falseSync reports whether the sync byte at the start of window is not
// followed by another one a packet later while a candidate sync byte lies
// in between, which happens after a truncated packet.
func (pr *PacketReader) falseSync(window []byte) bool {
	next := pr.prefix + pr.pktSize
	if len(window) <= next || window[next] == syncByte {
		return false
	}
	return bytes.IndexByte(window[pr.prefix+1:next], syncByte) >= 0
}

// Skipped returns the number of bytes discarded while hunting for sync.
func (pr *PacketReader) Skipped() int64 {
	return pr.skipped
}

func (pr *PacketReader) fill() error {
	for len(pr.data)-pr.start < pr.pktSize {
		if pr.err != nil {
			pr.skipped += int64(len(pr.data) - pr.start)
			pr.data = pr.data[:0]
			pr.start = 0
			return pr.err
		}
		if pr.start > 0 {
			n := copy(pr.data[:cap(pr.data)], pr.data[pr.start:])
			pr.data = pr.data[:n]
			pr.start = 0
		}
		n, err := pr.r.Read(pr.data[len(pr.data):cap(pr.data)])
		pr.data = pr.data[:len(pr.data)+n]
		if err != nil {
			pr.err = err
		}
	}
	return nil
}
