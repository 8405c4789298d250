// Package tsutil provides shared MPEG-TS helpers for the gen-klv and
// srt-push tools.
package tsutil

import (
	"io"
	"os"

	"github.com/q191201771/naza/pkg/bele"
)

// TSPacketSize is the fixed size of an MPEG-TS packet.
const TSPacketSize = 188

// M2TSPacketSize is the size of a packet carrying a 4-byte arrival
// timestamp prefix.
const M2TSPacketSize = TSPacketSize + 4

// PESPacket holds one reassembled PES packet and the TS-packet offsets it
// came from.
type PESPacket struct {
	ESData    []byte
	PESHdr    []byte
	TSOffsets []int
}

// StreamID returns the PES stream_id.
func (p PESPacket) StreamID() byte {
	if len(p.PESHdr) < 4 {
		return 0
	}
	return p.PESHdr[3]
}

// CollectPESPackets walks tsData looking for PES packets on pid and returns
// them as a slice of reassembled PESPacket values.
func CollectPESPackets(tsData []byte, pid uint16) []PESPacket {
	var packets []PESPacket
	var current *PESPacket

	for off := 0; off+TSPacketSize <= len(tsData); off += TSPacketSize {
		pkt := tsData[off : off+TSPacketSize]
		if pkt[0] != 0x47 {
			continue
		}

		if (uint16(pkt[1]&0x1F)<<8)|uint16(pkt[2]) != pid {
			continue
		}

		payloadStart := pkt[1]&0x40 != 0
		headerLen := 4
		if pkt[3]&0x20 != 0 {
			adaptLen := int(pkt[4])
			headerLen = 5 + adaptLen
		}
		if headerLen >= TSPacketSize {
			if current != nil {
				current.TSOffsets = append(current.TSOffsets, off)
			}
			continue
		}
		payload := pkt[headerLen:]

		if payloadStart {
			if current != nil {
				packets = append(packets, *current)
			}

			if len(payload) < 9 || payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
				current = nil
				continue
			}

			pesHeaderDataLen := int(payload[8])
			pesHdrEnd := 9 + pesHeaderDataLen
			if pesHdrEnd > len(payload) {
				current = nil
				continue
			}

			current = &PESPacket{
				PESHdr:    append([]byte(nil), payload[:pesHdrEnd]...),
				ESData:    append([]byte(nil), payload[pesHdrEnd:]...),
				TSOffsets: []int{off},
			}
		} else if current != nil {
			current.ESData = append(current.ESData, payload...)
			current.TSOffsets = append(current.TSOffsets, off)
		}
	}
	if current != nil {
		packets = append(packets, *current)
	}
	return packets
}

// M2TSWriter prefixes every 188-byte packet written through it with a
// 4-byte arrival timestamp: 2 copy-permission bits then a 30-bit 27 MHz
// clock advancing by ticksPerPacket.
type M2TSWriter struct {
	w              io.Writer
	pending        []byte
	clock          uint32
	ticksPerPacket uint32
}

// NewM2TSWriter creates an M2TSWriter over w.
func NewM2TSWriter(w io.Writer, ticksPerPacket uint32) *M2TSWriter {
	return &M2TSWriter{w: w, ticksPerPacket: ticksPerPacket}
}

// Write buffers p and emits every complete packet. Writes need not be
// packet aligned.
func (m *M2TSWriter) Write(p []byte) (int, error) {
	m.pending = append(m.pending, p...)
	out := make([]byte, 0, len(m.pending)/TSPacketSize*M2TSPacketSize)
	for len(m.pending) >= TSPacketSize {
		var prefix [4]byte
		bele.BePutUint32(prefix[:], m.clock&0x3FFFFFFF)
		out = append(out, prefix[:]...)
		out = append(out, m.pending[:TSPacketSize]...)
		m.pending = m.pending[TSPacketSize:]
		m.clock += m.ticksPerPacket
	}
	if len(out) > 0 {
		if _, err := m.w.Write(out); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// FileExists returns true if the path exists (and is stat-able).
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
