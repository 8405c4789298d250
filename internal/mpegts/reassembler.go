package mpegts

import (
	"fmt"
	"sort"
)

// DefaultMaxBufferSize bounds a single PES reassembly buffer.
const DefaultMaxBufferSize = 4 << 20

// pesBuffer accumulates transport payloads for one PID between payload
// unit starts.
type pesBuffer struct {
	pid        uint16
	streamType StreamType
	data       []byte
	lastCC     uint8
}

// feedResult describes what a single packet did to the reassembler.
type feedResult uint8

const (
	feedAppended feedResult = iota
	feedStarted
	feedGap
	feedDuplicate
	feedDiscontinuity
	feedIgnored
)

// reassembler turns per-PID transport payloads into complete PES packets.
type reassembler struct {
	bufs    map[uint16]*pesBuffer
	maxSize int
	strict  bool
}

func newReassembler(maxSize int, strict bool) *reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &reassembler{
		bufs:    make(map[uint16]*pesBuffer),
		maxSize: maxSize,
		strict:  strict,
	}
}

// add feeds one packet. A payload unit start closes the open buffer for the
// PID, which is returned, and opens a new one seeded with this payload.
func (r *reassembler) add(p *Packet, st StreamType) (*PESPacket, feedResult, error) {
	if !p.Header.HasPayload || len(p.Payload) == 0 {
		return nil, feedIgnored, nil
	}

	pid := p.Header.PID
	buf := r.bufs[pid]

	if r.strict {
		if p.Header.TransportErrorIndicator {
			delete(r.bufs, pid)
			return nil, feedDiscontinuity, nil
		}
		// A signaled discontinuity indicator means the CC jump is expected.
		if buf != nil && !p.Header.DiscontinuityIndicator {
			expected := (buf.lastCC + 1) & 0x0F
			if p.Header.ContinuityCounter != expected {
				if p.Header.ContinuityCounter == buf.lastCC {
					return nil, feedDuplicate, nil
				}
				delete(r.bufs, pid)
				buf = nil
				if !p.Header.PayloadUnitStartIndicator {
					return nil, feedDiscontinuity, nil
				}
			}
		}
	}

	if p.Header.PayloadUnitStartIndicator {
		var done *PESPacket
		if buf != nil {
			done = buf.finish()
		}
		data := make([]byte, len(p.Payload), max(len(p.Payload), 2*PacketSize))
		copy(data, p.Payload)
		r.bufs[pid] = &pesBuffer{
			pid:        pid,
			streamType: st,
			data:       data,
			lastCC:     p.Header.ContinuityCounter,
		}
		return done, feedStarted, nil
	}

	if buf == nil {
		return nil, feedGap, nil
	}

	if len(buf.data)+len(p.Payload) > r.maxSize {
		delete(r.bufs, pid)
		return nil, feedAppended, fmt.Errorf("%w: PID 0x%04X exceeds %d bytes", ErrBufferOverflow, pid, r.maxSize)
	}
	buf.data = append(buf.data, p.Payload...)
	buf.lastCC = p.Header.ContinuityCounter
	return nil, feedAppended, nil
}

// drop discards the open buffer for pid, if any.
func (r *reassembler) drop(pid uint16) {
	delete(r.bufs, pid)
}

// flush finalizes every open buffer in PID order and empties the reassembler.
func (r *reassembler) flush() []*PESPacket {
	pids := make([]uint16, 0, len(r.bufs))
	for pid := range r.bufs {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	var all []*PESPacket
	for _, pid := range pids {
		all = append(all, r.bufs[pid].finish())
		delete(r.bufs, pid)
	}
	return all
}

func (b *pesBuffer) finish() *PESPacket {
	return &PESPacket{
		PID:        b.pid,
		StreamType: b.streamType,
		Payload:    b.data,
	}
}
