package mpegts

import (
	"context"
	"errors"
	"io"
)

// StreamReader pulls PES packets out of a transport stream byte source. It
// couples a PacketReader to a Demuxer for callers that prefer an iterator
// over the push API.
type StreamReader struct {
	ctx        context.Context
	reader     io.Reader
	packets    *PacketReader
	demux      *Demuxer
	pktSize    int
	demuxOpts  []func(*Demuxer)
	flushOnEOF bool
	eof        bool
	eofData    []*PESPacket
}

// NewStreamReader creates a StreamReader over r.
func NewStreamReader(ctx context.Context, r io.Reader, opts ...func(*StreamReader)) (*StreamReader, error) {
	sr := &StreamReader{
		ctx:     ctx,
		reader:  r,
		pktSize: PacketSize,
	}
	for _, opt := range opts {
		opt(sr)
	}
	pr, err := NewPacketReader(r, sr.pktSize)
	if err != nil {
		return nil, err
	}
	sr.packets = pr
	sr.demux = NewDemuxer(sr.demuxOpts...)
	return sr, nil
}

// StreamReaderOptPacketSize sets the packet size (188, or 192 for streams
// with a timestamp prefix).
func StreamReaderOptPacketSize(size int) func(*StreamReader) {
	return func(sr *StreamReader) {
		sr.pktSize = size
	}
}

// StreamReaderOptDemuxer passes options to the underlying Demuxer.
func StreamReaderOptDemuxer(opts ...func(*Demuxer)) func(*StreamReader) {
	return func(sr *StreamReader) {
		sr.demuxOpts = append(sr.demuxOpts, opts...)
	}
}

// StreamReaderOptFlushOnEOF emits PES packets still open at end of stream
// instead of discarding them.
func StreamReaderOptFlushOnEOF() func(*StreamReader) {
	return func(sr *StreamReader) {
		sr.flushOnEOF = true
	}
}

// NextPES returns the next completed PES packet. It returns io.EOF when the
// source is exhausted, the context error if ctx is done, or
// ErrBufferOverflow if a PID exceeded the reassembly limit.
func (sr *StreamReader) NextPES() (*PESPacket, error) {
	for {
		// Drain EOF results.
		if sr.eof {
			if len(sr.eofData) > 0 {
				pes := sr.eofData[0]
				sr.eofData = sr.eofData[1:]
				return pes, nil
			}
			return nil, io.EOF
		}

		if err := sr.ctx.Err(); err != nil {
			return nil, err
		}

		pkt, err := sr.packets.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				sr.eof = true
				if sr.flushOnEOF {
					sr.eofData = sr.demux.Close()
				}
				continue
			}
			return nil, err
		}

		pes, err := sr.demux.Feed(pkt)
		if err != nil {
			return nil, err
		}
		if pes != nil {
			return pes, nil
		}
	}
}

// Demuxer returns the underlying demuxer, for routing queries and stats.
func (sr *StreamReader) Demuxer() *Demuxer {
	return sr.demux
}

// Skipped returns the number of bytes discarded while resynchronizing.
func (sr *StreamReader) Skipped() int64 {
	return sr.packets.Skipped()
}
