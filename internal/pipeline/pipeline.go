// Package pipeline runs one transport stream session: it demuxes an input
// byte stream, hands completed PES packets to a PESSink and decoded STANAG
// 4609 metadata to a KLVSink, while collecting counters for monitoring.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/klvts/internal/mpegts"
	"github.com/zsiec/klvts/internal/stanag4609"
)

//go:generate mockgen -destination=mock_sinks_test.go -package=pipeline . KLVSink,PESSink

// KLVSink receives decoded metadata units, in stream order, from the
// session goroutine.
type KLVSink interface {
	OnKLV(pid uint16, pkt *stanag4609.DecodedKLVMetadataPacket)
}

// PESSink receives every completed PES packet on a tracked PID.
type PESSink interface {
	OnPES(pes *mpegts.PESPacket)
}

// Snapshot is a point-in-time view of a session's counters, suitable for
// JSON serialization.
type Snapshot struct {
	StreamKey  string       `json:"streamKey"`
	Protocol   string       `json:"protocol,omitempty"`
	Timestamp  int64        `json:"timestamp"`
	UptimeMs   int64        `json:"uptimeMs"`
	PESPackets int64        `json:"pesPackets"`
	KLVDecoded int64        `json:"klvDecoded"`
	KLVDropped int64        `json:"klvDropped"`
	LastPTS    int64        `json:"lastPts"`
	Skipped    int64        `json:"skippedBytes"`
	Demux      mpegts.Stats `json:"demux"`
}

// Pipeline is one transport stream session. Run must be called at most
// once; Snapshot may be called concurrently with it.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	handler   *stanag4609.Handler
	klv       KLVSink
	pes       PESSink
	protocol  string
	startTime time.Time

	readerOpts []func(*mpegts.StreamReader)
	demuxOpts  []func(*mpegts.Demuxer)

	pesPackets atomic.Int64
	klvDecoded atomic.Int64
	klvDropped atomic.Int64
	lastPTS    atomic.Int64
	skipped    atomic.Int64

	mu         sync.Mutex
	demuxStats mpegts.Stats
}

// New creates a Pipeline reading transport stream bytes from input.
func New(streamKey string, input io.Reader, opts ...func(*Pipeline)) *Pipeline {
	p := &Pipeline{
		log:       slog.Default(),
		streamKey: streamKey,
		input:     input,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("stream", streamKey)
	if p.handler == nil {
		p.handler = stanag4609.NewHandler(stanag4609.HandlerOptLogger(p.log))
	}
	p.lastPTS.Store(stanag4609.NoTimestamp)
	return p
}

// PipelineOptLogger sets the logger. Nil keeps slog.Default().
func PipelineOptLogger(log *slog.Logger) func(*Pipeline) {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// PipelineOptKLVSink sets the receiver of decoded metadata.
func PipelineOptKLVSink(s KLVSink) func(*Pipeline) {
	return func(p *Pipeline) {
		p.klv = s
	}
}

// PipelineOptPESSink sets the receiver of raw PES packets. Without one,
// only metadata PIDs are reassembled.
func PipelineOptPESSink(s PESSink) func(*Pipeline) {
	return func(p *Pipeline) {
		p.pes = s
	}
}

// PipelineOptHandler replaces the metadata handler.
func PipelineOptHandler(h *stanag4609.Handler) func(*Pipeline) {
	return func(p *Pipeline) {
		p.handler = h
	}
}

// PipelineOptStreamReader passes options to the session's StreamReader.
func PipelineOptStreamReader(opts ...func(*mpegts.StreamReader)) func(*Pipeline) {
	return func(p *Pipeline) {
		p.readerOpts = append(p.readerOpts, opts...)
	}
}

// PipelineOptDemuxer passes options to the session's Demuxer.
func PipelineOptDemuxer(opts ...func(*mpegts.Demuxer)) func(*Pipeline) {
	return func(p *Pipeline) {
		p.demuxOpts = append(p.demuxOpts, opts...)
	}
}

// SetProtocol records the ingest protocol name (e.g. "SRT") for the
// snapshot.
func (p *Pipeline) SetProtocol(proto string) {
	p.protocol = proto
}

// Snapshot returns the session counters.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	demux := p.demuxStats
	p.mu.Unlock()

	return Snapshot{
		StreamKey:  p.streamKey,
		Protocol:   p.protocol,
		Timestamp:  time.Now().UnixMilli(),
		UptimeMs:   time.Since(p.startTime).Milliseconds(),
		PESPackets: p.pesPackets.Load(),
		KLVDecoded: p.klvDecoded.Load(),
		KLVDropped: p.klvDropped.Load(),
		LastPTS:    p.lastPTS.Load(),
		Skipped:    p.skipped.Load(),
		Demux:      demux,
	}
}

// Run demuxes the input until it ends, the context is cancelled or the
// session fails. End of input and cancellation return nil. A PID that
// outgrows its reassembly buffer ends the session with an error wrapping
// mpegts.ErrBufferOverflow.
func (p *Pipeline) Run(ctx context.Context) error {
	demuxOpts := []func(*mpegts.Demuxer){
		mpegts.DemuxerOptLogger(p.log),
	}
	if p.pes == nil {
		demuxOpts = append(demuxOpts, mpegts.DemuxerOptStreamTypes(stanag4609.MetadataStreamTypes...))
	}
	demuxOpts = append(demuxOpts, p.demuxOpts...)

	opts := append([]func(*mpegts.StreamReader){mpegts.StreamReaderOptDemuxer(demuxOpts...)}, p.readerOpts...)
	sr, err := mpegts.NewStreamReader(ctx, p.input, opts...)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer p.recordDemux(sr)

	p.log.Info("session started", "protocol", p.protocol)
	for {
		pes, err := sr.NextPES()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			p.log.Info("session ended", "pes", p.pesPackets.Load(), "klv", p.klvDecoded.Load())
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, mpegts.ErrBufferOverflow):
			p.log.Error("session failed", "error", err)
			return fmt.Errorf("pipeline: stream %s: %w", p.streamKey, err)
		default:
			p.log.Warn("read failed", "error", err)
			return fmt.Errorf("pipeline: stream %s: %w", p.streamKey, err)
		}

		p.pesPackets.Add(1)
		p.recordDemux(sr)
		p.forward(pes)
	}
}

func (p *Pipeline) forward(pes *mpegts.PESPacket) {
	if p.pes != nil {
		p.pes.OnPES(pes)
	}
	if p.klv == nil || !pes.StreamType.IsMetadata() {
		return
	}

	pkt, err := p.handler.HandlePESPacket(pes)
	if err != nil {
		p.klvDropped.Add(1)
		p.log.Debug("metadata packet dropped", "pid", pes.PID, "error", err)
		return
	}
	if pkt == nil {
		return
	}
	p.klvDecoded.Add(1)
	if pkt.HasTimestamp() {
		p.lastPTS.Store(pkt.PresentationTimestamp)
	}
	p.klv.OnKLV(pes.PID, pkt)
}

func (p *Pipeline) recordDemux(sr *mpegts.StreamReader) {
	stats := sr.Demuxer().Stats()
	p.mu.Lock()
	p.demuxStats = stats
	p.mu.Unlock()
	p.skipped.Store(sr.Skipped())
}
