package stanag4609

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/klvts/internal/mpegts"
)

// MetadataStreamTypes are the PMT stream types that carry KLV.
var MetadataStreamTypes = []mpegts.StreamType{
	mpegts.StreamTypePrivateData,
	mpegts.StreamTypeMetadataPES,
}

// TransportStreamParser decodes every KLV metadata unit in a transport
// stream read from an io.Reader.
type TransportStreamParser struct {
	log        *slog.Logger
	r          io.Reader
	handler    *Handler
	readerOpts []func(*mpegts.StreamReader)
}

// NewTransportStreamParser creates a parser over r.
func NewTransportStreamParser(r io.Reader, opts ...func(*TransportStreamParser)) *TransportStreamParser {
	p := &TransportStreamParser{
		log: slog.Default(),
		r:   r,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.handler == nil {
		p.handler = NewHandler(HandlerOptLogger(p.log))
	}
	p.log = p.log.With("component", "stanag4609")
	return p
}

// ParserOptLogger sets the logger. Nil keeps slog.Default().
func ParserOptLogger(log *slog.Logger) func(*TransportStreamParser) {
	return func(p *TransportStreamParser) {
		if log != nil {
			p.log = log
		}
	}
}

// ParserOptHandler replaces the PES packet handler.
func ParserOptHandler(h *Handler) func(*TransportStreamParser) {
	return func(p *TransportStreamParser) {
		p.handler = h
	}
}

// ParserOptStreamReader passes options to the underlying StreamReader,
// e.g. the packet size or demuxer limits.
func ParserOptStreamReader(opts ...func(*mpegts.StreamReader)) func(*TransportStreamParser) {
	return func(p *TransportStreamParser) {
		p.readerOpts = append(p.readerOpts, opts...)
	}
}

// Parse reads the stream to the end and calls fn for each decoded metadata
// unit as soon as it is complete. Units that fail to decode are logged and
// skipped. Parse returns nil at end of stream, or the read, context or
// buffer overflow error that stopped it.
func (p *TransportStreamParser) Parse(ctx context.Context, fn func(pid uint16, pkt *DecodedKLVMetadataPacket)) error {
	opts := append([]func(*mpegts.StreamReader){
		mpegts.StreamReaderOptDemuxer(
			mpegts.DemuxerOptLogger(p.log),
			mpegts.DemuxerOptStreamTypes(MetadataStreamTypes...),
		),
	}, p.readerOpts...)

	sr, err := mpegts.NewStreamReader(ctx, p.r, opts...)
	if err != nil {
		return err
	}

	for {
		pes, err := sr.NextPES()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		pkt, err := p.handler.HandlePESPacket(pes)
		if err != nil {
			p.log.Debug("metadata packet dropped", "pid", pes.PID, "error", err)
			continue
		}
		if pkt != nil {
			fn(pes.PID, pkt)
		}
	}
}

// ParseAll reads the whole stream and returns the decoded units of each
// metadata PID in stream order.
func (p *TransportStreamParser) ParseAll(ctx context.Context) (map[uint16][]*DecodedKLVMetadataPacket, error) {
	streams := make(map[uint16][]*DecodedKLVMetadataPacket)
	err := p.Parse(ctx, func(pid uint16, pkt *DecodedKLVMetadataPacket) {
		streams[pid] = append(streams[pid], pkt)
	})
	if err != nil {
		return nil, err
	}
	return streams, nil
}
