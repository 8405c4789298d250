package stanag4609

import (
	"log/slog"

	"github.com/zsiec/klvts/internal/klv"
	"github.com/zsiec/klvts/internal/mpegts"
)

// Handler turns completed PES packets into decoded metadata units. It holds
// no per-stream state and may be shared between sessions.
type Handler struct {
	log     *slog.Logger
	decoder *klv.Decoder
}

// NewHandler creates a Handler decoding against UASContext.
func NewHandler(opts ...func(*Handler)) *Handler {
	h := &Handler{
		log:     slog.Default(),
		decoder: klv.NewDecoder(UASContext),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "stanag4609")
	return h
}

// HandlerOptLogger sets the logger. Nil keeps slog.Default().
func HandlerOptLogger(log *slog.Logger) func(*Handler) {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// HandlerOptContext decodes against a different KLV dictionary. The
// dictionary must still describe the UAS Datalink Local Set for checksum
// validation to pass.
func HandlerOptContext(ctx *klv.Context) func(*Handler) {
	return func(h *Handler) {
		h.decoder = klv.NewDecoder(ctx)
	}
}

// HandlePESPacket decodes the KLV carried by pes. It returns (nil, nil)
// for stream ids other than 0xFC and 0xBD and for packets holding no KLV
// bytes. Errors are *mpegts.ParseError for a malformed PES header and
// *klv.DecodingError for KLV that cannot be extracted, decoded or
// checksummed.
func (h *Handler) HandlePESPacket(pes *mpegts.PESPacket) (*DecodedKLVMetadataPacket, error) {
	hdr, err := pes.Header()
	if err != nil {
		return nil, &mpegts.ParseError{Table: "PES", PID: pes.PID, Err: err}
	}

	kind := Classify(hdr.StreamID)
	if kind == KindNone {
		h.log.Debug("unknown stream id, packet skipped", "pid", pes.PID, "stream_id", hdr.StreamID)
		return nil, nil
	}

	b, pts, err := kind.extractKLV(pes.Payload, hdr)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}

	set, err := h.decoder.Decode(b)
	if err != nil {
		return nil, err
	}
	if err := validateChecksum(set, b); err != nil {
		return nil, err
	}
	return &DecodedKLVMetadataPacket{PresentationTimestamp: pts, KLV: set}, nil
}
