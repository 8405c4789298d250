package stanag4609

import (
	"errors"
	"fmt"

	"github.com/q191201771/naza/pkg/nazabits"

	"github.com/zsiec/klvts/internal/klv"
	"github.com/zsiec/klvts/internal/mpegts"
)

// PES stream ids of STANAG 4609 metadata streams.
const (
	MetadataStreamID = 0xFC
	PrivateStreamID  = 0xBD
)

// NoTimestamp is the presentation timestamp of asynchronous metadata.
const NoTimestamp int64 = -1

const (
	// asyncHeaderLength is the size of the PES header preceding
	// asynchronous KLV: start code, stream id, length and the three
	// optional header bytes.
	asyncHeaderLength = 9
	// auCellHeaderLength is the size of a metadata access unit cell header.
	auCellHeaderLength = 5
)

var (
	// ErrNoPTS reports a synchronous metadata unit whose PES header has no PTS.
	ErrNoPTS        = errors.New("stanag4609: synchronous metadata without PTS")
	// ErrShortPayload reports a payload that ends before its declared length.
	ErrShortPayload = errors.New("stanag4609: payload shorter than declared length")
)

// DecodedKLVMetadataPacket is one decoded metadata unit.
type DecodedKLVMetadataPacket struct {
	// PresentationTimestamp is in 90 kHz ticks, or NoTimestamp.
	PresentationTimestamp int64
	KLV                   *klv.Set
}

// HasTimestamp reports whether the unit is synchronized with video.
func (p *DecodedKLVMetadataPacket) HasTimestamp() bool {
	return p.PresentationTimestamp != NoTimestamp
}

// MetadataKind tells how a PES packet carries KLV.
type MetadataKind uint8

const (
	KindNone MetadataKind = iota
	KindSynchronous
	KindAsynchronous
)

func (k MetadataKind) String() string {
	switch k {
	case KindSynchronous:
		return "synchronous"
	case KindAsynchronous:
		return "asynchronous"
	}
	return "none"
}

// Classify maps a PES stream id to the metadata kind it carries.
func Classify(streamID uint8) MetadataKind {
	switch streamID {
	case MetadataStreamID:
		return KindSynchronous
	case PrivateStreamID:
		return KindAsynchronous
	}
	return KindNone
}

// extractKLV returns the KLV bytes of a PES packet and its timestamp. An
// empty region yields nil bytes. Declared lengths that run past the
// payload fail with a *klv.DecodingError whose offset is in payload
// coordinates.
func (k MetadataKind) extractKLV(payload []byte, h *mpegts.PESHeader) ([]byte, int64, error) {
	switch k {
	case KindSynchronous:
		return extractSynchronous(payload, h)
	case KindAsynchronous:
		return extractAsynchronous(payload, h)
	}
	return nil, NoTimestamp, fmt.Errorf("stanag4609: %s packets carry no KLV", k)
}

func extractAsynchronous(payload []byte, h *mpegts.PESHeader) ([]byte, int64, error) {
	n := h.PacketLength - 3
	if n <= 0 {
		return nil, NoTimestamp, nil
	}
	if asyncHeaderLength+n > len(payload) {
		return nil, NoTimestamp, &klv.DecodingError{
			Offset: asyncHeaderLength,
			Err:    fmt.Errorf("%w: %d KLV bytes, %d available", ErrShortPayload, n, max(len(payload)-asyncHeaderLength, 0)),
		}
	}
	return payload[asyncHeaderLength : asyncHeaderLength+n], NoTimestamp, nil
}

func extractSynchronous(payload []byte, h *mpegts.PESHeader) ([]byte, int64, error) {
	if h.OptionalHeader == nil || h.OptionalHeader.PTS == nil {
		return nil, NoTimestamp, &klv.DecodingError{Offset: 0, Err: ErrNoPTS}
	}
	pts := h.OptionalHeader.PTS.Base

	// The declared length counts the three optional header bytes and the
	// header data that follow the length field.
	start := h.DataOffset
	n := h.PacketLength - (3 + h.OptionalHeader.HeaderDataLength)
	if n <= auCellHeaderLength {
		return nil, pts, nil
	}
	if start+n > len(payload) {
		return nil, pts, &klv.DecodingError{
			Offset: start,
			Err:    fmt.Errorf("%w: access unit of %d bytes, %d available", ErrShortPayload, n, max(len(payload)-start, 0)),
		}
	}

	au := payload[start : start+n]
	var out []byte
	for off := 0; off < len(au); {
		cell, err := parseAUCell(au[off:])
		if err != nil {
			return nil, pts, &klv.DecodingError{Offset: start + off, Err: err}
		}
		out = append(out, cell.data...)
		off += auCellHeaderLength + len(cell.data)
	}
	return out, pts, nil
}

// auCell is one metadata access unit cell (ISO/IEC 13818-1 2.12.4).
type auCell struct {
	serviceID         uint8
	sequenceNumber    uint8
	fragmentIndicator uint8
	decoderConfig     bool
	randomAccess      bool
	data              []byte
}

func parseAUCell(b []byte) (auCell, error) {
	var c auCell
	if len(b) < auCellHeaderLength {
		return c, fmt.Errorf("%w: %d byte cell header", ErrShortPayload, len(b))
	}
	br := nazabits.NewBitReader(b)
	c.serviceID, _ = br.ReadBits8(8)
	c.sequenceNumber, _ = br.ReadBits8(8)
	c.fragmentIndicator, _ = br.ReadBits8(2)
	flag, _ := br.ReadBits8(1)
	c.decoderConfig = flag == 1
	flag, _ = br.ReadBits8(1)
	c.randomAccess = flag == 1
	_, _ = br.ReadBits8(4) // reserved
	length, _ := br.ReadBits16(16)

	if int(length) > len(b)-auCellHeaderLength {
		return c, fmt.Errorf("%w: cell of %d bytes, %d available", ErrShortPayload, length, len(b)-auCellHeaderLength)
	}
	c.data = b[auCellHeaderLength : auCellHeaderLength+int(length)]
	return c, nil
}
