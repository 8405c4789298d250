package mpegts

import (
	"errors"
	"fmt"

	"github.com/q191201771/naza/pkg/bele"
)

// ErrInvalidStartCode is returned when a PES packet does not begin with
// the 0x000001 start code prefix.
var ErrInvalidStartCode = errors.New("mpegts: invalid PES start code")

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether streams with this id carry the optional
// PES header. padding_stream (0xBE), private_stream_2 (0xBF), ECM (0xF0),
// EMM (0xF1), DSMCC (0xF2), H.222.1 type E (0xF8) and the program stream
// directory (0xFF) do not.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// ParsePESHeader parses the PES header at the start of b. It never reads
// past len(b); a header that does not fit is an error.
func ParsePESHeader(b []byte) (*PESHeader, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(b))
	}
	if !isPESPayload(b) {
		return nil, ErrInvalidStartCode
	}

	h := &PESHeader{
		StreamID:     b[3],
		PacketLength: int(bele.BeUint16(b[4:])),
		DataOffset:   6,
	}

	if !hasOptionalHeader(h.StreamID) {
		return h, nil
	}

	if len(b) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// b[6]: marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
	// b[7]: PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
	// b[8]: PES_header_data_length
	ptsDTSIndicator := b[7] >> 6 & 0x03
	headerDataLength := int(b[8])

	h.DataOffset = 9 + headerDataLength
	if h.DataOffset > len(b) {
		return nil, fmt.Errorf("mpegts: PES header data length %d exceeds packet", headerDataLength)
	}

	h.OptionalHeader = &PESOptionalHeader{HeaderDataLength: headerDataLength}

	switch ptsDTSIndicator {
	case 2: // PTS only
		if headerDataLength < 5 {
			return nil, fmt.Errorf("mpegts: PES header too short for PTS")
		}
		h.OptionalHeader.PTS = parsePTSOrDTS(b[9:14])
	case 3: // PTS + DTS
		if headerDataLength < 10 {
			return nil, fmt.Errorf("mpegts: PES header too short for PTS/DTS")
		}
		h.OptionalHeader.PTS = parsePTSOrDTS(b[9:14])
		h.OptionalHeader.DTS = parsePTSOrDTS(b[14:19])
	}

	return h, nil
}

// Data returns the elementary stream bytes following the PES header,
// bounded by the declared packet length when one is present.
func (p *PESPacket) Data() ([]byte, error) {
	h, err := p.Header()
	if err != nil {
		return nil, err
	}
	end := len(p.Payload)
	if h.PacketLength > 0 && 6+h.PacketLength < end {
		end = 6 + h.PacketLength
	}
	if h.DataOffset > end {
		return nil, fmt.Errorf("mpegts: PES header overruns declared length")
	}
	return p.Payload[h.DataOffset:end], nil
}

// parsePTSOrDTS extracts a 33-bit timestamp from 5 PES timestamp bytes.
func parsePTSOrDTS(bs []byte) *ClockReference {
	if len(bs) < 5 {
		return nil
	}
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
	return &ClockReference{Base: base}
}
