// Package mpegts implements MPEG-TS demuxing for transport stream parsing.
// It tracks PAT/PMT routing state, reassembles PES packets per PID, and
// parses PES headers including PTS/DTS.
package mpegts

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Programs          []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    StreamType
}

// PESPacket is a reassembled Packetized Elementary Stream packet. Payload is
// the concatenation of every transport packet payload between one payload
// unit start (inclusive) and the next (exclusive), header included.
type PESPacket struct {
	PID        uint16
	StreamType StreamType
	Payload    []byte
}

// Header parses the PES header at the start of the payload.
func (p *PESPacket) Header() (*PESHeader, error) {
	return ParsePESHeader(p.Payload)
}

// PESHeader contains the parsed PES packet header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
	// PacketLength is the declared PES_packet_length: the number of bytes
	// following the length field. Zero means unbounded.
	PacketLength int
	// DataOffset is the offset of the first payload byte after the header.
	DataOffset int
}

// PESOptionalHeader carries optional PES fields including timestamps.
type PESOptionalHeader struct {
	PTS              *ClockReference
	DTS              *ClockReference
	HeaderDataLength int
}

// ClockReference holds a 33-bit MPEG-TS timestamp base value (90 kHz clock).
type ClockReference struct {
	Base int64
}
