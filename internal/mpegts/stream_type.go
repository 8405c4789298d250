package mpegts

import "fmt"

// StreamType is the ISO/IEC 13818-1 stream_type carried in PMT entries.
type StreamType uint8

// Stream types that appear in STANAG 4609 and general broadcast streams.
const (
	StreamTypeUnknown         StreamType = 0x00
	StreamTypeMPEG1Video      StreamType = 0x01
	StreamTypeMPEG2Video      StreamType = 0x02
	StreamTypeMPEG1Audio      StreamType = 0x03
	StreamTypeMPEG2Audio      StreamType = 0x04
	StreamTypePrivateSection  StreamType = 0x05
	StreamTypePrivateData     StreamType = 0x06
	StreamTypeMHEG            StreamType = 0x07
	StreamTypeDSMCC           StreamType = 0x08
	StreamTypeAACADTS         StreamType = 0x0F
	StreamTypeMPEG4Video      StreamType = 0x10
	StreamTypeAACLATM         StreamType = 0x11
	StreamTypeMetadataPES     StreamType = 0x15
	StreamTypeMetadataSection StreamType = 0x16
	StreamTypeH264            StreamType = 0x1B
	StreamTypeJ2K             StreamType = 0x21
	StreamTypeH265            StreamType = 0x24
	StreamTypeAC3             StreamType = 0x81
	StreamTypeDTS             StreamType = 0x82
	StreamTypeSCTE35          StreamType = 0x86
)

var streamTypeNames = map[StreamType]string{
	StreamTypeMPEG1Video:      "MPEG-1 video",
	StreamTypeMPEG2Video:      "MPEG-2 video",
	StreamTypeMPEG1Audio:      "MPEG-1 audio",
	StreamTypeMPEG2Audio:      "MPEG-2 audio",
	StreamTypePrivateSection:  "private sections",
	StreamTypePrivateData:     "PES private data",
	StreamTypeMHEG:            "MHEG",
	StreamTypeDSMCC:           "DSM-CC",
	StreamTypeAACADTS:         "AAC ADTS",
	StreamTypeMPEG4Video:      "MPEG-4 video",
	StreamTypeAACLATM:         "AAC LATM",
	StreamTypeMetadataPES:     "metadata PES",
	StreamTypeMetadataSection: "metadata sections",
	StreamTypeH264:            "H.264",
	StreamTypeJ2K:             "JPEG 2000",
	StreamTypeH265:            "H.265",
	StreamTypeAC3:             "AC-3",
	StreamTypeDTS:             "DTS",
	StreamTypeSCTE35:          "SCTE-35",
}

func (t StreamType) String() string {
	if name, ok := streamTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%02X)", uint8(t))
}

// Known reports whether t is part of the enumeration.
func (t StreamType) Known() bool {
	_, ok := streamTypeNames[t]
	return ok
}

// IsVideo reports whether t carries a video elementary stream.
func (t StreamType) IsVideo() bool {
	switch t {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeMPEG4Video,
		StreamTypeH264, StreamTypeH265, StreamTypeJ2K:
		return true
	}
	return false
}

// IsMetadata reports whether t can carry KLV metadata in PES packets.
func (t StreamType) IsMetadata() bool {
	return t == StreamTypePrivateData || t == StreamTypeMetadataPES
}

// DefaultStreamTypes is the set of stream types tracked for reassembly
// unless overridden with DemuxerOptStreamTypes: video carriers plus the two
// PES-based metadata carriers.
var DefaultStreamTypes = []StreamType{
	StreamTypeMPEG1Video,
	StreamTypeMPEG2Video,
	StreamTypeMPEG4Video,
	StreamTypeH264,
	StreamTypeH265,
	StreamTypePrivateData,
	StreamTypeMetadataPES,
}
