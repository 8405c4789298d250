package mpegts

import (
	"errors"
	"fmt"

	"github.com/q191201771/naza/pkg/bele"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	// maxSectionBuffer bounds PSI accumulation: a 1021-byte section plus
	// the packet payload it may straddle, with room for the pointer field.
	maxSectionBuffer = 4096
)

var (
	errSectionTruncated = errors.New("section truncated")
	errMisplacedTable   = errors.New("table on the wrong PID")
)

// psiTables holds every PAT and PMT section found in one PSI payload.
type psiTables struct {
	pats []*PATData
	pmts []*PMTData
}

// parsePSI walks the sections of a PSI payload starting with its pointer
// field. Stuffing (0xFF) and zero padding end the walk.
func parsePSI(payload []byte) (*psiTables, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("PSI payload too short")
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return nil, fmt.Errorf("PSI pointer field out of range")
	}

	tables := &psiTables{}

	for offset < len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF {
			break // stuffing bytes
		}
		if offset+3 > len(payload) {
			break
		}

		// section_syntax_indicator must be 1 for PAT/PMT.
		// Zero padding bytes will have this bit clear.
		if payload[offset+1]&0x80 == 0 {
			break
		}

		sectionLength := int(bele.BeUint16(payload[offset+1:]) & 0x0FFF)
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			return tables, errSectionTruncated
		}

		sectionData := payload[offset:sectionEnd]

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(sectionData)
			if err != nil {
				return tables, err
			}
			tables.pats = append(tables.pats, pat)

		case tableIDPMT:
			pmt, err := parsePMTSection(sectionData)
			if err != nil {
				return tables, err
			}
			tables.pmts = append(tables.pmts, pmt)
		}

		offset = sectionEnd
	}

	return tables, nil
}

func parsePATSection(data []byte) (*PATData, error) {
	if len(data) < 12 { // minimum: 8 header + 4 CRC
		return nil, fmt.Errorf("PAT too short")
	}
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("PAT %w", err)
	}

	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  transport_stream_id
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8..N-4] program entries (4 bytes each)
	// [N-4..N] CRC32

	pat := &PATData{
		TransportStreamID: bele.BeUint16(data[3:]),
	}
	entryEnd := len(data) - 4
	for i := 8; i+4 <= entryEnd; i += 4 {
		programNumber := bele.BeUint16(data[i:])
		pmtPID := bele.BeUint16(data[i+2:]) & 0x1FFF

		if programNumber == 0 {
			continue // NIT PID, skip
		}

		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  pmtPID,
		})
	}

	return pat, nil
}

func parsePMTSection(data []byte) (*PMTData, error) {
	if len(data) < 16 { // minimum: 12 header + 4 CRC
		return nil, fmt.Errorf("PMT too short")
	}
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("PMT %w", err)
	}

	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  program_number
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8-9]  reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...] program descriptors
	// [...] elementary stream entries
	// [...] CRC32

	pmt := &PMTData{
		ProgramNumber: bele.BeUint16(data[3:]),
		PCRPID:        bele.BeUint16(data[8:]) & 0x1FFF,
	}

	programInfoLength := int(bele.BeUint16(data[10:]) & 0x0FFF)
	offset := 12 + programInfoLength
	entriesEnd := len(data) - 4

	for offset+5 <= entriesEnd {
		streamType := StreamType(data[offset])
		elementaryPID := bele.BeUint16(data[offset+1:]) & 0x1FFF
		esInfoLength := int(bele.BeUint16(data[offset+3:]) & 0x0FFF)

		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			ElementaryPID: elementaryPID,
			StreamType:    streamType,
		})

		offset += 5 + esInfoLength
	}
	if offset > entriesEnd {
		return nil, fmt.Errorf("PMT ES info overruns section")
	}

	return pmt, nil
}

// isPSIComplete checks whether an accumulated PSI payload holds every
// section it announces.
func isPSIComplete(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return false
	}

	// Walk sections.
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		// section_syntax_indicator must be 1 for PAT/PMT.
		// Zero-padding bytes will have this bit clear.
		if payload[offset+1]&0x80 == 0 {
			return true // not a valid section header, treat as padding
		}
		sectionLength := int(bele.BeUint16(payload[offset+1:]) & 0x0FFF)
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}
