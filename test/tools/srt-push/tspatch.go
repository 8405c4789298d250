package main

import (
	"github.com/q191201771/naza/pkg/bele"

	"github.com/zsiec/klvts/internal/mpegts"
	"github.com/zsiec/klvts/internal/stanag4609"
)

// timestampMask keeps values inside the 33-bit 90 kHz timestamp range.
const timestampMask = 1<<33 - 1

type stampKind uint8

const (
	stampPTS stampKind = iota
	stampDTS
	stampPCR
)

// stamp is one timestamp field in the file with the value it had when the
// file was read.
type stamp struct {
	offset int
	kind   stampKind
	value  int64
}

// timestampIndex records every PCR and every PTS/DTS of audio, video and
// synchronous metadata PES packets. Metadata timestamps are rewritten with
// the video so KLV stays on its frames across loops.
type timestampIndex struct {
	stamps []stamp

	// firstVideo and lastVideo bound the video PTS range, or are -1 when
	// the file has no video timestamps.
	firstVideo int64
	lastVideo  int64
}

func indexTimestamps(data []byte) *timestampIndex {
	ix := &timestampIndex{firstVideo: -1, lastVideo: -1}

	for off := 0; off+mpegts.PacketSize <= len(data); off += mpegts.PacketSize {
		raw := data[off : off+mpegts.PacketSize]
		pkt, err := mpegts.ParsePacket(raw)
		if err != nil {
			continue
		}
		if pkt.Header.HasAdaptationField {
			if at, ok := pcrOffset(raw); ok {
				ix.stamps = append(ix.stamps, stamp{offset: off + at, kind: stampPCR, value: readPCR(raw[at:])})
			}
		}
		if !pkt.Header.PayloadUnitStartIndicator || len(pkt.Payload) == 0 {
			continue
		}

		hdr, err := mpegts.ParsePESHeader(pkt.Payload)
		if err != nil || hdr.OptionalHeader == nil || !timedStream(hdr.StreamID) {
			continue
		}
		pesAt := off + mpegts.PacketSize - len(pkt.Payload)
		if pts := hdr.OptionalHeader.PTS; pts != nil {
			ix.stamps = append(ix.stamps, stamp{offset: pesAt + 9, kind: stampPTS, value: pts.Base})
			if isVideo(hdr.StreamID) {
				ix.observeVideo(pts.Base)
			}
		}
		if dts := hdr.OptionalHeader.DTS; dts != nil {
			ix.stamps = append(ix.stamps, stamp{offset: pesAt + 14, kind: stampDTS, value: dts.Base})
		}
	}
	return ix
}

func (ix *timestampIndex) observeVideo(pts int64) {
	if ix.firstVideo < 0 || pts < ix.firstVideo {
		ix.firstVideo = pts
	}
	if pts > ix.lastVideo {
		ix.lastVideo = pts
	}
}

// span is the playback length of one pass in 90 kHz ticks: the video PTS
// range plus one frame. It is zero without at least two video frames.
func (ix *timestampIndex) span(frameTicks int64) int64 {
	if ix.firstVideo < 0 || ix.lastVideo <= ix.firstVideo {
		return 0
	}
	return ix.lastVideo - ix.firstVideo + frameTicks
}

// rebase rewrites every indexed field in data to its original value plus
// offset, wrapping at 33 bits.
func (ix *timestampIndex) rebase(data []byte, offset int64) {
	for _, s := range ix.stamps {
		v := (s.value + offset) & timestampMask
		if s.kind == stampPCR {
			writePCR(data[s.offset:], v)
		} else {
			writePTS(data[s.offset:], v)
		}
	}
}

func isVideo(streamID uint8) bool {
	return streamID >= 0xE0 && streamID <= 0xEF
}

// timedStream reports whether PES packets with streamID are retimed:
// MPEG audio, video and synchronous metadata.
func timedStream(streamID uint8) bool {
	return (streamID >= 0xC0 && streamID <= 0xDF) || isVideo(streamID) ||
		streamID == stanag4609.MetadataStreamID
}

// pcrOffset returns the position of the 6-byte PCR field in a packet
// whose adaptation field carries one.
func pcrOffset(pkt []byte) (int, bool) {
	afLen := int(pkt[4])
	if afLen < 7 || pkt[5]&0x10 == 0 {
		return 0, false
	}
	return 6, true
}

// writePTS stores a 33-bit timestamp in the 5-byte PES encoding. The
// '0010'/'0011'/'0001' prefix nibble of b[0] is kept.
func writePTS(b []byte, v int64) {
	b[0] = b[0]&0xF0 | byte(v>>29)&0x0E | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte(v>>14)&0xFE | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte(v<<1)&0xFE | 0x01
}

// readPCR returns the 33-bit 90 kHz base of a 6-byte PCR field.
func readPCR(b []byte) int64 {
	return int64(bele.BeUint32(b))<<1 | int64(b[4]>>7)
}

// writePCR stores a 33-bit base in a 6-byte PCR field, keeping the 9-bit
// 27 MHz extension.
func writePCR(b []byte, base int64) {
	bele.BePutUint32(b, uint32(base>>1))
	b[4] = byte(base&1)<<7 | 0x7E | b[4]&0x01
}
