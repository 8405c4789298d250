// Package klvgen synthesizes STANAG 4609 transport streams: UAS Datalink
// Local Sets on a synchronous and an asynchronous metadata PID next to a
// placeholder H.264 video PID. It backs the gen-klv tool and end-to-end
// tests.
package klvgen

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/asticode/go-astits"
	"github.com/q191201771/naza/pkg/bele"

	"github.com/zsiec/klvts/internal/klv"
	"github.com/zsiec/klvts/internal/stanag4609"
)

// Stream ids and types written by Write.
const (
	videoStreamID         = 0xE0
	streamTypePrivateData = 0x06
	streamTypeMetadataPES = 0x15
)

// accessUnitDelimiter is the H.264 NAL written as the placeholder picture.
var accessUnitDelimiter = []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xF0}

// Sample is one platform position, encoded as a UAS Datalink Local Set.
type Sample struct {
	Time           time.Time
	Mission        string
	Latitude       float64
	Longitude      float64
	Altitude       float64
	Classification uint8
}

// Config describes the stream Write produces.
type Config struct {
	Frames int
	// FrameDuration is in 90 kHz ticks.
	FrameDuration int64
	VideoPID      uint16
	// SyncPID and AsyncPID are the metadata PIDs; 0 disables one.
	SyncPID  uint16
	AsyncPID uint16
	// AsyncEvery writes one asynchronous unit per that many frames.
	AsyncEvery int

	Start          Sample
	LatitudeStep   float64
	LongitudeStep  float64
	AltitudeStep   float64
	FirstTimestamp int64
}

// DefaultConfig returns a 29.97 fps, ten second flight.
func DefaultConfig() Config {
	return Config{
		Frames:        300,
		FrameDuration: 3003,
		VideoPID:      0x100,
		SyncPID:       0x101,
		AsyncPID:      0x102,
		AsyncEvery:    30,
		Start: Sample{
			Time:           time.Date(2009, 1, 12, 22, 8, 22, 0, time.UTC),
			Mission:        "KLVTS01",
			Latitude:       60.176822967,
			Longitude:      128.42675904,
			Altitude:       14190.72,
			Classification: 1,
		},
		LatitudeStep:   0.0001,
		LongitudeStep:  0.0002,
		AltitudeStep:   0.5,
		FirstTimestamp: 90000,
	}
}

// PTS returns the presentation timestamp of frame i.
func (c Config) PTS(i int) int64 {
	return c.FirstTimestamp + int64(i)*c.FrameDuration
}

// SampleAt returns the platform position of frame i.
func (c Config) SampleAt(i int) Sample {
	s := c.Start
	s.Time = s.Time.Add(time.Duration(int64(i)*c.FrameDuration) * time.Second / 90000)
	s.Latitude += float64(i) * c.LatitudeStep
	s.Longitude += float64(i) * c.LongitudeStep
	s.Altitude += float64(i) * c.AltitudeStep
	return s
}

// Write muxes cfg.Frames frames into w.
func Write(ctx context.Context, w io.Writer, cfg Config) error {
	mx := astits.NewMuxer(ctx, w)
	if err := mx.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: cfg.VideoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		return fmt.Errorf("klvgen: add video stream: %w", err)
	}
	if cfg.SyncPID != 0 {
		if err := mx.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: cfg.SyncPID,
			StreamType:    streamTypeMetadataPES,
		}); err != nil {
			return fmt.Errorf("klvgen: add synchronous stream: %w", err)
		}
	}
	if cfg.AsyncPID != 0 {
		if err := mx.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: cfg.AsyncPID,
			StreamType:    streamTypePrivateData,
		}); err != nil {
			return fmt.Errorf("klvgen: add asynchronous stream: %w", err)
		}
	}
	mx.SetPCRPID(cfg.VideoPID)

	for i := 0; i < cfg.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pts := cfg.PTS(i)

		if _, err := mx.WriteData(&astits.MuxerData{
			PID: cfg.VideoPID,
			AdaptationField: &astits.PacketAdaptationField{
				HasPCR:                true,
				PCR:                   &astits.ClockReference{Base: pts},
				RandomAccessIndicator: i == 0,
			},
			PES: &astits.PESData{
				Header: &astits.PESHeader{
					StreamID: videoStreamID,
					OptionalHeader: &astits.PESOptionalHeader{
						MarkerBits:      2,
						PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
						PTS:             &astits.ClockReference{Base: pts},
					},
				},
				Data: accessUnitDelimiter,
			},
		}); err != nil {
			return fmt.Errorf("klvgen: write video frame %d: %w", i, err)
		}

		ls := EncodeUASLocalSet(cfg.SampleAt(i))

		if cfg.SyncPID != 0 {
			if _, err := mx.WriteData(&astits.MuxerData{
				PID: cfg.SyncPID,
				PES: &astits.PESData{
					Header: &astits.PESHeader{
						StreamID: stanag4609.MetadataStreamID,
						OptionalHeader: &astits.PESOptionalHeader{
							MarkerBits:             2,
							DataAlignmentIndicator: true,
							PTSDTSIndicator:        astits.PTSDTSIndicatorOnlyPTS,
							PTS:                    &astits.ClockReference{Base: pts},
						},
					},
					Data: AccessUnitCell(byte(i), ls),
				},
			}); err != nil {
				return fmt.Errorf("klvgen: write synchronous KLV %d: %w", i, err)
			}
		}

		if cfg.AsyncPID != 0 && cfg.AsyncEvery > 0 && i%cfg.AsyncEvery == 0 {
			if _, err := mx.WriteData(&astits.MuxerData{
				PID: cfg.AsyncPID,
				PES: &astits.PESData{
					Header: &astits.PESHeader{
						StreamID:       stanag4609.PrivateStreamID,
						OptionalHeader: &astits.PESOptionalHeader{MarkerBits: 2},
					},
					Data: ls,
				},
			}); err != nil {
				return fmt.Errorf("klvgen: write asynchronous KLV %d: %w", i, err)
			}
		}
	}
	return nil
}

// AccessUnitCell wraps data in a metadata access unit cell header: service
// id 0, complete cell, random access point.
func AccessUnitCell(seq byte, data []byte) []byte {
	cell := make([]byte, 5, 5+len(data))
	cell[1] = seq
	cell[2] = 0xDF
	bele.BePutUint16(cell[3:], uint16(len(data)))
	return append(cell, data...)
}

// EncodeUASLocalSet encodes s as a UAS Datalink Local Set terminated by a
// valid checksum.
func EncodeUASLocalSet(s Sample) []byte {
	var body []byte
	ts := make([]byte, 8)
	bele.BePutUint64(ts, uint64(s.Time.UnixMicro()))
	body = appendItem(body, 2, ts)
	if s.Mission != "" {
		body = appendItem(body, 3, []byte(s.Mission))
	}
	body = appendItem(body, 13, int32Bytes(encodeIEFP(s.Latitude, -90, 90, -math.MaxInt32, math.MaxInt32)))
	body = appendItem(body, 14, int32Bytes(encodeIEFP(s.Longitude, -180, 180, -math.MaxInt32, math.MaxInt32)))
	alt := make([]byte, 2)
	bele.BePutUint16(alt, uint16(encodeIEFP(s.Altitude, -900, 19000, 0, math.MaxUint16)))
	body = appendItem(body, 15, alt)
	body = appendItem(body, 48, appendItem(nil, 1, []byte{s.Classification}))
	body = append(body, 0x01, 0x02)

	out := append([]byte{}, stanag4609.UASLocalSetKey...)
	out = klv.AppendBERLength(out, len(body)+2)
	out = append(out, body...)

	sum := make([]byte, 2)
	bele.BePutUint16(sum, stanag4609.ComputeChecksum(out))
	return append(out, sum...)
}

func appendItem(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag)
	dst = klv.AppendBERLength(dst, len(value))
	return append(dst, value...)
}

func int32Bytes(v int64) []byte {
	b := make([]byte, 4)
	bele.BePutUint32(b, uint32(int32(v)))
	return b
}

// encodeIEFP maps v from [lo, hi] onto the integer range [encLo, encHi].
func encodeIEFP(v, lo, hi float64, encLo, encHi int64) int64 {
	v = math.Max(lo, math.Min(hi, v))
	return encLo + int64(math.Round((v-lo)*float64(encHi-encLo)/(hi-lo)))
}
