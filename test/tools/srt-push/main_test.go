package main

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/klvts/internal/klvgen"
	"github.com/zsiec/klvts/internal/mpegts"
	"github.com/zsiec/klvts/internal/stanag4609"
)

func TestSelectDuration(t *testing.T) {
	tests := []struct {
		name     string
		override float64
		scanned  float64
		want     float64
	}{
		{"override takes precedence", 30.0, 25.0, 30.0},
		{"scanned used when no override", 0, 25.0, 25.0},
		{"default 60s when all zero", 0, 0, 60.0},
		{"negative override ignored", -1, 25.0, 25.0},
		{"negative scan ignored", 0, -1, 60.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectDuration(tt.override, tt.scanned)
			if got != tt.want {
				t.Errorf("selectDuration(%v, %v) = %v, want %v",
					tt.override, tt.scanned, got, tt.want)
			}
		})
	}
}

func TestPlayerLoopsWithContinuousTimestamps(t *testing.T) {
	t.Parallel()
	cfg := klvgen.DefaultConfig()
	cfg.Frames = 10
	cfg.AsyncPID = 0

	var src bytes.Buffer
	require.NoError(t, klvgen.Write(context.Background(), &src, cfg))
	data := src.Bytes()

	stamps := indexTimestamps(data)
	span := stamps.span(cfg.FrameDuration)
	require.Equal(t, int64(cfg.Frames)*cfg.FrameDuration, span)

	var out bytes.Buffer
	p := &player{
		data:        data,
		stamps:      stamps,
		loopDelta:   span,
		bytesPerSec: math.Inf(1),
		chunkSize:   188 * 7,
		streamID:    "test",
		loop:        true,
		maxLoops:    2,
	}
	require.NoError(t, p.run(&out))
	require.Equal(t, 2*len(data), out.Len())

	parser := stanag4609.NewTransportStreamParser(&out,
		stanag4609.ParserOptStreamReader(mpegts.StreamReaderOptFlushOnEOF()))
	streams, err := parser.ParseAll(context.Background())
	require.NoError(t, err)

	got := streams[cfg.SyncPID]
	require.Len(t, got, 2*cfg.Frames)
	for i, pkt := range got {
		assert.Equal(t, cfg.PTS(i), pkt.PresentationTimestamp, "unit %d", i)
	}
}
