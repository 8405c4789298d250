package klvgen

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/klvts/internal/klv"
	"github.com/zsiec/klvts/internal/mpegts"
	"github.com/zsiec/klvts/internal/stanag4609"
)

func TestEncodeUASLocalSet(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	b := EncodeUASLocalSet(cfg.Start)

	set, err := klv.NewDecoder(stanag4609.UASContext).Decode(b)
	require.NoError(t, err)
	ls, ok := set.Nested(stanag4609.UASLocalSet)
	require.True(t, ok)

	ts, _ := ls.Unsigned(stanag4609.Timestamp)
	assert.Equal(t, uint64(1231798102000000), ts)
	mission, _ := ls.Text(stanag4609.MissionID)
	assert.Equal(t, "KLVTS01", mission)

	lat, _ := ls.Float(stanag4609.SensorLatitude)
	assert.InDelta(t, cfg.Start.Latitude, lat, 1e-7)
	lon, _ := ls.Float(stanag4609.SensorLongitude)
	assert.InDelta(t, cfg.Start.Longitude, lon, 1e-7)
	alt, _ := ls.Float(stanag4609.SensorTrueAltitude)
	assert.InDelta(t, cfg.Start.Altitude, alt, 0.2)

	sum, _ := ls.Unsigned(stanag4609.Checksum)
	assert.Equal(t, uint64(stanag4609.ComputeChecksum(b[:len(b)-2])), sum)
}

func TestEncodeIEFP_Clamps(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(0), encodeIEFP(-1000, -900, 19000, 0, 65535))
	assert.Equal(t, int64(65535), encodeIEFP(20000, -900, 19000, 0, 65535))
	assert.Equal(t, int64(0), encodeIEFP(0, -90, 90, -(1<<31 - 1), 1<<31-1))
}

func TestAccessUnitCell(t *testing.T) {
	t.Parallel()
	cell := AccessUnitCell(7, []byte{0xAA, 0xBB, 0xCC})
	assert.Equal(t, []byte{0x00, 0x07, 0xDF, 0x00, 0x03, 0xAA, 0xBB, 0xCC}, cell)
}

func TestWrite_RoundTrip(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Frames = 45
	cfg.AsyncEvery = 15

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, cfg))
	require.Zero(t, buf.Len()%mpegts.PacketSize)

	p := stanag4609.NewTransportStreamParser(&buf,
		stanag4609.ParserOptStreamReader(mpegts.StreamReaderOptFlushOnEOF()))
	streams, err := p.ParseAll(context.Background())
	require.NoError(t, err)

	sync := streams[cfg.SyncPID]
	require.Len(t, sync, cfg.Frames)
	for i, pkt := range sync {
		assert.Equal(t, cfg.PTS(i), pkt.PresentationTimestamp)
	}

	async := streams[cfg.AsyncPID]
	require.Len(t, async, 3)
	ls, ok := async[2].KLV.Nested(stanag4609.UASLocalSet)
	require.True(t, ok)
	lat, _ := ls.Float(stanag4609.SensorLatitude)
	assert.InDelta(t, cfg.SampleAt(30).Latitude, lat, 1e-7)
}

func TestWrite_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Write(ctx, &bytes.Buffer{}, DefaultConfig()), context.Canceled)
}
