package tsutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/klvts/internal/klvgen"
	"github.com/zsiec/klvts/internal/mpegts"
	"github.com/zsiec/klvts/internal/stanag4609"
)

func generate(t *testing.T, frames int) (klvgen.Config, []byte) {
	t.Helper()
	cfg := klvgen.DefaultConfig()
	cfg.Frames = frames
	cfg.AsyncEvery = 5
	var buf bytes.Buffer
	require.NoError(t, klvgen.Write(context.Background(), &buf, cfg))
	return cfg, buf.Bytes()
}

func TestCollectPESPackets(t *testing.T) {
	t.Parallel()
	cfg, data := generate(t, 10)

	sync := CollectPESPackets(data, cfg.SyncPID)
	require.Len(t, sync, cfg.Frames)
	for _, p := range sync {
		assert.Equal(t, byte(stanag4609.MetadataStreamID), p.StreamID())
		assert.NotEmpty(t, p.TSOffsets)
	}

	async := CollectPESPackets(data, cfg.AsyncPID)
	require.Len(t, async, 2)
	assert.Equal(t, byte(stanag4609.PrivateStreamID), async[0].StreamID())

	assert.Empty(t, CollectPESPackets(data, 0x1FFF))
}

func TestM2TSWriter(t *testing.T) {
	t.Parallel()
	_, data := generate(t, 10)

	var out bytes.Buffer
	w := NewM2TSWriter(&out, 1000)
	// Unaligned writes.
	for off := 0; off < len(data); off += 100 {
		end := min(off+100, len(data))
		n, err := w.Write(data[off:end])
		require.NoError(t, err)
		assert.Equal(t, end-off, n)
	}

	packets := len(data) / TSPacketSize
	require.Equal(t, packets*M2TSPacketSize, out.Len())
	b := out.Bytes()
	assert.Equal(t, []byte{0, 0, 0x03, 0xE8}, b[M2TSPacketSize:M2TSPacketSize+4])
	for i := 0; i < packets; i++ {
		assert.Equal(t, byte(0x47), b[i*M2TSPacketSize+4])
	}

	sr, err := mpegts.NewStreamReader(context.Background(), bytes.NewReader(b),
		mpegts.StreamReaderOptPacketSize(mpegts.PrefixedPacketSize))
	require.NoError(t, err)
	var n int
	for {
		if _, err := sr.NextPES(); err != nil {
			break
		}
		n++
	}
	assert.Positive(t, n)
	assert.Zero(t, sr.Skipped())
}

func TestFileExists(t *testing.T) {
	t.Parallel()
	assert.True(t, FileExists(t.TempDir()))
	assert.False(t, FileExists("/nonexistent/klvts"))
}
