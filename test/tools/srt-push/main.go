// srt-push publishes a transport stream file to an SRT listener in real
// time, looping it with timestamps shifted so the receiver sees one
// continuous stream.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/klvts/test/tools/tsutil"
)

func main() {
	fileFlag := flag.String("file", "", "TS file to push")
	keyFlag := flag.String("key", "", "SRT stream ID (default: live/<filename>)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	durationFlag := flag.Float64("duration", 0, "Playback duration in seconds (default: from PTS range)")
	frameTicks := flag.Int64("frame-ticks", 3003, "Frame duration in 90 kHz ticks, added at each loop seam")
	once := flag.Bool("once", false, "Push the file once instead of looping")
	flag.Parse()

	filePath := *fileFlag
	if filePath == "" && flag.NArg() > 0 {
		filePath = flag.Arg(0)
	}
	if filePath == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  srt-push --file flight.ts --key live/uav1 --addr host:6000\n")
		fmt.Fprintf(os.Stderr, "  srt-push <file.ts>\n")
		os.Exit(1)
	}

	streamID := *keyFlag
	if streamID == "" {
		base := filepath.Base(filePath)
		streamID = "live/" + base[:len(base)-len(filepath.Ext(base))]
	}

	pushSingle(filePath, streamID, *addrFlag, *durationFlag, *frameTicks, !*once)
}

// selectDuration picks the playback duration: an explicit override, else
// the scanned PTS range, else 60 seconds.
func selectDuration(override, scanned float64) float64 {
	if override > 0 {
		return override
	}
	if scanned > 0 {
		return scanned
	}
	return 60.0
}

func pushSingle(filePath, streamID, addr string, durationOverride float64, frameTicks int64, loop bool) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		return
	}

	totalPackets := len(data) / tsutil.TSPacketSize
	if len(data)%tsutil.TSPacketSize != 0 {
		fmt.Fprintf(os.Stderr, "Warning: file size not a multiple of %d\n", tsutil.TSPacketSize)
	}

	stamps := indexTimestamps(data)
	span := stamps.span(frameTicks)
	duration := selectDuration(durationOverride, float64(span)/90000)
	bytesPerSec := float64(len(data)) / duration
	chunkSize := tsutil.TSPacketSize * 7

	fmt.Printf("File: %s (%d packets, %d timestamps, %.1fs, %.0f bytes/sec)\n",
		filePath, totalPackets, len(stamps.stamps), duration, bytesPerSec)

	for {
		fmt.Printf("[%s] Connecting to SRT %s...\n", streamID, addr)

		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID

		conn, err := srt.Dial(addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", streamID, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected\n", streamID)
		pl := &player{
			data:        data,
			stamps:      stamps,
			loopDelta:   span,
			bytesPerSec: bytesPerSec,
			chunkSize:   chunkSize,
			streamID:    streamID,
			loop:        loop,
		}
		writeErr := pl.run(conn)
		conn.Close()

		if writeErr == nil {
			fmt.Printf("[%s] Done\n", streamID)
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", streamID, writeErr)
		time.Sleep(time.Second)
	}
}

// chunkWriter is the part of an SRT connection the player writes to.
type chunkWriter interface {
	Write(b []byte) (int, error)
}

type player struct {
	data        []byte
	stamps      *timestampIndex
	loopDelta   int64
	bytesPerSec float64
	chunkSize   int
	streamID    string
	loop        bool

	// maxLoops bounds the run for tests; 0 is unbounded.
	maxLoops int
}

// run writes the file paced against a global clock so timing is continuous
// across loop boundaries. Loop n rewrites all PTS, DTS and PCR values to
// their original value plus (n-1)*loopDelta.
func (p *player) run(w chunkWriter) error {
	globalStart := time.Now()
	var totalBytesSent int64
	lastLog := time.Now()
	const logInterval = 10 * time.Second

	for loop := 1; ; loop++ {
		if loop > 1 {
			if !p.loop || (p.maxLoops > 0 && loop > p.maxLoops) {
				return nil
			}
			p.stamps.rebase(p.data, int64(loop-1)*p.loopDelta)
			fmt.Printf("[%s] Loop %d complete (total sent: %.1f MB, elapsed: %s)\n",
				p.streamID, loop-1,
				float64(totalBytesSent)/(1024*1024),
				time.Since(globalStart).Truncate(time.Second))
		}

		for i := 0; i < len(p.data); i += p.chunkSize {
			end := min(i+p.chunkSize, len(p.data))

			if _, err := w.Write(p.data[i:end]); err != nil {
				return err
			}
			totalBytesSent += int64(end - i)

			expectedTime := float64(totalBytesSent) / p.bytesPerSec
			elapsed := time.Since(globalStart).Seconds()
			if expectedTime > elapsed {
				time.Sleep(time.Duration((expectedTime - elapsed) * float64(time.Second)))
			}

			if time.Since(lastLog) >= logInterval {
				actualRate := float64(totalBytesSent) / time.Since(globalStart).Seconds()
				loopOffset := float64(i) / float64(len(p.data)) * 100
				fmt.Printf("[%s] loop=%d offset=%.1f%% rate=%.0f B/s (target=%.0f) total=%.1f MB\n",
					p.streamID, loop, loopOffset, actualRate, p.bytesPerSec,
					float64(totalBytesSent)/(1024*1024))
				lastLog = time.Now()
			}
		}
	}
}
