// gen-klv writes a synthetic STANAG 4609 transport stream for testing the
// demuxer and the SRT ingest path.
//
// Usage:
//
//	go run ./test/tools/gen-klv -o test/streams/flight.ts
//	go run ./test/tools/gen-klv -o test/streams/flight.m2ts -m2ts -frames 900
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/zsiec/klvts/internal/klvgen"
	"github.com/zsiec/klvts/test/tools/tsutil"
)

// m2tsTicksPerPacket spaces arrival timestamps for roughly 10 Mbit/s at
// 27 MHz.
const m2tsTicksPerPacket = 4061

func main() {
	def := klvgen.DefaultConfig()

	out := flag.String("o", "", "Output file (default stdout)")
	force := flag.Bool("f", false, "Overwrite an existing output file")
	m2ts := flag.Bool("m2ts", false, "Write 192-byte timestamp-prefixed packets")
	frames := flag.Int("frames", def.Frames, "Number of video frames")
	asyncEvery := flag.Int("async-every", def.AsyncEvery, "Frames between asynchronous KLV units (0 disables)")
	noSync := flag.Bool("no-sync", false, "Omit the synchronous metadata PID")
	mission := flag.String("mission", def.Start.Mission, "Mission ID")
	flag.Parse()

	cfg := def
	cfg.Frames = *frames
	cfg.AsyncEvery = *asyncEvery
	cfg.Start.Mission = *mission
	if *noSync {
		cfg.SyncPID = 0
	}
	if *asyncEvery <= 0 {
		cfg.AsyncPID = 0
	}

	if err := run(*out, *force, *m2ts, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "gen-klv: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, force, m2ts bool, cfg klvgen.Config) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if tsutil.FileExists(path) && !force {
			return fmt.Errorf("%s exists (use -f to overwrite)", path)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	var dst io.Writer = bw
	if m2ts {
		dst = tsutil.NewM2TSWriter(bw, m2tsTicksPerPacket)
	}
	if err := klvgen.Write(context.Background(), dst, cfg); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if path != "" {
		fmt.Fprintf(os.Stderr, "wrote %s: %d frames, %.1fs\n", path, cfg.Frames,
			float64(int64(cfg.Frames)*cfg.FrameDuration)/90000)
	}
	return nil
}
