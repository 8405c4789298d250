package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/klvts/internal/ingest"
	srtingest "github.com/zsiec/klvts/internal/ingest/srt"
	"github.com/zsiec/klvts/internal/klv"
	"github.com/zsiec/klvts/internal/mpegts"
	"github.com/zsiec/klvts/internal/pipeline"
	"github.com/zsiec/klvts/internal/stanag4609"
	"github.com/zsiec/klvts/internal/stream"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		cfg: cfg,
		mgr: stream.NewManager(nil),
		out: newJSONWriter(os.Stdout),
	}

	if files := os.Args[1:]; len(files) > 0 {
		err = a.runFiles(ctx, files)
	} else {
		err = a.serve(ctx)
	}
	if err != nil {
		slog.Error("klvts failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	srtAddr       string
	apiAddr       string
	pulls         []srtingest.PullRequest
	packetSize    int
	maxBuffer     int
	strictCC      bool
	flushOnEOF    bool
	statsInterval time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		srtAddr: envOr("SRT_ADDR", ":6000"),
		apiAddr: os.Getenv("API_ADDR"),
	}

	var err error
	if v := os.Getenv("PACKET_SIZE"); v != "" {
		if cfg.packetSize, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("PACKET_SIZE: %w", err)
		}
		if _, ok := ingest.ParseFormat(cfg.packetSize); !ok {
			return cfg, fmt.Errorf("PACKET_SIZE: unsupported size %d", cfg.packetSize)
		}
	}
	if v := os.Getenv("MAX_PES_BUFFER"); v != "" {
		if cfg.maxBuffer, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("MAX_PES_BUFFER: %w", err)
		}
	}
	if cfg.strictCC, err = envBool("STRICT_CC"); err != nil {
		return cfg, err
	}
	if cfg.flushOnEOF, err = envBool("FLUSH_ON_EOF"); err != nil {
		return cfg, err
	}
	if cfg.statsInterval, err = time.ParseDuration(envOr("STATS_INTERVAL", "10s")); err != nil {
		return cfg, fmt.Errorf("STATS_INTERVAL: %w", err)
	}
	if cfg.pulls, err = parsePulls(os.Getenv("SRT_PULL")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parsePulls parses a comma separated list of key=host:port[/streamid]
// entries. A key ending in .m2ts selects the timestamp-prefixed format.
// Configured pulls reconnect when the remote drops them.
func parsePulls(v string) ([]srtingest.PullRequest, error) {
	var out []srtingest.PullRequest
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, addr, ok := strings.Cut(entry, "=")
		if !ok || key == "" || addr == "" {
			return nil, fmt.Errorf("SRT_PULL: malformed entry %q", entry)
		}
		req := srtingest.PullRequest{StreamKey: key, Reconnect: true}
		if k, found := strings.CutSuffix(key, ".m2ts"); found {
			req.StreamKey = k
			req.Format = ingest.FormatM2TS
		}
		req.Address, req.StreamID, _ = strings.Cut(addr, "/")
		out = append(out, req)
	}
	return out, nil
}

type app struct {
	cfg       config
	mgr       *stream.Manager
	out       *jsonWriter
	registry  *ingest.Registry
	srtCaller *srtingest.Caller
}

// runFiles decodes each file as its own session and returns once all of
// them have been read.
func (a *app) runFiles(ctx context.Context, files []string) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := a.startStatsLogger(ctx)
	defer stop()

	for _, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return a.runSession(ctx, filepath.Base(path), f, fileFormat(path, a.cfg.packetSize), "File")
		})
	}
	return g.Wait()
}

func (a *app) serve(ctx context.Context) error {
	slog.Info("klvts starting",
		"version", version,
		"srt", a.cfg.srtAddr,
		"api", a.cfg.apiAddr,
		"pulls", len(a.cfg.pulls),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Create registry and SRT caller after errgroup so closures capture the
	// errgroup-derived context, ensuring sessions shut down when any component fails.
	a.registry = ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewStream(ctx, key, input, format)
	})
	a.srtCaller = srtingest.NewCaller(a.registry, nil)
	defer a.srtCaller.Close()
	srtSrv := srtingest.NewServer(a.cfg.srtAddr, a.registry, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	for _, req := range a.cfg.pulls {
		if err := a.srtCaller.Pull(ctx, req); err != nil {
			slog.Warn("SRT pull failed", "stream", req.StreamKey, "address", req.Address, "error", err)
		}
	}

	if a.cfg.apiAddr != "" {
		apiSrv := &http.Server{
			Addr:              a.cfg.apiAddr,
			Handler:           a.apiHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("API server listening", "addr", a.cfg.apiAddr)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	}

	stop := a.startStatsLogger(ctx)
	defer stop()

	return g.Wait()
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader, format ingest.InputFormat) {
	slog.Info("new stream from ingest", "key", key, "format", format)
	if err := a.runSession(ctx, key, input, format, "SRT"); err != nil {
		slog.Error("pipeline error", "stream", key, "error", err)
	}
	slog.Info("stream ended", "key", key)
}

func (a *app) runSession(ctx context.Context, key string, input io.Reader, format ingest.InputFormat, protocol string) error {
	p := pipeline.New(key, input, a.pipelineOpts(key, format)...)
	p.SetProtocol(protocol)

	s := a.mgr.Create(key, p)
	defer a.mgr.Remove(s)

	err := p.Run(ctx)
	snap := p.Snapshot()
	slog.Info("session summary",
		"stream", key,
		"pes", snap.PESPackets,
		"klv", snap.KLVDecoded,
		"dropped", snap.KLVDropped,
		"gaps", snap.Demux.Gaps,
		"skipped_bytes", snap.Skipped,
	)
	return err
}

func (a *app) pipelineOpts(key string, format ingest.InputFormat) []func(*pipeline.Pipeline) {
	readerOpts := []func(*mpegts.StreamReader){
		mpegts.StreamReaderOptPacketSize(format.PacketSize()),
	}
	if a.cfg.flushOnEOF {
		readerOpts = append(readerOpts, mpegts.StreamReaderOptFlushOnEOF())
	}

	var demuxOpts []func(*mpegts.Demuxer)
	if a.cfg.maxBuffer > 0 {
		demuxOpts = append(demuxOpts, mpegts.DemuxerOptMaxBufferSize(a.cfg.maxBuffer))
	}
	if a.cfg.strictCC {
		demuxOpts = append(demuxOpts, mpegts.DemuxerOptStrictContinuity())
	}

	return []func(*pipeline.Pipeline){
		pipeline.PipelineOptKLVSink(a.out.sink(key)),
		pipeline.PipelineOptStreamReader(readerOpts...),
		pipeline.PipelineOptDemuxer(demuxOpts...),
	}
}

func (a *app) apiHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.mgr.Snapshots())
	})
	mux.HandleFunc("GET /api/streams/{key}/ingest", func(w http.ResponseWriter, r *http.Request) {
		s, ok := a.registry.Get(r.PathValue("key"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, s.IngestStats())
	})
	mux.HandleFunc("GET /api/srt-pull", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.srtCaller.ActivePulls())
	})
	mux.HandleFunc("POST /api/srt-pull", func(w http.ResponseWriter, r *http.Request) {
		var req srtingest.PullRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.srtCaller.Pull(r.Context(), req); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("DELETE /api/srt-pull/{key}", func(w http.ResponseWriter, r *http.Request) {
		if err := a.srtCaller.Stop(r.PathValue("key")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("API response write failed", "error", err)
	}
}

// startStatsLogger logs every session's counters on the configured
// interval until ctx ends or the returned stop function is called.
func (a *app) startStatsLogger(ctx context.Context) (stop func()) {
	if a.cfg.statsInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(a.cfg.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, snap := range a.mgr.Snapshots() {
					slog.Info("session stats",
						"stream", snap.StreamKey,
						"uptime_ms", snap.UptimeMs,
						"pes", snap.PESPackets,
						"klv", snap.KLVDecoded,
						"dropped", snap.KLVDropped,
						"last_pts", snap.LastPTS,
					)
				}
			}
		}
	}()
	return cancel
}

// fileFormat picks the packet format of a file: an explicit packet size
// wins, otherwise .m2ts and .mts files are read as timestamp-prefixed.
func fileFormat(path string, packetSize int) ingest.InputFormat {
	if f, ok := ingest.ParseFormat(packetSize); ok {
		return f
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m2ts", ".mts":
		return ingest.FormatM2TS
	}
	return ingest.FormatMPEGTS
}

// klvRecord is one line of output.
type klvRecord struct {
	Stream string   `json:"stream"`
	PID    uint16   `json:"pid"`
	PTS    *int64   `json:"pts,omitempty"`
	KLV    *klv.Set `json:"klv"`
}

// jsonWriter serializes decoded metadata from every session as JSON lines.
type jsonWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{enc: json.NewEncoder(w)}
}

func (j *jsonWriter) sink(key string) pipeline.KLVSink {
	return &jsonSink{key: key, w: j}
}

func (j *jsonWriter) write(rec klvRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(rec); err != nil {
		slog.Warn("output write failed", "stream", rec.Stream, "error", err)
	}
}

type jsonSink struct {
	key string
	w   *jsonWriter
}

func (s *jsonSink) OnKLV(pid uint16, pkt *stanag4609.DecodedKLVMetadataPacket) {
	rec := klvRecord{Stream: s.key, PID: pid, KLV: pkt.KLV}
	if pkt.HasTimestamp() {
		pts := pkt.PresentationTimestamp
		rec.PTS = &pts
	}
	s.w.write(rec)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
