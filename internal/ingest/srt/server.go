package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/klvts/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them
// with the ingest registry, one session per connection.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		streamKey, format := parseStreamID(conn.StreamID())
		s.log.Info("publish", "stream_key", streamKey, "format", format, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, streamKey, format)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, streamKey string, format ingest.InputFormat) {
	defer conn.Close()

	stream, writer := s.registry.Register(streamKey, format)
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	if err := pump(ctx, stream, writer, conn); err != nil && ctx.Err() == nil {
		s.log.Debug("connection interrupted", "stream_key", streamKey, "error", err)
	}

	stats := stream.IngestStats()
	s.registry.Unregister(stream)
	s.log.Info("connection closed", "stream_key", streamKey,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// pump copies connection reads into the stream's pipe until the connection
// ends, the pipe is closed, or ctx is done. A clean EOF returns nil.
func pump(ctx context.Context, stream *ingest.Stream, w io.Writer, r io.Reader) error {
	buf := make([]byte, srtReadBufferSize)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			stream.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("pipe write: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
	return ctx.Err()
}

// parseStreamID splits an SRT stream id into the stream key and the
// container format. A ".m2ts" suffix selects 192-byte packets.
func parseStreamID(streamID string) (string, ingest.InputFormat) {
	format := ingest.FormatMPEGTS
	if key, ok := strings.CutSuffix(streamID, ".m2ts"); ok {
		streamID = key
		format = ingest.FormatM2TS
	} else {
		streamID = strings.TrimSuffix(streamID, ".ts")
	}
	return extractStreamKey(streamID), format
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
