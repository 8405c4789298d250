// Package ingest manages active ingest connections, coupling SRT byte
// readers with metadata, lifecycle signaling, and session dispatch.
package ingest

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/klvts/internal/mpegts"
)

// InputFormat identifies the container format of an ingested stream.
type InputFormat int

// Supported ingest container formats.
const (
	FormatMPEGTS InputFormat = iota
	// FormatM2TS is MPEG-TS with a 4-byte timestamp before each packet,
	// as written by Blu-ray and some capture devices.
	FormatM2TS
)

func (f InputFormat) String() string {
	switch f {
	case FormatMPEGTS:
		return "mpegts"
	case FormatM2TS:
		return "m2ts"
	}
	return "unknown"
}

// PacketSize returns the on-wire packet size of the format.
func (f InputFormat) PacketSize() int {
	if f == FormatM2TS {
		return mpegts.PrefixedPacketSize
	}
	return mpegts.PacketSize
}

// ParseFormat maps a packet size to its format.
func ParseFormat(packetSize int) (InputFormat, bool) {
	switch packetSize {
	case mpegts.PacketSize:
		return FormatMPEGTS, true
	case mpegts.PrefixedPacketSize:
		return FormatM2TS, true
	}
	return FormatMPEGTS, false
}

// IngestStats captures connection-level metrics for an ingest stream,
// exposed via the debug API for monitoring source health.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream represents an active ingest connection, coupling the raw byte
// reader with metadata and lifecycle signaling. Bytes written to the
// internal pipe by the SRT receiver are read by the session pipeline.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the SRT
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Registry tracks active ingest streams by key and dispatches new streams
// to the onStream callback for session setup. It is the rendezvous point
// between the SRT ingest layer and the demux pipeline.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(key string, input io.Reader, format InputFormat)
}

// NewRegistry creates a Registry. The onStream callback is invoked
// asynchronously whenever a new stream is registered.
func NewRegistry(onStream func(key string, input io.Reader, format InputFormat)) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a new ingest stream with the given key and format,
// returning the Stream and a Writer that the SRT receiver should write into.
// If OnStream is set, the callback is invoked asynchronously.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.streams[key]
	r.streams[key] = stream
	r.mu.Unlock()

	// A reconnecting publisher replaces its previous stream.
	if prev != nil {
		prev.pw.Close()
		close(prev.done)
	}

	if r.onStream != nil {
		go r.onStream(key, pr, format)
	}

	return stream, pw
}

// Unregister removes a stream, closing its pipe and signaling Done. It is a
// no-op if key now belongs to a newer stream.
func (r *Registry) Unregister(stream *Stream) {
	r.mu.Lock()
	cur, ok := r.streams[stream.Key]
	ok = ok && cur == stream
	if ok {
		delete(r.streams, stream.Key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Keys returns the keys of all active streams, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
