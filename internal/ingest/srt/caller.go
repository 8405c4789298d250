package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/klvts/internal/ingest"
)

const (
	dialTimeout    = 10 * time.Second
	maxRedialDelay = 30 * time.Second
)

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	// StreamID is sent to the remote listener; it defaults to live/<StreamKey>.
	StreamID string `json:"streamId,omitempty"`
	// Format is the container format of the remote stream.
	Format ingest.InputFormat `json:"format,omitempty"`
	// Reconnect redials with backoff after the remote ends the stream.
	Reconnect bool `json:"reconnect,omitempty"`
}

func (r PullRequest) validate() error {
	switch {
	case r.Address == "":
		return errors.New("address is required")
	case r.StreamKey == "":
		return errors.New("streamKey is required")
	}
	return nil
}

func (r PullRequest) remoteStreamID() string {
	if r.StreamID != "" {
		return r.StreamID
	}
	return "live/" + r.StreamKey
}

// dialFunc opens the read side of an SRT connection for req.
type dialFunc func(ctx context.Context, req PullRequest) (io.ReadCloser, error)

type pull struct {
	req    PullRequest
	ctx    context.Context
	cancel context.CancelFunc
}

// Caller manages SRT pull connections. Each pull feeds the ingest registry
// under its stream key until it is stopped, the Caller is closed, or the
// remote ends a pull that does not reconnect.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry
	dial     dialFunc

	// redialDelay is the first backoff step of a reconnecting pull.
	redialDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	pulls map[string]*pull
}

// NewCaller creates a Caller that registers pulled streams with registry.
// If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Caller{
		log:         log.With("component", "srt-caller"),
		registry:    registry,
		dial:        dialSRT,
		redialDelay: time.Second,
		ctx:         ctx,
		cancel:      cancel,
		pulls:       make(map[string]*pull),
	}
}

// Pull connects to the remote listener and returns once the first
// connection is up or has failed. ctx bounds only that dial; the pull
// itself keeps running in the background.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	p, err := c.reserve(req)
	if err != nil {
		return err
	}

	// Stop or Close during the dial aborts it.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	unlink := context.AfterFunc(p.ctx, cancelDial)
	defer unlink()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey, "stream_id", req.remoteStreamID())
	conn, err := c.dial(dialCtx, req)
	if err != nil {
		c.release(p)
		return fmt.Errorf("SRT dial %s: %w", req.Address, err)
	}

	go c.run(p, conn)
	return nil
}

// reserve claims the stream key so concurrent Pulls cannot both dial it.
func (c *Caller) reserve(req PullRequest) (*pull, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return nil, errors.New("caller is closed")
	}
	if _, ok := c.pulls[req.StreamKey]; ok {
		return nil, fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	ctx, cancel := context.WithCancel(c.ctx)
	p := &pull{req: req, ctx: ctx, cancel: cancel}
	c.pulls[req.StreamKey] = p
	c.wg.Add(1)
	return p, nil
}

func (c *Caller) release(p *pull) {
	p.cancel()
	c.mu.Lock()
	if c.pulls[p.req.StreamKey] == p {
		delete(c.pulls, p.req.StreamKey)
	}
	c.mu.Unlock()
	c.wg.Done()
}

func (c *Caller) run(p *pull, conn io.ReadCloser) {
	defer c.release(p)

	for {
		c.receive(p, conn)
		if !p.req.Reconnect || p.ctx.Err() != nil {
			return
		}
		var err error
		if conn, err = c.redial(p); err != nil {
			return
		}
	}
}

// receive feeds one connection into a fresh registry stream. Cancelling the
// pull closes both ends so a blocked read or pipe write returns.
func (c *Caller) receive(p *pull, conn io.ReadCloser) {
	stream, w := c.registry.Register(p.req.StreamKey, p.req.Format)
	stream.SetRemoteAddr(p.req.Address)

	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	stop := context.AfterFunc(p.ctx, func() {
		closeConn()
		c.registry.Unregister(stream)
	})
	defer func() {
		stop()
		closeConn()
	}()
	c.log.Info("connected", "address", p.req.Address, "stream_key", p.req.StreamKey)

	err := pump(p.ctx, stream, w, conn)
	stats := stream.IngestStats()
	c.registry.Unregister(stream)

	if err != nil && p.ctx.Err() == nil {
		c.log.Debug("pull interrupted", "stream_key", p.req.StreamKey, "error", err)
	}
	c.log.Info("pull connection ended", "stream_key", p.req.StreamKey,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// redial retries with doubling delays until a dial succeeds or the pull is
// cancelled.
func (c *Caller) redial(p *pull) (io.ReadCloser, error) {
	delay := c.redialDelay
	for {
		t := time.NewTimer(delay)
		select {
		case <-p.ctx.Done():
			t.Stop()
			return nil, p.ctx.Err()
		case <-t.C:
		}

		conn, err := c.dial(p.ctx, p.req)
		if err == nil {
			return conn, nil
		}
		if p.ctx.Err() != nil {
			return nil, p.ctx.Err()
		}
		c.log.Warn("redial failed", "stream_key", p.req.StreamKey, "address", p.req.Address,
			"error", err, "retry_in", delay)
		delay = min(2*delay, maxRedialDelay)
	}
}

// Stop cancels the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	p, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for stream key %q", streamKey)
	}
	p.cancel()
	return nil
}

// Close stops every pull and waits for them to finish.
func (c *Caller) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

// ActivePulls returns the requests of all running pulls, sorted by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, p := range c.pulls {
		out = append(out, p.req)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}

// dialSRT dials req with dialTimeout. srtgo.Dial takes no context, so an
// abandoned dial is drained in the background and its connection closed.
func dialSRT(ctx context.Context, req PullRequest) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = req.remoteStreamID()

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	type result struct {
		conn *srtgo.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
