package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/klvts/internal/ingest"
)

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func drainRegistry() *ingest.Registry {
	return ingest.NewRegistry(func(_ string, input io.Reader, _ ingest.InputFormat) {
		_, _ = io.Copy(io.Discard, input)
	})
}

func TestCallerPullFeedsRegistry(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x47, 0x01, 0x00, 0x10}, 500)
	got := make(chan []byte, 1)
	registry := ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		if key != "uav1" || format != ingest.FormatM2TS {
			t.Errorf("stream %q format %v, want uav1 M2TS", key, format)
		}
		b, _ := io.ReadAll(input)
		got <- b
	})

	c := NewCaller(registry, nil)
	defer c.Close()
	var sentID string
	c.dial = func(_ context.Context, req PullRequest) (io.ReadCloser, error) {
		sentID = req.remoteStreamID()
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	if err := c.Pull(context.Background(), PullRequest{
		Address:   "10.0.0.5:9000",
		StreamKey: "uav1",
		Format:    ingest.FormatM2TS,
	}); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if sentID != "live/uav1" {
		t.Errorf("remote stream id = %q, want live/uav1", sentID)
	}

	select {
	case b := <-got:
		if !bytes.Equal(b, payload) {
			t.Errorf("registry received %d bytes, want %d", len(b), len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stream reached the registry")
	}
	waitFor(t, "pull to end", func() bool { return len(c.ActivePulls()) == 0 })
}

func TestCallerRejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	c := NewCaller(drainRegistry(), nil)
	defer c.Close()
	c.dial = func(context.Context, PullRequest) (io.ReadCloser, error) {
		r, _ := io.Pipe()
		return r, nil
	}

	req := PullRequest{Address: "host:9000", StreamKey: "uav1"}
	if err := c.Pull(context.Background(), req); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if err := c.Pull(context.Background(), req); err == nil {
		t.Error("second Pull for the same key succeeded")
	}
	if pulls := c.ActivePulls(); len(pulls) != 1 || pulls[0].StreamKey != "uav1" {
		t.Fatalf("ActivePulls = %v, want [uav1]", pulls)
	}

	// Stop unblocks the pending read.
	if err := c.Stop("uav1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "pull to stop", func() bool { return len(c.ActivePulls()) == 0 })
}

func TestCallerDialFailureReleasesKey(t *testing.T) {
	t.Parallel()

	c := NewCaller(drainRegistry(), nil)
	defer c.Close()
	errRefused := errors.New("connection refused")
	var fail atomic.Bool
	fail.Store(true)
	c.dial = func(context.Context, PullRequest) (io.ReadCloser, error) {
		if fail.Load() {
			return nil, errRefused
		}
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	req := PullRequest{Address: "host:9000", StreamKey: "uav1"}
	if err := c.Pull(context.Background(), req); !errors.Is(err, errRefused) {
		t.Fatalf("Pull err = %v, want %v", err, errRefused)
	}
	if pulls := c.ActivePulls(); len(pulls) != 0 {
		t.Errorf("ActivePulls = %v after failed dial", pulls)
	}

	fail.Store(false)
	if err := c.Pull(context.Background(), req); err != nil {
		t.Errorf("retry after failed dial: %v", err)
	}
}

func TestCallerPullOutlivesDialContext(t *testing.T) {
	t.Parallel()

	c := NewCaller(drainRegistry(), nil)
	c.dial = func(context.Context, PullRequest) (io.ReadCloser, error) {
		r, _ := io.Pipe()
		return r, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Pull(ctx, PullRequest{Address: "host:9000", StreamKey: "uav1"}); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	if len(c.ActivePulls()) != 1 {
		t.Fatal("pull ended with the request context")
	}

	// Close waits for the pull to finish.
	c.Close()
	if pulls := c.ActivePulls(); len(pulls) != 0 {
		t.Errorf("ActivePulls = %v after Close", pulls)
	}
	if err := c.Pull(context.Background(), PullRequest{Address: "host:9000", StreamKey: "uav2"}); err == nil {
		t.Error("Pull on a closed caller succeeded")
	}
}

func TestCallerReconnects(t *testing.T) {
	t.Parallel()

	c := NewCaller(drainRegistry(), nil)
	defer c.Close()
	c.redialDelay = time.Millisecond

	var dials atomic.Int32
	c.dial = func(context.Context, PullRequest) (io.ReadCloser, error) {
		// Every other redial fails to exercise the backoff path.
		if n := dials.Add(1); n > 1 && n%2 == 0 {
			return nil, errors.New("connection refused")
		}
		return io.NopCloser(bytes.NewReader([]byte{0x47})), nil
	}

	if err := c.Pull(context.Background(), PullRequest{
		Address:   "host:9000",
		StreamKey: "uav1",
		Reconnect: true,
	}); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	waitFor(t, "redials", func() bool { return dials.Load() >= 5 })
	if len(c.ActivePulls()) != 1 {
		t.Error("reconnecting pull should stay active")
	}

	if err := c.Stop("uav1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "pull to stop", func() bool { return len(c.ActivePulls()) == 0 })
}
