package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorEventJSON(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(MirrorEvent{Room: "lobby", Line: "alice has left the room\n", SentAt: at})
	require.NoError(t, err)

	assert.JSONEq(t, `{"room":"lobby","line":"alice has left the room\n","sentAt":"2026-10-16T12:00:00Z"}`, string(raw))
}

func TestNewRedisMirrorFailsWhenUnreachable(t *testing.T) {
	cfg := NewConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m, err := NewRedisMirror(ctx, *cfg, discardLogger())
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestShutdownClosesMirror(t *testing.T) {
	mirror := &recordingMirror{}
	srv := New(*NewConfig(), discardLogger(), WithMirror(mirror))

	require.NoError(t, srv.Shutdown(testTimeout))
	assert.True(t, mirror.closed)
}

func TestMirrorFeedDeliversInOrderAndClosesMirror(t *testing.T) {
	mirror := &recordingMirror{}
	feed := newMirrorFeed(mirror, 8, discardLogger())

	for _, line := range []string{"one\n", "two\n", "three\n"} {
		require.True(t, feed.offer(MirrorEvent{Room: "lobby", Line: line}))
	}
	require.NoError(t, feed.close(testTimeout))

	events := mirror.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "one\n", events[0].Line)
	assert.Equal(t, "three\n", events[2].Line)
	assert.True(t, mirror.closed)

	assert.False(t, feed.offer(MirrorEvent{Room: "lobby"}), "closed feed refuses events")
	require.NoError(t, feed.close(testTimeout), "close is idempotent")
}

func TestMirrorFeedOfferNeverBlocksOnStalledMirror(t *testing.T) {
	mirror := newStalledMirror()
	feed := newMirrorFeed(mirror, 1, discardLogger())

	require.True(t, feed.offer(MirrorEvent{Room: "lobby", Line: "a\n"}))
	<-mirror.published // the writer is parked inside Publish

	require.True(t, feed.offer(MirrorEvent{Room: "lobby", Line: "b\n"}))
	assert.False(t, feed.offer(MirrorEvent{Room: "lobby", Line: "c\n"}), "queue is full")

	start := time.Now()
	require.NoError(t, feed.close(50*time.Millisecond))
	assert.Less(t, time.Since(start), mirrorPublishTimeout, "close abandons stalled publishes")
	assert.True(t, mirror.isClosed())
}

func TestSessionNotDelayedByStalledMirror(t *testing.T) {
	mirror := newStalledMirror()
	srv := newTestServer(t, func(cfg *Config) { cfg.ShutdownTimeout = 50 * time.Millisecond }, WithMirror(mirror))

	alice := dialPipe(t, srv)
	alice.join("alice", "lobby")

	start := time.Now()
	for _, line := range []string{"one", "two", "three"} {
		alice.send(line)
		alice.expect(ChatLine("alice", line))
	}
	assert.Less(t, time.Since(start), mirrorPublishTimeout)
}

func TestSessionCountsMirrorDrops(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, srv.feed.close(testTimeout))

	alice := dialPipe(t, srv)
	alice.join("alice", "lobby")

	assert.Equal(t, float64(1), testutil.ToFloat64(srv.Metrics().mirrorDrops))
}
