package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror receives a copy of every room broadcast. It is an observer hook:
// nothing published to it is stored or read back by the relay.
type Mirror interface {
	Publish(ctx context.Context, event MirrorEvent) error
	Close() error
}

// MirrorEvent is the JSON payload published for each room broadcast.
type MirrorEvent struct {
	Room   string    `json:"room"`
	Sender string    `json:"sender,omitempty"`
	Line   string    `json:"line"`
	SentAt time.Time `json:"sentAt"`
}

const (
	mirrorQueueSize      = 1024
	mirrorPublishTimeout = 2 * time.Second
)

type noopMirror struct{}

func (noopMirror) Publish(context.Context, MirrorEvent) error { return nil }
func (noopMirror) Close() error                               { return nil }

// RedisMirror publishes room broadcasts to Redis pub/sub, one channel per room.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
}

// NewRedisMirror connects to Redis and verifies connectivity.
func NewRedisMirror(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisMirror, error) {
	if logger == nil {
		logger = discardLogger()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	prefix := cfg.RedisChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisMirror{rdb: rdb, prefix: prefix, log: logger}, nil
}

// Publish sends event to the room's channel.
func (m *RedisMirror) Publish(ctx context.Context, event MirrorEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode mirror event: %w", err)
	}
	return m.rdb.Publish(ctx, m.Channel(event.Room), raw).Err()
}

// Channel returns the pub/sub channel name for room.
func (m *RedisMirror) Channel(room string) string {
	return m.prefix + room
}

// Close shuts down the redis connection.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}

// mirrorFeed hands events to a Mirror from its own goroutine, so sessions
// never wait on the backend. A full queue drops the event.
type mirrorFeed struct {
	mirror Mirror
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan MirrorEvent

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newMirrorFeed(m Mirror, size int, logger *slog.Logger) *mirrorFeed {
	if size <= 0 {
		size = mirrorQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &mirrorFeed{
		mirror: m,
		log:    logger,
		events: make(chan MirrorEvent, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// offer queues event without blocking. It reports false when the queue is
// full or the feed is closed.
func (f *mirrorFeed) offer(event MirrorEvent) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.events <- event:
		return true
	default:
		return false
	}
}

func (f *mirrorFeed) run() {
	defer close(f.done)
	abandoned := 0
	for event := range f.events {
		if f.ctx.Err() != nil {
			abandoned++
			continue
		}
		ctx, cancel := context.WithTimeout(f.ctx, mirrorPublishTimeout)
		if err := f.mirror.Publish(ctx, event); err != nil {
			f.log.Warn("mirror publish failed", "room", event.Room, "err", err)
		}
		cancel()
	}
	if abandoned > 0 {
		f.log.Warn("mirror events abandoned at shutdown", "count", abandoned)
	}
}

// close stops accepting events and lets queued ones go out for up to
// timeout. Whatever is left after that is abandoned. The Mirror is closed
// exactly once.
func (f *mirrorFeed) close(timeout time.Duration) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.events)
		f.mu.Unlock()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-f.done:
		case <-timer.C:
			f.cancel()
			<-f.done
		}
		f.cancel()
		f.closeErr = f.mirror.Close()
	})
	return f.closeErr
}
