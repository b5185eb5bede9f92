package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/observability"
)

const channelPrefix = "dispatch:"

// Channel returns the backbone channel name for a group. Exposed so
// out-of-process publishers can reach subscribers without a hub.
func Channel(group string) string { return channelPrefix + group }

// RedisBroadcaster is the shared-backbone broadcaster: one Redis
// pub/sub channel per group. Each process subscribes only to channels
// for which it holds live connections, so a publish in one process
// reaches subscribers hosted anywhere.
type RedisBroadcaster struct {
	hub    *Hub
	client *redis.Client
	sub    *redis.PubSub
	logger *slog.Logger
	done   chan struct{}

	// membership transitions, recorded under the hub lock and applied
	// one at a time by syncLoop. The queue keeps SUBSCRIBE/UNSUBSCRIBE
	// in the exact order the hub decided them, so the backbone never
	// drifts from local membership when joins race leaves.
	pendingMu sync.Mutex
	pending   []memberChange
	wake      chan struct{}
}

type memberChange struct {
	group string
	join  bool
}

func NewRedisBroadcaster(client *redis.Client, logger *slog.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &RedisBroadcaster{
		hub:    NewHub(logger),
		client: client,
		sub:    client.Subscribe(context.Background()),
		logger: logger,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	b.hub.onFirstMember = func(group string) { b.enqueue(group, true) }
	b.hub.onLastMember = func(group string) { b.enqueue(group, false) }
	go b.readLoop()
	go b.syncLoop()
	return b
}

// enqueue runs under the hub lock; it only appends and signals.
func (b *RedisBroadcaster) enqueue(group string, join bool) {
	b.pendingMu.Lock()
	b.pending = append(b.pending, memberChange{group: group, join: join})
	b.pendingMu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *RedisBroadcaster) syncLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			b.pendingMu.Lock()
			if len(b.pending) == 0 {
				b.pendingMu.Unlock()
				break
			}
			ch := b.pending[0]
			b.pending = b.pending[1:]
			b.pendingMu.Unlock()
			b.apply(ch)
		}
	}
}

func (b *RedisBroadcaster) apply(ch memberChange) {
	if ch.join {
		if err := b.sub.Subscribe(context.Background(), channelPrefix+ch.group); err != nil {
			b.logger.Error("backbone subscribe failed", "group", ch.group, "error", err)
		}
		return
	}
	if err := b.sub.Unsubscribe(context.Background(), channelPrefix+ch.group); err != nil {
		b.logger.Error("backbone unsubscribe failed", "group", ch.group, "error", err)
	}
}

func (b *RedisBroadcaster) readLoop() {
	ch := b.sub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			group := strings.TrimPrefix(msg.Channel, channelPrefix)
			b.hub.Deliver(group, []byte(msg.Payload))
		}
	}
}

// Publish sends the event through the backbone. Failures are logged
// and swallowed: a publish never fails its caller.
func (b *RedisBroadcaster) Publish(ctx context.Context, group string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("event marshal failed", "group", group, "error", err)
		return
	}
	if err := b.client.Publish(ctx, channelPrefix+group, payload).Err(); err != nil {
		b.logger.Error("backbone publish failed", "group", group, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues(groupKind(group)).Inc()
}

func (b *RedisBroadcaster) Subscribe(group string, c Conn)   { b.hub.Subscribe(group, c) }
func (b *RedisBroadcaster) Unsubscribe(group string, c Conn) { b.hub.Unsubscribe(group, c) }
func (b *RedisBroadcaster) UnsubscribeAll(c Conn)            { b.hub.UnsubscribeAll(c) }

func (b *RedisBroadcaster) Close() error {
	close(b.done)
	return b.sub.Close()
}

// LocalBroadcaster is the single-process variant used in tests and
// when Redis is not configured.
type LocalBroadcaster struct {
	*Hub
}

func NewLocalBroadcaster(logger *slog.Logger) *LocalBroadcaster {
	lb := &LocalBroadcaster{Hub: NewHub(logger)}
	return lb
}

func (l *LocalBroadcaster) Publish(ctx context.Context, group string, event any) {
	l.Hub.Publish(ctx, group, event)
	observability.EventsPublished.WithLabelValues(groupKind(group)).Inc()
}

func groupKind(group string) string {
	if i := strings.IndexByte(group, ':'); i > 0 {
		return group[:i]
	}
	return group
}
