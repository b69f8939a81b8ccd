// Package live provides cancellable change subscriptions backed by Redis
// pub/sub, with interval polling as a fallback so writes made outside this
// process still surface. Subscribers receive coalesced wakeups and refetch
// the full result set themselves; every delivery replaces prior state.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "live:"

// Hub fans change wakeups out to topic subscribers.
type Hub struct {
	client       *redis.Client // nil disables pub/sub; polling still works
	pollInterval time.Duration

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub(client *redis.Client, pollInterval time.Duration) *Hub {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Hub{
		client:       client,
		pollInterval: pollInterval,
		subs:         make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is a handle on a live topic. C delivers a wakeup whenever the
// topic may have changed; pending wakeups coalesce. Close releases the
// subscription; C is closed afterwards.
type Subscription struct {
	C chan struct{}

	hub    *Hub
	topic  string
	done   chan struct{}
	closed sync.Once
}

// Notify marks a topic as changed. Local subscribers wake immediately; when
// Redis is configured the wakeup also reaches other processes.
func (h *Hub) Notify(ctx context.Context, topic string) {
	if h.client != nil {
		// Best-effort; polling covers a lost publish.
		_ = h.client.Publish(ctx, channelPrefix+topic, "1").Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[topic] {
		sub.wake()
	}
}

// Subscribe registers for wakeups on a topic. An initial wakeup is queued so
// subscribers load the current snapshot immediately.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		C:     make(chan struct{}, 1),
		hub:   h,
		topic: topic,
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][sub] = struct{}{}
	h.mu.Unlock()

	sub.wake()
	go sub.run()
	return sub
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.topic], s)
		if len(s.hub.subs[s.topic]) == 0 {
			delete(s.hub.subs, s.topic)
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) wake() {
	select {
	case s.C <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	var pubsubCh <-chan *redis.Message
	var pubsub *redis.PubSub
	if s.hub.client != nil {
		pubsub = s.hub.client.Subscribe(context.Background(), channelPrefix+s.topic)
		pubsubCh = pubsub.Channel()
	}

	ticker := time.NewTicker(s.hub.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			if pubsub != nil {
				_ = pubsub.Close()
			}
			close(s.C)
			return
		case <-pubsubCh:
			s.wake()
		case <-ticker.C:
			s.wake()
		}
	}
}
