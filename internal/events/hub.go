package events

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	TopicConfigUpdated         = "config.updated"
	TopicSharedConfigChanged   = "shared_config.changed"
	TopicCredentialAdded       = "credential.added"
	TopicCredentialDeleted     = "credential.deleted"
	TopicCredentialInvalidated = "credential.invalidated"
	TopicCredentialStatus      = "credential.status"
	TopicCredentialCooldown    = "credential.cooldown"
	TopicModelEvicted          = "model.evicted"
	TopicModelPoolReplaced     = "model.pool_replaced"
	TopicFlushFailed           = "flush.failed"
)

// TopicAll matches every topic. A pattern ending in ".*" matches a family,
// e.g. "credential.*".
const TopicAll = "*"

type Event struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Handler func(context.Context, Event)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, metadata map[string]string)
}

type Subscriber interface {
	Subscribe(pattern string, handler Handler) func()
}

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Hub is an in-process pub/sub bus. Handlers run synchronously on the
// publishing goroutine in subscription order; a panicking handler is logged
// and skipped.
type Hub struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

func NewHub() *Hub {
	return &Hub{}
}

func matches(pattern, topic string) bool {
	switch {
	case pattern == TopicAll:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return pattern == topic
}

// Subscribe registers handler for topics matching pattern and returns the
// function that removes it.
func (h *Hub) Subscribe(pattern string, handler Handler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription{id: id, pattern: pattern, handler: handler})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Tap subscribes a buffered channel. Events that do not fit are dropped; the
// returned stop function unsubscribes and reports how many were lost.
func (h *Hub) Tap(pattern string, buffer int) (<-chan Event, func() int64) {
	ch := make(chan Event, buffer)
	var dropped atomic.Int64
	unsubscribe := h.Subscribe(pattern, func(_ context.Context, ev Event) {
		select {
		case ch <- ev:
		default:
			dropped.Add(1)
		}
	})
	return ch, func() int64 {
		unsubscribe()
		return dropped.Load()
	}
}

// Subscribers counts live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(ctx context.Context, topic string, payload any, metadata map[string]string) {
	if h == nil {
		return
	}
	ev := Event{Topic: topic, Timestamp: time.Now().UTC(), Payload: payload, Metadata: metadata}

	h.mu.RLock()
	targets := make([]Handler, 0, len(h.subs))
	for _, s := range h.subs {
		if matches(s.pattern, topic) {
			targets = append(targets, s.handler)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		deliver(ctx, fn, ev)
	}
}

func deliver(ctx context.Context, fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"component": "events", "topic": ev.Topic, "panic": r}).Error("event handler panicked")
		}
	}()
	fn(ctx, ev)
}
