// Package pubsub fans ingestion and sync events out to in-process consumers.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventType says which path wrote the payload to the store.
type EventType string

const (
	// Ingested events originate from a webhook delivery.
	Ingested EventType = "ingested"

	// Synced events originate from a backfill or periodic sync.
	Synced EventType = "synced"
)

// Event is a payload tagged with its origin.
type Event[T any] struct {
	Type    EventType
	Payload T
}

const subscriberBufferSize = 64

type subscription[T any] struct {
	ch    chan Event[T]
	types map[EventType]bool
}

func (s *subscription[T]) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Broker delivers each published event to every interested subscriber.
// Publishing never blocks: a subscriber with a full buffer misses the event.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[*subscription[T]]struct{}
	dropped atomic.Int64
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[*subscription[T]]struct{})}
}

// Subscribe registers a subscriber for the given event types, or for all
// types when none are given. The channel is closed once ctx is done.
func (b *Broker[T]) Subscribe(ctx context.Context, types ...EventType) <-chan Event[T] {
	sub := &subscription[T]{ch: make(chan Event[T], subscriberBufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Publish hands the payload to every subscriber of eventType.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	evt := Event[T]{Type: eventType, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were lost to full subscriber buffers.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}
