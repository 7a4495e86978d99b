package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Handler processes one published event.
type Handler[E any] func(ctx context.Context, event E) error

// Bus is an in-process typed pub/sub. T keys the subscription topic, E is
// the event payload. Handlers run synchronously in Publish's goroutine.
type Bus[T comparable, E any] struct {
	mutex       sync.RWMutex
	subscribers map[T]map[uint64]Handler[E]
	counter     uint64
}

func NewBus[T comparable, E any]() *Bus[T, E] {
	return &Bus[T, E]{
		subscribers: make(map[T]map[uint64]Handler[E]),
	}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function.
func (b *Bus[T, E]) Subscribe(topic T, handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[uint64]Handler[E])
	}
	b.subscribers[topic][id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		handlers, ok := b.subscribers[topic]
		if ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subscribers, topic)
			}
		}
		b.mutex.Unlock()
	}
}

// Publish delivers the event to every subscriber of the topic, joining any
// handler errors.
func (b *Bus[T, E]) Publish(ctx context.Context, topic T, event E) error {
	b.mutex.RLock()
	handlersMap := b.subscribers[topic]
	handlers := make([]Handler[E], 0, len(handlersMap))
	for _, handler := range handlersMap {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
