// Package events is the in-process notification channel the core publishes
// "something changed" signals to. Subscribers are invoked one at a time on a
// single dispatch goroutine, so they observe events in publish order.
package events

import (
	"sync"

	"go.uber.org/zap"

	"sora/internal/logging"
)

// Topic names a class of change notification.
type Topic string

const (
	DownloadListChanged     Topic = "download.list"
	DownloadProgressChanged Topic = "download.progress"
	DownloadStatusChanged   Topic = "download.status"
	ContinueWatchingChanged Topic = "history.watching"
	ContinueReadingChanged  Topic = "history.reading"
	ModulesChanged          Topic = "modules"
)

// Event is one notification.
type Event struct {
	Topic   Topic
	Payload interface{}
}

// DownloadProgress is the payload of DownloadProgressChanged.
type DownloadProgress struct {
	ID       string
	Progress float64
}

// DownloadStatus is the payload of DownloadStatusChanged, shaped for a
// toast-style notification.
type DownloadStatus struct {
	ID      string
	Status  string
	Message string
	// Path is the written file for completed downloads.
	Path string
}

// Publisher is what the core components depend on.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

type subscriber struct {
	fn     func(Event)
	topics map[Topic]bool
}

func (s subscriber) wants(t Topic) bool {
	return len(s.topics) == 0 || s.topics[t]
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	nextID int
	closed bool

	queue  chan Event
	done   chan struct{}
	logger *zap.Logger
}

// NewBus starts a bus whose queue holds up to buffer pending events.
// Publish blocks once the queue is full.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bus{
		subs:   make(map[int]subscriber),
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: logging.OrNop(logger),
	}
	go b.dispatch()
	return b
}

// Subscribe registers fn for the given topics (all topics when none are
// given) and returns a function that removes the subscription.
func (b *Bus) Subscribe(fn func(Event), topics ...Topic) func() {
	s := subscriber{fn: fn, topics: make(map[Topic]bool, len(topics))}
	for _, t := range topics {
		s.topics[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish queues e for delivery. Events published after Close are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.queue <- e
}

// Close stops accepting events, delivers the queued ones and returns once
// the dispatch goroutine has exited.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.queue {
		b.mu.RLock()
		targets := make([]func(Event), 0, len(b.subs))
		for _, s := range b.subs {
			if s.wants(e.Topic) {
				targets = append(targets, s.fn)
			}
		}
		b.mu.RUnlock()

		for _, fn := range targets {
			b.deliver(fn, e)
		}
	}
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", zap.String("topic", string(e.Topic)), zap.Any("panic", r))
		}
	}()
	fn(e)
}
