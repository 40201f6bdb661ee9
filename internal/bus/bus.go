// Package bus is an injectable publish/subscribe hub with typed topics.
package bus

import (
	"sync"

	"go.uber.org/zap"
)

// Topic names a notification stream.
type Topic string

// Message is implemented by every payload published on a Bus.
type Message interface {
	Topic() Topic
}

type entry struct {
	id int
	fn func(Message)
}

// Bus delivers messages synchronously on the publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]entry
	logger *zap.Logger
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[Topic][]entry), logger: logger}
}

// Subscription is returned by Subscribe; Unsubscribe is idempotent.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    int
	once  sync.Once
}

func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s.topic, s.id) })
}

// Subscribe registers fn for every message whose topic matches T's.
func Subscribe[T Message](b *Bus, fn func(T)) *Subscription {
	var zero T
	topic := zero.Topic()
	return b.subscribe(topic, func(m Message) {
		if v, ok := m.(T); ok {
			fn(v)
		}
	})
}

func (b *Bus) subscribe(topic Topic, fn func(Message)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], entry{id: id, fn: fn})
	return &Subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) remove(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, e := range list {
		if e.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish hands m to every current subscriber of its topic. A panicking
// subscriber is logged and does not stop delivery to the rest.
func (b *Bus) Publish(m Message) {
	if b == nil || m == nil {
		return
	}
	topic := m.Topic()
	b.mu.RLock()
	list := make([]entry, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()
	for _, e := range list {
		b.deliver(topic, e, m)
	}
}

func (b *Bus) deliver(topic Topic, e entry, m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus_subscriber_panic", zap.String("topic", string(topic)), zap.Any("panic", r))
		}
	}()
	e.fn(m)
}

// Subscribers reports the number of live subscriptions for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
