// Package eventbus carries engine notifications to the route source.
package eventbus

import (
	"sync"
	"time"

	"github.com/cskr/pubsub/v2"
)

// Topic identifies an event stream.
type Topic uint

const (
	// TopicOutcome carries one Outcome per terminal operation.
	TopicOutcome Topic = iota + 1
	// TopicProgress carries Progress values on every state change.
	TopicProgress
)

func (t Topic) String() string {
	switch t {
	case TopicOutcome:
		return "outcome"
	case TopicProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// Operation names an externally triggered verb.
type Operation string

const (
	OpSendRoute Operation = "send_route"
	OpScanDebug Operation = "scan_debug"
	OpReset     Operation = "reset_radio_stack"
)

// Outcome is the terminal notification of one operation.
type Outcome struct {
	OpID      string    `json:"opId"`
	Operation Operation `json:"operation"`
	Succeeded bool      `json:"succeeded"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Device    string    `json:"device,omitempty"`
	At        time.Time `json:"at"`
}

// Progress reports a state-machine transition.
type Progress struct {
	OpID  string `json:"opId"`
	State string `json:"state"`
}

// Publisher publishes events.
type Publisher interface {
	// Publish publishes an event to the event stream.
	Publish(topic Topic, data any)
}

// Bus is an in-process pub/sub hub. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	ps *pubsub.PubSub[Topic, any]

	mu     sync.Mutex
	closed bool
}

// New creates a Bus; capacity is the per-subscriber buffer.
func New(capacity int) *Bus {
	return &Bus{ps: pubsub.New[Topic, any](capacity)}
}

// Publish publishes an event to the event stream.
func (b *Bus) Publish(topic Topic, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ps.TryPub(data, topic)
}

// Subscribe subscribes to a topic.
func (b *Bus) Subscribe(topic Topic) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan any)
		close(ch)
		return &Subscription{C: ch}
	}

	ch := b.ps.Sub(topic)
	return &Subscription{
		C: ch,
		unsub: func() {
			// TryPub never blocks the pubsub loop, so Unsub returns promptly
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.closed {
				b.ps.Unsub(ch, topic)
			}
		},
	}
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

// Subscription is a live subscription. C is closed after Unsubscribe or Close.
type Subscription struct {
	C <-chan any

	unsub func()
	once  sync.Once
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
	})
}

type nilPublisher struct{}

// Publish does not do anything.
func (nilPublisher) Publish(Topic, any) {}

// Nil returns a publisher that drops everything.
func Nil() Publisher {
	return nilPublisher{}
}
