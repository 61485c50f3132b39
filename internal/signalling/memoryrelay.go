package signalling

import (
	"context"
	"slices"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/taskqueue"
)

// An in-process Relay. Each subscriber receives payloads in publish order on
// its own goroutine, so a slow subscriber never holds up the others.
type MemoryRelay struct {
	// Deliver a subscriber's own publishes back to it.
	EchoSelf bool

	mu          sync.Mutex
	topics      map[string][]*memorySubscription
	unavailable bool
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		topics: make(map[string][]*memorySubscription),
	}
}

// While unavailable, every Subscribe fails with ErrRelayUnavailable.
func (r *MemoryRelay) SetUnavailable(unavailable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = unavailable
}

// Number of live subscriptions to topic.
func (r *MemoryRelay) Subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

func (r *MemoryRelay) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return nil, ErrRelayUnavailable
	}

	sub := &memorySubscription{
		relay:   r,
		topic:   topic,
		deliver: deliver,
		queue:   taskqueue.New(),
	}
	go sub.queue.Run()
	r.topics[topic] = append(r.topics[topic], sub)
	return sub, nil
}

type memorySubscription struct {
	relay   *MemoryRelay
	topic   string
	deliver func([]byte)
	queue   *taskqueue.Queue

	unsubscribeOnce sync.Once
}

func (s *memorySubscription) Publish(payload []byte) error {
	r := s.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.topics[s.topic], s) {
		return ErrSubscriptionClosed
	}

	for _, sub := range r.topics[s.topic] {
		if sub == s && !r.EchoSelf {
			continue
		}
		data := slices.Clone(payload)
		sub.queue.Post(func() { sub.deliver(data) })
	}
	return nil
}

func (s *memorySubscription) Unsubscribe() error {
	s.unsubscribeOnce.Do(func() {
		r := s.relay
		r.mu.Lock()
		r.topics[s.topic] = slices.DeleteFunc(r.topics[s.topic], func(sub *memorySubscription) bool {
			return sub == s
		})
		if len(r.topics[s.topic]) == 0 {
			delete(r.topics, s.topic)
		}
		r.mu.Unlock()
		s.queue.Stop()
	})
	return nil
}
