package engine

import (
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/mmynk/commonbox/internal/storage"
)

// Topic names one realtime listener slot.
type Topic string

const (
	TopicUsers         Topic = "users"
	TopicBoxes         Topic = "boxes"
	TopicNotifications Topic = "notifications"
	TopicMessages      Topic = "messages"
)

// Handle identifies one attachment of a topic. A handle stays active until
// its topic is attached again or detached.
type Handle struct {
	Topic      Topic
	generation uint64
}

// Registry owns the open subscriptions, at most one per topic.
type Registry struct {
	mu          sync.Mutex
	generations map[Topic]uint64
	subs        map[Topic]storage.Subscription
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		generations: make(map[Topic]uint64),
		subs:        make(map[Topic]storage.Subscription),
	}
}

// Attach closes the topic's current subscription, then opens a new one by
// calling subscribe with the handle its deliveries must check. If the topic
// is attached or detached again while subscribe runs, the new subscription
// is closed and the handle is already inactive.
func (r *Registry) Attach(topic Topic, subscribe func(Handle) (storage.Subscription, error)) (Handle, error) {
	r.mu.Lock()
	r.generations[topic]++
	h := Handle{Topic: topic, generation: r.generations[topic]}
	old := r.subs[topic]
	delete(r.subs, topic)
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sub, err := subscribe(h)
	if err != nil {
		return h, err
	}

	r.mu.Lock()
	if r.generations[topic] != h.generation {
		r.mu.Unlock()
		sub.Close()
		return h, nil
	}
	r.subs[topic] = sub
	r.mu.Unlock()
	return h, nil
}

// Active reports whether h is the current attachment of its topic. A
// handle is active from the start of Attach, so the initial snapshot
// delivered during subscribe is accepted.
func (r *Registry) Active(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[h.Topic] == h.generation
}

// Detach closes the topic's subscription.
func (r *Registry) Detach(topic Topic) error {
	r.mu.Lock()
	r.generations[topic]++
	sub := r.subs[topic]
	delete(r.subs, topic)
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}

// DetachAll closes every subscription and invalidates every handle.
func (r *Registry) DetachAll() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[Topic]storage.Subscription)
	for topic := range r.generations {
		r.generations[topic]++
	}
	r.mu.Unlock()

	var err error
	for _, sub := range subs {
		err = multierr.Append(err, sub.Close())
	}
	return err
}

// Topics lists the attached topics in sorted order.
func (r *Registry) Topics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Topic, 0, len(r.subs))
	for t := range r.subs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
