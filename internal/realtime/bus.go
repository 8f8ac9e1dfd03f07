package realtime

import (
	"sync"
	"time"

	"ai-voice-agent/internal/models"
)

// Channel names a bus topic.
type Channel string

const (
	ChannelUserUtterance  Channel = "user_utterance"
	ChannelAgentUtterance Channel = "agent_utterance"
)

// ChannelFor returns the channel utterances of role are published on.
func ChannelFor(role models.Role) Channel {
	if role == models.RoleUser {
		return ChannelUserUtterance
	}
	return ChannelAgentUtterance
}

// Utterance is a committed user or agent utterance.
type Utterance struct {
	Role models.Role
	Text string
	At   time.Time
}

const defaultBufferSize = 64

// Bus fans committed utterances out to subscribers. Each subscription has its
// own goroutine and bounded buffer, so a slow subscriber never blocks the
// publisher or other subscribers. Events that do not fit are dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Channel]map[uint64]*Subscription
	nextID uint64
	closed bool

	bufferSize int
	onDrop     func(Channel)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscription buffer.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropHandler registers fn to be called for every dropped event.
func WithDropHandler(fn func(Channel)) BusOption {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[Channel]map[uint64]*Subscription),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish routes u to the channel for its role. It never blocks.
func (b *Bus) Publish(u Utterance) {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	ch := ChannelFor(u.Role)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs[ch] {
		select {
		case s.events <- u:
		default:
			if b.onDrop != nil {
				b.onDrop(ch)
			}
		}
	}
}

// Subscribe delivers events on ch to fn, in publish order, until the
// subscription is cancelled. Subscribing to a closed bus returns an inert
// subscription.
func (b *Bus) Subscribe(ch Channel, fn func(Utterance)) *Subscription {
	s := &Subscription{
		bus:     b,
		channel: ch,
		events:  make(chan Utterance, b.bufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.done)
		s.once.Do(func() { close(s.quit) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	if b.subs[ch] == nil {
		b.subs[ch] = make(map[uint64]*Subscription)
	}
	b.subs[ch][s.id] = s
	b.mu.Unlock()

	go s.run(fn)
	return s
}

// Subscribers returns the number of live subscriptions on ch.
func (b *Bus) Subscribers(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}

// Close cancels every subscription. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, m := range b.subs {
		for _, s := range m {
			all = append(all, s)
		}
	}
	b.subs = make(map[Channel]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.subs[s.channel]; m != nil {
		delete(m, s.id)
	}
}

// Subscription is a registered bus handler.
type Subscription struct {
	bus     *Bus
	channel Channel
	id      uint64

	events chan Utterance
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Channel returns the channel the subscription listens on.
func (s *Subscription) Channel() Channel {
	return s.channel
}

// Unsubscribe stops delivery and waits for an in-flight handler call to
// return. It is safe to call more than once but must not be called from
// inside the handler.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Subscription) run(fn func(Utterance)) {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case u := <-s.events:
			select {
			case <-s.quit:
				return
			default:
			}
			fn(u)
		}
	}
}
