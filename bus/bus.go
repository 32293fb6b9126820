// Package bus implements the in-process message bus connecting agents and
// the coordinator. Messages are addressed to an agent id or a capability tag;
// publishing to a recipient that matches neither fails with a routing error.
// Delivery to one recipient preserves the publish order of any single sender.
package bus

import (
	"sync"

	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/logging"
)

// Bus routes message envelopes between subscribers. It is safe for
// concurrent use. Each subscriber owns an unbounded FIFO drained by a
// dedicated pump goroutine, so publishers never block on slow consumers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	caps      map[string][]string // capability tag -> subscriber ids, subscribe order
	logger    logging.Logger
	outBuffer int
	closed    bool
}

type subscriber struct {
	id     string
	mu     sync.Mutex
	queue  []core.Message
	notify chan struct{}
	out    chan core.Message
	done   chan struct{}
}

// Options configures a Bus.
type Options struct {
	// Logger receives routing diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// OutBuffer sets the delivery channel buffer per subscriber.
	OutBuffer int
}

// New constructs an empty bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}, OutBuffer: 64}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bus{
		subs:      make(map[string]*subscriber),
		caps:      make(map[string][]string),
		logger:    opts.Logger,
		outBuffer: opts.OutBuffer,
	}
}

// Subscribe registers interest for an agent id and its capability tags. The
// returned channel delivers messages addressed to the id or to one of the
// tags, in publish order per sender, until Unsubscribe or Close.
func (b *Bus) Subscribe(agentID string, capabilities ...string) (<-chan core.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.NewError(core.KindRouting, "bus.subscribe", "bus is closed")
	}
	if _, exists := b.subs[agentID]; exists {
		return nil, core.NewError(core.KindRouting, "bus.subscribe", "agent id already subscribed: "+agentID)
	}

	sub := &subscriber{
		id:     agentID,
		notify: make(chan struct{}, 1),
		out:    make(chan core.Message, b.outBuffer),
		done:   make(chan struct{}),
	}
	b.subs[agentID] = sub
	for _, tag := range capabilities {
		b.caps[tag] = append(b.caps[tag], agentID)
	}

	go sub.pump()
	return sub.out, nil
}

// Unsubscribe removes the agent and its capability registrations. The
// delivery channel is closed once the pump drains.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[agentID]
	if !ok {
		return
	}
	delete(b.subs, agentID)
	for tag, ids := range b.caps {
		b.caps[tag] = removeID(ids, agentID)
		if len(b.caps[tag]) == 0 {
			delete(b.caps, tag)
		}
	}
	close(sub.done)
}

// Publish enqueues the message for delivery. Recipient resolution tries a
// direct agent id first, then a capability tag (delivered to every
// subscriber declaring it). A recipient matching nothing yields a routing
// error so misaddressed work fails fast instead of vanishing.
func (b *Bus) Publish(msg core.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return core.NewError(core.KindRouting, "bus.publish", "bus is closed")
	}

	if sub, ok := b.subs[msg.Recipient]; ok {
		sub.enqueue(msg)
		return nil
	}
	if ids, ok := b.caps[msg.Recipient]; ok && len(ids) > 0 {
		for _, id := range ids {
			if sub, ok := b.subs[id]; ok {
				sub.enqueue(msg)
			}
		}
		return nil
	}

	b.logger.Warn("bus dropped unroutable message", "recipient", msg.Recipient, "subject", msg.Subject)
	return core.NewError(core.KindRouting, "bus.publish", "no subscriber for recipient "+msg.Recipient)
}

// Close unsubscribes everyone and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.done)
	}
	b.caps = make(map[string][]string)
}

func (s *subscriber) enqueue(msg core.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the FIFO into the delivery channel. Runs until done closes;
// queued messages at shutdown are dropped with the channel.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case s.out <- msg:
			}
		}
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
