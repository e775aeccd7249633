package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes the raw body of one inbound frame on a topic.
// Handlers run on the connection's read goroutine and must not block.
type Handler func(body []byte)

// sendTimeout bounds the subscribe/unsubscribe control writes.
const sendTimeout = 5 * time.Second

// Registry maps topics to handler sets and keeps the server-side
// subscription set in step: one wire subscription per topic no matter how
// many local consumers it has. The first consumer on a topic triggers the
// subscribe op, the last one leaving triggers the unsubscribe op.
//
// Subscriptions do not survive a disconnect. When the connection drops,
// all bookkeeping is discarded and callers re-subscribe once reconnected.
type Registry struct {
	conn   *Conn
	logger *slog.Logger

	mu     sync.Mutex
	topics map[Topic]map[int]Handler
	nextID int
}

// Subscription is a handle on one consumer's interest in a topic.
type Subscription struct {
	reg   *Registry
	topic Topic
	id    int

	once sync.Once
}

// Unsubscribe removes this consumer. Idempotent; calling it on a handle
// that the registry already wiped (after a disconnect) is a no-op.
func (s *Subscription) Unsubscribe() {
	if s.reg == nil {
		return
	}
	s.once.Do(func() {
		s.reg.remove(s.topic, s.id)
	})
}

// NewRegistry wires a registry to the connection: it installs itself as
// the frame sink and watches state transitions to wipe bookkeeping on
// disconnect.
func NewRegistry(conn *Conn, logger *slog.Logger) *Registry {
	r := &Registry{
		conn:   conn,
		logger: logger,
		topics: make(map[Topic]map[int]Handler),
	}

	conn.SetFrameSink(r.dispatch)
	conn.OnStateChange(func(s State) {
		if s == StateDisconnected {
			r.reset()
		}
	})

	return r
}

// SubscribeToChannel delivers a group channel's message events to handler.
func (r *Registry) SubscribeToChannel(channelID string, handler Handler) *Subscription {
	return r.subscribe(ChannelTopic(channelID), handler)
}

// SubscribeToUser delivers a user's direct-message events to handler.
func (r *Registry) SubscribeToUser(userID string, handler Handler) *Subscription {
	return r.subscribe(UserTopic(userID), handler)
}

// SubscribeToNotifications delivers a user's notification events to
// handler.
func (r *Registry) SubscribeToNotifications(userID string, handler Handler) *Subscription {
	return r.subscribe(NotificationTopic(userID), handler)
}

// subscribe registers a handler for topic. While the connection is not up
// it returns an inert handle: the caller gets a valid Subscription whose
// Unsubscribe is a no-op, and re-subscribes after reconnect.
//
// The state check happens under mu, the same lock the disconnect-driven
// reset takes, so a disconnect cannot slip between the check and the
// insert and leave a stale handler in a freshly wiped map.
func (r *Registry) subscribe(topic Topic, handler Handler) *Subscription {
	r.mu.Lock()
	if r.conn.Status() != StateConnected {
		r.mu.Unlock()
		r.logger.Debug("subscribe while disconnected ignored", slog.String("topic", string(topic)))
		return &Subscription{}
	}

	id := r.nextID
	r.nextID++

	handlers, known := r.topics[topic]
	if !known {
		handlers = make(map[int]Handler)
		r.topics[topic] = handlers
	}
	handlers[id] = handler
	first := !known
	r.mu.Unlock()

	if first {
		r.sendOp("subscribe", topic)
	}

	return &Subscription{reg: r, topic: topic, id: id}
}

// remove drops one consumer and, when it was the topic's last, tells the
// server to stop delivering the topic.
func (r *Registry) remove(topic Topic, id int) {
	r.mu.Lock()
	handlers, ok := r.topics[topic]
	if !ok {
		// Wiped by a disconnect; nothing to undo.
		r.mu.Unlock()
		return
	}

	delete(handlers, id)
	last := len(handlers) == 0
	if last {
		delete(r.topics, topic)
	}
	r.mu.Unlock()

	if last {
		r.sendOp("unsubscribe", topic)
	}
}

// dispatch fans one inbound frame out to every handler on its topic.
// Unknown topics happen when an unsubscribe op races an in-flight frame;
// they are dropped quietly.
func (r *Registry) dispatch(topic string, body []byte) {
	r.mu.Lock()
	handlers := make([]Handler, 0, 4)
	for _, h := range r.topics[Topic(topic)] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		r.logger.Debug("frame for topic without handlers", slog.String("topic", topic))
		return
	}

	for _, h := range handlers {
		h(body)
	}
}

// reset discards all subscription bookkeeping. Outstanding Subscription
// handles become harmless stale no-ops.
func (r *Registry) reset() {
	r.mu.Lock()
	n := len(r.topics)
	r.topics = make(map[Topic]map[int]Handler)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Info("subscriptions cleared on disconnect", slog.Int("topics", n))
	}
}

func (r *Registry) sendOp(op string, topic Topic) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := r.conn.send(ctx, subscribeMessage{Op: op, Topic: string(topic)})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		r.logger.Warn("sending subscription op",
			slog.String("op", op),
			slog.String("topic", string(topic)),
			slog.String("error", err.Error()),
		)
	}
}
