package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// optimisticEchoWindow bounds heuristic echo matching: a server create is
// only considered the echo of an optimistic entry posted within this
// window. Older optimistic entries are presumed lost sends.
const optimisticEchoWindow = 30 * time.Second

// localIDPrefix marks placeholder ids on optimistic entries so they can
// never collide with server-assigned ids.
const localIDPrefix = "local-"

// MessageStore owns the canonical insertion-ordered message list and
// reconciles inbound events against it. Events arrive on the connection's
// read goroutine while accessors run on caller goroutines, so every
// access goes through the mutex. All mutation flows through
// AppendOptimistic, Apply and the action methods; callers never splice
// the list themselves.
type MessageStore struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []Message

	now func() time.Time
}

// NewMessageStore creates an empty store.
func NewMessageStore(logger *slog.Logger) *MessageStore {
	return &MessageStore{
		logger: logger,
		now:    time.Now,
	}
}

// AppendOptimistic records a locally-sent message before the server
// confirms it. The entry carries a placeholder id, a fresh correlation id
// the send path forwards to the server, and the Optimistic flag. Returns
// a copy of the appended entry.
func (s *MessageStore) AppendOptimistic(senderID string, conv Conversation, content, parentID string, file *FileAttachment) Message {
	msg := Message{
		ID:             localIDPrefix + uuid.NewString(),
		CorrelationID:  uuid.NewString(),
		SenderID:       senderID,
		ChannelID:      conv.ChannelID,
		Content:        content,
		CreatedAt:      s.now(),
		ThreadParentID: parentID,
		File:           file,
		Optimistic:     true,
	}
	if conv.ChannelID == "" {
		msg.RecipientID = conv.PeerID
	}

	s.mu.Lock()
	s.entries = append(s.entries, msg)
	s.mu.Unlock()

	return msg
}

// Apply reconciles one inbound event. Events that reference unknown
// entries are benign no-ops: updates for ids the client never saw are
// dropped, deletes are idempotent.
func (s *MessageStore) Apply(ev MessageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case MessageCreate:
		s.applyCreate(ev.Message)
	case MessageUpdate:
		s.applyUpdate(ev.Message)
	case MessageDelete:
		s.applyDelete(ev.Message.ID)
	}
}

// applyCreate resolves a server create against pending optimistic
// entries. Match order:
//
//  1. correlation id — the echo carries the id we attached to the send;
//     replace that entry in place, preserving list position.
//  2. server id already present — redelivery, dropped.
//  3. heuristic fallback for servers that do not echo the correlation
//     id — the oldest optimistic entry from the same sender with the
//     same target inside the echo window.
//
// Anything else is a genuinely new message and appends.
func (s *MessageStore) applyCreate(m Message) {
	if m.CorrelationID != "" {
		for i := range s.entries {
			if s.entries[i].Optimistic && s.entries[i].CorrelationID == m.CorrelationID {
				s.entries[i] = m
				return
			}
		}
	}

	for i := range s.entries {
		if s.entries[i].ID == m.ID {
			s.logger.Debug("dropping redelivered message", slog.String("id", m.ID))
			return
		}
	}

	for i := range s.entries {
		e := &s.entries[i]
		if e.Optimistic && e.SenderID == m.SenderID &&
			e.ChannelID == m.ChannelID && e.RecipientID == m.RecipientID &&
			s.now().Sub(e.CreatedAt) <= optimisticEchoWindow {
			s.entries[i] = m
			return
		}
	}

	s.entries = append(s.entries, m)
}

// applyUpdate merges the fields an edit can change into the existing
// entry. Position, sender and timestamps are never rewritten by an
// update.
func (s *MessageStore) applyUpdate(m Message) {
	for i := range s.entries {
		if s.entries[i].ID != m.ID {
			continue
		}
		if m.Content != "" {
			s.entries[i].Content = m.Content
		}
		if m.Reactions != nil {
			s.entries[i].Reactions = m.Reactions
		}
		if m.File != nil {
			s.entries[i].File = m.File
		}

		return
	}

	s.logger.Debug("dropping update for unknown message", slog.String("id", m.ID))
}

func (s *MessageStore) applyDelete(id string) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Messages returns a snapshot of the full list in insertion order.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Message(nil), s.entries...)
}

// Conversation returns the visible subset for one conversation: channel
// messages by channel id, or direct messages between SelfID and PeerID in
// either direction. Computed fresh on every call; the canonical list is
// never filtered in place.
func (s *MessageStore) Conversation(conv Conversation) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(s.entries))
	for _, m := range s.entries {
		if conv.ChannelID != "" {
			if m.ChannelID == conv.ChannelID {
				out = append(out, m)
			}
			continue
		}
		if (m.SenderID == conv.SelfID && m.RecipientID == conv.PeerID) ||
			(m.SenderID == conv.PeerID && m.RecipientID == conv.SelfID) {
			out = append(out, m)
		}
	}

	return out
}
