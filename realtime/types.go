package realtime

import "time"

// State is the lifecycle state of the transport connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Topic is a logical address a subscription binds to: a channel feed, a
// user's inbox, or a user's notification stream.
type Topic string

// ChannelTopic addresses a group channel's message feed.
func ChannelTopic(channelID string) Topic {
	return Topic("channel/" + channelID)
}

// UserTopic addresses a user's direct-message inbox.
func UserTopic(userID string) Topic {
	return Topic("user/" + userID)
}

// NotificationTopic addresses a user's notification stream.
func NotificationTopic(userID string) Topic {
	return Topic("user/" + userID + "/notifications")
}

// Wire message types. The server defines the frame shapes; these structs
// cover only what the client writes. Inbound frames are field-extracted
// with gjson in normalize.go so missing fields never fail hard.

// connectMessage is sent as the first frame after the WebSocket dial.
type connectMessage struct {
	Op     string `json:"op"`
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

// connectResponse is the server reply to a connect message.
type connectResponse struct {
	Res string `json:"res"`
}

// subscribeMessage attaches or detaches a topic on the server side.
type subscribeMessage struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
}

// pingMessage keeps an idle connection alive.
type pingMessage struct {
	Op string `json:"op"`
}

// MessageEventKind discriminates inbound message-topic events.
type MessageEventKind int

const (
	MessageCreate MessageEventKind = iota
	MessageUpdate
	MessageDelete
)

func (k MessageEventKind) String() string {
	switch k {
	case MessageCreate:
		return "create"
	case MessageUpdate:
		return "update"
	case MessageDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Reaction is an emoji reaction on a message. Count always equals
// len(Users); toggling maintains that invariant.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// FileAttachment describes a file carried by a message.
type FileAttachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Message is one entry in the canonical per-conversation list. Exactly one
// of ChannelID and RecipientID is set. ID is server-assigned, or a
// "local-" placeholder while the entry is optimistic. CorrelationID is the
// client-generated id attached to optimistic sends and echoed back by the
// server, making echo replacement deterministic.
type Message struct {
	ID             string
	CorrelationID  string
	SenderID       string
	ChannelID      string
	RecipientID    string
	Content        string
	CreatedAt      time.Time
	ThreadParentID string
	File           *FileAttachment
	Reactions      []Reaction
	Optimistic     bool
}

// MessageEvent is a normalized inbound message-topic event. For Delete
// only Message.ID is meaningful.
type MessageEvent struct {
	Kind    MessageEventKind
	Message Message
}

// NotificationEventKind discriminates inbound notification-topic events.
type NotificationEventKind int

const (
	NotificationNew NotificationEventKind = iota
	NotificationRead
	NotificationCountUpdate
)

// Notification is one entry in the notification list.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"isRead"`
	CreatedAt time.Time      `json:"createdAt"`
	ReadAt    time.Time      `json:"readAt,omitzero"`
}

// NotificationEvent is a normalized inbound notification-topic event.
// HasUnreadCount distinguishes an authoritative zero count from an absent
// field.
type NotificationEvent struct {
	Kind           NotificationEventKind
	Notification   Notification
	UnreadCount    int
	HasUnreadCount bool
}

// Conversation identifies the visible subset of the message store: either
// a group channel (ChannelID set) or a direct conversation between SelfID
// and PeerID.
type Conversation struct {
	ChannelID string
	SelfID    string
	PeerID    string
}
