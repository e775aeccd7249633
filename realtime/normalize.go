package realtime

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Wire event normalization. Frames come from heterogeneous server paths
// and field presence varies, so decoding is tolerant by construction:
// fields are extracted individually with gjson, absent optional fields
// become zero values, and ids are accepted as strings or numbers. The
// normalizers never return an error; an undecodable body yields ok=false
// and the caller drops the frame.

// NormalizeMessageEvent decodes a message-topic frame body. The event
// kind comes from the "type" tag; an absent tag means create, which is
// the dominant case on the wire. Message fields are read from a nested
// "message" object when present, otherwise from the top level.
func NormalizeMessageEvent(data []byte) (MessageEvent, bool) {
	if !gjson.ValidBytes(data) {
		return MessageEvent{}, false
	}

	root := gjson.ParseBytes(data)

	// The server emits uppercase tags (CREATE/UPDATE/DELETE); tags are
	// matched case-insensitively.
	var kind MessageEventKind
	switch strings.ToLower(root.Get("type").String()) {
	case "", "create", "new":
		kind = MessageCreate
	case "update", "edit":
		kind = MessageUpdate
	case "delete", "remove":
		kind = MessageDelete
	default:
		return MessageEvent{}, false
	}

	body := root
	if m := root.Get("message"); m.IsObject() {
		body = m
	}

	msg := Message{
		ID:             body.Get("id").String(),
		CorrelationID:  body.Get("correlationId").String(),
		SenderID:       body.Get("senderId").String(),
		ChannelID:      body.Get("channelId").String(),
		RecipientID:    body.Get("recipientId").String(),
		Content:        body.Get("content").String(),
		CreatedAt:      parseTimestamp(body.Get("createdAt")),
		ThreadParentID: body.Get("threadParentId").String(),
	}

	if msg.ID == "" {
		return MessageEvent{}, false
	}

	if f := body.Get("file"); f.IsObject() {
		msg.File = &FileAttachment{
			URL:  f.Get("url").String(),
			Type: f.Get("type").String(),
			Name: f.Get("name").String(),
		}
	} else if u := body.Get("fileUrl").String(); u != "" {
		msg.File = &FileAttachment{
			URL:  u,
			Type: body.Get("fileType").String(),
			Name: body.Get("fileName").String(),
		}
	}

	if rs := body.Get("reactions"); rs.IsArray() {
		msg.Reactions = parseReactions(rs)
	}

	return MessageEvent{Kind: kind, Message: msg}, true
}

// NormalizeNotificationEvent decodes a notification-topic frame body. An
// absent type tag with a notification payload means a new notification.
// An authoritative unread count may ride on any event; HasUnreadCount
// separates a real zero from an absent field.
func NormalizeNotificationEvent(data []byte) (NotificationEvent, bool) {
	if !gjson.ValidBytes(data) {
		return NotificationEvent{}, false
	}

	root := gjson.ParseBytes(data)

	ev := NotificationEvent{}
	if c := root.Get("unreadCount"); c.Exists() {
		ev.UnreadCount = int(c.Int())
		ev.HasUnreadCount = true
	}

	// Wire tags are NEW_NOTIFICATION, NOTIFICATION_READ and
	// NOTIFICATION_COUNT_UPDATE; shorter aliases and any casing are
	// accepted.
	switch strings.ToLower(root.Get("type").String()) {
	case "", "new", "notification", "new_notification":
		ev.Kind = NotificationNew
		body := root
		if n := root.Get("notification"); n.IsObject() {
			body = n
		}
		ev.Notification = Notification{
			ID:        body.Get("id").String(),
			UserID:    body.Get("userId").String(),
			Type:      body.Get("type").String(),
			Title:     body.Get("title").String(),
			Message:   body.Get("message").String(),
			Read:      body.Get("isRead").Bool(),
			CreatedAt: parseTimestamp(body.Get("createdAt")),
		}
		if m := body.Get("metadata"); m.IsObject() {
			ev.Notification.Metadata = m.Value().(map[string]any)
		}
		if ev.Notification.ID == "" {
			return NotificationEvent{}, false
		}
	case "read", "notification_read":
		ev.Kind = NotificationRead
		id := root.Get("notificationId").String()
		if id == "" {
			id = root.Get("id").String()
		}
		if id == "" {
			return NotificationEvent{}, false
		}
		ev.Notification.ID = id
	case "count", "unread_count", "notification_count_update":
		ev.Kind = NotificationCountUpdate
		if !ev.HasUnreadCount {
			if c := root.Get("count"); c.Exists() {
				ev.UnreadCount = int(c.Int())
				ev.HasUnreadCount = true
			}
		}
		if !ev.HasUnreadCount {
			return NotificationEvent{}, false
		}
	default:
		return NotificationEvent{}, false
	}

	return ev, true
}

// parseTimestamp accepts RFC 3339 strings and unix-millisecond numbers.
// Anything else yields the zero time.
func parseTimestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return t
		}
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC()
	}

	return time.Time{}
}

func parseReactions(rs gjson.Result) []Reaction {
	out := make([]Reaction, 0, 4)
	rs.ForEach(func(_, r gjson.Result) bool {
		reaction := Reaction{
			Emoji: r.Get("emoji").String(),
			Count: int(r.Get("count").Int()),
		}
		if us := r.Get("users"); us.IsArray() {
			for _, u := range us.Array() {
				reaction.Users = append(reaction.Users, u.String())
			}
		}
		if reaction.Count == 0 {
			reaction.Count = len(reaction.Users)
		}
		out = append(out, reaction)

		return true
	})

	return out
}
