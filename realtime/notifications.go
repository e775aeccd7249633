package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// NotificationAPI is the REST collaborator behind the notification store.
// The store only needs this narrow surface; the concrete HTTP client
// lives in client.go and tests substitute their own.
type NotificationAPI interface {
	List(ctx context.Context) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// NotificationStore holds the notification list, newest first, and the
// unread counter. Live events land through Apply on the connection's
// read goroutine; local user actions go through the REST API first and
// mutate the store only when the call succeeds, so the server stays the
// source of truth and a failed call leaves nothing to roll back.
type NotificationStore struct {
	api    NotificationAPI
	logger *slog.Logger

	mu     sync.Mutex
	items  []Notification
	unread int
}

// NewNotificationStore creates an empty store backed by api.
func NewNotificationStore(api NotificationAPI, logger *slog.Logger) *NotificationStore {
	return &NotificationStore{
		api:    api,
		logger: logger,
	}
}

// Load fetches the initial list and unread count in parallel. The two
// reads fail independently: either one erroring still lets the other's
// result land, and the joined error is returned so the caller can decide
// whether to retry.
func (s *NotificationStore) Load(ctx context.Context) error {
	var (
		items    []Notification
		count    int
		listErr  error
		countErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if l, err := s.api.List(gctx); err != nil {
			listErr = fmt.Errorf("listing notifications: %w", err)
		} else {
			items = l
		}
		return nil
	})
	g.Go(func() error {
		if c, err := s.api.UnreadCount(gctx); err != nil {
			countErr = fmt.Errorf("fetching unread count: %w", err)
		} else {
			count = c
		}
		return nil
	})
	_ = g.Wait()

	s.mu.Lock()
	if listErr == nil {
		s.items = items
	}
	if countErr == nil {
		s.unread = count
	}
	s.mu.Unlock()

	err := errors.Join(listErr, countErr)
	if err != nil {
		s.logger.Warn("loading notifications", slog.String("error", err.Error()))
	}

	return err
}

// Apply reconciles one live event into the store.
//
// New prepends (newest first) and adopts the event's authoritative count
// when it carries one, otherwise increments for unread arrivals. Read
// marks the entry and adopts or decrements, flooring at zero; an unknown
// id or an already-read entry leaves the counter alone. CountUpdate
// adopts outright.
func (s *NotificationStore) Apply(ev NotificationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case NotificationNew:
		s.items = append([]Notification{ev.Notification}, s.items...)
		if ev.HasUnreadCount {
			s.unread = ev.UnreadCount
		} else if !ev.Notification.Read {
			s.unread++
		}

	case NotificationRead:
		turned := false
		for i := range s.items {
			if s.items[i].ID == ev.Notification.ID {
				turned = !s.items[i].Read
				s.markReadLocked(i)
				break
			}
		}
		switch {
		case ev.HasUnreadCount:
			s.unread = ev.UnreadCount
		case turned && s.unread > 0:
			s.unread--
		}

	case NotificationCountUpdate:
		if ev.HasUnreadCount {
			s.unread = ev.UnreadCount
		}
	}
}

// MarkAsRead marks one notification read, server first. The store is
// untouched when the REST call fails.
func (s *NotificationStore) MarkAsRead(ctx context.Context, id string) error {
	if err := s.api.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].Read && s.unread > 0 {
				s.unread--
			}
			s.markReadLocked(i)
			break
		}
	}
	s.mu.Unlock()

	return nil
}

// MarkAllAsRead marks every notification read, server first.
func (s *NotificationStore) MarkAllAsRead(ctx context.Context) error {
	if err := s.api.MarkAllRead(ctx); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}

	s.mu.Lock()
	for i := range s.items {
		s.markReadLocked(i)
	}
	s.unread = 0
	s.mu.Unlock()

	return nil
}

// Remove deletes one notification, server first. Removing an unread
// entry releases its hold on the counter.
func (s *NotificationStore) Remove(ctx context.Context, id string) error {
	if err := s.api.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].Read && s.unread > 0 {
				s.unread--
			}
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	return nil
}

// RemoveAll deletes every notification, server first.
func (s *NotificationStore) RemoveAll(ctx context.Context) error {
	if err := s.api.DeleteAll(ctx); err != nil {
		return fmt.Errorf("deleting all notifications: %w", err)
	}

	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.mu.Unlock()

	return nil
}

// markReadLocked flips one entry to read, stamping ReadAt on the actual
// unread-to-read transition only. Caller holds mu.
func (s *NotificationStore) markReadLocked(i int) {
	if !s.items[i].Read {
		s.items[i].ReadAt = time.Now()
	}
	s.items[i].Read = true
}

// Notifications returns a snapshot of the list, newest first.
func (s *NotificationStore) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Notification(nil), s.items...)
}

// Unread returns the unread counter.
func (s *NotificationStore) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.unread
}
