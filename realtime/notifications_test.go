package realtime

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a scriptable NotificationAPI.
type fakeAPI struct {
	list  []Notification
	count int

	listErr    error
	countErr   error
	markErr    error
	markAllErr error
	delErr     error
	delAllErr  error

	markedIDs  []string
	deletedIDs []string
}

func (f *fakeAPI) List(ctx context.Context) ([]Notification, error) {
	return f.list, f.listErr
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	return f.count, f.countErr
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	if f.markErr == nil {
		f.markedIDs = append(f.markedIDs, id)
	}
	return f.markErr
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error { return f.markAllErr }

func (f *fakeAPI) Delete(ctx context.Context, id string) error {
	if f.delErr == nil {
		f.deletedIDs = append(f.deletedIDs, id)
	}
	return f.delErr
}

func (f *fakeAPI) DeleteAll(ctx context.Context) error { return f.delAllErr }

func newNotifStore(t *testing.T, api *fakeAPI) *NotificationStore {
	t.Helper()
	return NewNotificationStore(api, slog.Default())
}

// --- Load ---

func TestLoad_PopulatesListAndCount(t *testing.T) {
	api := &fakeAPI{
		list:  []Notification{{ID: "n2"}, {ID: "n1"}},
		count: 2,
	}
	s := newNotifStore(t, api)

	require.NoError(t, s.Load(context.Background()))
	assert.Len(t, s.Notifications(), 2)
	assert.Equal(t, 2, s.Unread())
}

func TestLoad_ListFailureStillAdoptsCount(t *testing.T) {
	api := &fakeAPI{
		listErr: errors.New("boom"),
		count:   3,
	}
	s := newNotifStore(t, api)

	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Empty(t, s.Notifications())
	assert.Equal(t, 3, s.Unread(), "count fetch succeeds independently")
}

func TestLoad_CountFailureStillAdoptsList(t *testing.T) {
	api := &fakeAPI{
		list:     []Notification{{ID: "n1"}},
		countErr: errors.New("boom"),
	}
	s := newNotifStore(t, api)

	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Len(t, s.Notifications(), 1)
	assert.Zero(t, s.Unread())
}

// --- Apply ---

func TestApplyNew_PrependsAndIncrements(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})

	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n2"}})

	list := s.Notifications()
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID, "newest first")
	assert.Equal(t, 2, s.Unread())
}

func TestApplyNew_AdoptsAuthoritativeCount(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})

	s.Apply(NotificationEvent{
		Kind:           NotificationNew,
		Notification:   Notification{ID: "n1"},
		UnreadCount:    9,
		HasUnreadCount: true,
	})

	assert.Equal(t, 9, s.Unread())
}

func TestApplyNew_ReadArrivalDoesNotIncrement(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})

	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1", Read: true}})

	assert.Zero(t, s.Unread())
}

func TestApplyRead_MarksAndDecrements(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	s.Apply(NotificationEvent{Kind: NotificationRead, Notification: Notification{ID: "n1"}})

	assert.True(t, s.Notifications()[0].Read)
	assert.Zero(t, s.Unread())
}

func TestApplyRead_AlreadyReadLeavesCounter(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n2"}})
	s.Apply(NotificationEvent{Kind: NotificationRead, Notification: Notification{ID: "n1"}})

	// Redelivered read event for an entry that already flipped.
	s.Apply(NotificationEvent{Kind: NotificationRead, Notification: Notification{ID: "n1"}})

	assert.Equal(t, 1, s.Unread())
}

func TestApplyRead_UnknownIDIsNoop(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	s.Apply(NotificationEvent{Kind: NotificationRead, Notification: Notification{ID: "ghost"}})

	assert.Equal(t, 1, s.Unread())
}

func TestApplyRead_CounterNeverNegative(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1", Read: true}})

	s.Apply(NotificationEvent{Kind: NotificationRead, Notification: Notification{ID: "n1"}})

	assert.Zero(t, s.Unread())
}

func TestApplyCountUpdate_Adopts(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})

	s.Apply(NotificationEvent{Kind: NotificationCountUpdate, UnreadCount: 5, HasUnreadCount: true})
	assert.Equal(t, 5, s.Unread())

	s.Apply(NotificationEvent{Kind: NotificationCountUpdate, UnreadCount: 0, HasUnreadCount: true})
	assert.Zero(t, s.Unread(), "authoritative zero is adopted")
}

// --- local actions (REST first) ---

func TestMarkAsRead_Success(t *testing.T) {
	api := &fakeAPI{}
	s := newNotifStore(t, api)
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	require.NoError(t, s.MarkAsRead(context.Background(), "n1"))
	assert.True(t, s.Notifications()[0].Read)
	assert.Zero(t, s.Unread())
	assert.Equal(t, []string{"n1"}, api.markedIDs)
}

func TestMarkAsRead_RESTFailureLeavesStoreUntouched(t *testing.T) {
	api := &fakeAPI{markErr: errors.New("503")}
	s := newNotifStore(t, api)
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	err := s.MarkAsRead(context.Background(), "n1")
	require.Error(t, err)
	assert.False(t, s.Notifications()[0].Read)
	assert.Equal(t, 1, s.Unread())
}

func TestMarkAllAsRead_Success(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n2"}})

	require.NoError(t, s.MarkAllAsRead(context.Background()))
	for _, n := range s.Notifications() {
		assert.True(t, n.Read)
	}
	assert.Zero(t, s.Unread())
}

func TestMarkAllAsRead_RESTFailureLeavesStoreUntouched(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{markAllErr: errors.New("503")})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	require.Error(t, s.MarkAllAsRead(context.Background()))
	assert.Equal(t, 1, s.Unread())
	assert.False(t, s.Notifications()[0].Read)
}

func TestRemove_UnreadEntryReleasesCounter(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n2", Read: true}})

	require.NoError(t, s.Remove(context.Background(), "n1"))
	require.Len(t, s.Notifications(), 1)
	assert.Equal(t, "n2", s.Notifications()[0].ID)
	assert.Zero(t, s.Unread())
}

func TestRemove_ReadEntryKeepsCounter(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n2", Read: true}})

	require.NoError(t, s.Remove(context.Background(), "n2"))
	assert.Equal(t, 1, s.Unread())
}

func TestRemove_RESTFailureLeavesStoreUntouched(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{delErr: errors.New("503")})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	require.Error(t, s.Remove(context.Background(), "n1"))
	assert.Len(t, s.Notifications(), 1)
}

func TestRemoveAll_Success(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	require.NoError(t, s.RemoveAll(context.Background()))
	assert.Empty(t, s.Notifications())
	assert.Zero(t, s.Unread())
}

func TestApplyRead_StampsReadTimestamp(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	s.Apply(NotificationEvent{Kind: NotificationRead, Notification: Notification{ID: "n1"}})

	assert.False(t, s.Notifications()[0].ReadAt.IsZero())
}

func TestScenario_FetchThenLiveArrival(t *testing.T) {
	// Initial fetch returns 2 notifications (1 unread); a new
	// notification with no authoritative count arrives afterwards.
	api := &fakeAPI{
		list:  []Notification{{ID: "n2"}, {ID: "n1", Read: true}},
		count: 1,
	}
	s := newNotifStore(t, api)
	require.NoError(t, s.Load(context.Background()))

	ev, ok := NormalizeNotificationEvent([]byte(`{"type":"NEW_NOTIFICATION","notification":{"id":"n3"}}`))
	require.True(t, ok)
	s.Apply(ev)

	assert.Equal(t, 2, s.Unread())
	assert.Equal(t, "n3", s.Notifications()[0].ID)
}

func TestNotifications_SnapshotIsolated(t *testing.T) {
	s := newNotifStore(t, &fakeAPI{})
	s.Apply(NotificationEvent{Kind: NotificationNew, Notification: Notification{ID: "n1"}})

	snap := s.Notifications()
	snap[0].Read = true

	assert.False(t, s.Notifications()[0].Read)
}
