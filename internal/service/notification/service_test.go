package notification

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/errors"
)

type fakePresenter struct {
	name  string
	err   error
	shown []model.Notification
}

func (f *fakePresenter) Name() string { return f.name }

func (f *fakePresenter) Present(_ context.Context, n model.Notification) error {
	f.shown = append(f.shown, n)
	return f.err
}

func newTestService(presenters ...Presenter) *service {
	s := NewService(nil, nil, presenters...).(*service)
	s.now = func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestAlarmNotification(t *testing.T) {
	s := newTestService()

	tests := []struct {
		name        string
		alarm       model.Alarm
		urgent      bool
		escalation  bool
		wantTitle   string
		wantBody    string
		wantRequire bool
		wantVibrate []int
		wantType    string
	}{
		{
			name:        "personal normal",
			alarm:       model.Alarm{ID: "a1", Title: "Stand-up", Description: "Room 4", Kind: model.AlarmKindPersonal, Priority: model.AlarmPriorityNormal},
			wantTitle:   "Reminder: Stand-up",
			wantBody:    "Room 4",
			wantVibrate: []int{200, 100, 200},
			wantType:    "alarm",
		},
		{
			name:        "public high",
			alarm:       model.Alarm{ID: "a2", Title: "Fire drill", Kind: model.AlarmKindPublic, Priority: model.AlarmPriorityHigh},
			wantTitle:   "Public reminder: Fire drill",
			wantBody:    "You have a new notification",
			wantRequire: true,
			wantVibrate: []int{500, 200, 500, 200, 500},
			wantType:    "alarm",
		},
		{
			name:        "urgent trigger",
			alarm:       model.Alarm{ID: "a3", Title: "Now", Kind: model.AlarmKindPersonal, Priority: model.AlarmPriorityNormal},
			urgent:      true,
			wantTitle:   "Reminder: Now",
			wantBody:    "You have a new notification",
			wantRequire: true,
			wantVibrate: []int{500, 200, 500, 200, 500},
			wantType:    "alarm",
		},
		{
			name:        "escalation",
			alarm:       model.Alarm{ID: "a4", Title: "Meds", Kind: model.AlarmKindPersonal, Priority: model.AlarmPriorityHigh},
			escalation:  true,
			wantTitle:   "[Again] Reminder: Meds",
			wantBody:    "You have a new notification",
			wantRequire: true,
			wantVibrate: []int{500, 200, 500, 200, 500},
			wantType:    "alarm_escalation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := s.AlarmNotification(tt.alarm, tt.urgent, tt.escalation)
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantBody, n.Body)
			assert.Equal(t, "alarm-"+tt.alarm.ID, n.Tag)
			assert.Equal(t, tt.wantRequire, n.RequireInteraction)
			assert.Equal(t, tt.wantVibrate, n.Vibrate)
			assert.Equal(t, tt.wantType, n.Data["type"])
			assert.Equal(t, tt.alarm.ID, n.Data["alarm_id"])
			assert.Equal(t, "/", n.Data["url"])
			require.Len(t, n.Actions, 2)
			assert.Equal(t, model.ActionView, n.Actions[0].Action)
			assert.Equal(t, model.ActionDismiss, n.Actions[1].Action)
		})
	}
}

func TestBroadcastNotification(t *testing.T) {
	s := newTestService()

	n := s.BroadcastNotification(model.Broadcast{ID: "b1", Title: "Office closed", Message: "Holiday", Urgent: true})
	assert.Equal(t, "Announcement: Office closed", n.Title)
	assert.Equal(t, "Holiday", n.Body)
	assert.Equal(t, "broadcast-b1", n.Tag)
	assert.True(t, n.RequireInteraction)
	assert.Equal(t, []int{500, 200, 500, 200, 500}, n.Vibrate)
	assert.Equal(t, "broadcast", n.Data["type"])
	assert.Equal(t, "b1", n.Data["broadcast_id"])

	quiet := s.BroadcastNotification(model.Broadcast{ID: "b2", Title: "FYI"})
	assert.False(t, quiet.RequireInteraction)
	assert.Equal(t, []int{200, 100, 200}, quiet.Vibrate)
}

func TestPushNotification(t *testing.T) {
	s := newTestService()

	n := s.PushNotification(model.PushPayload{Title: "Server notice"})
	assert.Equal(t, "Server notice", n.Title)
	assert.Equal(t, "You have a new notification", n.Body)
	assert.Equal(t, "notification", n.Tag)
	assert.True(t, n.RequireInteraction)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, model.ActionView, n.Actions[0].Action)
	assert.Equal(t, "/", n.Data["url"])
	assert.Equal(t, "notification", n.Data["type"])
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), n.Data["timestamp"])
	assert.NotContains(t, n.Data, "alarm_id")

	n = s.PushNotification(model.PushPayload{
		Title:       "Shift reminder",
		Body:        "Starts in 10 minutes",
		Tag:         "shift-7",
		URL:         "/shifts/7",
		Type:        "shift",
		Timestamp:   42,
		AlarmID:     "a7",
		BroadcastID: "b7",
		Actions:     []model.NotificationAction{{Action: "open", Title: "Open"}},
		Data:        map[string]interface{}{"shift": 7, "url": "ignored"},
	})
	assert.Equal(t, "Starts in 10 minutes", n.Body)
	assert.Equal(t, "shift-7", n.Tag)
	assert.Equal(t, []model.NotificationAction{{Action: "open", Title: "Open"}}, n.Actions)
	assert.Equal(t, "/shifts/7", n.Data["url"])
	assert.Equal(t, "shift", n.Data["type"])
	assert.Equal(t, int64(42), n.Data["timestamp"])
	assert.Equal(t, "a7", n.Data["alarm_id"])
	assert.Equal(t, "b7", n.Data["broadcast_id"])
	assert.Equal(t, 7, n.Data["shift"])
}

func TestVibrationPatternsAreNotShared(t *testing.T) {
	s := newTestService()
	n := s.AlarmNotification(model.Alarm{ID: "a", Title: "t"}, false, false)
	n.Vibrate[0] = 1

	again := s.AlarmNotification(model.Alarm{ID: "a", Title: "t"}, false, false)
	assert.Equal(t, 200, again.Vibrate[0])
}

func TestShow_FansOutAndJoinsErrors(t *testing.T) {
	ok := &fakePresenter{name: "ws"}
	bad := &fakePresenter{name: "email", err: stderrors.New("smtp down")}
	s := newTestService(ok, bad)

	n := s.AlarmNotification(model.Alarm{ID: "a", Title: "t"}, false, false)
	err := s.Show(context.Background(), n)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCollaborator, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "smtp down")
	assert.Len(t, ok.shown, 1)
	assert.Len(t, bad.shown, 1)

	s2 := newTestService(ok)
	assert.NoError(t, s2.Show(context.Background(), n))
}
