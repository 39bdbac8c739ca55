package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alarm-service/pkg/errors"
)

func TestRepeatRule_Next(t *testing.T) {
	base := time.Date(2025, 1, 31, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule RepeatRule
		want time.Time
		ok   bool
	}{
		{"none", RepeatNone, time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"daily", RepeatDaily, base.Add(24 * time.Hour), true},
		{"weekly", RepeatWeekly, base.Add(7 * 24 * time.Hour), true},
		// Jan 31 + 1 month normalizes to Mar 3 in a non-leap year.
		{"monthly overflow", RepeatMonthly, time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rule.Next(base)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestRepeatRule_NextAfter(t *testing.T) {
	base := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rule  RepeatRule
		after time.Time
		want  time.Time
	}{
		{"daily not yet due", RepeatDaily, base, base.Add(24 * time.Hour)},
		{"daily a year late", RepeatDaily, base.AddDate(1, 0, 0), time.Date(2025, 1, 16, 7, 0, 0, 0, time.UTC)},
		{"daily on the boundary", RepeatDaily, base.Add(72 * time.Hour), base.Add(96 * time.Hour)},
		{"weekly late", RepeatWeekly, base.Add(20 * 24 * time.Hour), base.Add(21 * 24 * time.Hour)},
		{"monthly late", RepeatMonthly, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 15, 7, 0, 0, 0, time.UTC)},
		{"monthly same day earlier", RepeatMonthly, time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC), time.Date(2024, 6, 15, 7, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rule.NextAfter(base, tt.after)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}

	_, ok := RepeatNone.NextAfter(base, base.AddDate(1, 0, 0))
	assert.False(t, ok)
}

func TestAlarm_Validate(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	valid := Alarm{ID: "a", Title: "Stand-up", ScheduledAt: at}
	valid.Normalize()
	assert.NoError(t, valid.Validate())
	assert.Equal(t, AlarmKindPersonal, valid.Kind)
	assert.Equal(t, AlarmPriorityNormal, valid.Priority)
	assert.Equal(t, RepeatNone, valid.Repeat)

	tests := []struct {
		name  string
		alarm Alarm
	}{
		{"missing id", Alarm{Title: "t", ScheduledAt: at}},
		{"missing title", Alarm{ID: "a", ScheduledAt: at}},
		{"missing time", Alarm{ID: "a", Title: "t"}},
		{"bad kind", Alarm{ID: "a", Title: "t", ScheduledAt: at, Kind: "team"}},
		{"bad priority", Alarm{ID: "a", Title: "t", ScheduledAt: at, Priority: "urgent"}},
		{"bad repeat", Alarm{ID: "a", Title: "t", ScheduledAt: at, Repeat: "yearly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alarm.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
		})
	}
}

func TestAlarm_Successor(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	a := Alarm{ID: "a", Title: "Pills", ScheduledAt: at, Repeat: RepeatDaily, Priority: AlarmPriorityHigh}
	a.MarkDelivered(at.Add(3 * time.Hour))

	next, ok := a.Successor("b")
	require.True(t, ok)
	assert.Equal(t, "b", next.ID)
	assert.Equal(t, "Pills", next.Title)
	assert.Equal(t, AlarmPriorityHigh, next.Priority)
	assert.False(t, next.Delivered)
	assert.Nil(t, next.DeliveredAt)
	assert.True(t, next.ScheduledAt.Equal(at.Add(24*time.Hour)))

	// The receiver is untouched.
	assert.True(t, a.Delivered)

	once := Alarm{ID: "c", Title: "once", ScheduledAt: at, Repeat: RepeatNone}
	_, ok = once.Successor("d")
	assert.False(t, ok)
}

func TestAlarm_JSONEpochMillis(t *testing.T) {
	raw := `{"id":"a1","title":"Call","description":"","scheduledAt":1735722000000,"kind":"public","priority":"high","repeat":"weekly","delivered":false}`

	var a Alarm
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), a.ScheduledAt)
	assert.Equal(t, time.UTC, a.ScheduledAt.Location())
	assert.True(t, a.IsPublic())
	assert.True(t, a.IsHighPriority())
	assert.Nil(t, a.DeliveredAt)

	a.MarkDelivered(a.ScheduledAt.Add(time.Second))
	out, err := json.Marshal(a)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &m))
	assert.EqualValues(t, 1735722000000, m["scheduledAt"])
	assert.EqualValues(t, 1735722001000, m["deliveredAt"])
	assert.Equal(t, true, m["delivered"])
}
