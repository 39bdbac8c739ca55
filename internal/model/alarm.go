package model

import (
	"encoding/json"
	"time"

	"github.com/jwalitptl/alarm-service/pkg/errors"
	"github.com/jwalitptl/alarm-service/pkg/validator"
)

// AlarmKind decides title decoration and whether delivery is reported upstream.
type AlarmKind string

const (
	AlarmKindPersonal AlarmKind = "personal"
	AlarmKindPublic   AlarmKind = "public"
)

// AlarmPriority decides require-interaction and escalation.
type AlarmPriority string

const (
	AlarmPriorityNormal AlarmPriority = "normal"
	AlarmPriorityHigh   AlarmPriority = "high"
)

// RepeatRule is the recurrence of an alarm. Anything but RepeatNone derives
// a successor after delivery.
type RepeatRule string

const (
	RepeatNone    RepeatRule = "none"
	RepeatDaily   RepeatRule = "daily"
	RepeatWeekly  RepeatRule = "weekly"
	RepeatMonthly RepeatRule = "monthly"
)

// Next advances t by one unit of the rule. Daily and weekly are fixed
// durations; monthly is a calendar month in UTC.
func (r RepeatRule) Next(t time.Time) (time.Time, bool) {
	switch r {
	case RepeatDaily:
		return t.Add(24 * time.Hour), true
	case RepeatWeekly:
		return t.Add(7 * 24 * time.Hour), true
	case RepeatMonthly:
		return t.UTC().AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

// NextAfter returns the first occurrence t + k units, k >= 1, that lies
// strictly after after. Occurrences are counted from t, so skipping missed
// ones does not shift the time of day.
func (r RepeatRule) NextAfter(t, after time.Time) (time.Time, bool) {
	next, ok := r.Next(t)
	if !ok || next.After(after) {
		return next, ok
	}

	switch r {
	case RepeatDaily, RepeatWeekly:
		unit := next.Sub(t)
		k := after.Sub(t)/unit + 1
		return t.Add(k * unit), true
	case RepeatMonthly:
		t = t.UTC()
		after = after.UTC()
		k := (after.Year()-t.Year())*12 + int(after.Month()-t.Month()) - 1
		if k < 1 {
			k = 1
		}
		for !t.AddDate(0, k, 0).After(after) {
			k++
		}
		return t.AddDate(0, k, 0), true
	}
	return next, ok
}

// Alarm is a reminder delivered once at or after ScheduledAt.
type Alarm struct {
	ID          string        `json:"id" db:"id" validate:"required,max=128"`
	Title       string        `json:"title" db:"title" validate:"required,max=256"`
	Description string        `json:"description" db:"description" validate:"max=4096"`
	ScheduledAt time.Time     `json:"-" db:"scheduled_at"`
	Kind        AlarmKind     `json:"kind" db:"kind" validate:"omitempty,oneof=personal public"`
	Priority    AlarmPriority `json:"priority" db:"priority" validate:"omitempty,oneof=normal high"`
	Repeat      RepeatRule    `json:"repeat" db:"repeat_rule" validate:"omitempty,oneof=none daily weekly monthly"`
	Delivered   bool          `json:"delivered" db:"delivered"`
	DeliveredAt *time.Time    `json:"-" db:"delivered_at"`
}

// Normalize fills the enum defaults of a record that arrived with them unset.
func (a *Alarm) Normalize() {
	if a.Kind == "" {
		a.Kind = AlarmKindPersonal
	}
	if a.Priority == "" {
		a.Priority = AlarmPriorityNormal
	}
	if a.Repeat == "" {
		a.Repeat = RepeatNone
	}
}

// Validate checks field constraints. It does not look at Delivered; the
// scheduler owns that decision.
func (a *Alarm) Validate() error {
	if err := validator.Default().Validate(a); err != nil {
		return err
	}
	if a.ScheduledAt.IsZero() {
		return errors.BadRequest("scheduledAt is required", nil)
	}
	return nil
}

func (a *Alarm) IsPublic() bool {
	return a.Kind == AlarmKindPublic
}

func (a *Alarm) IsHighPriority() bool {
	return a.Priority == AlarmPriorityHigh
}

// MarkDelivered performs the one-way delivered transition.
func (a *Alarm) MarkDelivered(at time.Time) {
	a.Delivered = true
	a.DeliveredAt = &at
}

// Successor derives the next instance of a repeating alarm. The new
// ScheduledAt is anchored on this alarm's ScheduledAt, never on the firing
// time, so late deliveries do not accumulate drift.
func (a Alarm) Successor(id string) (Alarm, bool) {
	next, ok := a.Repeat.Next(a.ScheduledAt)
	if !ok {
		return Alarm{}, false
	}
	a.ID = id
	a.ScheduledAt = next
	a.Delivered = false
	a.DeliveredAt = nil
	return a, true
}

// SuccessorAfter is Successor for a late delivery: occurrences at or before
// now are skipped and the first future one is returned.
func (a Alarm) SuccessorAfter(id string, now time.Time) (Alarm, bool) {
	next, ok := a.Repeat.NextAfter(a.ScheduledAt, now)
	if !ok {
		return Alarm{}, false
	}
	a.ID = id
	a.ScheduledAt = next
	a.Delivered = false
	a.DeliveredAt = nil
	return a, true
}

// alarmAlias drops the JSON methods so the wire struct can embed it.
type alarmAlias Alarm

type alarmJSON struct {
	alarmAlias
	ScheduledAt int64  `json:"scheduledAt"`
	DeliveredAt *int64 `json:"deliveredAt,omitempty"`
}

// MarshalJSON writes timestamps as epoch milliseconds.
func (a Alarm) MarshalJSON() ([]byte, error) {
	out := alarmJSON{alarmAlias: alarmAlias(a)}
	if !a.ScheduledAt.IsZero() {
		out.ScheduledAt = a.ScheduledAt.UnixMilli()
	}
	if a.DeliveredAt != nil {
		ms := a.DeliveredAt.UnixMilli()
		out.DeliveredAt = &ms
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads epoch millisecond timestamps into UTC times.
func (a *Alarm) UnmarshalJSON(data []byte) error {
	var in alarmJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*a = Alarm(in.alarmAlias)
	a.ScheduledAt = time.Time{}
	if in.ScheduledAt != 0 {
		a.ScheduledAt = time.UnixMilli(in.ScheduledAt).UTC()
	}
	a.DeliveredAt = nil
	if in.DeliveredAt != nil {
		t := time.UnixMilli(*in.DeliveredAt).UTC()
		a.DeliveredAt = &t
	}
	return nil
}
