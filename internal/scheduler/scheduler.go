package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/errors"
	"github.com/jwalitptl/alarm-service/pkg/logger"
)

const (
	DefaultEscalationDelay = 30 * time.Second
	DefaultTombstoneTTL    = 7 * 24 * time.Hour
)

// ErrClosed is returned by operations on a closed scheduler.
var ErrClosed = errors.InvalidState("scheduler is closed")

type entry struct {
	alarm model.Alarm
	timer clockwork.Timer
	gen   uint64
}

type escalation struct {
	alarm  model.Alarm
	urgent bool
	timer  clockwork.Timer
}

// Scheduler is the alarm timer index. The zero value is not usable; call New.
type Scheduler struct {
	mu sync.Mutex

	clock           clockwork.Clock
	sink            Sink
	log             *logger.Logger
	newID           func() string
	escalationDelay time.Duration
	tombstoneTTL    time.Duration

	gen         uint64
	entries     map[string]*entry
	delivered   map[string]model.Alarm
	escalations map[uint64]*escalation

	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithIDGenerator sets how successor ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

// WithEscalationDelay sets the delay of the high-priority re-notification.
// Zero or negative disables escalation.
func WithEscalationDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.escalationDelay = d }
}

// WithTombstoneTTL bounds how long delivered ids are remembered when no
// snapshot mentions them any more.
func WithTombstoneTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.tombstoneTTL = d }
}

// New creates a scheduler delivering side effects to sink.
func New(sink Sink, opts ...Option) *Scheduler {
	if sink == nil {
		sink = SinkFuncs{}
	}
	s := &Scheduler{
		clock:           clockwork.NewRealClock(),
		sink:            sink,
		log:             logger.Nop(),
		newID:           func() string { return uuid.New().String() },
		escalationDelay: DefaultEscalationDelay,
		tombstoneTTL:    DefaultTombstoneTTL,
		entries:         make(map[string]*entry),
		delivered:       make(map[string]model.Alarm),
		escalations:     make(map[uint64]*escalation),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ReplaceAll reconciles the armed set with a full snapshot. Armed ids absent
// from alarms are cancelled first; every undelivered input alarm is then
// armed, replacing any existing timer. Delivered inputs are never armed; they
// are remembered so the same id is not delivered again. The snapshot is
// validated as a whole and applied only if every record passes.
func (s *Scheduler) ReplaceAll(alarms []model.Alarm) error {
	normalized := make([]model.Alarm, len(alarms))
	for i := range alarms {
		a := alarms[i]
		a.Normalize()
		if err := a.Validate(); err != nil {
			return fmt.Errorf("alarm %d (%q): %w", i, a.ID, err)
		}
		normalized[i] = a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Duplicate ids: the last occurrence wins.
	last := make(map[string]int, len(normalized))
	for i, a := range normalized {
		last[a.ID] = i
	}

	for id := range s.delivered {
		if _, ok := last[id]; !ok {
			delete(s.delivered, id)
		}
	}
	s.pruneTombstonesLocked()

	for id, e := range s.entries {
		i, ok := last[id]
		if ok && !normalized[i].Delivered {
			continue
		}
		e.timer.Stop()
		delete(s.entries, id)
	}

	for i, a := range normalized {
		if last[a.ID] != i {
			continue
		}
		if a.Delivered {
			s.rememberLocked(a)
			continue
		}
		if _, done := s.delivered[a.ID]; done {
			continue
		}
		s.armLocked(a)
	}
	return nil
}

// Schedule arms a single alarm, delivering it at once when it is already
// due. An existing timer for the same id is replaced.
func (s *Scheduler) Schedule(a model.Alarm) error {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if a.Delivered {
		return errors.InvalidState(fmt.Sprintf("alarm %s already delivered", a.ID))
	}
	s.pruneTombstonesLocked()
	if _, done := s.delivered[a.ID]; done {
		return errors.InvalidState(fmt.Sprintf("alarm %s already delivered", a.ID))
	}
	s.armLocked(a)
	return nil
}

// Cancel disarms id. It reports whether a pending timer was removed and is a
// no-op for unknown or delivered ids.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, id)
	return true
}

// TriggerNow delivers a immediately regardless of its ScheduledAt. It reports
// false when a had already been delivered.
func (s *Scheduler) TriggerNow(a model.Alarm, urgent bool) (bool, error) {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	next, delivered, hasNext := s.deliverLocked(a, urgent)
	if hasNext {
		s.armLocked(next)
	}
	return delivered, nil
}

// Snapshot returns the armed alarms ordered by ScheduledAt then ID.
func (s *Scheduler) Snapshot() []model.Alarm {
	s.mu.Lock()
	out := make([]model.Alarm, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.alarm)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

// Len returns the number of armed alarms.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IsArmed reports whether id has a live timer.
func (s *Scheduler) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Delivered returns the remembered delivered alarms ordered by DeliveredAt
// then ID.
func (s *Scheduler) Delivered() []model.Alarm {
	s.mu.Lock()
	out := make([]model.Alarm, 0, len(s.delivered))
	for _, a := range s.delivered {
		out = append(out, a)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := *out[i].DeliveredAt, *out[j].DeliveredAt
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out
}

// IsDelivered reports whether id is remembered as delivered.
func (s *Scheduler) IsDelivered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.delivered[id]
	return ok
}

// Close stops every timer, cancels the context handed to the sink and waits
// for in-flight sink calls to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	for g, esc := range s.escalations {
		esc.timer.Stop()
		delete(s.escalations, g)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// armLocked replaces any timer for a.ID and arms a new one. A due alarm is
// delivered immediately, once; the successor of a repeating alarm already
// lies in the future, missed occurrences are skipped.
func (s *Scheduler) armLocked(a model.Alarm) {
	if e, ok := s.entries[a.ID]; ok {
		e.timer.Stop()
		delete(s.entries, a.ID)
	}

	now := s.clock.Now()
	if !a.ScheduledAt.After(now) {
		next, _, hasNext := s.deliverLocked(a, false)
		if !hasNext {
			return
		}
		a = next
	}

	s.gen++
	id, gen := a.ID, s.gen
	e := &entry{alarm: a, gen: gen}
	e.timer = s.clock.AfterFunc(a.ScheduledAt.Sub(now), func() {
		s.fire(id, gen)
	})
	s.entries[id] = e
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		s.log.Debug("stale alarm timer ignored", "alarm_id", id, "generation", gen)
		return
	}

	next, _, hasNext := s.deliverLocked(e.alarm, false)
	if hasNext {
		s.armLocked(next)
	}
}

// deliverLocked performs the delivered transition and queues its side
// effects. It returns the successor of a repeating alarm and whether a was
// delivered by this call.
func (s *Scheduler) deliverLocked(a model.Alarm, urgent bool) (next model.Alarm, delivered bool, hasNext bool) {
	if a.Delivered {
		return model.Alarm{}, false, false
	}
	if _, done := s.delivered[a.ID]; done {
		return model.Alarm{}, false, false
	}

	now := s.clock.Now()
	a.MarkDelivered(now)
	s.delivered[a.ID] = a

	if e, ok := s.entries[a.ID]; ok {
		e.timer.Stop()
		delete(s.entries, a.ID)
	}

	s.emitDelivered(Delivery{Alarm: a, Urgent: urgent, At: now})

	if a.IsPublic() {
		s.emitReport(Report{AlarmID: a.ID, DeliveredAt: now})
	}

	if a.IsHighPriority() && s.escalationDelay > 0 {
		s.armEscalationLocked(a, urgent)
	}

	next, hasNext = a.SuccessorAfter(s.newID(), now)
	return next, true, hasNext
}

// armEscalationLocked schedules the one-shot re-notification of a
// high-priority delivery. It fires unconditionally; there is no
// acknowledgement channel.
func (s *Scheduler) armEscalationLocked(a model.Alarm, urgent bool) {
	s.gen++
	gen := s.gen
	esc := &escalation{alarm: a, urgent: urgent}
	esc.timer = s.clock.AfterFunc(s.escalationDelay, func() {
		s.escalate(gen)
	})
	s.escalations[gen] = esc
}

func (s *Scheduler) escalate(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	esc, ok := s.escalations[gen]
	if !ok {
		return
	}
	delete(s.escalations, gen)
	s.emitDelivered(Delivery{
		Alarm:      esc.alarm,
		Urgent:     esc.urgent,
		Escalation: true,
		At:         s.clock.Now(),
	})
}

// rememberLocked records an alarm that was delivered elsewhere.
func (s *Scheduler) rememberLocked(a model.Alarm) {
	if _, ok := s.delivered[a.ID]; ok {
		return
	}
	if a.DeliveredAt == nil {
		a.MarkDelivered(s.clock.Now())
	}
	s.delivered[a.ID] = a
}

func (s *Scheduler) pruneTombstonesLocked() {
	if s.tombstoneTTL <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.tombstoneTTL)
	for id, a := range s.delivered {
		if a.DeliveredAt.Before(cutoff) {
			delete(s.delivered, id)
		}
	}
}

func (s *Scheduler) emitDelivered(d Delivery) {
	s.dispatch("delivered", d.Alarm.ID, func(ctx context.Context) error {
		return s.sink.Delivered(ctx, d)
	})
}

func (s *Scheduler) emitReport(r Report) {
	s.dispatch("reported", r.AlarmID, func(ctx context.Context) error {
		return s.sink.Reported(ctx, r)
	})
}

func (s *Scheduler) dispatch(event, alarmID string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				s.log.Error(fmt.Errorf("panic: %v", p), "sink panicked", "event", event, "alarm_id", alarmID)
			}
		}()
		if err := fn(s.ctx); err != nil {
			s.log.Error(errors.Collaborator("sink", err), "side effect failed", "event", event, "alarm_id", alarmID)
		}
	}()
}
