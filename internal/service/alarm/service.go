// Package alarm hosts the scheduler: it feeds commands into it, renders its
// deliveries, relays events to pages and the broker, queues upstream delivery
// reports and persists the alarm set.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/internal/repository"
	"github.com/jwalitptl/alarm-service/internal/scheduler"
	"github.com/jwalitptl/alarm-service/internal/service/notification"
	"github.com/jwalitptl/alarm-service/pkg/errors"
	"github.com/jwalitptl/alarm-service/pkg/logger"
	"github.com/jwalitptl/alarm-service/pkg/messaging"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
	"github.com/jwalitptl/alarm-service/pkg/validator"
	"github.com/jwalitptl/alarm-service/pkg/worker"
)

// Relay pushes a message to every connected page.
type Relay interface {
	Relay(ctx context.Context, msg model.Message) error
}

// Registrar forwards a device registration to the upstream backend.
type Registrar interface {
	RegisterDevice(ctx context.Context, d model.Device) error
}

// Deps are the collaborators of the service. Only Notifier is required.
type Deps struct {
	Notifier notification.Service
	Alarms   repository.AlarmRepository
	Outbox   repository.OutboxRepository
	// Reporter is used for delivery reports when no Outbox is configured.
	Reporter worker.Reporter
	Broker   messaging.Broker
	Relay    Relay
	// Registrar handles REGISTER_DEVICE; without one the command is a no-op.
	Registrar Registrar
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

type Service struct {
	sched    *scheduler.Scheduler
	notifier notification.Service
	alarms   repository.AlarmRepository
	outbox   repository.OutboxRepository
	reporter worker.Reporter
	broker   messaging.Broker
	relay    Relay
	devices  Registrar
	logger   *logger.Logger
	metrics  *metrics.Metrics

	saveCh chan struct{}
}

// NewService builds the service and the scheduler it owns. opts configure
// the scheduler; the logger option is supplied from deps.
func NewService(deps Deps, opts ...scheduler.Option) *Service {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Broker == nil {
		deps.Broker = messaging.NopBroker{}
	}

	s := &Service{
		notifier: deps.Notifier,
		alarms:   deps.Alarms,
		outbox:   deps.Outbox,
		reporter: deps.Reporter,
		broker:   deps.Broker,
		relay:    deps.Relay,
		devices:  deps.Registrar,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		saveCh:   make(chan struct{}, 1),
	}
	opts = append([]scheduler.Option{scheduler.WithLogger(deps.Logger)}, opts...)
	s.sched = scheduler.New(s, opts...)
	return s
}

// SetRelay attaches the page relay after construction; the websocket hub
// needs the service to exist first.
func (s *Service) SetRelay(r Relay) {
	s.relay = r
}

func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// Restore loads the persisted alarm set into the scheduler. Records that no
// longer validate are dropped with a warning.
func (s *Service) Restore(ctx context.Context) error {
	if s.alarms == nil {
		return nil
	}
	stored, err := s.alarms.Load(ctx)
	if err != nil {
		return errors.Collaborator("alarm store", err)
	}
	valid := FilterValid(stored, s.logger)
	if err := s.sched.ReplaceAll(valid); err != nil {
		return err
	}
	s.updateGauge()
	s.logger.Info("Restored alarms", "loaded", len(stored), "armed", s.sched.Len())
	return nil
}

// ReplaceAll applies a full snapshot.
func (s *Service) ReplaceAll(ctx context.Context, alarms []model.Alarm) error {
	if err := s.sched.ReplaceAll(alarms); err != nil {
		return err
	}
	s.changed()
	s.logger.Debug("Applied alarm snapshot", "alarms", len(alarms), "armed", s.sched.Len())
	return nil
}

func (s *Service) Schedule(ctx context.Context, a model.Alarm) error {
	if err := s.sched.Schedule(a); err != nil {
		return err
	}
	s.changed()
	return nil
}

// Cancel never fails; it reports whether a pending alarm was removed.
func (s *Service) Cancel(ctx context.Context, id string) bool {
	removed := s.sched.Cancel(id)
	if removed {
		s.changed()
	}
	return removed
}

func (s *Service) TriggerNow(ctx context.Context, a model.Alarm, urgent bool) (bool, error) {
	delivered, err := s.sched.TriggerNow(a, urgent)
	if err != nil {
		return false, err
	}
	s.changed()
	return delivered, nil
}

// List returns armed alarms that match filter.
func (s *Service) List(filter model.AlarmFilter) []model.Alarm {
	all := s.sched.Snapshot()
	out := make([]model.Alarm, 0, len(all))
	for _, a := range all {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// Get returns the armed alarm with id.
func (s *Service) Get(id string) (model.Alarm, bool) {
	for _, a := range s.sched.Snapshot() {
		if a.ID == id {
			return a, true
		}
	}
	return model.Alarm{}, false
}

// NotificationClicked handles a page reporting a click. Dismissals are
// dropped; anything else is relayed to pages and the broker.
func (s *Service) NotificationClicked(ctx context.Context, click model.NotificationClick) error {
	if err := validator.Default().Validate(&click); err != nil {
		return err
	}
	if click.Dismissed() {
		s.logger.Debug("Notification dismissed", "tag", click.Tag)
		return nil
	}
	msg, err := model.NewMessage(model.MessageNotificationClicked, click)
	if err != nil {
		return errors.Internal(err)
	}
	s.emit(ctx, msg)
	return nil
}

// Push shows a server-originated notification on every presenter. The
// rendered notification is returned even when a presenter failed.
func (s *Service) Push(ctx context.Context, p model.PushPayload) (model.Notification, error) {
	if err := validator.Default().Validate(&p); err != nil {
		return model.Notification{}, err
	}
	n := s.notifier.PushNotification(p)
	err := s.notifier.Show(ctx, n)
	s.logger.Info("Notification pushed", "tag", n.Tag, "type", string(p.Type))
	return n, err
}

// RegisterDevice forwards a registration sent over a page connection.
func (s *Service) RegisterDevice(ctx context.Context, d model.Device) error {
	if err := validator.Default().Validate(&d); err != nil {
		return err
	}
	if s.devices == nil {
		s.logger.Debug("No registrar configured, device not forwarded", "device_id", d.DeviceID)
		return nil
	}
	if err := s.devices.RegisterDevice(ctx, d); err != nil {
		return err
	}
	s.logger.Info("Device registered", "device_id", d.DeviceID, "platform", d.Platform)
	return nil
}

// HandleMessage dispatches a page or broker command.
func (s *Service) HandleMessage(ctx context.Context, msg model.Message) error {
	switch msg.Type {
	case model.MessageSyncAlarms:
		var p model.SyncAlarmsPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return s.ReplaceAll(ctx, p.Alarms)

	case model.MessageScheduleAlarm:
		var a model.Alarm
		if err := decode(msg, &a); err != nil {
			return err
		}
		return s.Schedule(ctx, a)

	case model.MessageCancelAlarm:
		var p model.CancelAlarmPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		if err := validator.Default().Validate(&p); err != nil {
			return err
		}
		s.Cancel(ctx, p.ID)
		return nil

	case model.MessageTriggerAlarm:
		var p model.TriggerAlarmPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		_, err := s.TriggerNow(ctx, p.Alarm, p.Urgent)
		return err

	case model.MessageNotificationClicked:
		var click model.NotificationClick
		if err := decode(msg, &click); err != nil {
			return err
		}
		return s.NotificationClicked(ctx, click)

	case model.MessagePush:
		var p model.PushPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		_, err := s.Push(ctx, p)
		return err

	case model.MessageRegisterDevice:
		var d model.Device
		if err := decode(msg, &d); err != nil {
			return err
		}
		return s.RegisterDevice(ctx, d)

	default:
		return errors.BadRequest(fmt.Sprintf("unsupported message type %q", msg.Type), nil)
	}
}

// ConsumeCommands feeds commands published by other backends on the broker
// into HandleMessage until ctx is done.
func (s *Service) ConsumeCommands(ctx context.Context, mb messaging.MessageBroker) error {
	return mb.Subscribe(ctx, messaging.ChannelCommands, func(raw []byte) error {
		var msg model.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return errors.BadRequest("malformed command", err)
		}
		return s.HandleMessage(ctx, msg)
	})
}

// Run persists the alarm set whenever it changes until ctx is done, then
// flushes once more. Bursts of changes collapse into a single save.
func (s *Service) Run(ctx context.Context) {
	if s.alarms == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.save(flushCtx)
			cancel()
			return
		case <-s.saveCh:
			s.save(ctx)
		}
	}
}

// Close stops the scheduler and waits for in-flight side effects.
func (s *Service) Close() error {
	return s.sched.Close()
}

// Delivered renders a delivery and relays it. It runs on a scheduler
// side-effect goroutine.
func (s *Service) Delivered(ctx context.Context, d scheduler.Delivery) error {
	if d.Escalation {
		s.metrics.AlarmEscalations.Inc()
	} else {
		s.metrics.AlarmsDelivered.WithLabelValues(string(d.Alarm.Kind), string(d.Alarm.Priority)).Inc()
		s.changed()
	}

	showErr := s.notifier.Show(ctx, s.notifier.AlarmNotification(d.Alarm, d.Urgent, d.Escalation))

	msg, err := model.NewMessage(model.MessageAlarmTriggered, model.AlarmTriggeredPayload{
		Alarm:      d.Alarm,
		Urgent:     d.Urgent,
		Escalation: d.Escalation,
	})
	if err != nil {
		return errors.Internal(err)
	}
	s.emit(ctx, msg)

	s.logger.Info("Alarm delivered",
		"alarm_id", d.Alarm.ID,
		"kind", string(d.Alarm.Kind),
		"urgent", d.Urgent,
		"escalation", d.Escalation)
	return showErr
}

// Reported queues an upstream delivery report for a public alarm.
func (s *Service) Reported(ctx context.Context, r scheduler.Report) error {
	report := model.DeliveryReport{AlarmID: r.AlarmID, DeliveredAt: r.DeliveredAt}

	if s.outbox == nil {
		if s.reporter == nil {
			return nil
		}
		if err := s.reporter.ReportDelivered(ctx, report); err != nil {
			return errors.Collaborator("upstream", err)
		}
		return nil
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return errors.Internal(err)
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: model.EventAlarmDelivered,
		Payload:   payload,
	}); err != nil {
		return errors.Collaborator("outbox", err)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, msg model.Message) {
	if s.relay != nil {
		if err := s.relay.Relay(ctx, msg); err != nil {
			s.logger.Warn("Relay to pages failed", "type", string(msg.Type), "error", err.Error())
		}
	}
	if err := s.broker.Publish(ctx, messaging.ChannelEvents, msg); err != nil {
		s.logger.Warn("Broker publish failed", "type", string(msg.Type), "error", err.Error())
	}
}

func (s *Service) changed() {
	s.updateGauge()
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

func (s *Service) updateGauge() {
	s.metrics.AlarmsArmed.Set(float64(s.sched.Len()))
}

func (s *Service) save(ctx context.Context) {
	all := append(s.sched.Snapshot(), s.sched.Delivered()...)
	if err := s.alarms.Save(ctx, all); err != nil {
		s.metrics.PersistenceWrites.WithLabelValues("error").Inc()
		s.logger.Error(err, "Failed to persist alarms", "collaborator", "alarm store")
		return
	}
	s.metrics.PersistenceWrites.WithLabelValues("success").Inc()
}

// FilterValid drops records that fail validation, logging each one.
func FilterValid(alarms []model.Alarm, log *logger.Logger) []model.Alarm {
	out := make([]model.Alarm, 0, len(alarms))
	for _, a := range alarms {
		a.Normalize()
		if err := a.Validate(); err != nil {
			log.Warn("Skipping invalid alarm", "alarm_id", a.ID, "error", err.Error())
			continue
		}
		out = append(out, a)
	}
	return out
}

func decode(msg model.Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return errors.BadRequest(fmt.Sprintf("%s requires a payload", msg.Type), nil)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return errors.BadRequest(fmt.Sprintf("malformed %s payload", msg.Type), err)
	}
	return nil
}
