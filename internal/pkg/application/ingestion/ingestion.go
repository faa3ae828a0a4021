package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/diwise/iot-fill-level/internal/pkg/application/levels"
	"github.com/diwise/iot-fill-level/internal/pkg/application/notification"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories"
	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrPushDeliveryFailed = errors.New("push delivery failed")
)

const (
	MaxDeviceIDLength int = 64
	MaxLevelLength    int = 32
)

var tracer = otel.Tracer("iot-fill-level/ingestion")

type StatusStore interface {
	Get(ctx context.Context, deviceID string) (types.DeviceStatus, error)
	Upsert(ctx context.Context, status types.DeviceStatus) (types.DeviceStatus, error)
	List(ctx context.Context) ([]types.DeviceStatus, error)
}

type EventLog interface {
	Append(ctx context.Context, event types.Event) (string, error)
	Recent(ctx context.Context, deviceID string, limit int) ([]types.Event, error)
	RecentAll(ctx context.Context, limit int) ([]types.Event, error)
}

type Notifier interface {
	Push(ctx context.Context, deviceID, level string) error
}

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type Metrics interface {
	ReportAccepted(level string)
	ReportRejected()
	Notification(outcome string)
	PushLatency(seconds float64)
	DeviceAdded()
}

type Config struct {
	Cooldown    time.Duration
	PushTimeout time.Duration
}

type Report struct {
	DeviceID string
	Level    string
	// Timestamp is the device supplied sensing time, empty when not sent.
	Timestamp string
}

type Result struct {
	DeviceID      string
	Level         string
	PreviousLevel string
	Notified      bool
	UpdatedAt     time.Time
}

type Service interface {
	Report(ctx context.Context, report Report) (Result, error)

	Devices(ctx context.Context) ([]types.DeviceStatus, error)
	Device(ctx context.Context, deviceID string, eventLimit int) (types.DeviceDetails, error)
	Events(ctx context.Context, limit int) ([]types.Event, error)

	Policy() levels.Policy
}

type Option func(*service)

func WithPublisher(p Publisher) Option {
	return func(s *service) {
		s.publisher = p
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	policy   levels.Policy
	statuses StatusStore
	events   EventLog
	notifier Notifier
	cfg      Config

	publisher Publisher
	metrics   Metrics
	now       func() time.Time
	locks     *keyedMutex
}

func New(policy levels.Policy, statuses StatusStore, events EventLog, notifier Notifier, cfg Config, opts ...Option) Service {
	s := &service{
		policy:   policy,
		statuses: statuses,
		events:   events,
		notifier: notifier,
		cfg:      cfg,
		metrics:  noopMetrics{},
		now:      time.Now,
		locks:    newKeyedMutex(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) Policy() levels.Policy {
	return s.policy
}

// Report handles a single fill level report. Validation happens before any
// write. The new status is stored before a push is attempted and is kept even
// if the push fails. Reports for the same device are handled one at a time.
func (s *service) Report(ctx context.Context, report Report) (Result, error) {
	var err error
	ctx, span := tracer.Start(ctx, "handle-report")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	deviceID, level, err := s.validate(report)
	if err != nil {
		s.metrics.ReportRejected()
		return Result{}, err
	}

	log := logging.GetFromContext(ctx).With().Str("device_id", deviceID).Logger()

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	receivedAt := s.now().UTC()
	received := receivedAt.Format(time.RFC3339Nano)

	var ts any
	if report.Timestamp != "" {
		ts = report.Timestamp
	}

	_, err = s.events.Append(ctx, types.Event{
		DeviceID:  deviceID,
		EventType: types.EventReportReceived,
		Payload:   map[string]any{"level": level, "ts": ts, "received_at": received},
		CreatedAt: receivedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("could not record report for device %s: %w", deviceID, err)
	}

	var previousLevel, lastNotifiedAt string

	previous, err := s.statuses.Get(ctx, deviceID)
	if err == nil {
		previousLevel = previous.Level
		lastNotifiedAt = previous.LastNotifiedAt
	} else if errors.Is(err, repositories.ErrNotFound) {
		err = nil
		s.metrics.DeviceAdded()
	} else {
		return Result{}, fmt.Errorf("could not fetch status for device %s: %w", deviceID, err)
	}

	lastSeenAt := report.Timestamp
	if lastSeenAt == "" {
		lastSeenAt = received
	}

	status, err := s.statuses.Upsert(ctx, types.DeviceStatus{
		DeviceID:       deviceID,
		Level:          level,
		LastSeenAt:     lastSeenAt,
		UpdatedAt:      receivedAt,
		LastNotifiedAt: lastNotifiedAt,
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.ReportAccepted(level)

	result := Result{
		DeviceID:      deviceID,
		Level:         level,
		PreviousLevel: previousLevel,
		UpdatedAt:     status.UpdatedAt,
	}

	decision := notification.Evaluate(previousLevel, level, lastNotifiedAt, receivedAt, s.policy.Top(), s.cfg.Cooldown)

	switch decision.Reason {
	case notification.ReasonCooldown:
		log.Info().Msgf("entered %s within cooldown (%s since last push), notification suppressed", level, decision.Elapsed)
		s.metrics.Notification(metrics.OutcomeSuppressed)
	case notification.ReasonCooldownUnparseable:
		log.Debug().Msgf("could not parse last push time %q, ignoring cooldown", lastNotifiedAt)
	}

	if decision.Notify {
		err = s.notify(ctx, status)
		if err != nil {
			log.Error().Err(err).Msg("failed to deliver push notification")
			return result, err
		}
		result.Notified = true
	}

	s.publish(ctx, result)

	return result, nil
}

func (s *service) notify(ctx context.Context, status types.DeviceStatus) error {
	pushCtx := ctx
	if s.cfg.PushTimeout > 0 {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(ctx, s.cfg.PushTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.notifier.Push(pushCtx, status.DeviceID, status.Level)
	s.metrics.PushLatency(time.Since(start).Seconds())

	if err != nil {
		s.metrics.Notification(metrics.OutcomeFailed)
		return fmt.Errorf("%w: %s", ErrPushDeliveryFailed, err.Error())
	}

	s.metrics.Notification(metrics.OutcomeSent)

	notifiedAt := s.now().UTC()
	status.LastNotifiedAt = notifiedAt.Format(time.RFC3339Nano)

	_, err = s.statuses.Upsert(ctx, status)
	if err != nil {
		return fmt.Errorf("could not store push time for device %s: %w", status.DeviceID, err)
	}

	_, err = s.events.Append(ctx, types.Event{
		DeviceID:  status.DeviceID,
		EventType: types.EventNotificationSent,
		Payload:   map[string]any{"level": status.Level},
		CreatedAt: notifiedAt,
	})
	if err != nil {
		return fmt.Errorf("could not record push for device %s: %w", status.DeviceID, err)
	}

	return nil
}

func (s *service) publish(ctx context.Context, result Result) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.PublishOnTopic(ctx, &types.FillLevelReported{
		DeviceID:      result.DeviceID,
		Level:         result.Level,
		PreviousLevel: result.PreviousLevel,
		Notified:      result.Notified,
		Timestamp:     result.UpdatedAt,
	})
	if err != nil {
		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Str("device_id", result.DeviceID).Msg("could not publish report message")
	}
}

func (s *service) validate(report Report) (string, string, error) {
	deviceID := strings.TrimSpace(report.DeviceID)

	if n := utf8.RuneCountInString(deviceID); n == 0 || n > MaxDeviceIDLength {
		return "", "", fmt.Errorf("%w: device_id must be between 1 and %d characters", ErrInvalidInput, MaxDeviceIDLength)
	}

	if n := utf8.RuneCountInString(report.Level); n == 0 || n > MaxLevelLength {
		return "", "", fmt.Errorf("%w: level must be between 1 and %d characters", ErrInvalidInput, MaxLevelLength)
	}

	level := levels.Normalize(report.Level)

	if err := s.policy.Validate(level); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return deviceID, level, nil
}

func (s *service) Devices(ctx context.Context) ([]types.DeviceStatus, error) {
	return s.statuses.List(ctx)
}

func (s *service) Device(ctx context.Context, deviceID string, eventLimit int) (types.DeviceDetails, error) {
	status, err := s.statuses.Get(ctx, deviceID)
	if err != nil {
		return types.DeviceDetails{}, err
	}

	events, err := s.events.Recent(ctx, deviceID, eventLimit)
	if err != nil {
		return types.DeviceDetails{}, err
	}

	return types.DeviceDetails{
		DeviceStatus: status,
		RecentEvents: events,
	}, nil
}

func (s *service) Events(ctx context.Context, limit int) ([]types.Event, error) {
	return s.events.RecentAll(ctx, limit)
}

type noopMetrics struct{}

func (noopMetrics) ReportAccepted(string) {}
func (noopMetrics) ReportRejected()       {}
func (noopMetrics) Notification(string)   {}
func (noopMetrics) PushLatency(float64)   {}
func (noopMetrics) DeviceAdded()          {}
