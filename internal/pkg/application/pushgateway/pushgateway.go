package pushgateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/iot-fill-level/internal/pkg/application/levels"
	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

const (
	DefaultTopicPrefix string = "bin-"
	PushEventType      string = "fill-level.push"
)

var (
	ErrUnknownLevel   = errors.New("unknown level")
	ErrMissingDevice  = errors.New("device_id is required")
	ErrPublishFailure = errors.New("failed to publish notification")
)

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type Gateway interface {
	Send(ctx context.Context, deviceID, level string) (string, error)
	Topics() map[string]string
	Delivering() bool
}

type gateway struct {
	topics      map[string]string
	publisher   Publisher
	subscribers []SubscriberConfig
	client      cloudevents.Client
}

// New maps every allowed level to its own topic, e.g. "high" to "bin-high".
func New(allowed []string, publisher Publisher, cfg *Config) (Gateway, error) {
	prefix := DefaultTopicPrefix
	if cfg != nil && cfg.TopicPrefix != "" {
		prefix = cfg.TopicPrefix
	}

	g := &gateway{
		topics: lo.SliceToMap(allowed, func(level string) (string, string) {
			return level, prefix + level
		}),
		publisher:   publisher,
		subscribers: cfg.subscribers(PushEventType),
	}

	if len(g.subscribers) > 0 {
		c, err := cloudevents.NewClientHTTP()
		if err != nil {
			return nil, err
		}
		g.client = c
	}

	return g, nil
}

func (g *gateway) Topics() map[string]string {
	return lo.Assign(g.topics)
}

func (g *gateway) Send(ctx context.Context, deviceID, level string) (string, error) {
	level = levels.Normalize(level)
	deviceID = strings.TrimSpace(deviceID)

	topic, ok := g.topics[level]
	if !ok {
		allowed := lo.Keys(g.topics)
		sort.Strings(allowed)
		return "", fmt.Errorf("%w: level must be one of %v", ErrUnknownLevel, allowed)
	}

	if deviceID == "" {
		return "", ErrMissingDevice
	}

	msg := &types.PushNotification{
		Topic: topic,
		Title: fmt.Sprintf("Bin status: %s", strings.ToUpper(level)),
		Body:  fmt.Sprintf("%s is at level %s", deviceID, level),
		Data: map[string]string{
			"level":     level,
			"device_id": deviceID,
		},
		Timestamp: time.Now().UTC(),
	}

	if g.publisher == nil && g.client == nil {
		return "", fmt.Errorf("%w: no publisher or subscribers configured", ErrPublishFailure)
	}

	if g.publisher != nil {
		err := g.publisher.PublishOnTopic(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrPublishFailure, err.Error())
		}
	}

	delivered := g.fanOut(ctx, msg)
	if g.publisher == nil && delivered == 0 {
		return "", fmt.Errorf("%w: no subscriber accepted the notification", ErrPublishFailure)
	}

	return topic, nil
}

// Delivering reports whether Send has anywhere to deliver notifications.
func (g *gateway) Delivering() bool {
	return g.publisher != nil || g.client != nil
}

// fanOut delivers the notification as a cloudevent to every configured
// subscriber and returns how many of them acknowledged it. Failures are logged.
func (g *gateway) fanOut(ctx context.Context, msg *types.PushNotification) int {
	if g.client == nil {
		return 0
	}

	logger := logging.GetFromContext(ctx)

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetTime(msg.Timestamp)
	event.SetSource("github.com/diwise/iot-fill-level")
	event.SetType(PushEventType)
	event.SetSubject(msg.Topic)

	err := event.SetData(cloudevents.ApplicationJSON, msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set cloudevent data")
		return 0
	}

	delivered := 0

	for _, s := range g.subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := g.client.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			continue
		}
		if !cloudevents.IsACK(result) {
			logger.Error().Err(result).Msgf("event was not accepted by %s", s.Endpoint)
			continue
		}

		delivered++
	}

	return delivered
}
