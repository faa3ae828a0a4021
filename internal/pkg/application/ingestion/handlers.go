package ingestion

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const ReportTopic string = "fill-level.report"

func NewReportTopicMessageHandler(svc Service) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		report := struct {
			DeviceID  string `json:"device_id"`
			Level     string `json:"level"`
			Timestamp string `json:"timestamp,omitempty"`
		}{}

		err := json.Unmarshal(msg.Body, &report)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		logger = logger.With().Str("device_id", report.DeviceID).Logger()
		ctx = logging.NewContextWithLogger(ctx, logger)

		result, err := svc.Report(ctx, Report{
			DeviceID:  report.DeviceID,
			Level:     report.Level,
			Timestamp: report.Timestamp,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				logger.Warn().Err(err).Msg("rejected report")
			} else {
				logger.Error().Err(err).Msg("could not handle report")
			}
			return
		}

		logger.Debug().Bool("notified", result.Notified).Msgf("%s handled", msg.RoutingKey)
	}
}
