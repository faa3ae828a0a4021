package logging

import (
	"context"
	"strings"

	chassis "github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger creates the service logger and stores it in the returned context so
// that it can be picked up further down with logging.GetFromContext.
func NewLogger(ctx context.Context, serviceName, serviceVersion, level string) (context.Context, zerolog.Logger) {
	logger := log.With().
		Str("service", strings.ToLower(serviceName)).
		Str("version", serviceVersion).
		Logger().
		Level(parseLevel(level))

	return chassis.NewContextWithLogger(ctx, logger), logger
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}

	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}

	return l
}
