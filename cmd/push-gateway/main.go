package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/diwise/iot-fill-level/internal/pkg/application/levels"
	"github.com/diwise/iot-fill-level/internal/pkg/application/pushgateway"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fill-level/internal/pkg/presentation/api"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const serviceName string = "push-gateway"

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion, os.Getenv("LOG_LEVEL"))
	logger.Info().Msg("starting up ...")

	enableTracing, _ := strconv.ParseBool(env.GetVariableOrDefault(logger, "ENABLE_TRACING", "true"))
	cleanup, err := tracing.Init(ctx, logger, enableTracing, serviceName, serviceVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer cleanup()

	cfg, err := loadConfiguration(logger, env.GetVariableOrDefault(logger, "PUSH_GATEWAY_CONFIG", "/opt/diwise/config/push-gateway.yaml"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	var publisher pushgateway.Publisher
	if enabled, _ := strconv.ParseBool(env.GetVariableOrDefault(logger, "ENABLE_MESSAGING", "false")); enabled {
		messenger, err := messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init messenger")
		}
		defer messenger.Close()

		publisher = messenger
	}

	allowed := levels.Parse(env.GetVariableOrDefault(logger, "ALLOWED_LEVELS", "low,middle,high"))

	gw, err := pushgateway.New(allowed, publisher, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create push gateway")
	}

	if !gw.Delivering() {
		logger.Warn().Msg("messaging is disabled and no subscribers are configured, every push will be answered with 502")
	}

	addr := net.JoinHostPort(
		env.GetVariableOrDefault(logger, "PUSH_GATEWAY_HOST", "0.0.0.0"),
		env.GetVariableOrDefault(logger, "PUSH_GATEWAY_PORT", "6000"),
	)
	logger.Info().Str("addr", addr).Interface("topics", gw.Topics()).Msg("starting to listen for connections")

	err = http.ListenAndServe(addr, setupRouter(ctx, gw))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start router")
	}
}

func setupRouter(ctx context.Context, gw pushgateway.Gateway) *chi.Mux {
	return api.RegisterPushGatewayHandlers(ctx, router.New(serviceName), gw)
}

// loadConfiguration reads the optional subscriber file. A missing file leaves
// the gateway publishing on topics only.
func loadConfiguration(logger zerolog.Logger, path string) (*pushgateway.Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		logger.Info().Str("path", path).Msg("no configuration file found, cloudevent fan-out disabled")
		cfg := &pushgateway.Config{}
		cfg.TopicPrefix = env.GetVariableOrDefault(logger, "TOPIC_PREFIX", pushgateway.DefaultTopicPrefix)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := pushgateway.LoadConfiguration(f)
	if err != nil {
		return nil, err
	}

	if prefix := os.Getenv("TOPIC_PREFIX"); prefix != "" {
		cfg.TopicPrefix = prefix
	}

	return cfg, nil
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	infoMap := map[string]string{}
	for _, s := range buildInfo.Settings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
