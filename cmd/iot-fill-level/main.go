package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/diwise/iot-fill-level/internal/pkg/application/ingestion"
	"github.com/diwise/iot-fill-level/internal/pkg/application/levels"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/push"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories/memory"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fill-level/internal/pkg/presentation/api"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

const serviceName string = "iot-fill-level"

type config struct {
	host            string
	port            string
	allowedLevels   []string
	topLevel        string
	pushServerURL   string
	pushTimeout     time.Duration
	pushCooldown    time.Duration
	storage         string
	enableTracing   bool
	enableMessaging bool
}

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion, os.Getenv("LOG_LEVEL"))
	logger.Info().Msg("starting up ...")

	cfg, err := loadConfig(logger, os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	cleanup, err := tracing.Init(ctx, logger, cfg.enableTracing, serviceName, serviceVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer cleanup()

	statuses, events, closeStorage, err := newStorage(ctx, logger, cfg.storage)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to create %s storage", cfg.storage)
	}
	defer closeStorage()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := newMetrics(ctx, reg, statuses)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read device statuses")
	}

	opts := []ingestion.Option{ingestion.WithMetrics(m)}

	var messenger messaging.MsgContext
	if cfg.enableMessaging {
		messenger, err = messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init messenger")
		}
		defer messenger.Close()

		opts = append(opts, ingestion.WithPublisher(messenger))
	}

	svc := newService(logger, cfg, statuses, events, opts...)

	if messenger != nil {
		messenger.RegisterTopicMessageHandler(ingestion.ReportTopic, ingestion.NewReportTopicMessageHandler(svc))
	}

	r := setupRouter(ctx, svc, cfg.pushServerURL, reg)

	addr := net.JoinHostPort(cfg.host, cfg.port)
	logger.Info().Str("addr", addr).Msg("starting to listen for connections")

	err = http.ListenAndServe(addr, r)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start router")
	}
}

func newService(logger zerolog.Logger, cfg config, statuses ingestion.StatusStore, events ingestion.EventLog, opts ...ingestion.Option) ingestion.Service {
	policy := levels.NewPolicy(cfg.allowedLevels, cfg.topLevel)
	if !policy.TopIsAllowed() {
		logger.Warn().Str("top_level", policy.Top()).Strs("allowed_levels", policy.Allowed()).
			Msg("top level is not one of the allowed levels, no notifications will ever be sent")
	}

	return ingestion.New(policy, statuses, events, push.NewClient(cfg.pushServerURL),
		ingestion.Config{Cooldown: cfg.pushCooldown, PushTimeout: cfg.pushTimeout}, opts...)
}

// newMetrics seeds the device gauge from the store so that persistent storage
// reports the right count after a restart.
func newMetrics(ctx context.Context, reg prometheus.Registerer, statuses ingestion.StatusStore) (*metrics.Metrics, error) {
	m := metrics.New(reg)

	known, err := statuses.List(ctx)
	if err != nil {
		return nil, err
	}
	m.DevicesKnown(len(known))

	return m, nil
}

func setupRouter(ctx context.Context, svc ingestion.Service, pushServerURL string, gatherer prometheus.Gatherer) *chi.Mux {
	r := router.New(serviceName)
	return api.RegisterHandlers(ctx, r, svc, pushServerURL, gatherer)
}

func newStorage(ctx context.Context, logger zerolog.Logger, kind string) (ingestion.StatusStore, ingestion.EventLog, func(), error) {
	var connect database.ConnectorFunc

	switch kind {
	case "memory", "":
		return memory.NewStatusStore(), memory.NewEventLog(), func() {}, nil
	case "sqlite":
		connect = database.NewSQLiteFileConnector(logger, env.GetVariableOrDefault(logger, "SQLITE_DSN", "file::memory:"))
	case "postgres":
		connect = database.NewPostgreSQLConnector(ctx, logger, database.LoadConfigFromEnv(logger))
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage %q", kind)
	}

	repo, err := database.New(connect)
	if err != nil {
		return nil, nil, nil, err
	}

	return repo, repo, func() { repo.Close() }, nil
}

func loadConfig(logger zerolog.Logger, args []string) (config, error) {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)

	host := fs.String("host", env.GetVariableOrDefault(logger, "MAIN_HOST", "0.0.0.0"), "address to listen on")
	port := fs.String("port", env.GetVariableOrDefault(logger, "MAIN_PORT", "7000"), "port to listen on")
	allowed := fs.String("levels", env.GetVariableOrDefault(logger, "ALLOWED_LEVELS", "low,middle,high"), "comma separated list of allowed levels")
	top := fs.String("top", env.GetVariableOrDefault(logger, "TOP_LEVEL", "high"), "level that triggers a notification")
	pushURL := fs.String("push-url", env.GetVariableOrDefault(logger, "PUSH_SERVER_URL", "http://127.0.0.1:6000/push"), "url of the push server")
	pushTimeout := fs.String("push-timeout", env.GetVariableOrDefault(logger, "PUSH_TIMEOUT_SEC", "3.0"), "push timeout in seconds")
	pushCooldown := fs.String("push-cooldown", env.GetVariableOrDefault(logger, "PUSH_COOLDOWN_SEC", "60"), "minimum seconds between notifications per device")
	storage := fs.String("storage", env.GetVariableOrDefault(logger, "STORAGE", "memory"), "memory, sqlite or postgres")
	tracingEnabled := fs.String("tracing", env.GetVariableOrDefault(logger, "ENABLE_TRACING", "true"), "export traces when an otlp endpoint is configured")
	messagingEnabled := fs.String("messaging", env.GetVariableOrDefault(logger, "ENABLE_MESSAGING", "false"), "connect to rabbitmq")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		host:          *host,
		port:          *port,
		allowedLevels: levels.Parse(*allowed),
		topLevel:      *top,
		pushServerURL: *pushURL,
		storage:       *storage,
	}

	if len(cfg.allowedLevels) == 0 {
		return config{}, fmt.Errorf("no allowed levels configured")
	}

	var err error
	if cfg.pushTimeout, err = seconds(*pushTimeout); err != nil {
		return config{}, fmt.Errorf("push timeout: %w", err)
	}
	if cfg.pushCooldown, err = seconds(*pushCooldown); err != nil {
		return config{}, fmt.Errorf("push cooldown: %w", err)
	}

	cfg.enableTracing, _ = strconv.ParseBool(*tracingEnabled)
	cfg.enableMessaging, _ = strconv.ParseBool(*messagingEnabled)

	return cfg, nil
}

func seconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
