package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/diwise/iot-fill-level/internal/pkg/application/ingestion"
	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories"
	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("iot-fill-level/api")

func RegisterHandlers(ctx context.Context, router *chi.Mux, svc ingestion.Service, pushServerURL string, gatherer prometheus.Gatherer) *chi.Mux {
	log := logging.GetFromContext(ctx)

	router.Get("/health", healthHandler(svc, pushServerURL))

	if gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/report", reportHandler(log, svc))

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", queryDevicesHandler(log, svc))
			r.Get("/{deviceID}", getDeviceDetails(log, svc))
		})

		r.Get("/events", queryEventsHandler(log, svc))
	})

	return router
}

func healthHandler(svc ingestion.Service, pushServerURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			OK:            true,
			AllowedLevels: svc.Policy().Allowed(),
			TopLevel:      svc.Policy().Top(),
			PushServerURL: pushServerURL,
		})
	}
}

func reportHandler(log zerolog.Logger, svc ingestion.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "report-level")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := reportRequest{}
		err = json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "malformed request body"})
			return
		}

		requestLogger = requestLogger.With().Str("device_id", req.DeviceID).Logger()
		ctx = logging.NewContextWithLogger(ctx, requestLogger)

		result, err := svc.Report(ctx, ingestion.Report{
			DeviceID:  req.DeviceID,
			Level:     req.Level,
			Timestamp: req.Timestamp,
		})
		if errors.Is(err, ingestion.ErrInvalidInput) {
			requestLogger.Info().Err(err).Msg("rejected report")
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Detail:        err.Error(),
				AllowedLevels: svc.Policy().Allowed(),
			})
			return
		}
		if errors.Is(err, ingestion.ErrPushDeliveryFailed) {
			requestLogger.Error().Err(err).Msg("push delivery failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Detail: err.Error()})
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to handle report")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		response := reportResponse{
			OK:        true,
			DeviceID:  result.DeviceID,
			Level:     result.Level,
			Notified:  result.Notified,
			UpdatedAt: result.UpdatedAt,
		}
		if result.PreviousLevel != "" {
			response.PreviousLevel = &result.PreviousLevel
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func queryDevicesHandler(log zerolog.Logger, svc ingestion.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-all-devices")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		devices, err := svc.Devices(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch all devices")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if devices == nil {
			devices = []types.DeviceStatus{}
		}

		writeJSON(w, http.StatusOK, devices)
	}
}

func getDeviceDetails(log zerolog.Logger, svc ingestion.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")
		requestLogger = requestLogger.With().Str("device_id", deviceID).Logger()

		limit, err := queryInt(r, "limit_events", repositories.DefaultDeviceEventLimit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "limit_events must be an integer"})
			return
		}

		device, err := svc.Device(ctx, deviceID, limit)
		if errors.Is(err, repositories.ErrNotFound) {
			requestLogger.Debug().Msg("device not found")
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "device not found"})
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not fetch data")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if device.RecentEvents == nil {
			device.RecentEvents = []types.Event{}
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func queryEventsHandler(log zerolog.Logger, svc ingestion.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-events")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		limit, err := queryInt(r, "limit", repositories.DefaultEventLimit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "limit must be an integer"})
			return
		}

		events, err := svc.Events(ctx, limit)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch events")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if events == nil {
			events = []types.Event{}
		}

		writeJSON(w, http.StatusOK, events)
	}
}

func queryInt(r *http.Request, name string, defaultValue int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}
