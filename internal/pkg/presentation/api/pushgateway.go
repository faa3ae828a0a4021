package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diwise/iot-fill-level/internal/pkg/application/levels"
	"github.com/diwise/iot-fill-level/internal/pkg/application/pushgateway"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func RegisterPushGatewayHandlers(ctx context.Context, router *chi.Mux, gw pushgateway.Gateway) *chi.Mux {
	log := logging.GetFromContext(ctx)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "topics": gw.Topics()})
	})

	router.Post("/push", pushHandler(log, gw))

	return router
}

func pushHandler(log zerolog.Logger, gw pushgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "push")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := pushRequest{}
		err = json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "malformed request body"})
			return
		}

		topic, err := gw.Send(ctx, req.DeviceID, req.Level)
		if errors.Is(err, pushgateway.ErrUnknownLevel) || errors.Is(err, pushgateway.ErrMissingDevice) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("failed to send push notification")
			writeJSON(w, http.StatusBadGateway, errorResponse{Detail: err.Error()})
			return
		}

		requestLogger.Info().Str("device_id", req.DeviceID).Str("topic", topic).Msg("push notification sent")

		writeJSON(w, http.StatusOK, pushResponse{OK: true, Topic: topic, Level: levels.Normalize(req.Level)})
	}
}
