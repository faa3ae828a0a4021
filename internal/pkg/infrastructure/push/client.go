package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var ErrDeliveryFailed = errors.New("push delivery failed")

var tracer = otel.Tracer("iot-fill-level/push-client")

type Client interface {
	Push(ctx context.Context, deviceID, level string) error
	URL() string
}

type pushClient struct {
	url        string
	httpClient http.Client
}

func NewClient(url string) Client {
	return &pushClient{
		url: url,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *pushClient) URL() string {
	return c.url
}

// Push posts the device and level to the push server. Any transport error,
// expired context or response status >= 400 is reported as ErrDeliveryFailed.
func (c *pushClient) Push(ctx context.Context, deviceID, level string) error {
	var err error
	ctx, span := tracer.Start(ctx, "push-notification")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	body, err := json.Marshal(struct {
		DeviceID string `json:"device_id"`
		Level    string `json:"level"`
	}{deviceID, level})
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrDeliveryFailed, err.Error())
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("%w: failed to create http request: %s", ErrDeliveryFailed, err.Error())
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrDeliveryFailed, err.Error())
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("%w: push server error (%d): %s", ErrDeliveryFailed, resp.StatusCode, string(respBody))
		return err
	}

	log.Debug().Str("device_id", deviceID).Str("level", level).Msg("push server accepted notification")

	return nil
}
