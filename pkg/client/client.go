package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrBadRequest        = errors.New("bad request")
	ErrUpstreamPush      = errors.New("push delivery failed")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

type FillLevelClient interface {
	Report(ctx context.Context, deviceID, level string, timestamp *time.Time) (ReportResult, error)
	Devices(ctx context.Context) ([]types.DeviceStatus, error)
	Device(ctx context.Context, deviceID string, limitEvents int) (types.DeviceDetails, error)
	Events(ctx context.Context, limit int) ([]types.Event, error)
}

type ReportResult struct {
	OK            bool      `json:"ok"`
	DeviceID      string    `json:"device_id"`
	Level         string    `json:"level"`
	PreviousLevel *string   `json:"prev_level"`
	Notified      bool      `json:"notified"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type fillLevelClient struct {
	url        string
	httpClient http.Client
}

var tracer = otel.Tracer("iot-fill-level-client")

func NewFillLevelClient(fillLevelUrl string) FillLevelClient {
	return &fillLevelClient{
		url: fillLevelUrl,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *fillLevelClient) Report(ctx context.Context, deviceID, level string, timestamp *time.Time) (ReportResult, error) {
	var err error
	ctx, span := tracer.Start(ctx, "report-level")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug().Msgf("reporting level %s for device %s", level, deviceID)

	body := map[string]string{"device_id": deviceID, "level": level}
	if timestamp != nil {
		body["timestamp"] = timestamp.UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return ReportResult{}, err
	}

	result := ReportResult{}
	err = c.do(ctx, http.MethodPost, "/api/v1/report", bytes.NewReader(b), &result)

	return result, err
}

func (c *fillLevelClient) Devices(ctx context.Context) ([]types.DeviceStatus, error) {
	var err error
	ctx, span := tracer.Start(ctx, "query-devices")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	devices := []types.DeviceStatus{}
	err = c.do(ctx, http.MethodGet, "/api/v1/devices", nil, &devices)

	return devices, err
}

func (c *fillLevelClient) Device(ctx context.Context, deviceID string, limitEvents int) (types.DeviceDetails, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	path := "/api/v1/devices/" + url.PathEscape(deviceID) + "?limit_events=" + strconv.Itoa(limitEvents)

	details := types.DeviceDetails{}
	err = c.do(ctx, http.MethodGet, path, nil, &details)

	return details, err
}

func (c *fillLevelClient) Events(ctx context.Context, limit int) ([]types.Event, error) {
	var err error
	ctx, span := tracer.Start(ctx, "query-events")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	events := []types.Event{}
	err = c.do(ctx, http.MethodGet, "/api/v1/events?limit="+strconv.Itoa(limit), nil, &events)

	return events, err
}

func (c *fillLevelClient) do(ctx context.Context, method, path string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, string(respBody))
	case http.StatusBadGateway:
		return fmt.Errorf("%w: %s", ErrUpstreamPush, string(respBody))
	default:
		return fmt.Errorf("%w: status code %d", ErrUnexpectedResponse, resp.StatusCode)
	}

	err = json.Unmarshal(respBody, result)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}
