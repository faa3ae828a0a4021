package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diwise/iot-fill-level/internal/pkg/application/pushgateway"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestThatMissingConfigurationFileIsAllowed(t *testing.T) {
	is := is.New(t)
	t.Setenv("TOPIC_PREFIX", "trash-")

	cfg, err := loadConfiguration(zerolog.Nop(), filepath.Join(t.TempDir(), "nosuchfile.yaml"))
	is.NoErr(err)
	is.Equal(cfg.TopicPrefix, "trash-")
	is.Equal(len(cfg.Notifications), 0)
}

func TestThatConfigurationFileIsLoaded(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "push-gateway.yaml")
	is.NoErr(os.WriteFile(path, []byte(configYaml), 0o600))

	cfg, err := loadConfiguration(zerolog.Nop(), path)
	is.NoErr(err)
	is.Equal(cfg.TopicPrefix, "container-")
	is.Equal(cfg.Notifications[0].Subscribers[0].Endpoint, "http://api-notification:8990")
}

func TestPushEndpoint(t *testing.T) {
	is := is.New(t)

	gw, err := pushgateway.New([]string{"low", "middle", "high"}, publisherFake{}, &pushgateway.Config{TopicPrefix: "container-"})
	is.NoErr(err)

	server := httptest.NewServer(setupRouter(context.Background(), gw))
	defer server.Close()

	resp, err := http.Post(server.URL+"/push", "application/json", strings.NewReader(`{"device_id":"bin-7","level":"middle"}`))
	is.NoErr(err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(string(body), `{"ok":true,"topic":"container-middle","level":"middle"}`)
}

type publisherFake struct{}

func (publisherFake) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	return nil
}

const configYaml string = `
topicPrefix: container-
notifications:
  - id: push
    name: Fill level push notifications
    type: fill-level.push
    subscribers:
    - endpoint: http://api-notification:8990
`
