package pushgateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
)

func TestConfig(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(strings.NewReader(configYaml))
	is.NoErr(err)
	is.Equal(cfg.TopicPrefix, "trash-")
	is.Equal(len(cfg.Notifications), 2)
	is.Equal(len(cfg.subscribers(PushEventType)), 1)
	is.Equal(cfg.subscribers(PushEventType)[0].Endpoint, "http://api-notification:8990")
}

func TestThatEachLevelHasItsOwnTopic(t *testing.T) {
	is := is.New(t)

	g, err := New([]string{"low", "middle", "high"}, nil, nil)
	is.NoErr(err)

	is.Equal(g.Topics(), map[string]string{"low": "bin-low", "middle": "bin-middle", "high": "bin-high"})
}

func TestSendPublishesOnLevelTopic(t *testing.T) {
	is := is.New(t)
	p := &publisherFake{}

	g, _ := New([]string{"low", "middle", "high"}, p, nil)

	topic, err := g.Send(context.Background(), "bin-1", "HIGH")
	is.NoErr(err)
	is.Equal(topic, "bin-high")

	is.Equal(len(p.messages), 1)
	msg := p.messages[0].(*types.PushNotification)
	is.Equal(msg.TopicName(), "bin-high")
	is.Equal(msg.Data["device_id"], "bin-1")
	is.Equal(msg.Data["level"], "high")
	is.Equal(msg.Title, "Bin status: HIGH")
}

func TestThatUnknownLevelIsRejected(t *testing.T) {
	is := is.New(t)
	p := &publisherFake{}

	g, _ := New([]string{"low", "middle", "high"}, p, nil)

	_, err := g.Send(context.Background(), "bin-1", "overflowing")
	is.True(errors.Is(err, ErrUnknownLevel))

	_, err = g.Send(context.Background(), " ", "high")
	is.True(errors.Is(err, ErrMissingDevice))

	is.Equal(len(p.messages), 0)
}

func TestThatSendFailsWithoutAnyChannel(t *testing.T) {
	is := is.New(t)

	g, err := New([]string{"low", "middle", "high"}, nil, nil)
	is.NoErr(err)
	is.True(!g.Delivering())

	topic, err := g.Send(context.Background(), "bin-1", "high")
	is.True(errors.Is(err, ErrPublishFailure))
	is.Equal(topic, "")
}

func TestThatSendFailsWhenNoSubscriberAccepts(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := &Config{
		Notifications: []Notification{
			{ID: "push", Type: PushEventType, Subscribers: []SubscriberConfig{{Endpoint: server.URL}}},
		},
	}

	g, err := New([]string{"high"}, nil, cfg)
	is.NoErr(err)
	is.True(g.Delivering())

	_, err = g.Send(context.Background(), "bin-1", "high")
	is.True(errors.Is(err, ErrPublishFailure))
}

func TestThatUnknownLevelListsAllowedLevelsSorted(t *testing.T) {
	is := is.New(t)

	g, _ := New([]string{"middle", "low", "high"}, &publisherFake{}, nil)

	for i := 0; i < 10; i++ {
		_, err := g.Send(context.Background(), "bin-1", "overflowing")
		is.True(strings.HasSuffix(err.Error(), "level must be one of [high low middle]"))
	}
}

func TestThatPublishFailureIsReported(t *testing.T) {
	is := is.New(t)
	p := &publisherFake{err: errors.New("channel closed")}

	g, _ := New([]string{"high"}, p, nil)

	_, err := g.Send(context.Background(), "bin-1", "high")
	is.True(errors.Is(err, ErrPublishFailure))
}

func TestThatSubscribersReceiveCloudEvents(t *testing.T) {
	is := is.New(t)

	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("Ce-Type") + " " + r.Header.Get("Ce-Subject")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := &Config{
		Notifications: []Notification{
			{ID: "push", Type: PushEventType, Subscribers: []SubscriberConfig{{Endpoint: server.URL}}},
		},
	}

	g, err := New([]string{"low", "high"}, nil, cfg)
	is.NoErr(err)

	_, err = g.Send(context.Background(), "bin-1", "low")
	is.NoErr(err)

	is.Equal(<-received, "fill-level.push bin-low")
}

type publisherFake struct {
	messages []messaging.TopicMessage
	err      error
}

func (p *publisherFake) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

const configYaml string = `
topicPrefix: trash-
notifications:
  - id: push
    name: Fill level push notifications
    type: fill-level.push
    subscribers:
    - endpoint: http://api-notification:8990
  - id: other
    name: Something else
    type: diwise.statusmessage
    subscribers:
    - endpoint: http://elsewhere:8080
`
