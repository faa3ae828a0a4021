package types

import "time"

type FillLevelReported struct {
	DeviceID      string    `json:"deviceID"`
	Level         string    `json:"level"`
	PreviousLevel string    `json:"previousLevel,omitempty"`
	Notified      bool      `json:"notified"`
	Timestamp     time.Time `json:"timestamp"`
}

func (f *FillLevelReported) ContentType() string {
	return "application/json"
}
func (f *FillLevelReported) TopicName() string {
	return "fill-level.reported"
}

// PushNotification is published on the topic derived from its level.
type PushNotification struct {
	Topic     string            `json:"-"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

func (p *PushNotification) ContentType() string {
	return "application/json"
}
func (p *PushNotification) TopicName() string {
	return p.Topic
}
