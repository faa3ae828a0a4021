package types

import "time"

type EventType string

const (
	EventReportReceived   EventType = "report_received"
	EventNotificationSent EventType = "notification_sent"
)

// DeviceStatus is the latest known state of a single device.
type DeviceStatus struct {
	DeviceID   string    `json:"device_id"`
	Level      string    `json:"level"`
	LastSeenAt string    `json:"last_seen_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// LastNotifiedAt is RFC3339Nano, empty until the first successful push.
	LastNotifiedAt string `json:"last_notified_at,omitempty"`
}

type Event struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	EventType EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

type DeviceDetails struct {
	DeviceStatus
	RecentEvents []Event `json:"recent_events"`
}
