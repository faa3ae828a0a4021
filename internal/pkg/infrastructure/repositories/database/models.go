package database

import (
	"time"
)

type Status struct {
	ID uint `gorm:"primaryKey"`

	DeviceID       string    `gorm:"uniqueIndex;size:64"`
	Level          string    `gorm:"size:32"`
	LastSeenAt     string    `gorm:"column:last_seen_at"`
	Updated        time.Time `gorm:"column:updated_at;index"`
	LastNotifiedAt string    `gorm:"column:last_notified_at"`
}

func (Status) TableName() string {
	return "fill_level_statuses"
}

type Event struct {
	Seq uint64 `gorm:"primaryKey;autoIncrement"`

	EventID   string         `gorm:"column:event_id;uniqueIndex;size:36"`
	DeviceID  string         `gorm:"index;size:64"`
	EventType string         `gorm:"size:32"`
	Payload   map[string]any `gorm:"serializer:json;type:text"`
	Created   time.Time      `gorm:"column:created_at"`
}

func (Event) TableName() string {
	return "fill_level_events"
}
