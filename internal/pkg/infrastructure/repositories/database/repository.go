package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories"
	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRepositoryError = errors.New("could not fetch data from repository")

// Repository persists device statuses and the event log in a single database.
type Repository struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (*Repository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Status{}, &Event{})
	if err != nil {
		return nil, err
	}

	return &Repository{
		db: impl,
	}, nil
}

func (r *Repository) Close() error {
	sqldb, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func (r *Repository) Get(ctx context.Context, deviceID string) (types.DeviceStatus, error) {
	s := Status{}

	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.DeviceStatus{}, fmt.Errorf("device %s: %w", deviceID, repositories.ErrNotFound)
		}
		return types.DeviceStatus{}, fmt.Errorf("%w: %s", ErrRepositoryError, err.Error())
	}

	return toDeviceStatus(s), nil
}

// Upsert writes the whole record in one transaction. An UpdatedAt older than
// the stored one is raised to the stored value.
func (r *Repository) Upsert(ctx context.Context, status types.DeviceStatus) (types.DeviceStatus, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := Status{}
		result := tx.Where("device_id = ?", status.DeviceID).Limit(1).Find(&existing)
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected > 0 && status.UpdatedAt.Before(existing.Updated) {
			status.UpdatedAt = existing.Updated
		}

		s := fromDeviceStatus(status)

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"level", "last_seen_at", "updated_at", "last_notified_at"}),
		}).Create(&s).Error
	})
	if err != nil {
		return types.DeviceStatus{}, fmt.Errorf("could not store status for device %s: %w", status.DeviceID, err)
	}

	return status, nil
}

func (r *Repository) List(ctx context.Context) ([]types.DeviceStatus, error) {
	var statuses []Status

	err := r.db.WithContext(ctx).Order("updated_at desc").Order("id asc").Find(&statuses).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryError, err.Error())
	}

	result := make([]types.DeviceStatus, 0, len(statuses))
	for _, s := range statuses {
		result = append(result, toDeviceStatus(s))
	}

	return result, nil
}

func (r *Repository) Append(ctx context.Context, event types.Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	e := Event{
		EventID:   event.ID,
		DeviceID:  event.DeviceID,
		EventType: string(event.EventType),
		Payload:   event.Payload,
		Created:   event.CreatedAt,
	}

	err := r.db.WithContext(ctx).Create(&e).Error
	if err != nil {
		return "", fmt.Errorf("could not append event for device %s: %w", event.DeviceID, err)
	}

	return event.ID, nil
}

func (r *Repository) Recent(ctx context.Context, deviceID string, limit int) ([]types.Event, error) {
	limit = repositories.ClampDeviceLimit(limit)
	if limit == 0 {
		return []types.Event{}, nil
	}

	return r.newest(r.db.WithContext(ctx).Where("device_id = ?", deviceID), limit)
}

func (r *Repository) RecentAll(ctx context.Context, limit int) ([]types.Event, error) {
	return r.newest(r.db.WithContext(ctx), repositories.ClampEventLimit(limit))
}

func (r *Repository) newest(query *gorm.DB, limit int) ([]types.Event, error) {
	var events []Event

	err := query.Order("seq desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryError, err.Error())
	}

	result := make([]types.Event, 0, len(events))
	for _, e := range events {
		result = append(result, types.Event{
			ID:        e.EventID,
			DeviceID:  e.DeviceID,
			EventType: types.EventType(e.EventType),
			Payload:   e.Payload,
			CreatedAt: e.Created.UTC(),
		})
	}

	return result, nil
}

func toDeviceStatus(s Status) types.DeviceStatus {
	return types.DeviceStatus{
		DeviceID:       s.DeviceID,
		Level:          s.Level,
		LastSeenAt:     s.LastSeenAt,
		UpdatedAt:      s.Updated.UTC(),
		LastNotifiedAt: s.LastNotifiedAt,
	}
}

func fromDeviceStatus(s types.DeviceStatus) Status {
	return Status{
		DeviceID:       s.DeviceID,
		Level:          s.Level,
		LastSeenAt:     s.LastSeenAt,
		Updated:        s.UpdatedAt,
		LastNotifiedAt: s.LastNotifiedAt,
	}
}
