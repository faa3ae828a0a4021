package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories"
	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestThatGetUnknownDeviceReturnsNotFound(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	_, err := r.Get(ctx, "nosuchdevice")
	is.True(errors.Is(err, repositories.ErrNotFound))
}

func TestUpsertAndGet(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	status := types.DeviceStatus{
		DeviceID:       "bin-1",
		Level:          "high",
		LastSeenAt:     "2024-05-01T11:59:58Z",
		UpdatedAt:      t0,
		LastNotifiedAt: t0.Add(-time.Hour).Format(time.RFC3339Nano),
	}

	_, err := r.Upsert(ctx, status)
	is.NoErr(err)
	_, err = r.Upsert(ctx, status)
	is.NoErr(err)

	fromDb, err := r.Get(ctx, "bin-1")
	is.NoErr(err)
	is.Equal(fromDb.Level, "high")
	is.Equal(fromDb.LastSeenAt, status.LastSeenAt)
	is.Equal(fromDb.LastNotifiedAt, status.LastNotifiedAt)
	is.True(fromDb.UpdatedAt.Equal(t0))

	all, err := r.List(ctx)
	is.NoErr(err)
	is.Equal(len(all), 1)
}

func TestThatUpsertReplacesWholeRecord(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	r.Upsert(ctx, types.DeviceStatus{DeviceID: "bin-1", Level: "high", UpdatedAt: t0, LastNotifiedAt: t0.Format(time.RFC3339Nano)})
	r.Upsert(ctx, types.DeviceStatus{DeviceID: "bin-1", Level: "low", UpdatedAt: t0.Add(time.Second)})

	fromDb, err := r.Get(ctx, "bin-1")
	is.NoErr(err)
	is.Equal(fromDb.Level, "low")
	is.Equal(fromDb.LastNotifiedAt, "")
}

func TestThatUpdatedAtNeverMovesBackwards(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	r.Upsert(ctx, types.DeviceStatus{DeviceID: "bin-1", Level: "low", UpdatedAt: t0})
	stored, err := r.Upsert(ctx, types.DeviceStatus{DeviceID: "bin-1", Level: "middle", UpdatedAt: t0.Add(-time.Minute)})
	is.NoErr(err)
	is.True(stored.UpdatedAt.Equal(t0))

	fromDb, _ := r.Get(ctx, "bin-1")
	is.True(fromDb.UpdatedAt.Equal(t0))
	is.Equal(fromDb.Level, "middle")
}

func TestThatListIsOrderedByRecency(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	r.Upsert(ctx, types.DeviceStatus{DeviceID: "a", UpdatedAt: t0})
	r.Upsert(ctx, types.DeviceStatus{DeviceID: "b", UpdatedAt: t0.Add(2 * time.Second)})
	r.Upsert(ctx, types.DeviceStatus{DeviceID: "c", UpdatedAt: t0.Add(time.Second)})

	all, err := r.List(ctx)
	is.NoErr(err)
	is.Equal(len(all), 3)
	is.Equal(all[0].DeviceID, "b")
	is.Equal(all[1].DeviceID, "c")
	is.Equal(all[2].DeviceID, "a")
}

func TestAppendAndRecent(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	id, err := r.Append(ctx, types.Event{
		DeviceID:  "bin-1",
		EventType: types.EventReportReceived,
		Payload:   map[string]any{"level": "high", "ts": nil},
	})
	is.NoErr(err)
	is.True(id != "")

	_, err = r.Append(ctx, types.Event{DeviceID: "bin-2", EventType: types.EventReportReceived})
	is.NoErr(err)
	_, err = r.Append(ctx, types.Event{DeviceID: "bin-1", EventType: types.EventNotificationSent, Payload: map[string]any{"level": "high"}})
	is.NoErr(err)

	events, err := r.Recent(ctx, "bin-1", 20)
	is.NoErr(err)
	is.Equal(len(events), 2)
	is.Equal(events[0].EventType, types.EventNotificationSent)
	is.Equal(events[1].ID, id)
	is.Equal(events[1].Payload["level"], "high")

	all, err := r.RecentAll(ctx, 5000)
	is.NoErr(err)
	is.Equal(len(all), 3)
	is.Equal(all[1].DeviceID, "bin-2")

	none, err := r.Recent(ctx, "bin-1", -5)
	is.NoErr(err)
	is.Equal(len(none), 0)
}

func TestThatRecentIsClamped(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	for i := 0; i < 250; i++ {
		_, err := r.Append(ctx, types.Event{DeviceID: "bin-1", EventType: types.EventReportReceived})
		is.NoErr(err)
	}

	events, err := r.Recent(ctx, "bin-1", 5000)
	is.NoErr(err)
	is.Equal(len(events), 200)
}

func TestThatEmptyDeviceIDMatchesNothing(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	_, err := r.Upsert(ctx, types.DeviceStatus{DeviceID: "bin-1", Level: "low", UpdatedAt: time.Now().UTC()})
	is.NoErr(err)
	_, err = r.Append(ctx, types.Event{DeviceID: "bin-1", EventType: types.EventReportReceived})
	is.NoErr(err)

	_, err = r.Get(ctx, "")
	is.True(errors.Is(err, repositories.ErrNotFound))

	events, err := r.Recent(ctx, "", 20)
	is.NoErr(err)
	is.Equal(len(events), 0)
}

func testSetupRepository(t *testing.T) (*is.I, context.Context, *Repository) {
	is := is.New(t)
	ctx := context.Background()

	r, err := New(NewSQLiteConnector(zerolog.Logger{}))
	is.NoErr(err)

	t.Cleanup(func() { r.Close() })

	return is, ctx, r
}
