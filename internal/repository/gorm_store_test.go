package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"guardian_tracker/internal/models"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormStore_LatestTrackingNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trackings" WHERE child_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.LatestTracking(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_LatestTracking(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "child_id", "status", "last_known_location", "last_update"}).
		AddRow(3, 7, models.StatusEscaped, "1,2", now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trackings" WHERE child_id = $1`)).
		WillReturnRows(rows)

	got, err := s.LatestTracking(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint(3), got.ID)
	assert.Equal(t, models.StatusEscaped, got.Status)
	assert.Equal(t, "1,2", got.LastKnownLocation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_CountTrackingsWithStatus(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "trackings" WHERE (child_id = $1 AND status = $2 AND last_update >= $3)`)).
		WithArgs(7, models.StatusEscaped, since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountTrackingsWithStatus(context.Background(), 7, models.StatusEscaped, since)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ListCurrentTrackingsUsesDistinctOn(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT DISTINCT ON \(child_id\) \* FROM trackings`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "child_id", "status"}).
			AddRow(1, 1, models.StatusInCenter).
			AddRow(5, 2, models.StatusEscaped))

	rows, err := s.ListCurrentTrackings(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StatusEscaped, rows[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_CreateAnomaly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "anomalies"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	a := models.Anomaly{ChildID: 7, AnomalyType: "location", Severity: "high", Description: "x", Timestamp: time.Now()}
	require.NoError(t, s.CreateAnomaly(context.Background(), &a))
	assert.Equal(t, uint(11), a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_MarkNotificationReadMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "notifications" SET "is_read"=$1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.MarkNotificationRead(context.Background(), 1, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpdateSafeZoneLocksAndBumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "safe_zones" WHERE "safe_zones"\."id" = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "name", "latitude", "longitude", "safe_radius_meters", "version"}).
			AddRow(1, created, "Main Center", 0.0, 0.0, 100.0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "safe_zones" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	z := models.SafeZone{Name: "Main Center", Latitude: -1.94, Longitude: 30.06, SafeRadiusMeters: 250, Version: 1}
	z.ID = 1
	require.NoError(t, s.UpdateSafeZone(context.Background(), &z))
	assert.Equal(t, int64(5), z.Version)
	assert.True(t, created.Equal(z.CreatedAt))
	assert.Equal(t, 250.0, z.SafeRadiusMeters)
	assert.NoError(t, mock.ExpectationsWereMet())
}
