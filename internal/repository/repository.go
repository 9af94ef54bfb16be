// Package repository persists the tracking pipeline's records.
//
// GormStore talks to Postgres through gorm. MemoryStore keeps everything in
// process and backs tests and the STORE=memory mode. Both expose the same
// method set so the consuming packages can declare the narrow interfaces they
// need.
package repository

import (
	"context"
	"errors"
	"time"

	"guardian_tracker/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("record already exists")
)

// Store is the full method set shared by GormStore and MemoryStore.
type Store interface {
	CreateChild(ctx context.Context, c *models.Child) error
	GetChild(ctx context.Context, id uint) (models.Child, error)
	ListChildren(ctx context.Context, activeOnly bool) ([]models.Child, error)
	MarkAnomalyChecked(ctx context.Context, childID uint, at time.Time) error

	LatestTracking(ctx context.Context, childID uint) (models.Tracking, error)
	CreateTracking(ctx context.Context, t *models.Tracking) error
	SaveTracking(ctx context.Context, t *models.Tracking) error
	ListCurrentTrackings(ctx context.Context) ([]models.Tracking, error)
	CountTrackingsWithStatus(ctx context.Context, childID uint, status string, since time.Time) (int64, error)
	AppendPosition(ctx context.Context, p *models.Position) error
	LastPosition(ctx context.Context, childID uint) (models.Position, error)
	PositionsSince(ctx context.Context, childID uint, since time.Time) ([]models.Position, error)

	ListWearables(ctx context.Context) ([]models.WearableDevice, error)
	ListWearablesForChild(ctx context.Context, childID uint) ([]models.WearableDevice, error)
	GetWearable(ctx context.Context, id uint) (models.WearableDevice, error)
	GetWearableByDeviceID(ctx context.Context, deviceID string) (models.WearableDevice, error)
	CreateWearable(ctx context.Context, w *models.WearableDevice) error
	SaveWearable(ctx context.Context, w *models.WearableDevice) error
	DeleteWearable(ctx context.Context, id uint) error

	CreateActivity(ctx context.Context, a *models.Activity) error
	ActivitiesSince(ctx context.Context, childID uint, since time.Time) ([]models.Activity, error)
	RecentActivities(ctx context.Context, childID uint, since time.Time, limit int) ([]models.Activity, error)
	CreateNote(ctx context.Context, n *models.Note) error
	NotesSince(ctx context.Context, childID uint, since time.Time) ([]models.Note, error)
	CreateIncident(ctx context.Context, i *models.Incident) error
	CountIncidents(ctx context.Context, childID uint) (int64, error)

	CreateAnomaly(ctx context.Context, a *models.Anomaly) error
	ListAnomalies(ctx context.Context, childID uint, limit int) ([]models.Anomaly, error)
	CreateRiskAssessment(ctx context.Context, r *models.RiskAssessment) error
	LatestRiskAssessment(ctx context.Context, childID uint) (models.RiskAssessment, error)

	ListSafeZones(ctx context.Context) ([]models.SafeZone, error)
	CreateSafeZone(ctx context.Context, z *models.SafeZone) error
	UpdateSafeZone(ctx context.Context, z *models.SafeZone) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uint) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	ListAdmins(ctx context.Context) ([]models.User, error)
	RegisterUserDevice(ctx context.Context, userID uint, token, deviceType string) (models.UserDevice, error)
	DeregisterUserDevice(ctx context.Context, userID uint, token string) error
	ListUserDevices(ctx context.Context, userID uint) ([]models.UserDevice, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID uint, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uint) error
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
