package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guardian_tracker/internal/models"
)

// GormStore is the Postgres-backed store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// --- children ---

func (s *GormStore) CreateChild(ctx context.Context, c *models.Child) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) GetChild(ctx context.Context, id uint) (models.Child, error) {
	var c models.Child
	err := s.db.WithContext(ctx).First(&c, id).Error
	return c, notFound(err, "child")
}

func (s *GormStore) ListChildren(ctx context.Context, activeOnly bool) ([]models.Child, error) {
	var children []models.Child
	q := s.db.WithContext(ctx).Order("id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&children).Error
	return children, err
}

func (s *GormStore) MarkAnomalyChecked(ctx context.Context, childID uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Child{}).Where("id = ?", childID).Update("last_anomaly_check", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("child %d: %w", childID, ErrNotFound)
	}
	return nil
}

// --- tracking & positions ---

func (s *GormStore) LatestTracking(ctx context.Context, childID uint) (models.Tracking, error) {
	var t models.Tracking
	err := s.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("last_update desc").Order("id desc").
		First(&t).Error
	return t, notFound(err, "tracking")
}

func (s *GormStore) CreateTracking(ctx context.Context, t *models.Tracking) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *GormStore) SaveTracking(ctx context.Context, t *models.Tracking) error {
	return s.db.WithContext(ctx).Save(t).Error
}

// ListCurrentTrackings returns the latest tracking row of every child.
func (s *GormStore) ListCurrentTrackings(ctx context.Context) ([]models.Tracking, error) {
	var rows []models.Tracking
	err := s.db.WithContext(ctx).Raw(`SELECT DISTINCT ON (child_id) * FROM trackings
		WHERE deleted_at IS NULL
		ORDER BY child_id, last_update DESC, id DESC`).Scan(&rows).Error
	return rows, err
}

func (s *GormStore) CountTrackingsWithStatus(ctx context.Context, childID uint, status string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Tracking{}).
		Where("child_id = ? AND status = ? AND last_update >= ?", childID, status, since).
		Count(&n).Error
	return n, err
}

func (s *GormStore) AppendPosition(ctx context.Context, p *models.Position) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) LastPosition(ctx context.Context, childID uint) (models.Position, error) {
	var p models.Position
	err := s.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("timestamp desc").Order("id desc").
		First(&p).Error
	return p, notFound(err, "position")
}

// PositionsSince returns positions at or after since, oldest first.
func (s *GormStore) PositionsSince(ctx context.Context, childID uint, since time.Time) ([]models.Position, error) {
	var ps []models.Position
	err := s.db.WithContext(ctx).
		Where("child_id = ? AND timestamp >= ?", childID, since).
		Order("timestamp asc").Order("id asc").
		Find(&ps).Error
	return ps, err
}

// --- wearables ---

func (s *GormStore) ListWearables(ctx context.Context) ([]models.WearableDevice, error) {
	var ws []models.WearableDevice
	err := s.db.WithContext(ctx).Order("id").Find(&ws).Error
	return ws, err
}

func (s *GormStore) ListWearablesForChild(ctx context.Context, childID uint) ([]models.WearableDevice, error) {
	var ws []models.WearableDevice
	err := s.db.WithContext(ctx).Where("child_id = ?", childID).Order("id").Find(&ws).Error
	return ws, err
}

func (s *GormStore) GetWearable(ctx context.Context, id uint) (models.WearableDevice, error) {
	var w models.WearableDevice
	err := s.db.WithContext(ctx).First(&w, id).Error
	return w, notFound(err, "wearable")
}

func (s *GormStore) GetWearableByDeviceID(ctx context.Context, deviceID string) (models.WearableDevice, error) {
	var w models.WearableDevice
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&w).Error
	return w, notFound(err, "wearable")
}

func (s *GormStore) CreateWearable(ctx context.Context, w *models.WearableDevice) error {
	err := s.db.WithContext(ctx).Create(w).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("wearable %q: %w", w.DeviceID, ErrConflict)
	}
	return err
}

func (s *GormStore) SaveWearable(ctx context.Context, w *models.WearableDevice) error {
	return s.db.WithContext(ctx).Save(w).Error
}

func (s *GormStore) DeleteWearable(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.WearableDevice{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("wearable %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- activities, notes, incidents ---

func (s *GormStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) ActivitiesSince(ctx context.Context, childID uint, since time.Time) ([]models.Activity, error) {
	var as []models.Activity
	err := s.db.WithContext(ctx).
		Where("child_id = ? AND timestamp >= ?", childID, since).
		Order("timestamp asc").
		Find(&as).Error
	return as, err
}

// RecentActivities returns up to limit activities at or after since, newest first.
func (s *GormStore) RecentActivities(ctx context.Context, childID uint, since time.Time, limit int) ([]models.Activity, error) {
	var as []models.Activity
	err := s.db.WithContext(ctx).
		Where("child_id = ? AND timestamp >= ?", childID, since).
		Order("timestamp desc").Order("id desc").
		Limit(limit).
		Find(&as).Error
	return as, err
}

func (s *GormStore) CreateNote(ctx context.Context, n *models.Note) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) NotesSince(ctx context.Context, childID uint, since time.Time) ([]models.Note, error) {
	var ns []models.Note
	err := s.db.WithContext(ctx).
		Where("child_id = ? AND created_at >= ?", childID, since).
		Order("created_at asc").
		Find(&ns).Error
	return ns, err
}

func (s *GormStore) CreateIncident(ctx context.Context, i *models.Incident) error {
	return s.db.WithContext(ctx).Create(i).Error
}

func (s *GormStore) CountIncidents(ctx context.Context, childID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Incident{}).Where("child_id = ?", childID).Count(&n).Error
	return n, err
}

// --- findings & risk ---

func (s *GormStore) CreateAnomaly(ctx context.Context, a *models.Anomaly) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// ListAnomalies returns up to limit findings for a child, newest first.
func (s *GormStore) ListAnomalies(ctx context.Context, childID uint, limit int) ([]models.Anomaly, error) {
	var as []models.Anomaly
	err := s.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("timestamp desc").Order("id desc").
		Limit(limit).
		Find(&as).Error
	return as, err
}

func (s *GormStore) CreateRiskAssessment(ctx context.Context, r *models.RiskAssessment) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStore) LatestRiskAssessment(ctx context.Context, childID uint) (models.RiskAssessment, error) {
	var r models.RiskAssessment
	err := s.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("timestamp desc").Order("id desc").
		First(&r).Error
	return r, notFound(err, "risk assessment")
}

// --- safe zone ---

func (s *GormStore) ListSafeZones(ctx context.Context) ([]models.SafeZone, error) {
	var zs []models.SafeZone
	err := s.db.WithContext(ctx).Order("id").Find(&zs).Error
	return zs, err
}

func (s *GormStore) CreateSafeZone(ctx context.Context, z *models.SafeZone) error {
	return s.db.WithContext(ctx).Create(z).Error
}

// UpdateSafeZone overwrites the geometry of row z.ID and bumps its version
// under a row lock, so concurrent updates get distinct versions. z is
// replaced with the stored row.
func (s *GormStore) UpdateSafeZone(ctx context.Context, z *models.SafeZone) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.SafeZone
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cur, z.ID).Error; err != nil {
			return notFound(err, "safe zone")
		}
		cur.Name = z.Name
		cur.Latitude = z.Latitude
		cur.Longitude = z.Longitude
		cur.SafeRadiusMeters = z.SafeRadiusMeters
		cur.Version++
		if err := tx.Save(&cur).Error; err != nil {
			return err
		}
		*z = cur
		return nil
	})
}

// --- users & notifications ---

// CreateUser inserts a user. A taken email is reported as ErrConflict when
// the handle was opened with TranslateError.
func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	}
	return err
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&u).Error
	return u, notFound(err, "user")
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	return u, notFound(err, "user")
}

func (s *GormStore) SaveUser(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Save(u).Error
}

func (s *GormStore) ListAdmins(ctx context.Context) ([]models.User, error) {
	var us []models.User
	err := s.db.WithContext(ctx).Where("role = ?", models.RoleAdmin).Order("id").Find(&us).Error
	return us, err
}

// RegisterUserDevice upserts a push token. A token seen before is moved to
// userID and its last-seen time refreshed.
func (s *GormStore) RegisterUserDevice(ctx context.Context, userID uint, token, deviceType string) (models.UserDevice, error) {
	d := models.UserDevice{UserID: userID, DeviceToken: token, DeviceType: deviceType, LastSeen: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "device_type", "last_seen", "updated_at"}),
	}).Create(&d).Error
	return d, err
}

func (s *GormStore) DeregisterUserDevice(ctx context.Context, userID uint, token string) error {
	res := s.db.WithContext(ctx).Unscoped().
		Where("user_id = ? AND device_token = ?", userID, token).
		Delete(&models.UserDevice{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device token: %w", ErrNotFound)
	}
	return nil
}

func (s *GormStore) ListUserDevices(ctx context.Context, userID uint) ([]models.UserDevice, error) {
	var ds []models.UserDevice
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&ds).Error
	return ds, err
}

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) ListNotifications(ctx context.Context, userID uint, unreadOnly bool) ([]models.Notification, error) {
	var ns []models.Notification
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := q.Order("created_at desc").Find(&ns).Error
	return ns, err
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}
