package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"guardian_tracker/internal/models"
)

// MemoryStore is an in-process store with the same method set as GormStore.
// Records are copied in and out so callers never share memory with the store.
type MemoryStore struct {
	mu sync.RWMutex

	nextID uint

	children      map[uint]models.Child
	trackings     []models.Tracking
	positions     []models.Position
	wearables     map[uint]models.WearableDevice
	activities    []models.Activity
	notes         []models.Note
	incidents     []models.Incident
	anomalies     []models.Anomaly
	risks         []models.RiskAssessment
	zones         map[uint]models.SafeZone
	users         map[uint]models.User
	userDevices   map[string]models.UserDevice
	notifications map[uint]models.Notification

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		children:      make(map[uint]models.Child),
		wearables:     make(map[uint]models.WearableDevice),
		zones:         make(map[uint]models.SafeZone),
		users:         make(map[uint]models.User),
		userDevices:   make(map[string]models.UserDevice),
		notifications: make(map[uint]models.Notification),
		now:           time.Now,
	}
}

// stamp assigns an id and timestamps. Callers hold mu.
func (s *MemoryStore) stamp(id *uint, created, updated *time.Time) {
	s.nextID++
	*id = s.nextID
	now := s.now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// --- children ---

func (s *MemoryStore) CreateChild(_ context.Context, c *models.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	s.children[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetChild(_ context.Context, id uint) (models.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[id]
	if !ok {
		return models.Child{}, fmt.Errorf("child %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) ListChildren(_ context.Context, activeOnly bool) ([]models.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Child, 0, len(s.children))
	for _, c := range s.children {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkAnomalyChecked(_ context.Context, childID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[childID]
	if !ok {
		return fmt.Errorf("child %d: %w", childID, ErrNotFound)
	}
	c.LastAnomalyCheck = &at
	s.children[childID] = c
	return nil
}

// --- tracking & positions ---

func (s *MemoryStore) latestTrackingIndex(childID uint) int {
	idx := -1
	for i, t := range s.trackings {
		if t.ChildID != childID {
			continue
		}
		if idx < 0 || newerTracking(t, s.trackings[idx]) {
			idx = i
		}
	}
	return idx
}

func newerTracking(a, b models.Tracking) bool {
	if !a.LastUpdate.Equal(b.LastUpdate) {
		return a.LastUpdate.After(b.LastUpdate)
	}
	return a.ID > b.ID
}

func (s *MemoryStore) LatestTracking(_ context.Context, childID uint) (models.Tracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.latestTrackingIndex(childID)
	if idx < 0 {
		return models.Tracking{}, fmt.Errorf("tracking for child %d: %w", childID, ErrNotFound)
	}
	return s.trackings[idx], nil
}

func (s *MemoryStore) CreateTracking(_ context.Context, t *models.Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	s.trackings = append(s.trackings, *t)
	return nil
}

func (s *MemoryStore) SaveTracking(_ context.Context, t *models.Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.trackings {
		if s.trackings[i].ID == t.ID {
			t.UpdatedAt = s.now()
			s.trackings[i] = *t
			return nil
		}
	}
	s.stamp(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	s.trackings = append(s.trackings, *t)
	return nil
}

func (s *MemoryStore) ListCurrentTrackings(_ context.Context) ([]models.Tracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[uint]models.Tracking)
	for _, t := range s.trackings {
		if cur, ok := latest[t.ChildID]; !ok || newerTracking(t, cur) {
			latest[t.ChildID] = t
		}
	}
	out := make([]models.Tracking, 0, len(latest))
	for _, t := range latest {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChildID < out[j].ChildID })
	return out, nil
}

func (s *MemoryStore) CountTrackingsWithStatus(_ context.Context, childID uint, status string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, t := range s.trackings {
		if t.ChildID == childID && t.Status == status && !t.LastUpdate.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendPosition(_ context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	s.positions = append(s.positions, *p)
	return nil
}

func (s *MemoryStore) LastPosition(_ context.Context, childID uint) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  models.Position
		found bool
	)
	for _, p := range s.positions {
		if p.ChildID != childID {
			continue
		}
		if !found || p.Timestamp.After(best.Timestamp) || (p.Timestamp.Equal(best.Timestamp) && p.ID > best.ID) {
			best, found = p, true
		}
	}
	if !found {
		return models.Position{}, fmt.Errorf("position for child %d: %w", childID, ErrNotFound)
	}
	return best, nil
}

func (s *MemoryStore) PositionsSince(_ context.Context, childID uint, since time.Time) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Position
	for _, p := range s.positions {
		if p.ChildID == childID && !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// --- wearables ---

func (s *MemoryStore) ListWearables(_ context.Context) ([]models.WearableDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterWearables(func(models.WearableDevice) bool { return true }), nil
}

func (s *MemoryStore) ListWearablesForChild(_ context.Context, childID uint) ([]models.WearableDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterWearables(func(w models.WearableDevice) bool { return w.ChildID == childID }), nil
}

func (s *MemoryStore) filterWearables(keep func(models.WearableDevice) bool) []models.WearableDevice {
	out := make([]models.WearableDevice, 0)
	for _, w := range s.wearables {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) GetWearable(_ context.Context, id uint) (models.WearableDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wearables[id]
	if !ok {
		return models.WearableDevice{}, fmt.Errorf("wearable %d: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *MemoryStore) GetWearableByDeviceID(_ context.Context, deviceID string) (models.WearableDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wearables {
		if w.DeviceID == deviceID {
			return w, nil
		}
	}
	return models.WearableDevice{}, fmt.Errorf("wearable %q: %w", deviceID, ErrNotFound)
}

func (s *MemoryStore) CreateWearable(_ context.Context, w *models.WearableDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.wearables {
		if existing.DeviceID == w.DeviceID {
			return fmt.Errorf("wearable %q: %w", w.DeviceID, ErrConflict)
		}
	}
	s.stamp(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	s.wearables[w.ID] = *w
	return nil
}

func (s *MemoryStore) SaveWearable(_ context.Context, w *models.WearableDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wearables[w.ID]; !ok {
		return fmt.Errorf("wearable %d: %w", w.ID, ErrNotFound)
	}
	w.UpdatedAt = s.now()
	s.wearables[w.ID] = *w
	return nil
}

func (s *MemoryStore) DeleteWearable(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wearables[id]; !ok {
		return fmt.Errorf("wearable %d: %w", id, ErrNotFound)
	}
	delete(s.wearables, id)
	return nil
}

// --- activities, notes, incidents ---

func (s *MemoryStore) CreateActivity(_ context.Context, a *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	s.activities = append(s.activities, *a)
	return nil
}

func (s *MemoryStore) ActivitiesSince(_ context.Context, childID uint, since time.Time) ([]models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Activity
	for _, a := range s.activities {
		if a.ChildID == childID && !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) RecentActivities(_ context.Context, childID uint, since time.Time, limit int) ([]models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Activity
	for _, a := range s.activities {
		if a.ChildID == childID && !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateNote(_ context.Context, n *models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	s.notes = append(s.notes, *n)
	return nil
}

func (s *MemoryStore) NotesSince(_ context.Context, childID uint, since time.Time) ([]models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Note
	for _, n := range s.notes {
		if n.ChildID == childID && !n.CreatedAt.Before(since) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateIncident(_ context.Context, i *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&i.ID, &i.CreatedAt, &i.UpdatedAt)
	s.incidents = append(s.incidents, *i)
	return nil
}

func (s *MemoryStore) CountIncidents(_ context.Context, childID uint) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, i := range s.incidents {
		if i.ChildID == childID {
			n++
		}
	}
	return n, nil
}

// --- findings & risk ---

func (s *MemoryStore) CreateAnomaly(_ context.Context, a *models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	s.anomalies = append(s.anomalies, *a)
	return nil
}

func (s *MemoryStore) ListAnomalies(_ context.Context, childID uint, limit int) ([]models.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Anomaly
	for _, a := range s.anomalies {
		if a.ChildID == childID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateRiskAssessment(_ context.Context, r *models.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	cp := *r
	cp.Factors = append([]string(nil), r.Factors...)
	s.risks = append(s.risks, cp)
	return nil
}

func (s *MemoryStore) LatestRiskAssessment(_ context.Context, childID uint) (models.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  models.RiskAssessment
		found bool
	)
	for _, r := range s.risks {
		if r.ChildID != childID {
			continue
		}
		if !found || r.Timestamp.After(best.Timestamp) || (r.Timestamp.Equal(best.Timestamp) && r.ID > best.ID) {
			best, found = r, true
		}
	}
	if !found {
		return models.RiskAssessment{}, fmt.Errorf("risk assessment for child %d: %w", childID, ErrNotFound)
	}
	best.Factors = append([]string(nil), best.Factors...)
	return best, nil
}

// --- safe zone ---

func (s *MemoryStore) ListSafeZones(_ context.Context) ([]models.SafeZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SafeZone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateSafeZone(_ context.Context, z *models.SafeZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&z.ID, &z.CreatedAt, &z.UpdatedAt)
	s.zones[z.ID] = *z
	return nil
}

func (s *MemoryStore) UpdateSafeZone(_ context.Context, z *models.SafeZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.zones[z.ID]
	if !ok {
		return fmt.Errorf("safe zone %d: %w", z.ID, ErrNotFound)
	}
	cur.Name = z.Name
	cur.Latitude = z.Latitude
	cur.Longitude = z.Longitude
	cur.SafeRadiusMeters = z.SafeRadiusMeters
	cur.Version++
	cur.UpdatedAt = s.now()
	s.zones[z.ID] = cur
	*z = cur
	return nil
}

// --- users & notifications ---

func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
		}
	}
	s.stamp(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	cp := *u
	cp.Devices = nil
	s.users[u.ID] = cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uint) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

func (s *MemoryStore) SaveUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	u.UpdatedAt = s.now()
	cp := *u
	cp.Devices = nil
	s.users[u.ID] = cp
	return nil
}

func (s *MemoryStore) ListAdmins(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.User
	for _, u := range s.users {
		if u.Role == models.RoleAdmin {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RegisterUserDevice(_ context.Context, userID uint, token, deviceType string) (models.UserDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.userDevices[token]
	if !ok {
		d = models.UserDevice{DeviceToken: token}
		s.stamp(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	}
	d.UserID = userID
	d.DeviceType = deviceType
	d.LastSeen = s.now()
	d.UpdatedAt = d.LastSeen
	s.userDevices[token] = d
	return d, nil
}

func (s *MemoryStore) DeregisterUserDevice(_ context.Context, userID uint, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.userDevices[token]
	if !ok || d.UserID != userID {
		return fmt.Errorf("device token: %w", ErrNotFound)
	}
	delete(s.userDevices, token)
	return nil
}

func (s *MemoryStore) ListUserDevices(_ context.Context, userID uint) ([]models.UserDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UserDevice
	for _, d := range s.userDevices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].DeviceToken, out[j].DeviceToken) < 0 })
	return out, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	s.notifications[n.ID] = *n
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID uint, unreadOnly bool) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	n.IsRead = true
	s.notifications[id] = n
	return nil
}
