package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beaconattend/internal/apperr"
	"beaconattend/internal/clock"
	"beaconattend/internal/metrics"
	"beaconattend/internal/proximity"
	"beaconattend/internal/validate"
)

// ConflictPolicy decides what happens when a room already has an open session.
type ConflictPolicy string

const (
	PolicyReject  ConflictPolicy = "reject"
	PolicyReplace ConflictPolicy = "replace"
)

const (
	MinWindowMinutes = 1
	MaxWindowMinutes = 60
)

// Options configures a Manager.
type Options struct {
	DefaultWindowMinutes int
	Policy               ConflictPolicy
	Clock                clock.Clock
	Logger               *zap.Logger
	Metrics              *metrics.Metrics
}

// Manager owns session creation and the open -> closed/expired transitions.
type Manager struct {
	store         Store
	clock         clock.Clock
	logger        *zap.Logger
	metrics       *metrics.Metrics
	defaultWindow int
	policy        ConflictPolicy

	createMu sync.Mutex
	locks    [lockStripes]sync.Mutex
}

// lockStripes bounds the per-session locks; sessions sharing a stripe
// serialize against each other.
const lockStripes = 64

// NewManager creates a manager over store.
func NewManager(store Store, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultWindowMinutes == 0 {
		opts.DefaultWindowMinutes = 5
	}
	if opts.Policy == "" {
		opts.Policy = PolicyReject
	}
	return &Manager{
		store:         store,
		clock:         opts.Clock,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		defaultWindow: opts.DefaultWindowMinutes,
		policy:        opts.Policy,
	}
}

// CreateInput is the instructor's request to open a session. A zero
// WindowMinutes selects the configured default.
type CreateInput struct {
	ClassID       string `json:"class_id" validate:"required,max=64"`
	ClassName     string `json:"class_name" validate:"max=128"`
	RoomID        string `json:"room_id" validate:"required,max=64"`
	TeacherID     string `json:"teacher_id" validate:"required,max=64"`
	BeaconUUID    string `json:"beacon_uuid" validate:"required"`
	WindowMinutes int    `json:"attendance_window_minutes"`
}

// Filter narrows Active; empty fields match anything.
type Filter struct {
	ClassID   string `json:"class_id"`
	RoomID    string `json:"room_id"`
	TeacherID string `json:"teacher_id"`
}

func (f Filter) match(s Session) bool {
	return (f.ClassID == "" || f.ClassID == s.ClassID) &&
		(f.RoomID == "" || f.RoomID == s.RoomID) &&
		(f.TeacherID == "" || f.TeacherID == s.TeacherID)
}

// Lock serializes work on one session. Check-ins and Close both hold it,
// so a close never interleaves with a check-in for the same session.
// Callers must not hold one session's lock while taking another's.
func (m *Manager) Lock(sessionID string) (unlock func()) {
	mu := &m.locks[stripe(sessionID)]
	mu.Lock()
	return mu.Unlock
}

func stripe(sessionID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return h.Sum32() % lockStripes
}

// Now is the manager's clock reading.
func (m *Manager) Now() time.Time { return m.clock.Now() }

// Create opens a new session starting now.
func (m *Manager) Create(ctx context.Context, in CreateInput) (Session, error) {
	if err := validate.Struct(in); err != nil {
		return Session{}, err
	}
	beacon, err := proximity.ParseBeaconUUID(in.BeaconUUID)
	if err != nil {
		return Session{}, apperr.Validation("%v", err)
	}
	window := in.WindowMinutes
	if window == 0 {
		window = m.defaultWindow
	}
	if window < MinWindowMinutes || window > MaxWindowMinutes {
		return Session{}, apperr.Validation("attendance_window_minutes must be between %d and %d, got %d",
			MinWindowMinutes, MaxWindowMinutes, window)
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	now := m.clock.Now()
	if err := m.clearConflicts(ctx, in.ClassID, in.RoomID, beacon, now); err != nil {
		return Session{}, err
	}

	id, err := m.newID(ctx, in.ClassID, now)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		SessionID:     id,
		ClassID:       in.ClassID,
		ClassName:     in.ClassName,
		RoomID:        in.RoomID,
		TeacherID:     in.TeacherID,
		BeaconUUID:    beacon,
		WindowMinutes: window,
		StartTime:     now,
		EndTime:       now.Add(time.Duration(window) * time.Minute),
		Status:        StatusOpen,
		CreatedAt:     now,
	}
	if err := m.store.Insert(ctx, s); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Session{}, apperr.Conflict("room %s already has an open session for %s", in.RoomID, in.ClassID)
		}
		return Session{}, err
	}

	m.metrics.SessionCreated()
	m.logger.Info("session opened",
		zap.String("session_id", s.SessionID),
		zap.String("class_id", s.ClassID),
		zap.String("room_id", s.RoomID),
		zap.String("beacon_uuid", s.BeaconUUID),
		zap.Time("end_time", s.EndTime))
	return s, nil
}

// clearConflicts enforces one open session per (class, room) and per beacon.
// Sessions that already expired are persisted as such and never conflict.
func (m *Manager) clearConflicts(ctx context.Context, classID, roomID, beacon string, now time.Time) error {
	candidates, err := m.store.OpenByRoom(ctx, classID, roomID)
	if err != nil {
		return err
	}
	latest, err := m.store.LatestByBeacon(ctx, beacon)
	if err != nil {
		return err
	}
	if latest != nil && latest.Status == StatusOpen {
		candidates = append(candidates, *latest)
	}

	seen := make(map[string]bool, len(candidates))
	for _, s := range candidates {
		if seen[s.SessionID] {
			continue
		}
		seen[s.SessionID] = true

		if !s.AcceptsCheckIns(now) {
			if err := m.persistExpired(ctx, s.SessionID); err != nil {
				return err
			}
			continue
		}
		if m.policy == PolicyReject {
			if s.ClassID == classID && s.RoomID == roomID {
				return apperr.Conflict("room %s already has an open session for %s (%s)", roomID, classID, s.SessionID)
			}
			return apperr.Conflict("beacon %s is already in use by open session %s", beacon, s.SessionID)
		}
		if _, err := m.closeWith(ctx, s.SessionID, "replaced"); err != nil {
			return err
		}
	}
	return nil
}

// newID derives <class>-<UTC second>; a random suffix resolves collisions.
func (m *Manager) newID(ctx context.Context, classID string, now time.Time) (string, error) {
	id := fmt.Sprintf("%s-%s", classID, now.UTC().Format("2006-01-02T15-04-05"))
	for attempt := 0; attempt < 5; attempt++ {
		existing, err := m.store.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
		id = fmt.Sprintf("%s-%s-%s", classID, now.UTC().Format("2006-01-02T15-04-05"), uuid.NewString()[:8])
	}
	return "", apperr.Conflict("could not allocate a session id for %s", classID)
}

// Close ends a session. Closing a session that is already closed or
// expired is a no-op and returns it unchanged.
func (m *Manager) Close(ctx context.Context, id string) (Session, error) {
	return m.closeWith(ctx, id, "manual")
}

func (m *Manager) closeWith(ctx context.Context, id, cause string) (Session, error) {
	unlock := m.Lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s == nil {
		return Session{}, apperr.NotFound("session %s not found", id)
	}
	now := m.clock.Now()
	if !s.AcceptsCheckIns(now) {
		return s.At(now), nil
	}

	if err := m.store.SetStatus(ctx, id, StatusClosed, &now); err != nil {
		return Session{}, err
	}
	s.Status = StatusClosed
	s.ClosedAt = &now

	m.metrics.SessionClosed(cause)
	m.logger.Info("session closed", zap.String("session_id", id), zap.String("cause", cause))
	return *s, nil
}

// Status returns the session with its status recomputed against the clock.
// Storage is not modified.
func (m *Manager) Status(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s == nil {
		return Session{}, apperr.NotFound("session %s not found", id)
	}
	return s.At(m.clock.Now()), nil
}

// Active returns the most recently started session accepting check-ins
// that matches f, or nil when there is none.
func (m *Manager) Active(ctx context.Context, f Filter) (*Session, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	var best *Session
	for i := range open {
		s := open[i]
		if !s.AcceptsCheckIns(now) || !f.match(s) {
			continue
		}
		if best == nil || !s.StartTime.Before(best.StartTime) {
			best = &s
		}
	}
	return best, nil
}

// ActiveSessions lists every session currently accepting check-ins.
func (m *Manager) ActiveSessions(ctx context.Context) ([]Session, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	out := make([]Session, 0, len(open))
	for _, s := range open {
		if s.AcceptsCheckIns(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ByBeacon returns the open session bound to a beacon, or nil.
func (m *Manager) ByBeacon(ctx context.Context, beaconUUID string) (*Session, error) {
	s, err := m.LatestByBeacon(ctx, beaconUUID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Status != StatusOpen {
		return nil, nil
	}
	return s, nil
}

// LatestByBeacon returns the newest session for a beacon in any status,
// projected to now, or nil.
func (m *Manager) LatestByBeacon(ctx context.Context, beaconUUID string) (*Session, error) {
	beacon, err := proximity.ParseBeaconUUID(beaconUUID)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	s, err := m.store.LatestByBeacon(ctx, beacon)
	if err != nil || s == nil {
		return nil, err
	}
	projected := s.At(m.clock.Now())
	return &projected, nil
}

// List returns every session with projected status, oldest first.
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	for i := range all {
		all[i] = all[i].At(now)
	}
	return all, nil
}

// SweepExpired persists the expired status of open sessions past their end
// time and returns how many were updated. Reads never depend on it.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	n := 0
	for _, s := range open {
		if s.AcceptsCheckIns(now) {
			continue
		}
		unlock := m.Lock(s.SessionID)
		err := m.persistExpired(ctx, s.SessionID)
		unlock()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) persistExpired(ctx context.Context, id string) error {
	if err := m.store.SetStatus(ctx, id, StatusExpired, nil); err != nil {
		return err
	}
	m.metrics.SessionClosed("expired")
	m.logger.Info("session expired", zap.String("session_id", id))
	return nil
}
