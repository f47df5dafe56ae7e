package session

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
)

// Session is one attendance window for a class in a room.
type Session struct {
	SessionID     string     `json:"session_id"`
	ClassID       string     `json:"class_id"`
	ClassName     string     `json:"class_name,omitempty"`
	RoomID        string     `json:"room_id"`
	TeacherID     string     `json:"teacher_id"`
	BeaconUUID    string     `json:"beacon_uuid"`
	WindowMinutes int        `json:"attendance_window_minutes"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        Status     `json:"status"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StatusAt derives the status at now: an open session past its end time
// is expired. The end time itself is still inside the window.
func (s Session) StatusAt(now time.Time) Status {
	if s.Status == StatusOpen && now.After(s.EndTime) {
		return StatusExpired
	}
	return s.Status
}

// At returns a copy of s with Status projected to now.
func (s Session) At(now time.Time) Session {
	s.Status = s.StatusAt(now)
	return s
}

// AcceptsCheckIns reports whether the session is open at now.
func (s Session) AcceptsCheckIns(now time.Time) bool {
	return s.StatusAt(now) == StatusOpen
}

// Window is the attendance window length.
func (s Session) Window() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// ErrDuplicate is returned by Store.Insert when a unique key already exists.
var ErrDuplicate = errors.New("session already exists")

// Store persists sessions. Get returns nil, nil for an unknown id. Listing
// methods return sessions in insertion order.
type Store interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (*Session, error)
	SetStatus(ctx context.Context, id string, status Status, closedAt *time.Time) error
	List(ctx context.Context) ([]Session, error)
	// ListOpen returns sessions whose stored status is open, including
	// ones that have logically expired.
	ListOpen(ctx context.Context) ([]Session, error)
	// OpenByRoom returns stored-open sessions for a class in a room.
	OpenByRoom(ctx context.Context, classID, roomID string) ([]Session, error)
	// LatestByBeacon returns the most recently started session bound to a
	// beacon in any status, or nil.
	LatestByBeacon(ctx context.Context, beaconUUID string) (*Session, error)
}
