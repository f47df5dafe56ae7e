package attendance

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beaconattend/internal/apperr"
	"beaconattend/internal/metrics"
	"beaconattend/internal/proximity"
	"beaconattend/internal/session"
	"beaconattend/internal/validate"
)

// DefaultGraceFraction marks the first half of the window as present.
const DefaultGraceFraction = 0.5

// Options configures a Service.
type Options struct {
	Validator     proximity.Validator
	GraceFraction float64
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Service validates check-ins against sessions and records them.
type Service struct {
	sessions  *session.Manager
	ledger    Ledger
	validator proximity.Validator
	grace     float64
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewService creates a service. The manager supplies the clock and the
// per-session locks.
func NewService(sessions *session.Manager, ledger Ledger, opts Options) *Service {
	if opts.Validator == nil {
		opts.Validator = proximity.TrustedClaim{MaxDistance: proximity.DefaultMaxDistance}
	}
	if opts.GraceFraction <= 0 || opts.GraceFraction > 1 {
		opts.GraceFraction = DefaultGraceFraction
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		sessions:  sessions,
		ledger:    ledger,
		validator: opts.Validator,
		grace:     opts.GraceFraction,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// CheckInInput is a student's claim of presence. SessionID may be empty, in
// which case the session is resolved from the beacon.
type CheckInInput struct {
	SessionID  string   `json:"session_id"`
	StudentID  string   `json:"student_id" validate:"required,max=64"`
	BeaconUUID string   `json:"beacon_uuid" validate:"required"`
	Distance   *float64 `json:"beacon_distance"`
	RSSI       *int     `json:"rssi"`
}

// CheckInResult carries the stored record. Duplicate is set when the
// student had already checked in and the first record was returned.
type CheckInResult struct {
	Record    Record
	Duplicate bool
	Session   session.Session
}

// CheckIn validates and records a check-in.
func (s *Service) CheckIn(ctx context.Context, in CheckInInput) (CheckInResult, error) {
	if err := validate.Struct(in); err != nil {
		return CheckInResult{}, err
	}
	if d := in.Distance; d != nil && (math.IsNaN(*d) || math.IsInf(*d, 0) || *d < 0) {
		return CheckInResult{}, apperr.Validation("beacon_distance must be a non-negative number")
	}

	sessionID, err := s.resolveSession(ctx, in)
	if err != nil {
		return CheckInResult{}, err
	}

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	// Re-read under the lock so a concurrent close is observed.
	sess, err := s.sessions.Status(ctx, sessionID)
	if err != nil {
		return CheckInResult{}, err
	}
	now := s.sessions.Now()
	if !sess.AcceptsCheckIns(now) {
		s.metrics.CheckIn("session_closed")
		return CheckInResult{}, apperr.SessionClosed(sess.SessionID)
	}
	sess = sess.At(now)

	decision := s.validator.Validate(proximity.Claim{
		BeaconUUID: in.BeaconUUID,
		Distance:   in.Distance,
		RSSI:       in.RSSI,
	}, sess.BeaconUUID)
	if !decision.Accepted {
		s.metrics.CheckIn(string(decision.Reason))
		s.logger.Info("check-in rejected",
			zap.String("session_id", sess.SessionID),
			zap.String("student_id", in.StudentID),
			zap.String("reason", string(decision.Reason)))
		return CheckInResult{}, apperr.Proximity(string(decision.Reason))
	}

	if existing, err := s.ledger.Get(ctx, sess.SessionID, in.StudentID); err != nil {
		return CheckInResult{}, err
	} else if existing != nil {
		s.metrics.CheckIn("duplicate")
		return CheckInResult{Record: *existing, Duplicate: true, Session: sess}, nil
	}

	rec := Record{
		AttendanceID:   uuid.NewString(),
		SessionID:      sess.SessionID,
		StudentID:      in.StudentID,
		Timestamp:      now,
		Status:         s.classify(sess, now),
		CheckInMethod:  decision.Method,
		BeaconDistance: decision.Distance,
		RSSI:           in.RSSI,
	}
	if err := s.ledger.Append(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return CheckInResult{}, err
		}
		existing, getErr := s.ledger.Get(ctx, sess.SessionID, in.StudentID)
		if getErr != nil || existing == nil {
			return CheckInResult{}, err
		}
		s.metrics.CheckIn("duplicate")
		return CheckInResult{Record: *existing, Duplicate: true, Session: sess}, nil
	}

	s.metrics.CheckIn(string(rec.Status))
	s.logger.Info("check-in recorded",
		zap.String("session_id", rec.SessionID),
		zap.String("student_id", rec.StudentID),
		zap.String("status", string(rec.Status)),
		zap.String("method", string(rec.CheckInMethod)))
	return CheckInResult{Record: rec, Session: sess}, nil
}

func (s *Service) resolveSession(ctx context.Context, in CheckInInput) (string, error) {
	if in.SessionID != "" {
		return in.SessionID, nil
	}
	sess, err := s.sessions.LatestByBeacon(ctx, in.BeaconUUID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", apperr.NotFound("no session is bound to beacon %s", in.BeaconUUID)
	}
	return sess.SessionID, nil
}

// classify returns present before the grace cutoff and late after it.
func (s *Service) classify(sess session.Session, at time.Time) Status {
	grace := time.Duration(s.grace * float64(sess.Window()))
	if at.Before(sess.StartTime.Add(grace)) {
		return StatusPresent
	}
	return StatusLate
}

// BySession lists a session's records in check-in order.
func (s *Service) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	if sessionID == "" {
		return nil, apperr.Validation("missing session_id")
	}
	if _, err := s.sessions.Status(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.ledger.BySession(ctx, sessionID)
}

// ByStudent lists a student's records across sessions.
func (s *Service) ByStudent(ctx context.Context, studentID string) ([]Record, error) {
	if studentID == "" {
		return nil, apperr.Validation("missing student_id")
	}
	return s.ledger.ByStudent(ctx, studentID)
}

func (s *Service) All(ctx context.Context) ([]Record, error) {
	return s.ledger.All(ctx)
}
