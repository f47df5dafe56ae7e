package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"beaconattend/internal/store"
)

// Repository persists sessions in Postgres or SQLite.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `session_id, class_id, class_name, room_id, teacher_id, beacon_uuid,
	window_minutes, start_time, end_time, status, closed_at, created_at`

func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`), s.SessionID, s.ClassID, s.ClassName, s.RoomID, s.TeacherID, strings.ToUpper(s.BeaconUUID),
		s.WindowMinutes, s.StartTime.UTC(), s.EndTime.UTC(), string(s.Status), nullTime(s.ClosedAt), s.CreatedAt.UTC())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1
	`), id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *Repository) SetStatus(ctx context.Context, id string, status Status, closedAt *time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions
		SET status = $2, closed_at = COALESCE($3, closed_at)
		WHERE session_id = $1
	`), id, string(status), nullTime(closedAt))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]Session, error) {
	return r.query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY seq`)
}

func (r *Repository) ListOpen(ctx context.Context) ([]Session, error) {
	return r.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = $1 ORDER BY seq`, string(StatusOpen))
}

func (r *Repository) OpenByRoom(ctx context.Context, classID, roomID string) ([]Session, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = $1 AND class_id = $2 AND room_id = $3
		ORDER BY seq
	`, string(StatusOpen), classID, roomID)
}

func (r *Repository) LatestByBeacon(ctx context.Context, beaconUUID string) (*Session, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE beacon_uuid = $1
		ORDER BY seq DESC
		LIMIT 1
	`), strings.ToUpper(beaconUUID))
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by beacon: %w", err)
	}
	return &s, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	res := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s        Session
		status   string
		closedAt sql.NullTime
	)
	err := row.Scan(&s.SessionID, &s.ClassID, &s.ClassName, &s.RoomID, &s.TeacherID, &s.BeaconUUID,
		&s.WindowMinutes, &s.StartTime, &s.EndTime, &status, &closedAt, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	s.Status = Status(status)
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		s.ClosedAt = &t
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
