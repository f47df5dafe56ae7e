package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"beaconattend/internal/proximity"
	"beaconattend/internal/store"
)

// Repository persists attendance records in Postgres or SQLite.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `attendance_id, session_id, student_id, occurred_at, status, check_in_method, beacon_distance, rssi`

func (r *Repository) Append(ctx context.Context, rec Record) error {
	var (
		distance sql.NullFloat64
		rssi     sql.NullInt64
	)
	if rec.BeaconDistance != nil {
		distance = sql.NullFloat64{Float64: *rec.BeaconDistance, Valid: true}
	}
	if rec.RSSI != nil {
		rssi = sql.NullInt64{Int64: int64(*rec.RSSI), Valid: true}
	}
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`), rec.AttendanceID, rec.SessionID, rec.StudentID, rec.Timestamp.UTC(),
		string(rec.Status), string(rec.CheckInMethod), distance, rssi)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`), sessionID, studentID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &rec, nil
}

func (r *Repository) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 ORDER BY seq`, sessionID)
}

func (r *Repository) ByStudent(ctx context.Context, studentID string) ([]Record, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE student_id = $1 ORDER BY seq`, studentID)
}

func (r *Repository) All(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM attendance_records ORDER BY seq`)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		status   string
		method   string
		distance sql.NullFloat64
		rssi     sql.NullInt64
	)
	if err := row.Scan(&rec.AttendanceID, &rec.SessionID, &rec.StudentID, &rec.Timestamp,
		&status, &method, &distance, &rssi); err != nil {
		return Record{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Status = Status(status)
	rec.CheckInMethod = proximity.Method(method)
	if distance.Valid {
		d := distance.Float64
		rec.BeaconDistance = &d
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		rec.RSSI = &v
	}
	return rec, nil
}
