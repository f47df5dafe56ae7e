package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"beaconattend/internal/store"
)

// Repository persists users in Postgres or SQLite.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `student_id, name, email, role, password_hash, created_at`

func (r *Repository) Insert(ctx context.Context, u User) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`), u.StudentID, u.Name, u.Email, string(u.Role), u.PasswordHash, u.CreatedAt.UTC())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, studentID string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE student_id = $1`, studentID)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE email <> '' AND lower(email) = $1`, strings.ToLower(email))
}

func (r *Repository) one(ctx context.Context, query string, arg string) (*User, error) {
	var (
		u    User
		role string
	)
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(query), arg).
		Scan(&u.StudentID, &u.Name, &u.Email, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
