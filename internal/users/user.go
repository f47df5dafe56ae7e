// Package users manages students and instructors: registration, lookup,
// password login and name resolution for exports.
package users

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// User is keyed by StudentID; instructors use the same identifier column.
type User struct {
	StudentID    string    `json:"student_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrDuplicate is returned by Store.Insert when the id or email is taken.
var ErrDuplicate = errors.New("user already exists")

// Store persists users. Lookups return nil, nil when absent.
type Store interface {
	Insert(ctx context.Context, u User) error
	Get(ctx context.Context, studentID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
