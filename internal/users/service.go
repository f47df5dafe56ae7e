package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"beaconattend/internal/apperr"
	"beaconattend/internal/clock"
	"beaconattend/internal/validate"
)

// Service registers and authenticates users.
type Service struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
	cost   int
}

// NewService creates a service over store.
func NewService(store Store, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clk, logger: logger, cost: bcrypt.DefaultCost}
}

// CreateInput registers a user. Password is optional; users without one
// cannot log in with a password.
type CreateInput struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=128"`
	Role      Role   `json:"role" validate:"required,oneof=student instructor"`
	Email     string `json:"email" validate:"omitempty,email"`
	Password  string `json:"password" validate:"omitempty,min=6,max=72"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	if err := validate.Struct(in); err != nil {
		return User{}, err
	}
	u := User{
		StudentID: in.StudentID,
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		CreatedAt: s.clock.Now(),
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}
	if err := s.store.Insert(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return User{}, apperr.Conflict("user %s already exists", in.StudentID)
		}
		return User{}, err
	}
	s.logger.Info("user created", zap.String("student_id", u.StudentID), zap.String("role", string(u.Role)))
	return u, nil
}

func (s *Service) Get(ctx context.Context, studentID string) (User, error) {
	if studentID == "" {
		return User{}, apperr.Validation("missing student_id")
	}
	u, err := s.store.Get(ctx, studentID)
	if err != nil {
		return User{}, err
	}
	if u == nil {
		return User{}, apperr.NotFound("user %s not found", studentID)
	}
	return *u, nil
}

// LoginInput identifies the user by student id (sent as username by the
// dashboard) or by email.
type LoginInput struct {
	StudentID string `json:"student_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password" validate:"required"`
}

// Login checks the password and returns the user. Unknown users and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, in LoginInput) (User, error) {
	if err := validate.Struct(in); err != nil {
		return User{}, err
	}
	var (
		u   *User
		err error
	)
	switch {
	case in.StudentID != "":
		u, err = s.store.Get(ctx, in.StudentID)
	case in.Username != "":
		u, err = s.store.Get(ctx, in.Username)
	case in.Email != "":
		u, err = s.store.GetByEmail(ctx, in.Email)
	default:
		return User{}, apperr.Validation("missing student_id, username or email")
	}
	if err != nil {
		return User{}, err
	}
	if u == nil || u.PasswordHash == "" {
		return User{}, apperr.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		s.logger.Info("login failed", zap.String("student_id", u.StudentID))
		return User{}, apperr.Unauthorized("invalid credentials")
	}
	return *u, nil
}

// ResolveName returns the user's display name, or "" when unknown.
func (s *Service) ResolveName(ctx context.Context, studentID string) (string, error) {
	u, err := s.store.Get(ctx, studentID)
	if err != nil || u == nil {
		return "", err
	}
	return u.Name, nil
}
