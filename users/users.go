// Package users manages portal user accounts.
//
// Passwords are stored as bcrypt hashes. Issuing login tokens is handled
// outside this service.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 5

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailTaken  = errors.New("email already registered")
	ErrInvalid     = errors.New("invalid user data")
	ErrBadPassword = errors.New("password does not match")
)

type User struct {
	ID           int64
	UUID         string
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	switch {
	case full != "":
		return full
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// Store persists users. GetUser and GetUserByEmail return ErrNotFound for
// unknown users; CreateUser returns ErrEmailTaken on a duplicate email.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)
}

type CreateParams struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// UpdateParams only changes the fields that are non-nil.
type UpdateParams struct {
	Username  *string
	FirstName *string
	LastName  *string
	Password  *string
}

type Service struct {
	Store Store
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

func (s *Service) CreateUser(ctx context.Context, p CreateParams) (User, error) {
	email, err := normalizeEmail(p.Email)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hash(p.Password)
	if err != nil {
		return User{}, err
	}

	u := User{
		UUID:         uuid.NewString(),
		Email:        email,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PasswordHash: hash,
	}
	if u.Username == "" {
		u.Username = email
	}
	if err := s.Store.CreateUser(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.Store.GetUser(ctx, id)
}

func (s *Service) UpdateUser(ctx context.Context, id int64, p UpdateParams) (User, error) {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Password != nil {
		hash, err := s.hash(*p.Password)
		if err != nil {
			return User{}, err
		}
		u.PasswordHash = hash
	}
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// CheckPassword returns ErrBadPassword when password does not match.
func (s *Service) CheckPassword(u User, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrBadPassword
	}
	return err
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalid, MinPasswordLength)
	}
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalid)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return strings.ToLower(addr.Address), nil
}
