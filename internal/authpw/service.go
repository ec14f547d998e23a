// Package authpw provides email/password authentication for organization
// users and external clients.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mondayease/api/internal/store"
	"mondayease/api/internal/util"
)

const (
	MinPasswordLength = 8
	verificationTTL   = 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid or expired verification token")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrMissingFields      = errors.New("email and password are required")
)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.UserProfile, error)
	CreateUser(ctx context.Context, user store.UserProfile) error
	VerifyUserEmail(ctx context.Context, token string) (store.UserProfile, error)
	GetClientByEmail(ctx context.Context, email string) (store.Client, error)
}

type Service struct {
	store UserStore
	now   func() time.Time
}

func NewService(store UserStore) *Service {
	return &Service{store: store, now: time.Now}
}

type SignUpRequest struct {
	Email    string
	Password string
	FullName string
}

type SignUpResponse struct {
	User              store.UserProfile
	VerificationToken string
}

// SignUp creates an unverified user and returns the verification token to
// be mailed.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrMissingFields
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	token, err := util.NewToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}
	expiresAt := s.now().Add(verificationTTL)

	user := store.UserProfile{
		ID:                    util.NewID("usr"),
		Email:                 email,
		FullName:              strings.TrimSpace(req.FullName),
		PasswordHash:          hash,
		VerificationToken:     token,
		VerificationExpiresAt: &expiresAt,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &SignUpResponse{User: user, VerificationToken: token}, nil
}

type SignInResponse struct {
	User           store.UserProfile
	RequiresVerify bool
}

// SignIn checks a user's password. An unverified user with the right
// password gets RequiresVerify instead of a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResponse, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &SignInResponse{User: user, RequiresVerify: !user.EmailVerified}, nil
}

// SignInClient authenticates an external client account.
func (s *Service) SignInClient(ctx context.Context, email, password string) (store.Client, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.Client{}, ErrMissingFields
	}
	client, err := s.store.GetClientByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Client{}, ErrInvalidCredentials
		}
		return store.Client{}, fmt.Errorf("lookup client: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.PasswordHash), []byte(password)); err != nil {
		return store.Client{}, ErrInvalidCredentials
	}
	return client, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (store.UserProfile, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.UserProfile{}, ErrInvalidToken
	}
	user, err := s.store.VerifyUserEmail(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.UserProfile{}, ErrInvalidToken
		}
		return store.UserProfile{}, fmt.Errorf("verify email: %w", err)
	}
	return user, nil
}

// HashPassword validates the length and returns a bcrypt hash.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
