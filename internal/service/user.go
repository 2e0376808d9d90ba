package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"go.uber.org/zap"
)

const (
	minPasswordLength = 8
	resetTokenTTL     = time.Hour
)

type LoginResult struct {
	AccessToken string  `json:"access_token"`
	User        db.User `json:"user"`
}

// UserService manages the single admin account.
type UserService struct {
	users repository.UserRepository
	jwt   *auth.JWTManager
	clock clock.Clock
	log   *zap.Logger
}

func NewUserService(users repository.UserRepository, jwt *auth.JWTManager, clk clock.Clock, log *zap.Logger) *UserService {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{users: users, jwt: jwt, clock: clk, log: log.Named("user")}
}

func (s *UserService) JWTManager() *auth.JWTManager {
	return s.jwt
}

// Signup creates the admin account. Only one account may exist.
func (s *UserService) Signup(ctx context.Context, email, password, name string) (*db.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return nil, fmt.Errorf("%w: email and name are required", ErrMalformedInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrMalformedInput, minPasswordLength)
	}

	n, err := s.users.Count(ctx)
	if err != nil {
		return nil, classify("count users", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: an admin account already exists", ErrConflict)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &db.User{Email: email, Name: name, Role: db.RoleAdmin, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, classify("create user", err)
	}
	s.log.Info("admin account created", zap.Int64("user_id", u.ID))
	return u, nil
}

// Login verifies credentials and issues an access token. Unknown email and
// wrong password are indistinguishable.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, classify("find user", err)
	}
	if u == nil || !auth.CheckPasswordHash(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.Generate(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{AccessToken: token, User: *u}, nil
}

// InitiatePasswordReset stores a one-hour reset token and returns it for
// out-of-band delivery.
func (s *UserService) InitiatePasswordReset(ctx context.Context, email string) (string, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", classify("find user", err)
	}
	if u == nil {
		return "", fmt.Errorf("user %w", ErrNotFound)
	}

	token, err := auth.GenerateResetToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.users.SetResetToken(ctx, u.ID, token, s.clock.Now().Add(resetTokenTTL)); err != nil {
		return "", classify("store reset token", err)
	}
	s.log.Info("password reset initiated", zap.Int64("user_id", u.ID))
	return token, nil
}

func (s *UserService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrMalformedInput, minPasswordLength)
	}
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return classify("find user", err)
	}
	if u == nil || u.ResetToken == nil || u.ResetTokenExpiry == nil {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(*u.ResetToken), []byte(token)) != 1 {
		return ErrInvalidCredentials
	}
	if !s.clock.Now().Before(*u.ResetTokenExpiry) {
		return ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		return classify("update password", err)
	}
	if err := s.users.ClearResetToken(ctx, u.ID); err != nil {
		return classify("clear reset token", err)
	}
	s.log.Info("password reset completed", zap.Int64("user_id", u.ID))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
