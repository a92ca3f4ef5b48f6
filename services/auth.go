package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/justbri/shelfmark/database"
	"github.com/justbri/shelfmark/models"
)

const minPasswordLength = 8

// UserStore is the account persistence the auth service needs.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, username, email, passwordHash string, isAdmin bool) (*models.User, error)
}

type AuthService struct {
	users UserStore
}

func NewAuthService(users UserStore) *AuthService {
	return &AuthService{users: users}
}

func (a *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := a.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Register creates a regular (non-admin) account.
func (a *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &ValidationError{Field: "username", Message: "username is required"}
	}
	if len(password) < minPasswordLength {
		return nil, &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := a.users.Create(ctx, username, strings.TrimSpace(email), string(hashedPassword), false)
	if errors.Is(err, database.ErrUserExists) {
		return nil, &ValidationError{Field: "username", Message: "username already taken"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return user, nil
}

// Identity resolves a user id from a session into the caller identity.
func (a *AuthService) Identity(ctx context.Context, userID int64) (models.Identity, error) {
	user, err := a.users.GetByID(ctx, userID)
	if errors.Is(err, database.ErrUserNotFound) {
		return models.Identity{}, ErrUnauthorized
	}
	if err != nil {
		return models.Identity{}, err
	}
	return user.Identity(), nil
}
