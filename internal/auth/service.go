// Package auth handles registration, login and session tokens. Usernames and
// emails are unique case-insensitively; passwords are stored as bcrypt hashes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"tally/internal/core"
	"tally/internal/storage"
)

const bcryptCost = 10

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrMissingField       = errors.New("username, email and password are required")
	ErrInvalidEmail       = errors.New("invalid email address")
)

type Service struct {
	queries *storage.Queries
	tokens  *TokenIssuer
}

func NewService(queries *storage.Queries, tokens *TokenIssuer) *Service {
	return &Service{queries: queries, tokens: tokens}
}

// Register creates a user and returns it with a fresh session token.
func (s *Service) Register(ctx context.Context, username, email, password string) (core.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return core.User{}, "", ErrMissingField
	}
	if len(password) < 8 {
		return core.User{}, "", ErrWeakPassword
	}
	if !strings.Contains(email, "@") {
		return core.User{}, "", ErrInvalidEmail
	}

	if _, err := s.queries.GetUserByUsername(ctx, username); err == nil {
		return core.User{}, "", ErrUsernameTaken
	} else if !storage.IsNoRows(err) {
		return core.User{}, "", fmt.Errorf("check username: %w", err)
	}
	if _, err := s.queries.GetUserByEmail(ctx, email); err == nil {
		return core.User{}, "", ErrEmailTaken
	} else if !storage.IsNoRows(err) {
		return core.User{}, "", fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return core.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.queries.CreateUser(ctx, storage.CreateUserParams{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return core.User{}, "", createUserErr(err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return core.User{}, "", err
	}
	return user, token, nil
}

// createUserErr maps unique-index violations to the taken sentinels. The
// pre-insert existence checks race with concurrent registrations; the indexes
// are the authority.
func createUserErr(err error) error {
	switch {
	case storage.IsUniqueViolation(err, "idx_users_username"):
		return ErrUsernameTaken
	case storage.IsUniqueViolation(err, "idx_users_email"):
		return ErrEmailTaken
	}
	return fmt.Errorf("create user: %w", err)
}

// Login verifies credentials and returns the user with a fresh session token.
// Unknown usernames and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (core.User, string, error) {
	user, err := s.queries.GetUserByUsername(ctx, strings.TrimSpace(username))
	if storage.IsNoRows(err) {
		return core.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, "", fmt.Errorf("get user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return core.User{}, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return core.User{}, "", err
	}
	return user, token, nil
}
