package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/storage"
)

// bcrypt ignores everything past this many bytes.
const maxPasswordBytes = 72

// Register creates an account. The username is trimmed, the password is
// taken as given.
func (s *Service) Register(ctx context.Context, username, password string) (core.User, error) {
	username = strings.TrimSpace(username)
	if err := core.ValidateCredentials(username, password); err != nil {
		return core.User{}, err
	}
	if len(password) > maxPasswordBytes {
		return core.User{}, core.ErrPasswordTooLong
	}

	unlock := s.locks.lock("register:" + username)
	defer unlock()

	if _, err := s.store.FindUser(ctx, username); err == nil {
		return core.User{}, core.ErrUsernameTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return core.User{}, fmt.Errorf("register: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.store.CreateUser(ctx, username, string(hash))
	switch {
	case errors.Is(err, storage.ErrConflict):
		return core.User{}, core.ErrUsernameTaken
	case err != nil:
		return core.User{}, fmt.Errorf("register: %w", err)
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUsername, username, log.FieldOperation, log.OpRegister)
	u.PasswordHash = ""
	return u, nil
}

// Login checks the credentials and issues a fresh session. Unknown users
// and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (core.Session, error) {
	username = strings.TrimSpace(username)

	u, err := s.store.FindUser(ctx, username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return core.Session{}, core.ErrInvalidCredentials
	case err != nil:
		return core.Session{}, fmt.Errorf("login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return core.Session{}, core.ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := core.Session{
		Token:     uuid.NewString(),
		Username:  u.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return core.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.InfoContext(ctx, "User logged in", log.FieldUsername, u.Username, log.FieldOperation, log.OpLogin)
	return sess, nil
}

// Logout forgets token. Unknown or empty tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, core.ErrNoSession
	}
	sess, err := s.store.FindSession(ctx, token)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.User{}, core.ErrInvalidSession
	case err != nil:
		return core.User{}, fmt.Errorf("find session: %w", err)
	}
	if sess.Expired(s.now()) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			s.logger.WarnContext(ctx, "Failed to drop expired session", log.FieldError, err)
		}
		return core.User{}, core.ErrInvalidSession
	}

	u, err := s.store.FindUser(ctx, sess.Username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.User{}, core.ErrUserNotFound
	case err != nil:
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}
