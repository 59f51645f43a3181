// Package services implements the cashbook operations on top of a
// storage.Store: account and session handling, the ownership graph of
// users, cashbooks and entries, and best-effort change notifications.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/storage"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

// Notifier receives a LedgerEvent after each applied mutation.
type Notifier interface {
	Publish(ctx context.Context, ev core.LedgerEvent) error
}

type Service struct {
	store      storage.Store
	notifier   Notifier
	logger     *log.Logger
	now        func() time.Time
	sessionTTL time.Duration
	hashCost   int
	dummyHash  []byte
	locks      *userLocks
}

type Option func(*Service)

// WithNotifier enables change notifications. A nil notifier disables them.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithPasswordCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func WithPasswordCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(store storage.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("services: nil store")
	}
	s := &Service{
		store:      store,
		logger:     log.Default(),
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		hashCost:   bcrypt.DefaultCost,
		locks:      newUserLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentLedger)

	// Compared against when the username is unknown so both login
	// failure paths do the same bcrypt work.
	dummy, err := bcrypt.GenerateFromPassword([]byte("cashbook-dummy-password"), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// SessionTTL is the lifetime given to new sessions.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publish(ctx context.Context, ev core.LedgerEvent) {
	if s.notifier == nil {
		return
	}
	ev.OccurredAt = s.now().UTC()
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEvent, ev.Type,
			log.FieldUsername, ev.Username,
			log.FieldError, err)
	}
}
