// Package storage defines the persistence port shared by every backend.
//
// Implementations live in the memory, sqlite and postgres subpackages and
// must behave identically; storetest holds the contract suite they all run.
package storage

import (
	"context"
	"errors"

	"cashbook/internal/core"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// Ports for outbound adapters.
type (
	UserStore interface {
		FindUser(ctx context.Context, username string) (core.User, error)
		CreateUser(ctx context.Context, username, passwordHash string) (core.User, error)
	}

	SessionStore interface {
		FindSession(ctx context.Context, token string) (core.Session, error)
		CreateSession(ctx context.Context, s core.Session) error
		// DeleteSession is a no-op for unknown tokens.
		DeleteSession(ctx context.Context, token string) error
	}

	CashbookStore interface {
		CreateCashbook(ctx context.Context, userID int64, name string) (core.Cashbook, error)
		FindCashbook(ctx context.Context, userID int64, name string) (core.Cashbook, error)
		// DeleteCashbook removes the cashbook together with all of its entries.
		DeleteCashbook(ctx context.Context, cashbookID int64) error
		// ListCashbooks returns the user's cashbooks in creation order.
		ListCashbooks(ctx context.Context, userID int64) ([]core.Cashbook, error)
	}

	EntryStore interface {
		AddEntry(ctx context.Context, e core.Entry) error
		DeleteEntry(ctx context.Context, cashbookID int64, entryID string) error
		// ListEntries returns entries oldest first.
		ListEntries(ctx context.Context, cashbookID int64) ([]core.Entry, error)
	}

	// Store is the full persistence surface used by the ledger service.
	Store interface {
		UserStore
		SessionStore
		CashbookStore
		EntryStore
		Ping(ctx context.Context) error
		Close() error
	}
)
