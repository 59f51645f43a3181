// Package memory is an in-process storage.Store.
//
// Everything lives in the Store value that New returns: nothing survives a
// process restart. Use the sqlite or postgres backend for durable data.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cashbook/internal/core"
	"cashbook/internal/storage"
)

type Store struct {
	mu        sync.RWMutex
	users     map[string]*userRecord
	usersByID map[int64]*userRecord
	sessions  map[string]core.Session
	cashbooks map[int64]*cashbookRecord
	entryIDs  map[string]int64 // entry id -> cashbook id

	nextUserID     int64
	nextCashbookID int64
	now            func() time.Time
}

type userRecord struct {
	user      core.User
	cashbooks []int64
}

type cashbookRecord struct {
	cashbook core.Cashbook
	entries  []core.Entry
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:     make(map[string]*userRecord),
		usersByID: make(map[int64]*userRecord),
		sessions:  make(map[string]core.Session),
		cashbooks: make(map[int64]*cashbookRecord),
		entryIDs:  make(map[string]int64),
		now:       time.Now,
	}
}

func (s *Store) FindUser(_ context.Context, username string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return core.User{}, storage.ErrNotFound
	}
	return rec.user, nil
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return core.User{}, fmt.Errorf("user %q: %w", username, storage.ErrConflict)
	}
	s.nextUserID++
	u := core.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	rec := &userRecord{user: u}
	s.users[username] = rec
	s.usersByID[u.ID] = rec
	return u, nil
}

func (s *Store) FindSession(_ context.Context, token string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return core.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.Token]; ok {
		return fmt.Errorf("session: %w", storage.ErrConflict)
	}
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) CreateCashbook(_ context.Context, userID int64, name string) (core.Cashbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := s.userByID(userID)
	if owner == nil {
		return core.Cashbook{}, fmt.Errorf("user %d: %w", userID, storage.ErrNotFound)
	}
	for _, id := range owner.cashbooks {
		if s.cashbooks[id].cashbook.Name == name {
			return core.Cashbook{}, fmt.Errorf("cashbook %q: %w", name, storage.ErrConflict)
		}
	}
	s.nextCashbookID++
	cb := core.Cashbook{
		ID:        s.nextCashbookID,
		UserID:    userID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	s.cashbooks[cb.ID] = &cashbookRecord{cashbook: cb}
	owner.cashbooks = append(owner.cashbooks, cb.ID)
	return cb, nil
}

func (s *Store) FindCashbook(_ context.Context, userID int64, name string) (core.Cashbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner := s.userByID(userID)
	if owner == nil {
		return core.Cashbook{}, storage.ErrNotFound
	}
	for _, id := range owner.cashbooks {
		if cb := s.cashbooks[id].cashbook; cb.Name == name {
			return cb, nil
		}
	}
	return core.Cashbook{}, storage.ErrNotFound
}

func (s *Store) DeleteCashbook(_ context.Context, cashbookID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cashbooks[cashbookID]
	if !ok {
		return storage.ErrNotFound
	}
	for _, e := range rec.entries {
		delete(s.entryIDs, e.ID)
	}
	delete(s.cashbooks, cashbookID)
	if owner := s.userByID(rec.cashbook.UserID); owner != nil {
		kept := owner.cashbooks[:0]
		for _, id := range owner.cashbooks {
			if id != cashbookID {
				kept = append(kept, id)
			}
		}
		owner.cashbooks = kept
	}
	return nil
}

func (s *Store) ListCashbooks(_ context.Context, userID int64) ([]core.Cashbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner := s.userByID(userID)
	if owner == nil {
		return []core.Cashbook{}, nil
	}
	out := make([]core.Cashbook, 0, len(owner.cashbooks))
	for _, id := range owner.cashbooks {
		out = append(out, s.cashbooks[id].cashbook)
	}
	return out, nil
}

func (s *Store) AddEntry(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cashbooks[e.CashbookID]
	if !ok {
		return fmt.Errorf("cashbook %d: %w", e.CashbookID, storage.ErrNotFound)
	}
	if _, taken := s.entryIDs[e.ID]; taken {
		return fmt.Errorf("entry %s: %w", e.ID, storage.ErrConflict)
	}
	rec.entries = append(rec.entries, e)
	s.entryIDs[e.ID] = e.CashbookID
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, cashbookID int64, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cashbooks[cashbookID]
	if !ok {
		return storage.ErrNotFound
	}
	for i, e := range rec.entries {
		if e.ID == entryID {
			rec.entries = append(rec.entries[:i:i], rec.entries[i+1:]...)
			delete(s.entryIDs, entryID)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) ListEntries(_ context.Context, cashbookID int64) ([]core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cashbooks[cashbookID]
	if !ok {
		return []core.Entry{}, nil
	}
	return append([]core.Entry{}, rec.entries...), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// userByID expects the caller to hold s.mu.
func (s *Store) userByID(id int64) *userRecord {
	return s.usersByID[id]
}
