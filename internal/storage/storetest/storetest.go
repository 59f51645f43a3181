// Package storetest holds the behavioural contract every storage.Store
// implementation must satisfy. Backend packages run it from their own tests:
//
//	func TestStore(t *testing.T) {
//		suite.Run(t, storetest.New(func(t *testing.T) storage.Store { ... }))
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"cashbook/internal/core"
	"cashbook/internal/storage"
)

// Factory returns an empty store. It is called once per test.
type Factory func(t *testing.T) storage.Store

type Suite struct {
	suite.Suite
	factory Factory
	store   storage.Store
	ctx     context.Context
}

func New(f Factory) *Suite {
	return &Suite{factory: f}
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.factory(s.T())
}

func (s *Suite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func (s *Suite) user(name string) core.User {
	u, err := s.store.CreateUser(s.ctx, name, "hash-"+name)
	s.Require().NoError(err)
	return u
}

func (s *Suite) cashbook(u core.User, name string) core.Cashbook {
	cb, err := s.store.CreateCashbook(s.ctx, u.ID, name)
	s.Require().NoError(err)
	return cb
}

func (s *Suite) entry(cb core.Cashbook, typ core.EntryType, amount float64) core.Entry {
	e := core.Entry{
		ID:         uuid.NewString(),
		CashbookID: cb.ID,
		Date:       "2024-01-01",
		Type:       typ,
		Amount:     amount,
		Note:       "note",
	}
	s.Require().NoError(s.store.AddEntry(s.ctx, e))
	return e
}

func (s *Suite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func (s *Suite) TestCreateAndFindUser() {
	created := s.user("alice")
	s.NotZero(created.ID)
	s.Equal("alice", created.Username)
	s.Equal("hash-alice", created.PasswordHash)

	found, err := s.store.FindUser(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(created.ID, found.ID)
	s.Equal("hash-alice", found.PasswordHash)

	_, err = s.store.FindUser(s.ctx, "Alice")
	s.ErrorIs(err, storage.ErrNotFound, "usernames are case sensitive")
}

func (s *Suite) TestCreateUserConflict() {
	s.user("alice")
	_, err := s.store.CreateUser(s.ctx, "alice", "other")
	s.ErrorIs(err, storage.ErrConflict)

	found, err := s.store.FindUser(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("hash-alice", found.PasswordHash, "original hash is kept")
}

func (s *Suite) TestSessions() {
	s.user("alice")
	now := time.Now().UTC().Truncate(time.Second)
	sess := core.Session{
		Token:     uuid.NewString(),
		Username:  "alice",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	s.Require().NoError(s.store.CreateSession(s.ctx, sess))

	got, err := s.store.FindSession(s.ctx, sess.Token)
	s.Require().NoError(err)
	s.Equal(sess.Username, got.Username)
	s.True(sess.ExpiresAt.Equal(got.ExpiresAt), "expires_at round trips")

	s.Require().NoError(s.store.DeleteSession(s.ctx, sess.Token))
	_, err = s.store.FindSession(s.ctx, sess.Token)
	s.ErrorIs(err, storage.ErrNotFound)

	s.NoError(s.store.DeleteSession(s.ctx, sess.Token), "deleting twice is a no-op")
	s.NoError(s.store.DeleteSession(s.ctx, "never-issued"))
}

func (s *Suite) TestCashbooksAreScopedPerUser() {
	alice := s.user("alice")
	bob := s.user("bob")
	s.cashbook(alice, "personal")
	s.cashbook(bob, "personal")

	_, err := s.store.CreateCashbook(s.ctx, alice.ID, "personal")
	s.ErrorIs(err, storage.ErrConflict)

	_, err = s.store.CreateCashbook(s.ctx, alice.ID, "Personal")
	s.NoError(err, "names are case sensitive")

	_, err = s.store.FindCashbook(s.ctx, bob.ID, "Personal")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *Suite) TestListCashbooksInCreationOrder() {
	alice := s.user("alice")
	for _, name := range []string{"zeta", "alpha", "mid"} {
		s.cashbook(alice, name)
	}
	list, err := s.store.ListCashbooks(s.ctx, alice.ID)
	s.Require().NoError(err)
	names := make([]string, 0, len(list))
	for _, cb := range list {
		names = append(names, cb.Name)
	}
	s.Equal([]string{"zeta", "alpha", "mid"}, names)

	empty := s.user("bob")
	list, err = s.store.ListCashbooks(s.ctx, empty.ID)
	s.Require().NoError(err)
	s.NotNil(list)
	s.Empty(list)
}

func (s *Suite) TestEntriesKeepInsertionOrder() {
	alice := s.user("alice")
	cb := s.cashbook(alice, "personal")
	want := []core.Entry{
		s.entry(cb, core.CashIn, 100),
		s.entry(cb, core.CashOut, 40.5),
		s.entry(cb, core.CashIn, 0.01),
	}
	got, err := s.store.ListEntries(s.ctx, cb.ID)
	s.Require().NoError(err)
	s.Require().Len(got, len(want))
	for i := range want {
		s.Equal(want[i].ID, got[i].ID)
		s.Equal(want[i].Type, got[i].Type)
		s.Equal(want[i].Amount, got[i].Amount)
		s.Equal(want[i].Date, got[i].Date)
		s.Equal(want[i].Note, got[i].Note)
	}
}

func (s *Suite) TestListEntriesEmpty() {
	cb := s.cashbook(s.user("alice"), "personal")
	got, err := s.store.ListEntries(s.ctx, cb.ID)
	s.Require().NoError(err)
	s.NotNil(got)
	s.Empty(got)
}

func (s *Suite) TestDeleteEntry() {
	alice := s.user("alice")
	cb := s.cashbook(alice, "personal")
	other := s.cashbook(alice, "other")
	keep := s.entry(cb, core.CashIn, 1)
	drop := s.entry(cb, core.CashOut, 2)

	s.ErrorIs(s.store.DeleteEntry(s.ctx, other.ID, drop.ID), storage.ErrNotFound, "entry must belong to the cashbook")
	s.Require().NoError(s.store.DeleteEntry(s.ctx, cb.ID, drop.ID))
	s.ErrorIs(s.store.DeleteEntry(s.ctx, cb.ID, drop.ID), storage.ErrNotFound)

	got, err := s.store.ListEntries(s.ctx, cb.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(keep.ID, got[0].ID)
}

func (s *Suite) TestDeleteCashbookCascades() {
	alice := s.user("alice")
	cb := s.cashbook(alice, "personal")
	kept := s.cashbook(alice, "work")
	e := s.entry(cb, core.CashIn, 10)
	s.entry(kept, core.CashIn, 20)

	s.Require().NoError(s.store.DeleteCashbook(s.ctx, cb.ID))
	s.ErrorIs(s.store.DeleteCashbook(s.ctx, cb.ID), storage.ErrNotFound)

	_, err := s.store.FindCashbook(s.ctx, alice.ID, "personal")
	s.ErrorIs(err, storage.ErrNotFound)
	s.ErrorIs(s.store.DeleteEntry(s.ctx, cb.ID, e.ID), storage.ErrNotFound)

	again := s.cashbook(alice, "personal")
	got, err := s.store.ListEntries(s.ctx, again.ID)
	s.Require().NoError(err)
	s.Empty(got, "a recreated cashbook starts empty")

	got, err = s.store.ListEntries(s.ctx, kept.ID)
	s.Require().NoError(err)
	s.Len(got, 1, "sibling cashbook is untouched")
}

func (s *Suite) TestConcurrentAddEntry() {
	cb := s.cashbook(s.user("alice"), "personal")
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.store.AddEntry(s.ctx, core.Entry{
				ID:         uuid.NewString(),
				CashbookID: cb.ID,
				Date:       "2024-01-01",
				Type:       core.CashIn,
				Amount:     1,
				Note:       fmt.Sprintf("n%d", i),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
	got, err := s.store.ListEntries(s.ctx, cb.ID)
	s.Require().NoError(err)
	s.Len(got, n)
}
