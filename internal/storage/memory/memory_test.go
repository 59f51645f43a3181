package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"cashbook/internal/core"
	"cashbook/internal/storage"
	"cashbook/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	suite.Run(t, storetest.New(func(*testing.T) storage.Store { return New() }))
}

func TestListEntriesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, err := s.CreateUser(ctx, "alice", "h")
	require.NoError(t, err)
	cb, err := s.CreateCashbook(ctx, u.ID, "personal")
	require.NoError(t, err)
	require.NoError(t, s.AddEntry(ctx, core.Entry{ID: "e1", CashbookID: cb.ID, Type: core.CashIn, Amount: 5}))

	got, err := s.ListEntries(ctx, cb.ID)
	require.NoError(t, err)
	got[0].Amount = 999

	again, err := s.ListEntries(ctx, cb.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, again[0].Amount)
}

func TestSeparateStoresDoNotShareState(t *testing.T) {
	ctx := context.Background()
	a, b := New(), New()
	_, err := a.CreateUser(ctx, "alice", "h")
	require.NoError(t, err)

	_, err = b.FindUser(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCashbooksResolveOwnerAmongManyUsers(t *testing.T) {
	ctx := context.Background()
	s := New()
	var last core.User
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		u, err := s.CreateUser(ctx, name, "h")
		require.NoError(t, err)
		last = u
	}

	cb, err := s.CreateCashbook(ctx, last.ID, "personal")
	require.NoError(t, err)
	assert.Equal(t, last.ID, cb.UserID)

	got, err := s.ListCashbooks(ctx, last.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "personal", got[0].Name)

	_, err = s.CreateCashbook(ctx, last.ID+100, "personal")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
