package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/storage"
)

// lockUser serialises one user's mutations. The lock stays held through
// publish so that a user's events leave in the order their mutations were
// applied; other users never wait on it.
func (s *Service) lockUser(u core.User) func() {
	return s.locks.lock("user:" + strconv.FormatInt(u.ID, 10))
}

// CreateCashbook adds an empty cashbook named raw (after trimming) to u.
func (s *Service) CreateCashbook(ctx context.Context, u core.User, raw string) (core.Cashbook, error) {
	name, err := core.SanitizeCashbookName(raw)
	if err != nil {
		return core.Cashbook{}, err
	}

	unlock := s.lockUser(u)
	defer unlock()

	cb, err := s.store.CreateCashbook(ctx, u.ID, name)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return core.Cashbook{}, core.ErrCashbookExists
	case err != nil:
		return core.Cashbook{}, fmt.Errorf("create cashbook: %w", err)
	}

	s.logger.InfoContext(ctx, "Cashbook created", log.NewFields().
		WithLedger(u.Username, name).WithOperation(log.OpCreateCashbook).ToSlice()...)
	s.publish(ctx, core.LedgerEvent{Type: core.EventCashbookCreated, Username: u.Username, Cashbook: name})
	return cb, nil
}

// DeleteCashbook removes the cashbook and every entry in it.
func (s *Service) DeleteCashbook(ctx context.Context, u core.User, raw string) (string, error) {
	name, err := core.SanitizeCashbookName(raw)
	if err != nil {
		return "", err
	}

	unlock := s.lockUser(u)
	defer unlock()

	cb, err := s.findCashbook(ctx, u, name)
	if err != nil {
		return "", err
	}
	if err := s.store.DeleteCashbook(ctx, cb.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", core.ErrCashbookNotFound
		}
		return "", fmt.Errorf("delete cashbook: %w", err)
	}

	s.logger.InfoContext(ctx, "Cashbook deleted", log.NewFields().
		WithLedger(u.Username, name).WithOperation(log.OpDeleteCashbook).ToSlice()...)
	s.publish(ctx, core.LedgerEvent{Type: core.EventCashbookDeleted, Username: u.Username, Cashbook: name})
	return name, nil
}

// ResolveCashbook finds one of u's cashbooks by raw name and returns it with
// its entries, oldest first.
func (s *Service) ResolveCashbook(ctx context.Context, u core.User, raw string) (core.Cashbook, []core.Entry, error) {
	name, err := core.SanitizeCashbookName(raw)
	if err != nil {
		return core.Cashbook{}, nil, err
	}
	cb, err := s.findCashbook(ctx, u, name)
	if err != nil {
		return core.Cashbook{}, nil, err
	}
	entries, err := s.store.ListEntries(ctx, cb.ID)
	if err != nil {
		return core.Cashbook{}, nil, fmt.Errorf("list entries: %w", err)
	}
	return cb, entries, nil
}

func (s *Service) findCashbook(ctx context.Context, u core.User, name string) (core.Cashbook, error) {
	cb, err := s.store.FindCashbook(ctx, u.ID, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.Cashbook{}, core.ErrCashbookNotFound
	case err != nil:
		return core.Cashbook{}, fmt.Errorf("find cashbook: %w", err)
	}
	return cb, nil
}

// AddEntry validates in and appends a new entry to the named cashbook.
// Checks run in order: cashbook name, cashbook existence, type, date, amount.
func (s *Service) AddEntry(ctx context.Context, u core.User, in core.EntryInput) (core.Entry, error) {
	name, err := core.SanitizeCashbookName(in.Cashbook)
	if err != nil {
		return core.Entry{}, err
	}

	unlock := s.lockUser(u)
	defer unlock()

	cb, err := s.findCashbook(ctx, u, name)
	if err != nil {
		return core.Entry{}, err
	}

	typ := core.EntryType(in.Type)
	if !typ.Valid() {
		return core.Entry{}, core.ErrInvalidEntryType
	}
	date, err := core.NormalizeDate(in.Date, s.now())
	if err != nil {
		return core.Entry{}, err
	}
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Entry{}, err
	}

	e := core.Entry{
		ID:         uuid.NewString(),
		CashbookID: cb.ID,
		Date:       date,
		Type:       typ,
		Amount:     amount,
		Note:       in.Note,
	}
	if err := s.store.AddEntry(ctx, e); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.Entry{}, core.ErrCashbookNotFound
		}
		return core.Entry{}, fmt.Errorf("add entry: %w", err)
	}

	s.logger.InfoContext(ctx, "Entry added", log.NewFields().
		WithLedger(u.Username, name).WithOperation(log.OpAddEntry).ToSlice()...)
	s.publish(ctx, core.LedgerEvent{
		Type:      core.EventEntryAdded,
		Username:  u.Username,
		Cashbook:  name,
		EntryID:   e.ID,
		EntryType: e.Type,
		Amount:    e.Amount,
	})
	return e, nil
}

// DeleteEntry removes entryID from the named cashbook.
func (s *Service) DeleteEntry(ctx context.Context, u core.User, raw, entryID string) error {
	name, err := core.SanitizeCashbookName(raw)
	if err != nil {
		return err
	}

	unlock := s.lockUser(u)
	defer unlock()

	cb, err := s.findCashbook(ctx, u, name)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, cb.ID, entryID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.ErrEntryNotFound
		}
		return fmt.Errorf("delete entry: %w", err)
	}

	s.logger.InfoContext(ctx, "Entry deleted", log.NewFields().
		WithLedger(u.Username, name).WithOperation(log.OpDeleteEntry).ToSlice()...)
	s.publish(ctx, core.LedgerEvent{Type: core.EventEntryDeleted, Username: u.Username, Cashbook: name, EntryID: entryID})
	return nil
}

// ListCashbooks returns the names of u's cashbooks in creation order.
func (s *Service) ListCashbooks(ctx context.Context, u core.User) ([]string, error) {
	cbs, err := s.store.ListCashbooks(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list cashbooks: %w", err)
	}
	names := make([]string, 0, len(cbs))
	for _, cb := range cbs {
		names = append(names, cb.Name)
	}
	return names, nil
}

// ListEntries returns the entries of one cashbook, oldest first.
func (s *Service) ListEntries(ctx context.Context, u core.User, raw string) ([]core.Entry, error) {
	_, entries, err := s.ResolveCashbook(ctx, u, raw)
	return entries, err
}

// Summary totals one cashbook.
func (s *Service) Summary(ctx context.Context, u core.User, raw string) (core.Summary, error) {
	_, entries, err := s.ResolveCashbook(ctx, u, raw)
	if err != nil {
		return core.Summary{}, err
	}
	return core.Summarize(entries), nil
}

// Export returns every cashbook of u with its entries, or only the named
// one when raw is non-empty.
func (s *Service) Export(ctx context.Context, u core.User, raw string) (core.Export, error) {
	out := core.Export{Username: u.Username, Cashbooks: map[string][]core.Entry{}}

	if raw != "" {
		cb, entries, err := s.ResolveCashbook(ctx, u, raw)
		if err != nil {
			return core.Export{}, err
		}
		out.Cashbooks[cb.Name] = entries
		return out, nil
	}

	cbs, err := s.store.ListCashbooks(ctx, u.ID)
	if err != nil {
		return core.Export{}, fmt.Errorf("list cashbooks: %w", err)
	}
	for _, cb := range cbs {
		entries, err := s.store.ListEntries(ctx, cb.ID)
		if err != nil {
			return core.Export{}, fmt.Errorf("list entries for %q: %w", cb.Name, err)
		}
		out.Cashbooks[cb.Name] = entries
	}

	s.logger.DebugContext(ctx, "Export built",
		log.FieldUsername, u.Username,
		log.FieldOperation, log.OpExport,
		"cashbooks", len(out.Cashbooks))
	return out, nil
}
