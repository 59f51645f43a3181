// Package worker consumes ledger events published by the API.
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
	"cashbook/internal/log"
)

// UserActivity is what the worker has seen for one user since it started.
type UserActivity struct {
	Username string
	Events   map[core.EventType]int
	// Balances is the net flow per cashbook built from the events observed,
	// rounded to cents.
	Balances map[string]float64
}

type userState struct {
	events    map[core.EventType]int
	cashbooks map[string]map[string]decimal.Decimal // cashbook -> entry id -> signed amount
}

// EventWorker tallies ledger events per user. It only knows what it has
// consumed: entries added before it started are invisible to it.
type EventWorker struct {
	logger *log.Logger

	mu    sync.Mutex
	users map[string]*userState
	total int
}

func NewEventWorker(logger *log.Logger) *EventWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &EventWorker{
		logger: logger.WithComponent(log.ComponentEvents),
		users:  make(map[string]*userState),
	}
}

// HandleEvent applies one event. Unknown types are logged and dropped so
// that they are not redelivered forever.
func (w *EventWorker) HandleEvent(ctx context.Context, ev core.LedgerEvent) error {
	switch ev.Type {
	case core.EventCashbookCreated, core.EventCashbookDeleted, core.EventEntryAdded, core.EventEntryDeleted:
	default:
		w.logger.WarnContext(ctx, "Dropping unknown ledger event",
			log.FieldEvent, string(ev.Type), log.FieldUsername, ev.Username)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.users[ev.Username]
	if st == nil {
		st = &userState{
			events:    make(map[core.EventType]int),
			cashbooks: make(map[string]map[string]decimal.Decimal),
		}
		w.users[ev.Username] = st
	}

	switch ev.Type {
	case core.EventCashbookCreated:
		st.cashbooks[ev.Cashbook] = make(map[string]decimal.Decimal)
	case core.EventCashbookDeleted:
		delete(st.cashbooks, ev.Cashbook)
	case core.EventEntryAdded:
		entries := st.entries(ev.Cashbook)
		amt := decimal.NewFromFloat(ev.Amount)
		if ev.EntryType == core.CashOut {
			amt = amt.Neg()
		}
		entries[ev.EntryID] = amt
	case core.EventEntryDeleted:
		delete(st.entries(ev.Cashbook), ev.EntryID)
	}

	st.events[ev.Type]++
	w.total++

	w.logger.InfoContext(ctx, "Ledger event", log.NewFields().
		WithLedger(ev.Username, ev.Cashbook).
		WithOperation(string(ev.Type)).
		ToSlice()...)
	return nil
}

func (st *userState) entries(cashbook string) map[string]decimal.Decimal {
	entries := st.cashbooks[cashbook]
	if entries == nil {
		entries = make(map[string]decimal.Decimal)
		st.cashbooks[cashbook] = entries
	}
	return entries
}

// Activity returns a snapshot for username; ok is false when no event for
// that user has been seen.
func (w *EventWorker) Activity(username string) (UserActivity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.users[username]
	if !ok {
		return UserActivity{}, false
	}
	out := UserActivity{
		Username: username,
		Events:   make(map[core.EventType]int, len(st.events)),
		Balances: make(map[string]float64, len(st.cashbooks)),
	}
	for k, v := range st.events {
		out.Events[k] = v
	}
	for name, entries := range st.cashbooks {
		sum := decimal.Zero
		for _, amt := range entries {
			sum = sum.Add(amt)
		}
		out.Balances[name] = core.RoundCents(sum)
	}
	return out, true
}

// Users returns the usernames seen so far, sorted.
func (w *EventWorker) Users() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.users))
	for name := range w.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Total is the number of events applied.
func (w *EventWorker) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// ReportPeriodically logs a one-line summary every interval until ctx is done.
func (w *EventWorker) ReportPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logger.InfoContext(ctx, "Event worker status",
				"events_total", w.Total(),
				"users", len(w.Users()))
		}
	}
}
