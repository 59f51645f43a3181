package core

import "time"

const (
	EventCashbookCreated EventType = "cashbook.created"
	EventCashbookDeleted EventType = "cashbook.deleted"
	EventEntryAdded      EventType = "entry.added"
	EventEntryDeleted    EventType = "entry.deleted"
)

// EventType names a change to the ownership graph.
type EventType string

// LedgerEvent describes one applied mutation. It is a notification for
// downstream consumers; the service keeps no record of it.
type LedgerEvent struct {
	Type       EventType `json:"type"`
	Username   string    `json:"username"`
	Cashbook   string    `json:"cashbook"`
	EntryID    string    `json:"entry_id,omitempty"`
	EntryType  EntryType `json:"entry_type,omitempty"`
	Amount     float64   `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
