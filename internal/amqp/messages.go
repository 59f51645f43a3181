package amqp

import (
	"encoding/json"
	"errors"
	"fmt"

	"cashbook/internal/core"
)

// EncodeEvent converts the event to the JSON wire form.
func EncodeEvent(ev core.LedgerEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent parses a message body and rejects events missing their
// type, owner or cashbook.
func DecodeEvent(data []byte) (core.LedgerEvent, error) {
	var ev core.LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return core.LedgerEvent{}, fmt.Errorf("decode ledger event: %w", err)
	}
	switch {
	case ev.Type == "":
		return core.LedgerEvent{}, errors.New("decode ledger event: missing type")
	case ev.Username == "" || ev.Cashbook == "":
		return core.LedgerEvent{}, fmt.Errorf("decode ledger event %s: missing username or cashbook", ev.Type)
	}
	return ev, nil
}
