package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"cashbook/internal/core"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("invalid request body")

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type cashbookRequest struct {
	Name string `json:"name"`
}

type addEntryRequest struct {
	Cashbook string      `json:"cashbook"`
	Type     string      `json:"type"`
	Date     string      `json:"date"`
	Amount   numberField `json:"amount"`
	Note     string      `json:"note"`
}

func (req addEntryRequest) input() core.EntryInput {
	return core.EntryInput{
		Cashbook: req.Cashbook,
		Type:     req.Type,
		Date:     req.Date,
		Amount:   string(req.Amount),
		Note:     req.Note,
	}
}

// numberField keeps the textual form of a JSON number or string so that
// "12.5" and 12.5 are validated identically. null leaves it empty.
type numberField string

func (n *numberField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numberField(s)
	default:
		*n = numberField(data)
	}
	return nil
}

// decodeJSON reads one JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
