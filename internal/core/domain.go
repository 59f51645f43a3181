package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	CashIn  EntryType = "cash_in"
	CashOut EntryType = "cash_out"
)

const (
	// DateLayout is the only accepted entry date format.
	DateLayout = "2006-01-02"

	MaxCashbookNameLength = 64
	MinUsernameLength     = 3
	MinPasswordLength     = 6
)

type (
	// EntryType selects whether an entry increases or decreases the balance.
	EntryType string

	User struct {
		ID           int64     `json:"id"`
		Username     string    `json:"username"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"created_at"`
	}

	Session struct {
		Token     string    `json:"-"`
		Username  string    `json:"username"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	Cashbook struct {
		ID        int64     `json:"-"`
		UserID    int64     `json:"-"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	Entry struct {
		ID         string    `json:"id"`
		CashbookID int64     `json:"-"`
		Date       string    `json:"date"`
		Type       EntryType `json:"type"`
		Amount     float64   `json:"amount"`
		Note       string    `json:"note"`
	}

	// EntryInput carries the raw, unvalidated fields of an add-entry request.
	// Amount is the textual form of the submitted number; "" means missing.
	EntryInput struct {
		Cashbook string
		Type     string
		Date     string
		Amount   string
		Note     string
	}

	// Export is every requested cashbook of one user keyed by name.
	Export struct {
		Username  string             `json:"username"`
		Cashbooks map[string][]Entry `json:"cashbooks"`
	}
)

// Valid reports whether t is one of the two entry variants.
func (t EntryType) Valid() bool {
	switch t {
	case CashIn, CashOut:
		return true
	default:
		return false
	}
}

func (t EntryType) String() string {
	return string(t)
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SanitizeCashbookName trims raw and checks it against the name rules.
func SanitizeCashbookName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrCashbookNameRequired
	}
	if utf8.RuneCountInString(name) > MaxCashbookNameLength {
		return "", ErrCashbookNameTooLong
	}
	return name, nil
}

// NormalizeDate returns raw as a YYYY-MM-DD calendar date, or today's UTC
// date when raw is blank.
func NormalizeDate(raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC().Format(DateLayout), nil
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", ErrInvalidDateOrAmount
	}
	return d.Format(DateLayout), nil
}

// ValidateCredentials applies the registration rules to an already trimmed
// username and a raw password.
func ValidateCredentials(username, password string) error {
	if username == "" || password == "" {
		return ErrCredentialsRequired
	}
	if utf8.RuneCountInString(username) < MinUsernameLength || utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrCredentialsTooShort
	}
	return nil
}
