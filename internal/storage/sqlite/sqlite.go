// Package sqlite is the single-file storage.Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/storage"
)

const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

type Store struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// DSN returns the connection string used for dbPath.
func DSN(dbPath string) string {
	return dbPath + "?" + pragmas
}

// Open creates the parent directory if needed, migrates the schema and
// returns a ready store.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := DSN(dbPath)

	if err := RunMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; readers share the same connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger := log.Default().WithComponent("sqlite")
	logger.Info("SQLite store ready", "path", dbPath)

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) FindUser(ctx context.Context, username string) (core.User, error) {
	var (
		u       core.User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if err != nil {
		return core.User{}, wrap("find user", err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (core.User, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, formatTime(now))
	if err != nil {
		return core.User{}, wrap("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return core.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *Store) FindSession(ctx context.Context, token string) (core.Session, error) {
	var (
		sess             core.Session
		created, expires string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, username, created_at, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.Username, &created, &expires)
	if err != nil {
		return core.Session{}, wrap("find session", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.ExpiresAt = parseTime(expires)
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess core.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, username, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.Username, formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt))
	return wrap("create session", err)
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return wrap("delete session", err)
}

func (s *Store) CreateCashbook(ctx context.Context, userID int64, name string) (core.Cashbook, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cashbooks (user_id, name, created_at) VALUES (?, ?, ?)`,
		userID, name, formatTime(now))
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.Cashbook{}, fmt.Errorf("create cashbook: user %d: %w", userID, storage.ErrNotFound)
		}
		return core.Cashbook{}, wrap("create cashbook", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Cashbook{}, fmt.Errorf("create cashbook: %w", err)
	}
	return core.Cashbook{ID: id, UserID: userID, Name: name, CreatedAt: now}, nil
}

func (s *Store) FindCashbook(ctx context.Context, userID int64, name string) (core.Cashbook, error) {
	var (
		cb      core.Cashbook
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM cashbooks WHERE user_id = ? AND name = ?`, userID, name,
	).Scan(&cb.ID, &cb.UserID, &cb.Name, &created)
	if err != nil {
		return core.Cashbook{}, wrap("find cashbook", err)
	}
	cb.CreatedAt = parseTime(created)
	return cb, nil
}

func (s *Store) DeleteCashbook(ctx context.Context, cashbookID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete cashbook: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cashbook_id = ?`, cashbookID); err != nil {
		return fmt.Errorf("delete cashbook entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cashbooks WHERE id = ?`, cashbookID)
	if err != nil {
		return fmt.Errorf("delete cashbook: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete cashbook: %w", err)
	} else if n == 0 {
		return storage.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete cashbook: %w", err)
	}
	return nil
}

func (s *Store) ListCashbooks(ctx context.Context, userID int64) ([]core.Cashbook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM cashbooks WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cashbooks: %w", err)
	}
	defer rows.Close()

	out := []core.Cashbook{}
	for rows.Next() {
		var (
			cb      core.Cashbook
			created string
		)
		if err := rows.Scan(&cb.ID, &cb.UserID, &cb.Name, &created); err != nil {
			return nil, fmt.Errorf("scan cashbook: %w", err)
		}
		cb.CreatedAt = parseTime(created)
		out = append(out, cb)
	}
	return out, rows.Err()
}

func (s *Store) AddEntry(ctx context.Context, e core.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, cashbook_id, entry_date, entry_type, amount, note) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.CashbookID, e.Date, string(e.Type), e.Amount, e.Note)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("add entry: cashbook %d: %w", e.CashbookID, storage.ErrNotFound)
		}
		return wrap("add entry", err)
	}
	s.logger.DebugContext(ctx, "Entry saved", "id", e.ID, "cashbook_id", e.CashbookID, "type", e.Type)
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, cashbookID int64, entryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE cashbook_id = ? AND id = ?`, cashbookID, entryID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, cashbookID int64) ([]core.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cashbook_id, entry_date, entry_type, amount, note
		   FROM entries WHERE cashbook_id = ? ORDER BY seq`, cashbookID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := []core.Entry{}
	for rows.Next() {
		var (
			e   core.Entry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CashbookID, &e.Date, &typ, &e.Amount, &e.Note); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Type = core.EntryType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// wrap maps driver errors onto the storage sentinels.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isForeignKeyViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
