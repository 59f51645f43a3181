// Package postgres is the storage.Store for shared deployments, built on a
// pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/storage"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects to databaseURL, migrates the schema and returns a ready store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	logger := log.Default().WithComponent("postgres")
	logger.Info("Postgres store ready", "host", pool.Config().ConnConfig.Host)

	return &Store{pool: pool, logger: logger}, nil
}

func runMigrations(databaseURL string) error {
	// Separate connection so closing the migrator leaves the pool alone.
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create pgx migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) FindUser(ctx context.Context, username string) (core.User, error) {
	var u core.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return core.User{}, wrap("find user", err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (core.User, error) {
	u := core.User{Username: username, PasswordHash: passwordHash}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, username, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return core.User{}, wrap("create user", err)
	}
	return u, nil
}

func (s *Store) FindSession(ctx context.Context, token string) (core.Session, error) {
	var sess core.Session
	err := s.pool.QueryRow(ctx,
		`SELECT token, username, created_at, expires_at FROM sessions WHERE token = $1`, token,
	).Scan(&sess.Token, &sess.Username, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return core.Session{}, wrap("find session", err)
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess core.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (token, username, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		sess.Token, sess.Username, sess.CreatedAt, sess.ExpiresAt)
	return wrap("create session", err)
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return wrap("delete session", err)
}

func (s *Store) CreateCashbook(ctx context.Context, userID int64, name string) (core.Cashbook, error) {
	cb := core.Cashbook{UserID: userID, Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cashbooks (user_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, userID, name).Scan(&cb.ID, &cb.CreatedAt)
	if err != nil {
		if isCode(err, codeForeignKeyViolation) {
			return core.Cashbook{}, fmt.Errorf("create cashbook: user %d: %w", userID, storage.ErrNotFound)
		}
		return core.Cashbook{}, wrap("create cashbook", err)
	}
	return cb, nil
}

func (s *Store) FindCashbook(ctx context.Context, userID int64, name string) (core.Cashbook, error) {
	var cb core.Cashbook
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, created_at FROM cashbooks WHERE user_id = $1 AND name = $2`, userID, name,
	).Scan(&cb.ID, &cb.UserID, &cb.Name, &cb.CreatedAt)
	if err != nil {
		return core.Cashbook{}, wrap("find cashbook", err)
	}
	return cb, nil
}

func (s *Store) DeleteCashbook(ctx context.Context, cashbookID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM entries WHERE cashbook_id = $1`, cashbookID); err != nil {
			return fmt.Errorf("delete cashbook entries: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM cashbooks WHERE id = $1`, cashbookID)
		if err != nil {
			return fmt.Errorf("delete cashbook: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func (s *Store) ListCashbooks(ctx context.Context, userID int64) ([]core.Cashbook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, created_at FROM cashbooks WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cashbooks: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Cashbook, error) {
		var cb core.Cashbook
		err := row.Scan(&cb.ID, &cb.UserID, &cb.Name, &cb.CreatedAt)
		return cb, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cashbooks: %w", err)
	}
	if out == nil {
		out = []core.Cashbook{}
	}
	return out, nil
}

func (s *Store) AddEntry(ctx context.Context, e core.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entries (id, cashbook_id, entry_date, entry_type, amount, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.CashbookID, e.Date, string(e.Type), e.Amount, e.Note)
	if err != nil {
		if isCode(err, codeForeignKeyViolation) {
			return fmt.Errorf("add entry: cashbook %d: %w", e.CashbookID, storage.ErrNotFound)
		}
		return wrap("add entry", err)
	}
	s.logger.DebugContext(ctx, "Entry saved", "id", e.ID, "cashbook_id", e.CashbookID, "type", e.Type)
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, cashbookID int64, entryID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entries WHERE cashbook_id = $1 AND id = $2`, cashbookID, entryID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, cashbookID int64) ([]core.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cashbook_id, entry_date, entry_type, amount, note
		  FROM entries
		 WHERE cashbook_id = $1
		 ORDER BY seq
	`, cashbookID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Entry, error) {
		var (
			e   core.Entry
			typ string
		)
		err := row.Scan(&e.ID, &e.CashbookID, &e.Date, &typ, &e.Amount, &e.Note)
		e.Type = core.EntryType(typ)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	if out == nil {
		out = []core.Entry{}
	}
	return out, nil
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return storage.ErrNotFound
	case isCode(err, codeUniqueViolation):
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// truncate drops every row; only used by tests sharing one database.
func (s *Store) truncate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `TRUNCATE entries, cashbooks, sessions, users RESTART IDENTITY CASCADE`)
	return err
}
