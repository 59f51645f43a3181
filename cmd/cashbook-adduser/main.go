package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"cashbook/internal/backend"
	"cashbook/internal/cli"
	"cashbook/internal/config"
	"cashbook/internal/log"
	"cashbook/internal/services"
)

func main() {
	cli.LoadEnvFile()
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	defaults := config.Load()

	fs := flag.NewFlagSet("cashbook-adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	username := fs.String("user", "", "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	backendFlag := fs.String("backend", defaultBackend(defaults.DataBackend), "Storage backend: sqlite or postgres")
	dbPath := fs.String("db", defaults.SQLiteDBPath, "SQLite database file")
	databaseURL := fs.String("database-url", defaults.DatabaseURL, "Postgres connection URL")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		fmt.Fprintln(stdout, "Usage: cashbook-adduser -user <username> [-password <password>] [-backend sqlite|postgres] [-db <path>] [-database-url <url>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	cfg := backend.Config{
		Type:         backend.BackendType(*backendFlag),
		SQLiteDBPath: *dbPath,
		DatabaseURL:  *databaseURL,
	}
	if cfg.Type == backend.MemoryBackend {
		return fmt.Errorf("the memory backend does not persist users; use sqlite or postgres")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}

	ctx := context.Background()
	logger := log.New(log.Config{Output: stderr, Level: log.DefaultConfig().Level})

	res, err := backend.NewFactory(logger).CreateBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	svc, err := services.New(res.Store, services.WithLogger(logger))
	if err != nil {
		return err
	}
	user, err := svc.Register(ctx, *username, password)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s created successfully with ID %d\n", user.Username, user.ID)
	return nil
}

func defaultBackend(configured string) string {
	if configured == config.BackendPostgres {
		return configured
	}
	return config.BackendSQLite
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
