// Package backend opens the configured store and event publisher.
package backend

import (
	"context"
	"errors"
	"fmt"

	"cashbook/internal/amqp"
	"cashbook/internal/log"
	"cashbook/internal/storage"
	"cashbook/internal/storage/memory"
	"cashbook/internal/storage/postgres"
	"cashbook/internal/storage/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger

	// dialAMQP is replaced in tests.
	dialAMQP func(url, exchange, queue string) (*amqp.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default()
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(log.ComponentBackend),
		dialAMQP: amqp.NewClient,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	result := &BackendResult{Store: store}
	closers := []func() error{store.Close}

	if config.AMQPURL != "" {
		client, err := f.dialAMQP(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without ledger events", log.FieldError, err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			result.Notifier = client
			closers = append([]func() error{client.Close}, closers...)
		}
	}

	result.Cleanup = func() error {
		var errs []error
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return result, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (storage.Store, error) {
	switch config.Type {
	case MemoryBackend:
		f.logger.Warn("Using in-memory backend: all users, sessions and entries are lost on restart")
		return memory.New(), nil

	case SQLiteBackend:
		store, err := sqlite.Open(ctx, config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return store, nil

	case PostgresBackend:
		store, err := postgres.Open(ctx, config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		f.logger.Info("Initialized postgres backend")
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
