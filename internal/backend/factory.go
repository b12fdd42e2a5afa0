package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zerosum/internal/cache"
	"zerosum/internal/ledger"
	"zerosum/internal/mutation"
	"zerosum/internal/remote"
	"zerosum/internal/remote/memory"
	"zerosum/internal/remote/mongodb"
	"zerosum/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(ctx, config)
	if err != nil {
		return nil, err
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		store.Close(ctx)
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	view := mutation.NewView()
	notifier := mutation.NewNotifier(config.NotifyCoalesceWindow, config.NotifyTTL)
	fw := mutation.New(store, view, repo, notifier)

	size := config.ViewCacheSize
	if size <= 0 {
		size = 12
	}
	views := cache.NewLRUCache[ledger.MonthView](size, config.ViewCacheTTL)
	svc := ledger.NewService(view, views, config.PrefetchDelay)
	view.OnChange(svc.Invalidate)

	f.logger.Info("Initialized backend",
		"remote", config.Type,
		"user_id", config.UserID,
		"db_path", config.SQLiteDBPath,
		"view_cache_size", size)

	b := &Backend{
		Store:     store,
		Repo:      repo,
		View:      view,
		Framework: fw,
		Ledger:    svc,
	}
	return &BackendResult{
		Backend: b,
		Cleanup: func(ctx context.Context) error {
			svc.Close()
			return errors.Join(store.Close(ctx), repo.Close())
		},
	}, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config) (remote.Store, error) {
	switch config.Type {
	case MemoryBackend:
		f.logger.Warn("Using in-process memory remote store, data is lost on exit")
		return memory.New(), nil
	case MongoBackend:
		store, err := mongodb.Connect(ctx, config.MongoURI, config.MongoDB, config.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
