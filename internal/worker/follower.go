// Package worker keeps a process's local view in step with the remote store
// and reacts to connectivity and scan events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"zerosum/internal/core"
	"zerosum/internal/mutation"
	"zerosum/internal/remote"
)

// Follower mirrors the remote collections into the mutation framework's view.
type Follower struct {
	store remote.Store
	fw    *mutation.Framework

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

func NewFollower(store remote.Store, fw *mutation.Framework) *Follower {
	return &Follower{store: store, fw: fw, online: true}
}

// OnConnectivity registers fn for online/offline transitions.
func (f *Follower) OnConnectivity(fn func(online bool)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Online reports the last observed connectivity.
func (f *Follower) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

// Hydrate loads every collection into the view.
func (f *Follower) Hydrate(ctx context.Context) error {
	docs := make([][]bson.Raw, len(remote.Collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, coll := range remote.Collections {
		g.Go(func() error {
			d, err := f.store.Load(gctx, remote.All(coll))
			if err != nil {
				return fmt.Errorf("load %s: %w", coll, err)
			}
			docs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, coll := range remote.Collections {
		if err := f.fw.View().ApplySnapshot(remote.Snapshot{Collection: coll, Docs: docs[i]}); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "Local view hydrated",
		"accounts", len(f.fw.View().Accounts()),
		"transactions", len(f.fw.View().Transactions()))
	return nil
}

// Bootstrap seeds an empty budget when asked to and makes sure every credit
// card has its payment category.
func (f *Follower) Bootstrap(ctx context.Context, month core.Month, seed bool) error {
	if seed {
		seeded, err := f.fw.Seed(ctx, month)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		if seeded {
			slog.InfoContext(ctx, "Seeded sample budget", "month", month)
		}
	}
	if _, err := f.fw.EnsureCCPaymentCategories(ctx); err != nil {
		return fmt.Errorf("ensure credit card payment categories: %w", err)
	}
	return nil
}

// Run applies pushed snapshots until ctx ends.
func (f *Follower) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, coll := range remote.Collections {
		sub, err := f.store.Subscribe(gctx, remote.All(coll))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", coll, err)
		}
		g.Go(func() error {
			defer sub.Close()
			return f.follow(gctx, coll, sub)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (f *Follower) follow(ctx context.Context, coll string, sub *remote.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-sub.C:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s ended", coll)
			}
			if err := f.fw.View().ApplySnapshot(snap); err != nil {
				slog.ErrorContext(ctx, "Failed to apply snapshot",
					"collection", coll, "error", err)
				continue
			}
			if coll == remote.Accounts && !snap.HasPendingWrites {
				if _, err := f.fw.EnsureCCPaymentCategories(ctx); err != nil {
					slog.WarnContext(ctx, "Failed to ensure payment categories", "error", err)
				}
			}
		}
	}
}

// Watch pings the remote store every interval. Coming back online retries
// every queued mutation.
func (f *Follower) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Check(ctx)
		}
	}
}

// Check pings once and handles a connectivity change.
func (f *Follower) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := f.store.Ping(pingCtx)
	cancel()
	online := err == nil

	f.mu.Lock()
	changed := online != f.online
	f.online = online
	listeners := append([]func(bool){}, f.listeners...)
	f.mu.Unlock()

	if !changed {
		return online
	}
	if online {
		slog.InfoContext(ctx, "Remote store reachable again")
		if _, err := f.fw.RetryAll(ctx); err != nil {
			slog.WarnContext(ctx, "Retry after reconnect failed", "error", err)
		}
	} else {
		slog.WarnContext(ctx, "Remote store unreachable", "error", err)
	}
	for _, fn := range listeners {
		fn(online)
	}
	return online
}
