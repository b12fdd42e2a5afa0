package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosum/internal/core"
	"zerosum/internal/mutation"
	"zerosum/internal/remote"
	"zerosum/internal/remote/memory"
)

const month = core.Month("2024-05")

func newFramework(store remote.Store) *mutation.Framework {
	return mutation.New(store, mutation.NewView(), mutation.NewMemoryLog(), mutation.NewNotifier(time.Second, 5*time.Second))
}

// seededStore returns a store holding the sample budget written by another
// process.
func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	seeded, err := newFramework(store).Seed(context.Background(), month)
	require.NoError(t, err)
	require.True(t, seeded)
	return store
}

func TestFollowerHydrate(t *testing.T) {
	store := seededStore(t)
	fw := newFramework(store)
	f := NewFollower(store, fw)

	require.Empty(t, fw.View().Accounts())
	require.NoError(t, f.Hydrate(context.Background()))

	assert.NotEmpty(t, fw.View().Accounts())
	assert.NotEmpty(t, fw.View().Transactions())
	_, ok := fw.View().Snapshot().RTA()
	assert.True(t, ok)
}

func TestFollowerHydrateOffline(t *testing.T) {
	store := memory.New()
	store.SetOffline(true)
	f := NewFollower(store, newFramework(store))
	assert.ErrorIs(t, f.Hydrate(context.Background()), remote.ErrUnavailable)
}

func TestFollowerBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("seed disabled leaves budget empty", func(t *testing.T) {
		store := memory.New()
		fw := newFramework(store)
		require.NoError(t, NewFollower(store, fw).Bootstrap(ctx, month, false))
		assert.Empty(t, fw.View().Accounts())
	})

	t.Run("seeds once", func(t *testing.T) {
		store := memory.New()
		fw := newFramework(store)
		f := NewFollower(store, fw)
		require.NoError(t, f.Bootstrap(ctx, month, true))
		accounts := len(fw.View().Accounts())
		require.NotZero(t, accounts)

		require.NoError(t, f.Bootstrap(ctx, month, true))
		assert.Len(t, fw.View().Accounts(), accounts)
	})

	t.Run("creates missing payment category", func(t *testing.T) {
		store := memory.New()
		card := core.Account{ID: "card-1", Name: "Visa", Type: core.AccountCreditCard}
		require.NoError(t, store.Put(remote.Accounts, card.ID, card))
		fw := newFramework(store)
		f := NewFollower(store, fw)
		require.NoError(t, f.Hydrate(ctx))

		require.NoError(t, f.Bootstrap(ctx, month, false))
		c, ok := fw.View().Snapshot().CCPaymentFor(card.ID)
		require.True(t, ok)
		assert.True(t, c.IsCcPayment)
	})
}

func TestFollowerRunAppliesPushedSnapshots(t *testing.T) {
	store := seededStore(t)
	fw := newFramework(store)
	f := NewFollower(store, fw)
	require.NoError(t, f.Hydrate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	card := core.Account{ID: "card-2", Name: "Amex", Type: core.AccountCreditCard}
	require.NoError(t, store.Put(remote.Accounts, card.ID, card))

	require.Eventually(t, func() bool {
		_, ok := fw.View().Snapshot().CCPaymentFor(card.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFollowerCheckRetriesOnReconnect(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	fw := newFramework(store)
	f := NewFollower(store, fw)
	require.NoError(t, f.Hydrate(ctx))

	var mu sync.Mutex
	var seen []bool
	f.OnConnectivity(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})

	store.SetOffline(true)
	assert.False(t, f.Check(ctx))
	assert.False(t, f.Online())

	checking := fw.View().Accounts()[0]
	_, err := fw.AddTransaction(ctx, core.Transaction{
		Date: "2024-05-20", Payee: "Bakery", Amount: -450, AccountID: checking.ID,
	})
	require.True(t, mutation.IsQueued(err), "got %v", err)
	pending, err := fw.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// No change, no callback.
	assert.False(t, f.Check(ctx))

	store.SetOffline(false)
	assert.True(t, f.Check(ctx))

	pending, err = fw.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, seen)
}
