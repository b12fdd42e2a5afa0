package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"zerosum/internal/mutation"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "zerosum.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func pending(id string, at time.Time) mutation.PendingMutation {
	return mutation.PendingMutation{
		ID:        id,
		Type:      mutation.TypeUpdate,
		Entity:    mutation.EntityTransaction,
		EntityID:  "tx-" + id,
		Operation: "update_transaction",
		Payload:   json.RawMessage(`{"id":"tx-` + id + `"}`),
		Timestamp: at,
	}
}

func TestPendingLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, m := range []mutation.PendingMutation{pending("b", base.Add(time.Second)), pending("a", base)} {
		if err := repo.Append(ctx, m); err != nil {
			t.Fatalf("Append(%s): %v", m.ID, err)
		}
	}
	if err := repo.Append(ctx, pending("a", base)); err == nil {
		t.Error("expected error appending a duplicate id")
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("expected [a b] oldest first, got %+v", list)
	}
	if !list[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", list[0].Timestamp, base)
	}
	if string(list[0].Payload) != `{"id":"tx-a"}` {
		t.Errorf("payload = %s", list[0].Payload)
	}

	m := list[0]
	m.Attempts = 2
	m.LastError = "remote unavailable"
	if err := repo.Update(ctx, m); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attempts != 2 || got.LastError != "remote unavailable" {
		t.Errorf("update not stored: %+v", got)
	}

	if err := repo.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := repo.Get(ctx, "a"); !errors.Is(err, mutation.ErrNotQueued) {
		t.Errorf("Get after remove: got %v, want ErrNotQueued", err)
	}
	if err := repo.Update(ctx, pending("zz", base)); !errors.Is(err, mutation.ErrNotQueued) {
		t.Errorf("Update unknown: got %v, want ErrNotQueued", err)
	}
	if n, _ := repo.PendingCount(ctx); n != 1 {
		t.Errorf("PendingCount = %d, want 1", n)
	}
}

func TestPendingLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zerosum.db")

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := repo.Append(ctx, pending("keep", time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	repo.Close()

	repo, err = NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()
	if _, err := repo.Get(ctx, "keep"); err != nil {
		t.Errorf("pending mutation lost across restart: %v", err)
	}
}

func TestImageCache(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	images := repo.Images()

	if _, err := images.Get(ctx, "tx1"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("Get missing: got %v, want ErrImageNotFound", err)
	}
	if err := images.Put(ctx, "tx1", "image/jpeg", nil); err == nil {
		t.Error("expected error for empty image")
	}
	if err := images.Put(ctx, "tx1", "image/jpeg", []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := images.Put(ctx, "tx1", "image/png", []byte("second")); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	data, err := images.Get(ctx, "tx1")
	if err != nil || string(data) != "second" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	count, size, err := repo.ImageStats(ctx)
	if err != nil || count != 1 || size != 6 {
		t.Errorf("ImageStats = %d, %d, %v", count, size, err)
	}

	if err := images.Delete(ctx, "tx1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := images.Delete(ctx, "tx1"); err != nil {
		t.Errorf("Delete missing should be a no-op: %v", err)
	}
}

func TestCleanupImages(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return now.Add(-48 * time.Hour) }
	if err := repo.PutImage(ctx, "old", "image/jpeg", []byte("x")); err != nil {
		t.Fatal(err)
	}
	repo.now = func() time.Time { return now }
	if err := repo.PutImage(ctx, "new", "image/jpeg", []byte("y")); err != nil {
		t.Fatal(err)
	}

	n, err := repo.CleanupImages(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("CleanupImages = %d, %v", n, err)
	}
	if _, err := repo.GetImage(ctx, "new"); err != nil {
		t.Errorf("recent image removed: %v", err)
	}
}

func TestSharedDatabaseFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	api, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open api repo: %v", err)
	}
	defer api.Close()
	worker, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open worker repo: %v", err)
	}
	defer worker.Close()

	var mode string
	if err := api.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil || mode != "wal" {
		t.Errorf("journal_mode = %q, %v", mode, err)
	}
	var timeout int
	if err := worker.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil || timeout != busyTimeoutMs {
		t.Errorf("busy_timeout = %d, %v", timeout, err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	errs := make(chan error, 40)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			errs <- api.PutImage(ctx, fmt.Sprintf("tx%d", i), "image/png", []byte("img"))
		}
	}()
	for i := 0; i < 20; i++ {
		errs <- worker.Append(ctx, pending(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}
	<-done
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}

	list, err := api.List(ctx)
	if err != nil || len(list) != 20 {
		t.Errorf("List from other handle = %d, %v", len(list), err)
	}
}
