// Package storage keeps device-local state in SQLite: the durable queue of
// mutations waiting for retry and the cache of receipt images waiting for
// a scan.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zerosum/internal/mutation"

	_ "modernc.org/sqlite"
)

// ErrImageNotFound is returned when no image is cached for a transaction.
var ErrImageNotFound = errors.New("receipt image not found")

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var _ mutation.PendingLog = (*SQLiteRepository)(nil)

// busyTimeoutMs bounds how long a writer waits for the other process.
const busyTimeoutMs = 5000

// dsn opens dbPath in WAL mode with a busy timeout on every connection, as
// the API and the worker write to the same file.
func dsn(dbPath string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dbPath, busyTimeoutMs)
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection per process; busy_timeout covers the other process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toRow(m mutation.PendingMutation) PendingMutationRow {
	return PendingMutationRow{
		ID:        m.ID,
		Type:      string(m.Type),
		Entity:    string(m.Entity),
		EntityID:  m.EntityID,
		Operation: m.Operation,
		Payload:   string(m.Payload),
		CreatedAt: m.Timestamp.UnixNano(),
		Attempts:  int64(m.Attempts),
		LastError: m.LastError,
	}
}

func fromRow(row PendingMutationRow) mutation.PendingMutation {
	return mutation.PendingMutation{
		ID:        row.ID,
		Type:      mutation.Type(row.Type),
		Entity:    mutation.Entity(row.Entity),
		EntityID:  row.EntityID,
		Operation: row.Operation,
		Payload:   json.RawMessage(row.Payload),
		Timestamp: time.Unix(0, row.CreatedAt).UTC(),
		Attempts:  int(row.Attempts),
		LastError: row.LastError,
	}
}

// Append implements mutation.PendingLog
func (r *SQLiteRepository) Append(ctx context.Context, m mutation.PendingMutation) error {
	if err := r.queries.InsertPendingMutation(ctx, toRow(m)); err != nil {
		return fmt.Errorf("insert pending mutation %s: %w", m.ID, err)
	}

	slog.InfoContext(ctx, "Mutation queued for retry",
		"mutation_id", m.ID,
		"operation", m.Operation,
		"entity", m.Entity,
		"entity_id", m.EntityID)

	return nil
}

// Update implements mutation.PendingLog
func (r *SQLiteRepository) Update(ctx context.Context, m mutation.PendingMutation) error {
	n, err := r.queries.UpdatePendingMutation(ctx, toRow(m))
	if err != nil {
		return fmt.Errorf("update pending mutation %s: %w", m.ID, err)
	}
	if n == 0 {
		return mutation.ErrNotQueued
	}
	return nil
}

// Remove implements mutation.PendingLog
func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	if err := r.queries.DeletePendingMutation(ctx, id); err != nil {
		return fmt.Errorf("delete pending mutation %s: %w", id, err)
	}
	return nil
}

// Get implements mutation.PendingLog
func (r *SQLiteRepository) Get(ctx context.Context, id string) (mutation.PendingMutation, error) {
	row, err := r.queries.GetPendingMutation(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.PendingMutation{}, mutation.ErrNotQueued
	}
	if err != nil {
		return mutation.PendingMutation{}, fmt.Errorf("get pending mutation %s: %w", id, err)
	}
	return fromRow(row), nil
}

// List implements mutation.PendingLog, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]mutation.PendingMutation, error) {
	rows, err := r.queries.ListPendingMutations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending mutations: %w", err)
	}
	out := make([]mutation.PendingMutation, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// PendingCount returns how many mutations are waiting for retry.
func (r *SQLiteRepository) PendingCount(ctx context.Context) (int64, error) {
	n, err := r.queries.CountPendingMutations(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending mutations: %w", err)
	}
	return n, nil
}

// PutImage caches a receipt image for transactionID, replacing any earlier one.
func (r *SQLiteRepository) PutImage(ctx context.Context, transactionID, contentType string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("receipt image for %s is empty", transactionID)
	}
	err := r.queries.UpsertReceiptImage(ctx, ReceiptImage{
		TransactionID: transactionID,
		ContentType:   contentType,
		Data:          data,
		SizeBytes:     int64(len(data)),
		CreatedAt:     r.now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("store receipt image %s: %w", transactionID, err)
	}

	slog.DebugContext(ctx, "Receipt image cached",
		"transaction_id", transactionID,
		"size_bytes", len(data))

	return nil
}

// GetImage returns the cached image bytes for transactionID.
func (r *SQLiteRepository) GetImage(ctx context.Context, transactionID string) ([]byte, error) {
	img, err := r.queries.GetReceiptImage(ctx, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt image %s: %w", transactionID, err)
	}
	return img.Data, nil
}

// DeleteImage drops the cached image. Missing images are not an error.
func (r *SQLiteRepository) DeleteImage(ctx context.Context, transactionID string) error {
	if err := r.queries.DeleteReceiptImage(ctx, transactionID); err != nil {
		return fmt.Errorf("delete receipt image %s: %w", transactionID, err)
	}
	return nil
}

// CleanupImages removes images cached longer than maxAge ago.
func (r *SQLiteRepository) CleanupImages(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := r.now().Add(-maxAge).UnixNano()
	n, err := r.queries.DeleteReceiptImagesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup receipt images: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up stale receipt images", "count", n)
	}
	return n, nil
}

// ImageStats returns the number and total size of cached images.
func (r *SQLiteRepository) ImageStats(ctx context.Context) (count, bytes int64, err error) {
	count, bytes, err = r.queries.ReceiptImageStats(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("receipt image stats: %w", err)
	}
	return count, bytes, nil
}

// Images adapts the repository to the scan processor's image cache.
func (r *SQLiteRepository) Images() ImageStore {
	return ImageStore{r: r}
}

// ImageStore is the Get/Put/Delete view of the receipt image cache.
type ImageStore struct {
	r *SQLiteRepository
}

func (s ImageStore) Put(ctx context.Context, transactionID, contentType string, data []byte) error {
	return s.r.PutImage(ctx, transactionID, contentType, data)
}

func (s ImageStore) Get(ctx context.Context, transactionID string) ([]byte, error) {
	return s.r.GetImage(ctx, transactionID)
}

func (s ImageStore) Delete(ctx context.Context, transactionID string) error {
	return s.r.DeleteImage(ctx, transactionID)
}
