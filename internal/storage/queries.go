package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type PendingMutationRow struct {
	ID        string
	Type      string
	Entity    string
	EntityID  string
	Operation string
	Payload   string
	CreatedAt int64
	Attempts  int64
	LastError string
}

type ReceiptImage struct {
	TransactionID string
	ContentType   string
	Data          []byte
	SizeBytes     int64
	CreatedAt     int64
}

const insertPendingMutation = `
INSERT INTO pending_mutations (id, type, entity, entity_id, operation, payload, created_at, attempts, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertPendingMutation(ctx context.Context, arg PendingMutationRow) error {
	_, err := q.db.ExecContext(ctx, insertPendingMutation,
		arg.ID, arg.Type, arg.Entity, arg.EntityID, arg.Operation,
		arg.Payload, arg.CreatedAt, arg.Attempts, arg.LastError)
	return err
}

const updatePendingMutation = `
UPDATE pending_mutations
SET payload = ?, attempts = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`

func (q *Queries) UpdatePendingMutation(ctx context.Context, arg PendingMutationRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePendingMutation, arg.Payload, arg.Attempts, arg.LastError, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deletePendingMutation = `DELETE FROM pending_mutations WHERE id = ?`

func (q *Queries) DeletePendingMutation(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deletePendingMutation, id)
	return err
}

const selectPendingMutation = `
SELECT id, type, entity, entity_id, operation, payload, created_at, attempts, last_error
FROM pending_mutations
`

func scanPendingMutation(row interface{ Scan(...any) error }) (PendingMutationRow, error) {
	var i PendingMutationRow
	err := row.Scan(&i.ID, &i.Type, &i.Entity, &i.EntityID, &i.Operation,
		&i.Payload, &i.CreatedAt, &i.Attempts, &i.LastError)
	return i, err
}

func (q *Queries) GetPendingMutation(ctx context.Context, id string) (PendingMutationRow, error) {
	row := q.db.QueryRowContext(ctx, selectPendingMutation+"WHERE id = ?", id)
	return scanPendingMutation(row)
}

func (q *Queries) ListPendingMutations(ctx context.Context) ([]PendingMutationRow, error) {
	rows, err := q.db.QueryContext(ctx, selectPendingMutation+"ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingMutationRow
	for rows.Next() {
		i, err := scanPendingMutation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countPendingMutations = `SELECT COUNT(*) FROM pending_mutations`

func (q *Queries) CountPendingMutations(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countPendingMutations).Scan(&n)
	return n, err
}

const upsertReceiptImage = `
INSERT INTO receipt_images (transaction_id, content_type, data, size_bytes, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(transaction_id) DO UPDATE SET
    content_type = excluded.content_type,
    data = excluded.data,
    size_bytes = excluded.size_bytes,
    created_at = excluded.created_at
`

func (q *Queries) UpsertReceiptImage(ctx context.Context, arg ReceiptImage) error {
	_, err := q.db.ExecContext(ctx, upsertReceiptImage,
		arg.TransactionID, arg.ContentType, arg.Data, arg.SizeBytes, arg.CreatedAt)
	return err
}

const getReceiptImage = `
SELECT transaction_id, content_type, data, size_bytes, created_at
FROM receipt_images WHERE transaction_id = ?
`

func (q *Queries) GetReceiptImage(ctx context.Context, transactionID string) (ReceiptImage, error) {
	var i ReceiptImage
	err := q.db.QueryRowContext(ctx, getReceiptImage, transactionID).Scan(
		&i.TransactionID, &i.ContentType, &i.Data, &i.SizeBytes, &i.CreatedAt)
	return i, err
}

const deleteReceiptImage = `DELETE FROM receipt_images WHERE transaction_id = ?`

func (q *Queries) DeleteReceiptImage(ctx context.Context, transactionID string) error {
	_, err := q.db.ExecContext(ctx, deleteReceiptImage, transactionID)
	return err
}

const deleteReceiptImagesBefore = `DELETE FROM receipt_images WHERE created_at < ?`

func (q *Queries) DeleteReceiptImagesBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteReceiptImagesBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const receiptImageStats = `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM receipt_images`

func (q *Queries) ReceiptImageStats(ctx context.Context) (count int64, bytes int64, err error) {
	err = q.db.QueryRowContext(ctx, receiptImageStats).Scan(&count, &bytes)
	return count, bytes, err
}
