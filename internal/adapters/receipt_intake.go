// Package adapters joins the receipt image cache, the mutation framework and
// the event publisher behind the receipt upload endpoint.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"zerosum/internal/core"
	"zerosum/internal/mutation"
)

// MaxImageBytes bounds an uploaded receipt image.
const MaxImageBytes = 10 << 20

var (
	ErrEmptyImage    = errors.New("receipt image is empty")
	ErrImageTooLarge = errors.New("receipt image is too large")
	ErrNotAnImage    = errors.New("receipt upload is not an image")
)

// ImageWriter stores receipt images by transaction id.
type ImageWriter interface {
	Put(ctx context.Context, transactionID, contentType string, data []byte) error
	Delete(ctx context.Context, transactionID string) error
}

// ScanPublisher announces a receipt waiting for a scan.
type ScanPublisher interface {
	PublishScanRequested(ctx context.Context, transactionID string) error
}

// Receipt is one uploaded receipt image.
type Receipt struct {
	AccountID   string
	Date        string
	ContentType string
	Image       []byte
}

// ReceiptIntake records an uploaded receipt as a placeholder transaction
// awaiting a scan.
type ReceiptIntake struct {
	images    ImageWriter
	fw        *mutation.Framework
	publisher ScanPublisher
	now       func() time.Time
}

// NewReceiptIntake creates the adapter. publisher may be nil, in which case
// the worker's scheduled sweep picks the receipt up.
func NewReceiptIntake(images ImageWriter, fw *mutation.Framework, publisher ScanPublisher) *ReceiptIntake {
	return &ReceiptIntake{
		images:    images,
		fw:        fw,
		publisher: publisher,
		now:       time.Now,
	}
}

// Submit caches the image, adds the pending transaction and publishes a scan
// request. A queued commit keeps the image so the retried transaction still
// finds it; the error is returned alongside the transaction.
func (ri *ReceiptIntake) Submit(ctx context.Context, r Receipt) (core.Transaction, error) {
	contentType, err := checkImage(r)
	if err != nil {
		return core.Transaction{}, err
	}
	if r.Date == "" {
		r.Date = ri.now().Format(core.DateLayout)
	}

	id := uuid.NewString()
	if err := ri.images.Put(ctx, id, contentType, r.Image); err != nil {
		return core.Transaction{}, fmt.Errorf("cache receipt image: %w", err)
	}

	tx, err := ri.fw.AddTransaction(ctx, core.Transaction{
		ID:         id,
		Date:       r.Date,
		AccountID:  r.AccountID,
		Status:     core.StatusUncleared,
		ScanStatus: core.ScanPending,
	})
	if err != nil {
		if mutation.IsQueued(err) {
			slog.WarnContext(ctx, "Receipt transaction queued for retry",
				"transaction_id", id, "error", err)
			return tx, err
		}
		if delErr := ri.images.Delete(ctx, id); delErr != nil {
			slog.ErrorContext(ctx, "Failed to drop image of rejected receipt",
				"transaction_id", id, "error", delErr)
		}
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Receipt accepted",
		"transaction_id", id,
		"account_id", r.AccountID,
		"size_bytes", len(r.Image))

	if err := ri.publish(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish scan request",
			"transaction_id", id, "error", err)
		// The scheduled sweep still finds the transaction.
	}
	return tx, nil
}

func (ri *ReceiptIntake) publish(ctx context.Context, id string) error {
	if ri.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping scan request")
		return nil
	}
	return ri.publisher.PublishScanRequested(ctx, id)
}

func checkImage(r Receipt) (string, error) {
	if len(r.Image) == 0 {
		return "", ErrEmptyImage
	}
	if len(r.Image) > MaxImageBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(r.Image))
	}
	// The scanner reads raster images only, so PDFs are refused whatever
	// the client declared.
	sniffed := http.DetectContentType(r.Image)
	if sniffed == "application/pdf" {
		return "", fmt.Errorf("%w: %s", ErrNotAnImage, sniffed)
	}
	contentType := r.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = sniffed
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %s", ErrNotAnImage, contentType)
	}
	return contentType, nil
}
