package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zerosum/internal/amqp"
	"zerosum/internal/mutation"
)

// ScanTrigger is the part of the scan processor driven by messages.
type ScanTrigger interface {
	Trigger()
	SetOnline(online bool)
}

// ImageJanitor drops cached receipt images past their retention.
type ImageJanitor interface {
	CleanupImages(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ScanWorker handles scan and connectivity messages from AMQP.
type ScanWorker struct {
	fw          *mutation.Framework
	scans       ScanTrigger
	images      ImageJanitor
	maxRetries  int
	imageMaxAge time.Duration
}

func NewScanWorker(fw *mutation.Framework, scans ScanTrigger, images ImageJanitor, maxRetries int, imageMaxAge time.Duration) *ScanWorker {
	return &ScanWorker{
		fw:          fw,
		scans:       scans,
		images:      images,
		maxRetries:  maxRetries,
		imageMaxAge: imageMaxAge,
	}
}

// Handler wires the worker into an AMQP consumer.
func (w *ScanWorker) Handler() amqp.Handler {
	return amqp.Handler{
		ScanRequested: w.HandleScanRequested,
		Connectivity:  w.HandleConnectivity,
	}
}

// HandleScanRequested wakes the scan processor for a newly stored receipt.
func (w *ScanWorker) HandleScanRequested(ctx context.Context, msg *amqp.ScanRequestedMessage) error {
	slog.InfoContext(ctx, "Processing scan request",
		"transaction_id", msg.TransactionID,
		"timestamp", msg.Timestamp)

	tx, ok := w.fw.View().Transaction(msg.TransactionID)
	if !ok {
		// The snapshot may not have arrived yet; the next sweep picks it up.
		slog.DebugContext(ctx, "Scan requested for transaction not yet in view",
			"transaction_id", msg.TransactionID)
	} else if !tx.AwaitingScan(w.maxRetries) {
		slog.InfoContext(ctx, "Transaction does not need scanning",
			"transaction_id", msg.TransactionID,
			"scan_status", tx.ScanStatus,
			"retry_count", tx.ScanRetryCount)
		return nil
	}

	w.scans.Trigger()
	return nil
}

// HandleConnectivity forwards a connectivity change and, when back online,
// retries queued mutations.
func (w *ScanWorker) HandleConnectivity(ctx context.Context, msg *amqp.ConnectivityMessage) error {
	slog.InfoContext(ctx, "Processing connectivity message",
		"online", msg.Online,
		"timestamp", msg.Timestamp)

	w.scans.SetOnline(msg.Online)
	if !msg.Online {
		return nil
	}

	if _, err := w.fw.RetryAll(ctx); err != nil {
		return fmt.Errorf("retry queued mutations: %w", err)
	}
	return nil
}

// StartupCheck retries whatever was queued while the worker was down and
// kicks off a first sweep for receipts left awaiting a scan.
func (w *ScanWorker) StartupCheck(ctx context.Context) error {
	awaiting := 0
	for _, tx := range w.fw.View().Transactions() {
		if tx.AwaitingScan(w.maxRetries) {
			awaiting++
		}
	}

	report, err := w.fw.RetryAll(ctx)
	if err != nil {
		return fmt.Errorf("retry queued mutations on startup: %w", err)
	}

	slog.InfoContext(ctx, "Startup check completed",
		"awaiting_scan", awaiting,
		"retried", report.Attempted,
		"succeeded", report.Succeeded,
		"errors", report.Failed)

	if awaiting > 0 {
		w.scans.Trigger()
	}
	return nil
}

// CleanupImages drops receipt images older than the retention window.
func (w *ScanWorker) CleanupImages(ctx context.Context) error {
	if w.images == nil || w.imageMaxAge <= 0 {
		return nil
	}
	n, err := w.images.CleanupImages(ctx, w.imageMaxAge)
	if err != nil {
		return fmt.Errorf("cleanup receipt images: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Removed expired receipt images",
			"count", n,
			"max_age", w.imageMaxAge)
	}
	return nil
}
