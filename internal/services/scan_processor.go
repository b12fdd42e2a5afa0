// Package services runs the background receipt scan queue.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"zerosum/internal/core"
	applog "zerosum/internal/log"
	"zerosum/internal/mutation"
	"zerosum/internal/ocr"
)

// ErrSweepInProgress is returned when a sweep is requested while another runs.
var ErrSweepInProgress = errors.New("scan sweep already in progress")

// ImageCache holds receipt images keyed by transaction id.
type ImageCache interface {
	Get(ctx context.Context, transactionID string) ([]byte, error)
	Delete(ctx context.Context, transactionID string) error
}

// ScanProcessorConfig holds configuration for the scan processor
type ScanProcessorConfig struct {
	// PollInterval is how often to sweep without an external trigger (0 disables polling)
	PollInterval time.Duration

	// ScanTimeout bounds a single OCR call (default: 25s)
	ScanTimeout time.Duration

	// MaxRetries is how many failed scans a transaction gets before it is left alone (default: 3)
	MaxRetries int
}

// DefaultScanProcessorConfig returns sensible defaults
func DefaultScanProcessorConfig() ScanProcessorConfig {
	return ScanProcessorConfig{
		PollInterval: 0,
		ScanTimeout:  25 * time.Second,
		MaxRetries:   3,
	}
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Selected  int
	Completed int
	Failed    int
	Queued    int
	Skipped   int
	Offline   bool
	Duration  time.Duration
}

// ScanProcessor drives pending receipt scans through OCR and writes the
// results back through the mutation framework.
type ScanProcessor struct {
	fw      *mutation.Framework
	images  ImageCache
	scanner ocr.Scanner
	config  ScanProcessorConfig
	logger  *applog.Logger

	online   atomic.Bool
	sweeping atomic.Bool
	trigger  chan struct{}

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScanProcessor creates a new scan processor. It starts online.
func NewScanProcessor(fw *mutation.Framework, images ImageCache, scanner ocr.Scanner, config ScanProcessorConfig) *ScanProcessor {
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 25 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	p := &ScanProcessor{
		fw:      fw,
		images:  images,
		scanner: scanner,
		config:  config,
		trigger: make(chan struct{}, 1),
		logger:  applog.Named(applog.ComponentScan),
	}
	p.online.Store(true)
	return p
}

// Start begins the processing loop. Returns an error if already running.
func (p *ScanProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("scan processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Scans interrupted by a crash would otherwise never be selected again
	if n := p.ResetStale(ctx); n > 0 {
		p.logger.WarnContext(ctx, "Reset interrupted scans", "count", n)
	}

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Scan processor started",
		"poll_interval", p.config.PollInterval,
		"scan_timeout", p.config.ScanTimeout,
		"max_retries", p.config.MaxRetries)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *ScanProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Scan processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Scan processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *ScanProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ResetStale returns transactions left in scanning back to pending.
func (p *ScanProcessor) ResetStale(ctx context.Context) int {
	n := 0
	for _, tx := range p.fw.View().Transactions() {
		if tx.ScanStatus != core.ScanScanning {
			continue
		}
		if _, err := p.fw.UpdateTransaction(ctx, tx.ID, core.TransactionPatch{
			ScanStatus: core.Ptr(core.ScanPending),
		}); err != nil {
			p.logger.WarnContext(ctx, "Failed to reset stale scan",
				applog.FieldTransactionID, tx.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// Trigger asks the loop for a sweep. It never blocks; triggers arriving
// while one is already queued collapse into it.
func (p *ScanProcessor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetOnline records connectivity. Coming back online triggers a sweep.
func (p *ScanProcessor) SetOnline(online bool) {
	was := p.online.Swap(online)
	if online && !was {
		p.Trigger()
	}
}

// Online reports the last recorded connectivity.
func (p *ScanProcessor) Online() bool {
	return p.online.Load()
}

func (p *ScanProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	var tick <-chan time.Time
	if p.config.PollInterval > 0 {
		ticker := time.NewTicker(p.config.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.sweepLogged(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-tick:
			p.sweepLogged(ctx)
		case <-p.trigger:
			p.sweepLogged(ctx)
		}
	}
}

func (p *ScanProcessor) sweepLogged(ctx context.Context) {
	stats, err := p.Sweep(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		p.logger.DebugContext(ctx, "Scan sweep skipped, another is running")
	case err != nil:
		p.logger.ErrorContext(ctx, "Scan sweep failed", "error", err)
	case stats.Selected > 0:
		p.logger.InfoContext(ctx, "Scan sweep finished",
			"selected", stats.Selected,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"queued", stats.Queued,
			"skipped", stats.Skipped,
			"duration", stats.Duration)
	}
}

// Sweep scans every transaction awaiting a scan. Offline sweeps do nothing.
func (p *ScanProcessor) Sweep(ctx context.Context) (SweepStats, error) {
	if !p.online.Load() {
		return SweepStats{Offline: true}, nil
	}
	if !p.sweeping.CompareAndSwap(false, true) {
		return SweepStats{}, ErrSweepInProgress
	}
	defer p.sweeping.Store(false)

	start := time.Now()
	var stats SweepStats
	for _, tx := range p.fw.View().Transactions() {
		if !tx.AwaitingScan(p.config.MaxRetries) {
			continue
		}
		stats.Selected++

		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		if p.stopping() {
			stats.Skipped++
			continue
		}

		switch p.process(ctx, tx) {
		case outcomeCompleted:
			stats.Completed++
		case outcomeFailed:
			stats.Failed++
		case outcomeQueued:
			stats.Queued++
		default:
			stats.Skipped++
		}
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

func (p *ScanProcessor) stopping() bool {
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeQueued
)

// process runs one transaction through OCR and reports how its scan ended.
func (p *ScanProcessor) process(ctx context.Context, tx core.Transaction) outcome {
	if _, err := p.fw.UpdateTransaction(ctx, tx.ID, core.TransactionPatch{
		ScanStatus: core.Ptr(core.ScanScanning),
	}); err != nil {
		p.logger.WarnContext(ctx, "Failed to mark transaction as scanning",
			applog.FieldTransactionID, tx.ID, "error", err)
		p.dropMark(ctx, err)
		return outcomeSkipped
	}

	rec, err := p.scan(ctx, tx.ID)
	if err != nil {
		p.handleFailure(ctx, tx, err)
		return outcomeFailed
	}
	return p.handleSuccess(ctx, tx, rec)
}

// dropMark abandons a queued scanning mark. Replaying it later would leave
// the transaction in scanning with no sweep working on it.
func (p *ScanProcessor) dropMark(ctx context.Context, err error) {
	var ce *mutation.CommitError
	if !errors.As(err, &ce) {
		return
	}
	if aerr := p.fw.Abandon(ctx, ce.MutationID); aerr != nil {
		p.logger.WarnContext(ctx, "Failed to abandon scanning mark",
			applog.FieldMutationID, ce.MutationID, "error", aerr)
	}
}

func (p *ScanProcessor) scan(ctx context.Context, id string) (ocr.Receipt, error) {
	image, err := p.images.Get(ctx, id)
	if err != nil {
		return ocr.Receipt{}, ocr.NewError(ocr.CodeImageNotFound, fmt.Errorf("receipt image for %s: %w", id, err))
	}
	if len(image) == 0 {
		return ocr.Receipt{}, ocr.NewError(ocr.CodeImageNotFound, fmt.Errorf("receipt image for %s is empty", id))
	}

	scanCtx, cancel := context.WithTimeout(ctx, p.config.ScanTimeout)
	defer cancel()

	type result struct {
		rec ocr.Receipt
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := p.scanner.Scan(scanCtx, image, p.candidates())
		done <- result{rec, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			return ocr.Receipt{}, p.timeoutError()
		}
		if r.err != nil {
			var se *ocr.ServiceError
			if errors.As(r.err, &se) {
				return ocr.Receipt{}, se
			}
			return ocr.Receipt{}, ocr.NewError(ocr.CodeServerError, r.err)
		}
		return r.rec, nil
	case <-scanCtx.Done():
		if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			return ocr.Receipt{}, p.timeoutError()
		}
		return ocr.Receipt{}, ocr.NewError(ocr.CodeServerError, scanCtx.Err())
	}
}

func (p *ScanProcessor) timeoutError() error {
	return ocr.NewError(ocr.CodeTimeout, fmt.Errorf("scan timed out after %s", p.config.ScanTimeout))
}

func (p *ScanProcessor) candidates() []string {
	var names []string
	for _, c := range p.fw.View().Categories() {
		if c.IsSpending() {
			names = append(names, c.Name)
		}
	}
	return ocr.Candidates(names)
}

// categoryFor maps an OCR category name back to the id of the spending
// category whose sanitised candidate it matches.
func (p *ScanProcessor) categoryFor(name string) string {
	match := ocr.MatchCategory(name, p.candidates())
	if match == "" {
		return ""
	}
	for _, c := range p.fw.View().Categories() {
		if !c.IsSpending() {
			continue
		}
		if cand := ocr.Candidates([]string{c.Name}); len(cand) == 1 && cand[0] == match {
			return c.ID
		}
	}
	return ""
}

func (p *ScanProcessor) handleSuccess(ctx context.Context, tx core.Transaction, rec ocr.Receipt) outcome {
	patch := core.TransactionPatch{
		ScanStatus:     core.Ptr(core.ScanCompleted),
		ScanRetryCount: core.Ptr(0),
		ScanLastError:  core.Ptr(""),
	}
	if rec.Payee != "" {
		patch.Payee = core.Ptr(rec.Payee)
	}
	if rec.Date != "" && core.ValidateDate(rec.Date) == nil {
		patch.Date = core.Ptr(rec.Date)
	}
	if rec.Amount != 0 {
		patch.Amount = core.Ptr(-core.Abs(rec.Amount))
	}
	if id := p.categoryFor(rec.Category); id != "" {
		patch.CategoryID = core.Ptr(id)
	}

	// A queued result is durable: the pending log replays it, so the image
	// is no longer needed either way.
	result := outcomeCompleted
	if _, err := p.fw.UpdateTransaction(ctx, tx.ID, patch); err != nil {
		if !mutation.IsQueued(err) {
			p.logger.ErrorContext(ctx, "Failed to store scan result",
				applog.FieldTransactionID, tx.ID, "error", err)
			return outcomeSkipped
		}
		p.logger.WarnContext(ctx, "Scan result queued for retry",
			applog.FieldTransactionID, tx.ID, "error", err)
		result = outcomeQueued
	}
	if err := p.images.Delete(ctx, tx.ID); err != nil {
		p.logger.WarnContext(ctx, "Failed to delete cached receipt image",
			applog.FieldTransactionID, tx.ID, "error", err)
	}

	p.logger.InfoContext(ctx, "Receipt scanned",
		applog.FieldTransactionID, tx.ID,
		"payee", rec.Payee,
		"amount_cents", rec.Amount)
	return result
}

func (p *ScanProcessor) handleFailure(ctx context.Context, tx core.Transaction, scanErr error) {
	attempt := tx.ScanRetryCount + 1
	msg := ocr.Describe(scanErr)

	p.logger.WarnContext(ctx, "Receipt scan failed",
		applog.FieldTransactionID, tx.ID,
		"attempt", attempt,
		"error", msg)

	if _, err := p.fw.UpdateTransaction(ctx, tx.ID, core.TransactionPatch{
		ScanStatus:     core.Ptr(core.ScanFailed),
		ScanRetryCount: core.Ptr(attempt),
		ScanLastError:  core.Ptr(msg),
	}); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record scan failure",
			applog.FieldTransactionID, tx.ID, "error", err)
	}

	if attempt >= p.config.MaxRetries {
		p.logger.ErrorContext(ctx, "Receipt scan failed permanently after max retries",
			applog.FieldTransactionID, tx.ID,
			"attempts", attempt)
	}
}
