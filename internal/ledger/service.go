package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"zerosum/internal/cache"
	"zerosum/internal/core"
	applog "zerosum/internal/log"
)

// Source supplies the current document set. Target is ignored.
type Source interface {
	LedgerInput() Input
}

// MonthView is the computed budget screen for one month.
type MonthView struct {
	Month       core.Month             `json:applog.FieldMonth`
	Categories  []core.DerivedCategory `json:"categories"`
	Totals      Totals                 `json:"totals"`
	Diagnostics []Diagnostic           `json:"diagnostics,omitempty"`
	Version     uint64                 `json:"version"`
}

// Service caches computed month views. Any upstream change must call
// Invalidate; cached views from older versions are never returned.
type Service struct {
	src    Source
	views  *cache.LRUCache[MonthView]
	logger *applog.Logger

	mu            sync.Mutex
	version       uint64
	prefetchDelay time.Duration
	prefetchTimer *time.Timer
}

// NewService builds a service over src using views as its bounded cache.
func NewService(src Source, views *cache.LRUCache[MonthView], prefetchDelay time.Duration) *Service {
	return &Service{src: src, views: views, prefetchDelay: prefetchDelay, logger: applog.Named(applog.ComponentLedger)}
}

// Invalidate marks every cached view stale.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
	s.views.Purge()
}

// Version is bumped by every Invalidate.
func (s *Service) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func viewKey(version uint64, month core.Month) string {
	return strconv.FormatUint(version, 10) + ":" + string(month)
}

// View returns the derived view of month, computing it if not cached.
func (s *Service) View(ctx context.Context, month core.Month) (MonthView, error) {
	if err := month.Validate(); err != nil {
		return MonthView{}, err
	}
	if err := ctx.Err(); err != nil {
		return MonthView{}, err
	}
	version := s.Version()
	key := viewKey(version, month)
	if v, ok := s.views.Get(key); ok {
		return v, nil
	}

	in := s.src.LedgerInput()
	in.Target = month
	res := Compute(in)
	v := MonthView{
		Month:       month,
		Categories:  res.View(month),
		Totals:      res.Totals(month),
		Diagnostics: res.Diagnostics,
		Version:     version,
	}
	for _, d := range res.Diagnostics {
		if d.Kind != DiagLegacyNameLink {
			s.logger.WarnContext(ctx, "Ledger diagnostic", applog.FieldMonth, month, "kind", d.Kind, "message", d.Message)
		}
	}
	if s.Version() == version {
		s.views.Set(key, v)
	}
	return v, nil
}

// PrefetchNow computes the months either side of month.
func (s *Service) PrefetchNow(ctx context.Context, month core.Month) {
	for _, m := range []core.Month{month.Prev(), month.Next()} {
		if _, err := s.View(ctx, m); err != nil {
			s.logger.DebugContext(ctx, "Prefetch skipped", applog.FieldMonth, m, "error", err)
		}
	}
}

// Prefetch schedules PrefetchNow after the idle delay, replacing any
// prefetch still waiting.
func (s *Service) Prefetch(month core.Month) {
	if month.Validate() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefetchTimer != nil {
		s.prefetchTimer.Stop()
	}
	s.prefetchTimer = time.AfterFunc(s.prefetchDelay, func() {
		s.PrefetchNow(context.Background(), month)
	})
}

// Close cancels a scheduled prefetch.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefetchTimer != nil {
		s.prefetchTimer.Stop()
		s.prefetchTimer = nil
	}
}

// Cached reports whether month is cached at the current version.
func (s *Service) Cached(month core.Month) bool {
	_, ok := s.views.Peek(viewKey(s.Version(), month))
	return ok
}
