// Package scanner implements the due-date reminder: a periodic read-only
// check that emits at most one notification per day for loans due today.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoollibrary/internal/clock"
	"schoollibrary/internal/models"
	"schoollibrary/internal/notify"
)

// DefaultInterval is the time between scans
const DefaultInterval = 60 * time.Second

// DueLister is the read access the scanner needs
type DueLister interface {
	ListDueOn(ctx context.Context, date time.Time) ([]models.DueEntry, error)
}

// Scanner checks for loans due today
type Scanner struct {
	loans    DueLister
	clock    clock.Clock
	sink     notify.Sink
	marker   Marker
	interval time.Duration
	logger   *zap.Logger

	// last is the in-process copy of the marker; it holds even if the
	// marker cannot be written. inflight is set while a scan delivers.
	mu       sync.Mutex
	last     time.Time
	inflight bool
}

// Option configures a Scanner
type Option func(*Scanner)

// WithMarker replaces the in-memory marker
func WithMarker(m Marker) Option {
	return func(s *Scanner) { s.marker = m }
}

// WithInterval sets the time between scans
func WithInterval(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a Scanner
func New(loans DueLister, clk clock.Clock, sink notify.Sink, opts ...Option) *Scanner {
	s := &Scanner{
		loans:    loans,
		clock:    clk,
		sink:     sink,
		marker:   NewMemoryMarker(),
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs one check and reports whether a notification was delivered.
// Failures are logged and retried on the next call. A call made while another
// scan is delivering returns false without waiting.
func (s *Scanner) Scan(ctx context.Context) bool {
	today := clock.Today(s.clock)

	s.mu.Lock()
	if s.inflight || (!s.last.IsZero() && clock.SameDay(s.last, today)) {
		s.mu.Unlock()
		return false
	}
	s.inflight = true
	s.mu.Unlock()

	delivered := s.deliver(ctx, today)

	s.mu.Lock()
	s.inflight = false
	if delivered {
		s.last = today
	}
	s.mu.Unlock()
	return delivered
}

// deliver runs outside s.mu; inflight keeps it single
func (s *Scanner) deliver(ctx context.Context, today time.Time) bool {
	entries, err := s.loans.ListDueOn(ctx, today)
	if err != nil {
		s.logger.Warn("Due-date scan failed", zap.Error(err))
		return false
	}
	if len(entries) == 0 {
		return false
	}

	if s.markedToday(ctx, today) {
		return false
	}

	n := models.Notification{
		ID:      uuid.New(),
		Date:    today,
		Entries: entries,
	}
	if err := s.sink.Notify(ctx, n); err != nil {
		s.logger.Warn("Failed to deliver due-date reminder", zap.Error(err), zap.Int("count", len(entries)))
		return false
	}

	if err := s.marker.MarkNotified(ctx, today); err != nil {
		s.logger.Warn("Failed to record reminder date", zap.Error(err))
	}

	s.logger.Info("Due-date reminder sent",
		zap.String("notification_id", n.ID.String()),
		zap.Time("date", today),
		zap.Int("count", len(entries)),
	)
	return true
}

func (s *Scanner) markedToday(ctx context.Context, today time.Time) bool {
	last, ok, err := s.marker.LastNotified(ctx)
	if err != nil {
		// An unreadable marker counts as notified; the next tick tries again
		s.logger.Warn("Failed to read reminder marker", zap.Error(err))
		return true
	}
	return ok && clock.SameDay(last, today)
}

// Run scans immediately and then on every interval until ctx is cancelled
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("Due-date scanner started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.safeScan(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Due-date scanner stopped")
			return nil
		case <-ticker.C:
			s.safeScan(ctx)
		}
	}
}

// safeScan keeps a panicking sink from stopping the loop
func (s *Scanner) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Due-date scan panicked", zap.Any("panic", r))
		}
	}()
	s.Scan(ctx)
}
