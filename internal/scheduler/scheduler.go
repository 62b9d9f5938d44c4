// Package scheduler runs the autonomous finalization loop. Markets whose
// dispute window has closed are finalized without any operator action: the
// loop polls the market index, processes a bounded batch per cycle, and
// retries transient failures with exponential backoff before recording a
// permanent failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/notify"
)

// Finalizer is the slice of the engine the scheduler drives. Snapshot
// re-validates live state before each attempt; FinalizeMarket commits.
// ConfigAddress is read per finalize call, so an admin authority rotation
// mid-run never strands the loop on a stale canonical address.
type Finalizer interface {
	Snapshot(marketID uint64) (domain.Market, error)
	ConfigAddress() common.Address
	FinalizeMarket(cfgAddr, caller common.Address, marketID uint64) error
}

// lockName is the distributed lock key guarding a processing cycle, so only
// one scheduler instance works a batch at a time.
const lockName = "finalize-scheduler"

// Config controls the polling loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	ItemTimeout  time.Duration
	LockTTL      time.Duration
}

// withDefaults fills zero fields with production values.
func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.PollInterval - c.PollInterval/5
	}
	return c
}

// Scheduler finalizes resolving markets once their dispute window closes.
type Scheduler struct {
	eng      Finalizer
	operator common.Address

	markets  domain.MarketStore
	failures domain.FailureStore
	locks    domain.LockManager
	archiver domain.Archiver
	notifier *notify.Notifier

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLockManager enables the distributed cycle lock.
func WithLockManager(lm domain.LockManager) Option {
	return func(s *Scheduler) { s.locks = lm }
}

// WithArchiver enables cold-storage archival of finalized markets and
// failure reports.
func WithArchiver(a domain.Archiver) Option {
	return func(s *Scheduler) { s.archiver = a }
}

// WithNotifier enables operator alerts.
func WithNotifier(n *notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// New creates a Scheduler. The operator address is only used as the caller
// identity on finalize calls, which are permissionless.
func New(
	eng Finalizer,
	operator common.Address,
	markets domain.MarketStore,
	failures domain.FailureStore,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		eng:      eng,
		operator: operator,
		markets:  markets,
		failures: failures,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "scheduler")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls until the context is cancelled. The first cycle runs
// immediately; later cycles run on the poll interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("batch_size", s.cfg.BatchSize),
	)

	s.RunCycle(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one poll-and-process cycle: acquire the cycle lock,
// query the batch of due markets, and process each in window order.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, lockName, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "cycle lock held elsewhere, skipping")
				return
			}
			s.logger.ErrorContext(ctx, "cycle lock acquire failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	due, err := s.markets.ListResolvable(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "query due markets failed", slog.String("error", err.Error()))
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "processing due markets", slog.Int("count", len(due)))
	for _, m := range due {
		s.processMarket(ctx, m.ID)
		if ctx.Err() != nil {
			return
		}
	}
}

// processMarket finalizes one market with bounded retries. Transient errors
// back off exponentially; permanent errors stop immediately. Exhausted or
// permanently failed markets are recorded for operator review.
func (s *Scheduler) processMarket(ctx context.Context, marketID uint64) {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		// Re-validate against live engine state before mutating; the index
		// may lag behind a manual finalize or a fresh dispute.
		m, err := s.eng.Snapshot(marketID)
		if err != nil {
			s.logger.WarnContext(ctx, "market vanished from engine",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
			return
		}
		if m.State != domain.MarketStateResolving {
			s.logger.DebugContext(ctx, "market no longer resolving, skipping",
				slog.Uint64("market_id", marketID),
				slog.String("state", string(m.State)),
			)
			return
		}
		if s.now().Before(m.DisputeWindowEnd) {
			return
		}

		err = s.finalizeOnce(ctx, marketID)
		if err == nil {
			s.logger.InfoContext(ctx, "market finalized",
				slog.Uint64("market_id", marketID),
				slog.Int("attempt", attempt),
			)
			s.archiveSnapshot(ctx, marketID)
			return
		}
		lastErr = err

		if permanent(err) {
			s.recordFailure(ctx, marketID, attempt, err)
			return
		}

		s.logger.WarnContext(ctx, "finalize attempt failed",
			slog.Uint64("market_id", marketID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < s.cfg.MaxRetries {
			if !s.backoff(ctx, attempt) {
				return
			}
		}
	}

	s.recordFailure(ctx, marketID, s.cfg.MaxRetries, lastErr)
}

// finalizeOnce runs a single finalize call under the per-item timeout.
func (s *Scheduler) finalizeOnce(ctx context.Context, marketID uint64) error {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.eng.FinalizeMarket(s.eng.ConfigAddress(), s.operator, marketID)
	}()

	select {
	case <-itemCtx.Done():
		return fmt.Errorf("scheduler: finalize market %d: %w", marketID, itemCtx.Err())
	case err := <-done:
		return err
	}
}

// permanent reports whether retrying cannot help: the market moved on, the
// call is structurally invalid, or the pool fails its solvency check.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrDisputeWindowOpen) ||
		errors.Is(err, domain.ErrInvalidConfig) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrBoundedLossViolated)
}

// backoff sleeps for RetryBackoff doubled per attempt. Returns false when
// the context was cancelled during the sleep.
func (s *Scheduler) backoff(ctx context.Context, attempt int) bool {
	delay := s.cfg.RetryBackoff << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// recordFailure persists the failure, archives a report, and alerts the
// operators. Each step is best-effort so one sink failing never hides the
// failure from the others.
func (s *Scheduler) recordFailure(ctx context.Context, marketID uint64, attempts int, cause error) {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	failure := domain.FinalizationFailure{
		MarketID:  marketID,
		Attempts:  attempts,
		LastError: msg,
		FailedAt:  s.now(),
	}

	s.logger.ErrorContext(ctx, "finalization failed permanently",
		slog.Uint64("market_id", marketID),
		slog.Int("attempts", attempts),
		slog.String("error", msg),
	)

	if err := s.failures.Insert(ctx, failure); err != nil {
		s.logger.ErrorContext(ctx, "failure record insert failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveFailureReport(ctx, failure); err != nil {
			s.logger.WarnContext(ctx, "failure report archive failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		event := notify.EventFinalizationExhausted
		if errors.Is(cause, domain.ErrBoundedLossViolated) {
			event = notify.EventSolvencyViolation
		}
		title := fmt.Sprintf("Finalization failed: market %d", marketID)
		body := fmt.Sprintf("attempts=%d error=%s", attempts, msg)
		if err := s.notifier.Notify(ctx, event, title, body); err != nil {
			s.logger.WarnContext(ctx, "failure notification failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// archiveSnapshot uploads the terminal market state, best-effort.
func (s *Scheduler) archiveSnapshot(ctx context.Context, marketID uint64) {
	if s.archiver == nil {
		return
	}
	m, err := s.eng.Snapshot(marketID)
	if err != nil {
		return
	}
	if err := s.archiver.ArchiveSnapshot(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "snapshot archive failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
