package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
	"github.com/quarterlab/updown-tracker/internal/notify"
	"github.com/quarterlab/updown-tracker/pkg/hashset"
)

const (
	// minSleep is the floor for the adaptive sleep between iterations.
	minSleep = 1 * time.Second

	// recoveryDelay is the fixed pause after a failed phase.
	recoveryDelay = 5 * time.Second

	// resolutionRetryBatch caps how many unresolved markets one retry pass
	// touches.
	resolutionRetryBatch = 50

	// finalBackupTimeout bounds the shutdown backup.
	finalBackupTimeout = 30 * time.Second
)

// Discoverer finds new markets. Satisfied by *Discovery.
type Discoverer interface {
	Hydrate(ctx context.Context) error
	Discover(ctx context.Context, now time.Time) ([]domain.Market, error)
}

// TradeFetcher captures an ended market's trades. Satisfied by *Fetcher.
type TradeFetcher interface {
	FetchMarketTrades(ctx context.Context, m domain.Market) (int64, error)
}

// PriceSubscriber is the subscription surface of the price stream.
type PriceSubscriber interface {
	Subscribe(tokenID, marketSlug, outcome string)
	Unsubscribe(tokenID string)
}

// SchedulerConfig holds the loop's timing parameters.
type SchedulerConfig struct {
	DiscoveryInterval time.Duration

	// ResolutionDelay defers fetching past a market's end time so trailing
	// fills can still be indexed upstream.
	ResolutionDelay time.Duration

	CleanupInterval time.Duration
	PriceRetention  time.Duration
	BackupInterval  time.Duration

	// MaxSleep is the ceiling for the adaptive sleep.
	MaxSleep time.Duration

	// ResolutionRetryMax bounds per-market resolution lookups after trades
	// were captured; past it the gap is reported and the market left alone.
	ResolutionRetryMax int
}

// Scheduler owns the run loop: it decides when discovery, fetching, the
// resolution retry pass, cleanup, and backups run, and how long to sleep in
// between. No phase failure terminates the loop.
type Scheduler struct {
	cfg       SchedulerConfig
	discovery Discoverer
	fetcher   TradeFetcher
	stream    PriceSubscriber
	resolver  resolutionLookup
	markets   domain.MarketStore
	prices    domain.PriceStore
	backupper domain.Backupper // optional
	notifier  eventNotifier    // optional
	logger    *slog.Logger

	now func() time.Time

	lastDiscovery time.Time
	lastCleanup   time.Time
	lastBackup    time.Time

	retryCounts map[string]int
	abandoned   hashset.Set[string]
}

// NewScheduler wires the loop. backupper and notifier may be nil.
func NewScheduler(
	cfg SchedulerConfig,
	discovery Discoverer,
	fetcher TradeFetcher,
	stream PriceSubscriber,
	resolver resolutionLookup,
	markets domain.MarketStore,
	prices domain.PriceStore,
	backupper domain.Backupper,
	notifier eventNotifier,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		discovery:   discovery,
		fetcher:     fetcher,
		stream:      stream,
		resolver:    resolver,
		markets:     markets,
		prices:      prices,
		backupper:   backupper,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "scheduler")),
		now:         time.Now,
		retryCounts: make(map[string]int),
		abandoned:   hashset.New[string](),
	}
}

// Run drives the loop until ctx is cancelled, then takes a final backup.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.discovery.Hydrate(ctx); err != nil {
		return err
	}
	s.resubscribeActive(ctx)

	for {
		failed := s.runOnce(ctx)
		if ctx.Err() != nil {
			break
		}

		sleep := recoveryDelay
		if !failed {
			sleep = s.adaptiveSleep(ctx, s.now())
		}

		select {
		case <-ctx.Done():
		case <-time.After(sleep):
			continue
		}
		break
	}

	s.finalBackup()
	return ctx.Err()
}

// runOnce executes the phases of one iteration in order and reports whether
// any of them failed.
func (s *Scheduler) runOnce(ctx context.Context) (failed bool) {
	phases := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"discovery", s.phaseDiscovery},
		{"fetch", s.phaseFetch},
		{"resolution_retry", s.phaseResolutionRetry},
		{"cleanup", s.phaseCleanup},
		{"backup", s.phaseBackup},
	}

	for _, p := range phases {
		if ctx.Err() != nil {
			return failed
		}
		if err := s.runPhase(ctx, p.name, p.fn); err != nil {
			failed = true
		}
	}
	return failed
}

// runPhase shields the loop from a phase's error or panic.
func (s *Scheduler) runPhase(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker: phase %s panicked: %v", name, r)
		}
		if err != nil && ctx.Err() == nil {
			s.logger.Error("phase failed",
				slog.String("phase", name),
				slog.String("error", err.Error()),
			)
			if s.notifier != nil {
				_ = s.notifier.Notify(ctx, notify.EventPhaseError,
					"Scheduler phase failed: "+name, err.Error())
			}
		}
	}()
	return fn(ctx)
}

// phaseDiscovery runs Discovery on its interval and subscribes every newly
// found still-active market's tokens.
func (s *Scheduler) phaseDiscovery(ctx context.Context) error {
	now := s.now()
	if now.Sub(s.lastDiscovery) < s.cfg.DiscoveryInterval {
		return nil
	}
	s.lastDiscovery = now

	markets, err := s.discovery.Discover(ctx, now)
	if err != nil {
		return err
	}

	for _, m := range markets {
		if !m.Active(now) {
			continue
		}
		s.subscribeMarket(m)
	}
	return nil
}

// phaseFetch runs on every iteration: markets past end_time + ResolutionDelay
// get their trades captured and their tokens unsubscribed. A market is
// eligible exactly at its ready instant, not before.
func (s *Scheduler) phaseFetch(ctx context.Context) error {
	now := s.now()
	pending, err := s.markets.ListToFetch(ctx, now)
	if err != nil {
		return err
	}

	var firstErr error
	for _, m := range pending {
		if now.Before(m.ReadyAt(s.cfg.ResolutionDelay)) {
			continue
		}
		if _, err := s.fetcher.FetchMarketTrades(ctx, m); err != nil {
			s.logger.Error("fetch failed",
				slog.String("market", m.Slug),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.unsubscribeMarket(m)
	}
	return firstErr
}

// phaseResolutionRetry re-checks markets whose trades were captured while the
// upstream resolution was still pending. Trade capture and resolution
// recording are deliberately independent: a failed resolution lookup never
// blocks or re-triggers the fetch. After ResolutionRetryMax misses the gap is
// reported once and the market dropped from the rotation.
func (s *Scheduler) phaseResolutionRetry(ctx context.Context) error {
	missing, err := s.markets.ListMissingResolution(ctx, resolutionRetryBatch)
	if err != nil {
		return err
	}

	for _, m := range missing {
		if s.abandoned.Has(m.Slug) {
			continue
		}

		w, err := s.resolver.GetWinningOutcome(ctx, m.Slug)
		if err != nil {
			if !errors.Is(err, domain.ErrUnresolved) {
				s.logger.Warn("resolution retry failed",
					slog.String("market", m.Slug),
					slog.String("error", err.Error()),
				)
			}
			s.retryCounts[m.Slug]++
			if s.cfg.ResolutionRetryMax > 0 && s.retryCounts[m.Slug] >= s.cfg.ResolutionRetryMax {
				s.abandoned.Add(m.Slug)
				delete(s.retryCounts, m.Slug)
				s.logger.Error("resolution retry budget exhausted", slog.String("market", m.Slug))
				if s.notifier != nil {
					_ = s.notifier.Notify(ctx, notify.EventResolutionGap,
						"Market resolution unavailable",
						fmt.Sprintf("trades captured for %s but no winning outcome after %d retries",
							m.Slug, s.cfg.ResolutionRetryMax))
				}
			}
			continue
		}

		if err := s.markets.RecordResolution(ctx, m.Slug, w); err != nil {
			return err
		}
		delete(s.retryCounts, m.Slug)
		s.logger.Info("resolution recorded",
			slog.String("market", m.Slug),
			slog.String("winning_outcome", w),
		)
	}
	return nil
}

// phaseCleanup deletes price snapshots past the retention window on its
// interval.
func (s *Scheduler) phaseCleanup(ctx context.Context) error {
	now := s.now()
	if now.Sub(s.lastCleanup) < s.cfg.CleanupInterval {
		return nil
	}
	s.lastCleanup = now

	deleted, err := s.prices.DeleteBefore(ctx, now.Add(-s.cfg.PriceRetention))
	if err != nil {
		return err
	}
	s.logger.Info("price snapshots cleaned up", slog.Int64("deleted", deleted))
	return nil
}

// phaseBackup triggers a store dump on its interval.
func (s *Scheduler) phaseBackup(ctx context.Context) error {
	if s.backupper == nil {
		return nil
	}
	now := s.now()
	if now.Sub(s.lastBackup) < s.cfg.BackupInterval {
		return nil
	}
	s.lastBackup = now
	return s.backupper.Backup(ctx)
}

// adaptiveSleep returns how long the loop should sleep: the time until the
// soonest pending market becomes fetchable, clamped to [minSleep, MaxSleep].
// The store is asked for markets ending within the ceiling so an imminent
// ready instant wakes the loop promptly.
func (s *Scheduler) adaptiveSleep(ctx context.Context, now time.Time) time.Duration {
	sleep := s.cfg.MaxSleep

	pending, err := s.markets.ListToFetch(ctx, now.Add(s.cfg.MaxSleep))
	if err != nil {
		s.logger.Warn("adaptive sleep query failed", slog.String("error", err.Error()))
		return sleep
	}

	for _, m := range pending {
		if until := m.ReadyAt(s.cfg.ResolutionDelay).Sub(now); until < sleep {
			sleep = until
		}
	}

	if sleep < minSleep {
		sleep = minSleep
	}
	return sleep
}

// resubscribeActive restores price subscriptions for markets that were still
// trading when the process last stopped.
func (s *Scheduler) resubscribeActive(ctx context.Context) {
	now := s.now()
	active, err := s.markets.ListActive(ctx, now)
	if err != nil {
		s.logger.Warn("resubscribe active markets failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range active {
		s.subscribeMarket(m)
	}
	if len(active) > 0 {
		s.logger.Info("active markets resubscribed", slog.Int("count", len(active)))
	}
}

func (s *Scheduler) subscribeMarket(m domain.Market) {
	for i, tokenID := range m.TokenIDs {
		if tokenID == "" {
			continue
		}
		s.stream.Subscribe(tokenID, m.Slug, m.Outcomes[i])
	}
}

func (s *Scheduler) unsubscribeMarket(m domain.Market) {
	for _, tokenID := range m.TokenIDs {
		if tokenID == "" {
			continue
		}
		s.stream.Unsubscribe(tokenID)
	}
}

// finalBackup runs one last dump during shutdown on a fresh context.
func (s *Scheduler) finalBackup() {
	if s.backupper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalBackupTimeout)
	defer cancel()

	if err := s.backupper.Backup(ctx); err != nil {
		s.logger.Error("final backup failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("final backup complete")
}
