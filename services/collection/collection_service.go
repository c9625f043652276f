package collection

import (
	"context"
	"sync"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/custody"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/shopspring/decimal"
)

// CollectionStore is the slice of the database layer the collector needs.
type CollectionStore interface {
	GetWalletConfig(ctx context.Context) (store.WalletConfig, error)
	UpdateWalletConfig(ctx context.Context, arg store.UpdateWalletConfigParams) (store.WalletConfig, error)
	UpsertCollectionStat(ctx context.Context, date time.Time, count int32) error
	ListCollectionStats(ctx context.Context, since time.Time) ([]store.CollectionStat, error)
	ListCollectionTransactions(ctx context.Context, limit, offset int32) ([]store.CollectionTransaction, error)
}

// Sweeper moves deposit balances to the treasury.
type Sweeper interface {
	SweepEligible(ctx context.Context, threshold decimal.Decimal) ([]custody.SweepResult, error)
	Stats(ctx context.Context) (custody.WalletStats, error)
}

// Service schedules fund collection. The enabled flag, threshold and interval
// live in the database and are re-read every tick, so operator changes take
// effect without a restart.
type Service struct {
	store   CollectionStore
	sweeper Sweeper
	logger  *logging.Logger

	mu      sync.Mutex
	lastRun time.Time
}

func NewCollectionService(st CollectionStore, sweeper Sweeper, logger *logging.Logger) *Service {
	return &Service{
		store:   st,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Tick is invoked by the scheduler every minute. It runs a collection cycle
// only when automatic collection is enabled and the configured interval has
// elapsed since the previous cycle.
func (s *Service) Tick(ctx context.Context) {
	config, err := s.store.GetWalletConfig(ctx)
	if err != nil {
		s.logger.WithError(err).Error("cannot load wallet config")
		return
	}
	if !config.AutoCollectionEnabled {
		return
	}

	s.mu.Lock()
	elapsed := time.Since(s.lastRun)
	s.mu.Unlock()
	if elapsed < time.Duration(config.CollectionIntervalMinutes)*time.Minute {
		return
	}

	if _, err := s.runCycle(ctx, config.CollectionThreshold); err != nil {
		s.logger.WithError(err).Error("collection cycle failed")
	}
}

// ManualCollection runs a cycle immediately, bypassing the enabled flag and
// the interval gate.
func (s *Service) ManualCollection(ctx context.Context) ([]custody.SweepResult, error) {
	config, err := s.store.GetWalletConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s.runCycle(ctx, config.CollectionThreshold)
}

func (s *Service) runCycle(ctx context.Context, threshold decimal.Decimal) ([]custody.SweepResult, error) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	results, err := s.sweeper.SweepEligible(ctx, threshold)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if err := s.store.UpsertCollectionStat(ctx, today, int32(len(results))); err != nil {
			s.logger.WithError(err).Error("cannot record collection stats")
		}
	}
	s.logger.WithField("swept", len(results)).Info("collection cycle finished")
	return results, nil
}

func (s *Service) Config(ctx context.Context) (store.WalletConfig, error) {
	return s.store.GetWalletConfig(ctx)
}

func (s *Service) UpdateConfig(ctx context.Context, arg store.UpdateWalletConfigParams) (store.WalletConfig, error) {
	if arg.CollectionThreshold.IsNegative() || arg.CollectionThreshold.IsZero() {
		return store.WalletConfig{}, ErrInvalidThreshold
	}
	if arg.CollectionIntervalMinutes < 1 {
		return store.WalletConfig{}, ErrInvalidInterval
	}
	return s.store.UpdateWalletConfig(ctx, arg)
}

func (s *Service) Stats(ctx context.Context, days int) ([]store.CollectionStat, error) {
	if days < 1 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.store.ListCollectionStats(ctx, since)
}

func (s *Service) Transactions(ctx context.Context, limit, offset int32) ([]store.CollectionTransaction, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.ListCollectionTransactions(ctx, limit, offset)
}

func (s *Service) WalletStats(ctx context.Context) (custody.WalletStats, error) {
	return s.sweeper.Stats(ctx)
}
