package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"basketfund/internal/model"
	"basketfund/internal/registry"
	"basketfund/internal/storage/postgres"
)

// Scheduler drives periodic fund maintenance: management-fee accrual,
// rebalance checks, and valuation snapshots. The store is optional.
type Scheduler struct {
	cron     *cron.Cron
	registry *registry.Registry
	store    *postgres.Store
	logger   *zap.Logger
	ctx      context.Context
}

func New(ctx context.Context, reg *registry.Registry, store *postgres.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		registry: reg,
		store:    store,
		logger:   logger,
		ctx:      ctx,
	}
}

// RegisterAll registers the fee-collection and rebalance-check tasks.
func (s *Scheduler) RegisterAll(feeCron, rebalanceCron string) error {
	if _, err := s.cron.AddFunc(feeCron, s.collectFees); err != nil {
		return fmt.Errorf("register fee task: %w", err)
	}
	if _, err := s.cron.AddFunc(rebalanceCron, s.checkRebalances); err != nil {
		return fmt.Errorf("register rebalance task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	if s.store != nil {
		for _, f := range s.registry.List() {
			ts, ok, err := s.store.LastSnapshotTime(s.ctx, f.ID())
			if err != nil {
				s.logger.Warn("read last snapshot", zap.String("fund_id", f.ID()), zap.Error(err))
				continue
			}
			if ok {
				s.logger.Info("resuming snapshots", zap.String("fund_id", f.ID()), zap.Time("last_snapshot", ts))
			}
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) collectFees() {
	for _, f := range s.registry.List() {
		accrual, err := f.CollectManagementFee(s.ctx)
		if err != nil {
			if errors.Is(err, model.ErrNothingToCollect) {
				continue
			}
			s.logger.Error("fee collection failed", zap.String("fund_id", f.ID()), zap.Error(err))
			continue
		}
		s.logger.Info("fee collected",
			zap.String("fund_id", f.ID()),
			zap.String("shares_minted", accrual.SharesMinted.String()),
		)
		s.snapshot(f.ID())
	}
}

func (s *Scheduler) checkRebalances() {
	for _, f := range s.registry.List() {
		needed, deviation, err := f.IsRebalanceNeeded(s.ctx)
		if err != nil {
			s.logger.Error("deviation check failed", zap.String("fund_id", f.ID()), zap.Error(err))
			continue
		}
		if !needed {
			continue
		}

		// The scheduler acts with the fund's agent capability.
		report, err := f.TriggerRebalance(s.ctx, f.Agent())
		if err != nil {
			s.logger.Warn("scheduled rebalance failed",
				zap.String("fund_id", f.ID()),
				zap.Uint64("deviation_bps", deviation),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("scheduled rebalance",
			zap.String("fund_id", f.ID()),
			zap.Int("trades", len(report.Trades)),
			zap.Uint64("deviation_before_bps", report.MaxDeviationBefore),
			zap.Uint64("deviation_after_bps", report.MaxDeviationAfter),
		)
		if s.store != nil && report.Executed() {
			if err := s.store.InsertRebalanceReports(s.ctx, []model.RebalanceReport{*report}); err != nil {
				s.logger.Error("persist rebalance report", zap.String("fund_id", f.ID()), zap.Error(err))
			}
		}
		s.snapshot(f.ID())
	}
}

func (s *Scheduler) snapshot(fundID string) {
	if s.store == nil {
		return
	}
	f, err := s.registry.Get(fundID)
	if err != nil {
		return
	}
	total, err := f.TotalNAV(s.ctx)
	if err != nil {
		s.logger.Warn("snapshot valuation failed", zap.String("fund_id", fundID), zap.Error(err))
		return
	}
	price, err := f.SharePrice(s.ctx)
	if err != nil {
		s.logger.Warn("snapshot share price failed", zap.String("fund_id", fundID), zap.Error(err))
		return
	}
	snap := postgres.FundSnapshot{
		FundID:      fundID,
		Timestamp:   time.Now().UTC().Truncate(time.Second),
		NAV:         total.String(),
		TotalSupply: f.Ledger().TotalSupply().String(),
		SharePrice:  price.String(),
	}
	if err := s.store.UpsertSnapshots(s.ctx, []postgres.FundSnapshot{snap}); err != nil {
		s.logger.Error("persist snapshot", zap.String("fund_id", fundID), zap.Error(err))
	}
}
