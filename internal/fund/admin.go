package fund

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basketfund/internal/model"
)

// SetTargetWeights replaces the target allocation. Agent only. Weights must
// cover the fixed asset set, all be positive, and sum to 10000 bps; any
// violation rejects the call with no state change.
func (f *Fund) SetTargetWeights(ctx context.Context, caller common.Address, weights map[common.Address]uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireAgent(caller); err != nil {
		return err
	}
	return f.setTargets(caller, weights)
}

// SetTargetWeightsAndRebalanceIfNeeded updates the targets and, when the
// new allocation is outside tolerance, runs a rebalance cycle in the same
// atomic operation. A failed cycle rolls the weight change back too.
func (f *Fund) SetTargetWeightsAndRebalanceIfNeeded(ctx context.Context, caller common.Address, weights map[common.Address]uint64) (*model.RebalanceReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireAgent(caller); err != nil {
		return nil, err
	}

	snap := f.takeSnapshot()
	if err := f.setTargets(caller, weights); err != nil {
		return nil, err
	}

	needed, _, err := f.engine.CheckDeviation(ctx, f.state)
	if err != nil {
		f.restore(snap)
		return nil, err
	}
	if !needed {
		return nil, nil
	}

	report, err := f.engine.Rebalance(ctx, f.id, f.state)
	if err != nil {
		f.restore(snap)
		return nil, err
	}
	f.journalRebalance(report)
	return report, nil
}

// TriggerRebalance runs one rebalance cycle on demand. Agent only. A swap
// failure aborts the cycle atomically and is safe to retry.
func (f *Fund) TriggerRebalance(ctx context.Context, caller common.Address) (*model.RebalanceReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireAgent(caller); err != nil {
		return nil, err
	}

	snap := f.takeSnapshot()
	report, err := f.engine.Rebalance(ctx, f.id, f.state)
	if err != nil {
		f.restore(snap)
		return nil, err
	}
	f.journalRebalance(report)
	return report, nil
}

// IsRebalanceNeeded reports whether the composition is outside tolerance
// and the largest absolute deviation in bps.
func (f *Fund) IsRebalanceNeeded(ctx context.Context) (bool, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine.CheckDeviation(ctx, f.state)
}

// SetAgent reassigns the agent capability. Owner only.
func (f *Fund) SetAgent(caller, newAgent common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if newAgent == (common.Address{}) {
		return fmt.Errorf("zero agent address: %w", model.ErrInvalidParameters)
	}
	f.cfg.Agent = newAgent
	f.journalEvent(model.Event{
		Kind:     model.EventAgentSet,
		Caller:   caller.Hex(),
		Receiver: newAgent.Hex(),
	})
	f.logger.Info("agent reassigned", zap.String("agent", newAgent.Hex()))
	return nil
}

func (f *Fund) setTargets(caller common.Address, weights map[common.Address]uint64) error {
	if err := f.state.SetTargets(weights); err != nil {
		return err
	}
	journaled := make(map[string]uint64, len(weights))
	for asset, w := range weights {
		journaled[asset.Hex()] = w
	}
	f.journalEvent(model.Event{
		Kind:    model.EventWeightsSet,
		Caller:  caller.Hex(),
		Weights: journaled,
	})
	return nil
}
