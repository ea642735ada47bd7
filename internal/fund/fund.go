package fund

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basketfund/internal/exchange"
	"basketfund/internal/ledger"
	"basketfund/internal/model"
	"basketfund/internal/nav"
	"basketfund/internal/portfolio"
	"basketfund/internal/rebalance"
	"basketfund/internal/storage"
)

const (
	// MaxAgentFeeBps caps the annual management fee rate protocol-wide.
	MaxAgentFeeBps = 1000
	// AgentShareBps and ProtocolShareBps split minted fee shares. They sum
	// to the weight denominator; the protocol side is computed by
	// subtraction so the parts always sum exactly.
	AgentShareBps    = 6000
	ProtocolShareBps = 4000

	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	// DefaultMinimumDeposit is 0.01 accounting units at 18 decimals.
	DefaultMinimumDeposit = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	// DefaultMinimumSharesLiquidity is 1000 whole shares. The floor keeps a
	// first depositor from minting dust shares and inflating the share
	// price with a direct asset donation before the next depositor arrives.
	DefaultMinimumSharesLiquidity = new(big.Int).Mul(big.NewInt(1000), nav.OneShare)
)

// Config describes one fund at creation. The asset set, fee rate, and fee
// recipients are immutable afterwards; the agent is owner-mutable.
type Config struct {
	Accounting             common.Address
	Assets                 []common.Address
	Owner                  common.Address
	Agent                  common.Address
	AgentFeeWallet         common.Address
	ProtocolFeeRecipient   common.Address
	AgentFeeBps            uint64
	MinimumDeposit         *big.Int
	MinimumSharesLiquidity *big.Int
	Rebalance              rebalance.Config
}

func (c Config) validate() error {
	for _, addr := range []common.Address{c.Owner, c.Agent, c.AgentFeeWallet, c.ProtocolFeeRecipient} {
		if addr == (common.Address{}) {
			return fmt.Errorf("zero role address: %w", model.ErrInvalidParameters)
		}
	}
	if c.AgentFeeBps > MaxAgentFeeBps {
		return fmt.Errorf("agent fee %d bps exceeds cap %d: %w", c.AgentFeeBps, MaxAgentFeeBps, model.ErrInvalidParameters)
	}
	return nil
}

// Fund is the aggregate behind every public operation. A single mutex
// serializes mutating operations, so each one sees a consistent valuation
// and either commits fully or restores the pre-operation snapshot.
type Fund struct {
	mu sync.Mutex

	id     string
	cfg    Config
	ledger *ledger.Ledger
	state  *portfolio.State
	calc   *nav.Calculator
	engine *rebalance.Engine

	journal storage.Journal
	logger  *zap.Logger
	now     func() time.Time

	lastFeeCollection time.Time
}

// New builds a fund from an immutable config and its collaborators.
func New(id string, cfg Config, exch exchange.Exchange, quotes nav.QuoteSource, journal storage.Journal, logger *zap.Logger) (*Fund, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MinimumDeposit == nil {
		cfg.MinimumDeposit = DefaultMinimumDeposit
	}
	if cfg.MinimumSharesLiquidity == nil {
		cfg.MinimumSharesLiquidity = DefaultMinimumSharesLiquidity
	}
	if journal == nil {
		journal = storage.NopJournal{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	state, err := portfolio.New(cfg.Accounting, cfg.Assets)
	if err != nil {
		return nil, err
	}

	calc := nav.NewCalculator(quotes)
	f := &Fund{
		id:      id,
		cfg:     cfg,
		ledger:  ledger.New(),
		state:   state,
		calc:    calc,
		engine:  rebalance.NewEngine(exch, calc, cfg.Rebalance, logger),
		journal: journal,
		logger:  logger.With(zap.String("fund_id", id)),
		now:     time.Now,
	}
	f.lastFeeCollection = f.now()
	return f, nil
}

// SetClock overrides the fund and engine clocks. Tests only.
func (f *Fund) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
	f.engine.SetClock(now)
	f.lastFeeCollection = now()
}

// ID returns the registry identifier of the fund.
func (f *Fund) ID() string { return f.id }

// Owner returns the owner address.
func (f *Fund) Owner() common.Address { return f.cfg.Owner }

// Agent returns the current agent address.
func (f *Fund) Agent() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Agent
}

// Ledger exposes the share ledger for token-level operations.
func (f *Fund) Ledger() *ledger.Ledger { return f.ledger }

// TotalNAV values the whole portfolio in accounting-asset units.
func (f *Fund) TotalNAV(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calc.TotalNAV(ctx, f.state)
}

// SharePrice returns the accounting value of one whole share.
func (f *Fund) SharePrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calc.SharePrice(ctx, f.state, f.ledger.TotalSupply())
}

// CurrentCompositionBps returns each asset's present weight in bps of NAV.
func (f *Fund) CurrentCompositionBps(ctx context.Context) (map[common.Address]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine.CompositionBps(ctx, f.state)
}

// TargetCompositionBps returns the configured target weights.
func (f *Fund) TargetCompositionBps() map[common.Address]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Targets()
}

// LastFeeCollection returns the timestamp of the last fee accrual.
func (f *Fund) LastFeeCollection() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFeeCollection
}

// snapshot captures every mutable piece of fund state under the fund lock.
type snapshot struct {
	ledger            ledger.Snapshot
	state             portfolio.Snapshot
	lastFeeCollection time.Time
	agent             common.Address
}

func (f *Fund) takeSnapshot() snapshot {
	return snapshot{
		ledger:            f.ledger.TakeSnapshot(),
		state:             f.state.TakeSnapshot(),
		lastFeeCollection: f.lastFeeCollection,
		agent:             f.cfg.Agent,
	}
}

func (f *Fund) restore(snap snapshot) {
	f.ledger.Restore(snap.ledger)
	f.state.Restore(snap.state)
	f.lastFeeCollection = snap.lastFeeCollection
	f.cfg.Agent = snap.agent
}

func (f *Fund) requireAgent(caller common.Address) error {
	if caller != f.cfg.Agent {
		return fmt.Errorf("caller %s lacks %s capability: %w", caller.Hex(), model.RoleAgent, model.ErrUnauthorized)
	}
	return nil
}

func (f *Fund) requireOwner(caller common.Address) error {
	if caller != f.cfg.Owner {
		return fmt.Errorf("caller %s lacks %s capability: %w", caller.Hex(), model.RoleOwner, model.ErrUnauthorized)
	}
	return nil
}

// journalEvent records an event best-effort. The journal is observability,
// not the source of truth, so a sink failure never fails the operation.
func (f *Fund) journalEvent(event model.Event) {
	event.FundID = f.id
	if event.Timestamp == 0 {
		event.Timestamp = f.now().Unix()
	}
	if err := f.journal.Append([]model.Event{event}); err != nil {
		f.logger.Warn("journal append failed", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}
