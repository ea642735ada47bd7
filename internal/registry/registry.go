package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"basketfund/internal/exchange"
	"basketfund/internal/fund"
	"basketfund/internal/model"
	"basketfund/internal/nav"
	"basketfund/internal/storage"
)

// Registry is the factory and directory for fund instances. It is an
// explicit dependency: anything needing fund discovery receives a *Registry,
// never a package-level singleton.
type Registry struct {
	mu    sync.RWMutex
	funds map[string]*fund.Fund

	exch    exchange.Exchange
	quotes  nav.QuoteSource
	journal storage.Journal
	logger  *zap.Logger
}

func New(exch exchange.Exchange, quotes nav.QuoteSource, journal storage.Journal, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if journal == nil {
		journal = storage.NopJournal{}
	}
	return &Registry{
		funds:   make(map[string]*fund.Fund),
		exch:    exch,
		quotes:  quotes,
		journal: journal,
		logger:  logger,
	}
}

// CreateFund builds a fund from its config, assigns it an identifier, and
// registers it.
func (r *Registry) CreateFund(cfg fund.Config) (*fund.Fund, error) {
	id := uuid.NewString()
	f, err := fund.New(id, cfg, r.exch, r.quotes, r.journal, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create fund: %w", err)
	}

	r.mu.Lock()
	r.funds[id] = f
	r.mu.Unlock()

	r.logger.Info("fund created",
		zap.String("fund_id", id),
		zap.String("owner", cfg.Owner.Hex()),
		zap.String("agent", cfg.Agent.Hex()),
		zap.Int("assets", len(cfg.Assets)),
	)
	return f, nil
}

// Get returns the fund registered under id.
func (r *Registry) Get(id string) (*fund.Fund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funds[id]
	if !ok {
		return nil, fmt.Errorf("unknown fund %s: %w", id, model.ErrInvalidParameters)
	}
	return f, nil
}

// List returns all registered funds in stable id order.
func (r *Registry) List() []*fund.Fund {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.funds))
	for id := range r.funds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*fund.Fund, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.funds[id])
	}
	return out
}
