package model

// EventKind labels a journaled fund operation.
type EventKind string

const (
	EventDeposit    EventKind = "deposit"
	EventWithdrawal EventKind = "withdrawal"
	EventWeightsSet EventKind = "weights_set"
	EventRebalance  EventKind = "rebalance"
	EventFeeAccrual EventKind = "fee_accrual"
	EventAgentSet   EventKind = "agent_set"
)

// BasketLeg is one asset leg of a withdrawal payout.
type BasketLeg struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Event is one line of the fund journal. Amount-like fields are decimal
// strings so the journal survives values beyond int64.
type Event struct {
	FundID         string            `json:"fund_id"`
	Kind           EventKind         `json:"kind"`
	Timestamp      int64             `json:"timestamp"`
	Caller         string            `json:"caller,omitempty"`
	Receiver       string            `json:"receiver,omitempty"`
	Amount         string            `json:"amount,omitempty"`
	Shares         string            `json:"shares,omitempty"`
	Basket         []BasketLeg       `json:"basket,omitempty"`
	Weights        map[string]uint64 `json:"weights,omitempty"`
	NAVBefore      string            `json:"nav_before,omitempty"`
	NAVAfter       string            `json:"nav_after,omitempty"`
	TradeCount     int               `json:"trade_count,omitempty"`
	AgentShares    string            `json:"agent_shares,omitempty"`
	ProtocolShares string            `json:"protocol_shares,omitempty"`
}
