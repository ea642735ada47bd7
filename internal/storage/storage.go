package storage

import "basketfund/internal/model"

// Journal defines a sink for fund operation events.
type Journal interface {
	Append(events []model.Event) error
}

// NopJournal discards events.
type NopJournal struct{}

func (NopJournal) Append([]model.Event) error { return nil }
