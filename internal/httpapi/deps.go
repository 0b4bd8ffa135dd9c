package httpapi

import (
	"jobfeed-engine/internal/events"
	"jobfeed-engine/internal/status"
	"jobfeed-engine/internal/store"

	"go.uber.org/zap"
)

// StatusReader is satisfied by status.Publisher.
type StatusReader interface {
	Current() status.Report
}

// Triggerer is satisfied by scheduler.Scheduler.
type Triggerer interface {
	Trigger(id string) error
}

type Deps struct {
	Store     store.Store
	Hub       *events.Hub
	Status    StatusReader
	Scheduler Triggerer
	Logger    *zap.Logger
}
