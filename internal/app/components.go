package app

import (
	"github.com/stacklok/cadence-sync/internal/connectivity"
	"github.com/stacklok/cadence-sync/internal/coordinator"
	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
	"github.com/stacklok/cadence-sync/internal/remote"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Observer tracks reachability
	Observer *connectivity.Observer

	// Scheduler runs background refresh invocations
	Scheduler *refresh.Scheduler

	// RefreshStore holds the durable refresh record
	RefreshStore refresh.Store

	// Queue holds offline operations
	Queue *queue.Queue

	// Coordinator drains the queue on reconnect
	Coordinator coordinator.Coordinator

	// Remote is the due-check and write client
	Remote *remote.Client
}
