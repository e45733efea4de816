package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

// Status is the snapshot returned by GET /v1/status
type Status struct {
	Reachable           bool       `json:"reachable"`
	ConnectivityVersion uint64     `json:"connectivityVersion"`
	PendingOperations   int        `json:"pendingOperations"`
	FailedOperations    int        `json:"failedOperations"`
	LastRunAt           *time.Time `json:"lastRunAt,omitempty"`
	LastNotifiedAt      *time.Time `json:"lastNotifiedAt,omitempty"`
}

// Service is the control surface served by the local API
//
//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go Service
type Service interface {
	// CheckReadiness returns nil once the stores are open and the observer is running
	CheckReadiness(ctx context.Context) error

	Status(ctx context.Context) (Status, error)
	Operations(ctx context.Context) ([]queue.Operation, error)
	Enqueue(ctx context.Context, opType string, payload json.RawMessage) (string, error)
	Retry(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error

	// Refresh runs one refresh invocation within the configured budget
	Refresh(ctx context.Context) refresh.Outcome

	// SetReachable pushes a reachability value from the host
	SetReachable(reachable bool) error
}
